package cmd

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praekelt/sshtail/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve [flags] [user@]host[:port]:path...",
	Short: "Stream remote files over HTTP (SSE and WebSocket)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on (env SSHTAIL_LISTEN, default :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hosts, err := hostMap(settings, args)
	if err != nil {
		return err
	}
	dialer, err := newDialer(settings, log.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(hosts, dialer, log.Default(), tailOptions(settings, log.Default())...)
	return srv.ListenAndServe(ctx, settings.Listen)
}
