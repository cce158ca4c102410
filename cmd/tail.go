package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praekelt/sshtail/internal/sshtail"
)

var tailCmd = &cobra.Command{
	Use:   "tail [flags] [user@]host[:port]:path...",
	Short: "Print new lines from remote files until interrupted",
	Example: `  sshtail tail web1:/var/log/nginx/access.log ops@db1:2222:/var/log/postgresql/main.log
  sshtail tail --hosts-file hosts.yaml --key deploy_key`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().Bool("idle", false, "print a marker after each round with no new lines")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	hosts, err := hostMap(settings, args)
	if err != nil {
		return err
	}
	dialer, err := newDialer(settings, log.Default())
	if err != nil {
		return err
	}
	idle, _ := cmd.Flags().GetBool("idle")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tailer := sshtail.NewMultiTailer(hosts, dialer, tailOptions(settings, log.Default())...)
	return printTail(ctx, cmd.OutOrStdout(), tailer, idle)
}

// printTail writes one "host path line" row per delivered line until the
// tail ends. Interruption is not an error.
func printTail(ctx context.Context, w io.Writer, tailer *sshtail.MultiTailer, idle bool) error {
	stream, err := tailer.Tail(ctx, idle)
	if err != nil {
		return err
	}
	for line := range stream.Lines() {
		if line.Idle() {
			fmt.Fprintln(w, "-- idle --")
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", line.Host, line.Path, line.Text)
	}
	return stream.Err()
}
