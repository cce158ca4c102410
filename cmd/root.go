// Package cmd is the sshtail command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/praekelt/sshtail/internal/config"
	"github.com/praekelt/sshtail/internal/logging"
)

var settings config.Settings

var rootCmd = &cobra.Command{
	Use:   "sshtail",
	Short: "Follow log files on many hosts over SSH",
	Long: `sshtail polls files on remote hosts over SSH/SFTP and prints lines as
they are appended, like tail -f across a fleet.

Settings come from SSHTAIL_* environment variables; flags override them.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("hosts-file", "", "YAML file mapping hosts to files (env SSHTAIL_HOSTS_FILE)")
	f.String("key", "", "private key name under ~/.ssh, or a path (env SSHTAIL_KEY)")
	f.String("key-type", "", "private key type: rsa or dss (env SSHTAIL_KEY_TYPE)")
	f.String("user", "", "login name for hosts without user@ (env SSHTAIL_USER)")
	f.String("home", "", "home directory for key and known_hosts lookup (env SSHTAIL_HOME)")
	f.String("known-hosts", "", "known_hosts file (env SSHTAIL_KNOWN_HOSTS)")
	f.String("host-key-policy", "", "auto-add, strict or insecure (env SSHTAIL_HOST_KEY_POLICY)")
	f.Duration("interval", 0, "sleep after a round with no new lines (env SSHTAIL_POLL_INTERVAL)")
	f.Duration("connect-timeout", 0, "TCP connect and SSH handshake timeout (env SSHTAIL_CONNECT_TIMEOUT)")
	f.String("log-file", "", "also append process logs to this file (env SSHTAIL_LOG_PATH)")
	f.BoolP("verbose", "v", false, "log connection progress (env SSHTAIL_VERBOSE)")
}

func loadSettings(cmd *cobra.Command, args []string) error {
	s, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &s); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := logging.Init(s.LogPath); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	settings = s
	return nil
}

// applyFlags overrides settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, s *config.Settings) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"hosts-file":      &s.HostsFile,
		"key":             &s.Key,
		"key-type":        &s.KeyType,
		"user":            &s.User,
		"home":            &s.Home,
		"known-hosts":     &s.KnownHosts,
		"host-key-policy": &s.HostKeyPolicy,
		"log-file":        &s.LogPath,
		"listen":          &s.Listen,
	}
	for name, dst := range strs {
		if f.Lookup(name) == nil || !f.Changed(name) {
			continue
		}
		v, err := f.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if f.Changed("interval") {
		v, err := f.GetDuration("interval")
		if err != nil {
			return err
		}
		s.PollInterval = v
	}
	if f.Changed("connect-timeout") {
		v, err := f.GetDuration("connect-timeout")
		if err != nil {
			return err
		}
		s.ConnectTimeout = v
	}
	if f.Changed("verbose") {
		v, err := f.GetBool("verbose")
		if err != nil {
			return err
		}
		s.Verbose = v
	}
	return nil
}
