// Package config loads process settings from SSHTAIL_* environment
// variables and the host/file map from YAML.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/praekelt/sshtail/internal/sshconn"
	"github.com/praekelt/sshtail/internal/sshkeys"
)

// Prefix is the environment variable prefix for Settings.
const Prefix = "SSHTAIL"

type Settings struct {
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`

	// SSH trust and credentials
	HostKeyPolicy string `envconfig:"HOST_KEY_POLICY" default:"auto-add"`
	KnownHosts    string `envconfig:"KNOWN_HOSTS" default:""`
	Home          string `envconfig:"HOME" default:""`
	User          string `envconfig:"USER" default:""`
	Key           string `envconfig:"KEY" default:""`
	KeyType       string `envconfig:"KEY_TYPE" default:"rsa"`
	KeyPassphrase string `envconfig:"KEY_PASSPHRASE" default:""`

	HostsFile string `envconfig:"HOSTS_FILE" default:""`
	LogPath   string `envconfig:"LOG_PATH" default:""`
	Verbose   bool   `envconfig:"VERBOSE" default:"false"`
	Listen    string `envconfig:"LISTEN" default:":8080"`
}

// Load reads Settings from the environment and validates them.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks values that envconfig cannot.
func (s Settings) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive, got %s", s.PollInterval)
	}
	if s.ConnectTimeout < 0 {
		return fmt.Errorf("config: connect timeout must not be negative, got %s", s.ConnectTimeout)
	}
	if _, err := sshconn.ParseHostKeyPolicy(s.HostKeyPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(s.KeyType) {
	case sshkeys.KeyTypeRSA, sshkeys.KeyTypeDSS, "dsa", "":
	default:
		return fmt.Errorf("config: unsupported key type %q", s.KeyType)
	}
	return nil
}

// HomeDir returns the configured home directory, falling back to the
// current user's.
func (s Settings) HomeDir() (string, error) {
	if s.Home != "" {
		return s.Home, nil
	}
	return sshkeys.DefaultHomeDir()
}

// KnownHostsPath returns the known_hosts file to use: the configured one, or
// <home>/.ssh/known_hosts. Empty when neither is available.
func (s Settings) KnownHostsPath() string {
	if s.KnownHosts != "" {
		return s.KnownHosts
	}
	home, err := s.HomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}
