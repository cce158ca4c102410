package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/praekelt/sshtail/internal/config"
	"github.com/praekelt/sshtail/internal/logutil"
	"github.com/praekelt/sshtail/internal/sshconn"
	"github.com/praekelt/sshtail/internal/sshkeys"
	"github.com/praekelt/sshtail/internal/sshtail"
)

// hostMap merges the hosts file, if any, with "host:path" arguments.
func hostMap(s config.Settings, args []string) (config.HostMap, error) {
	m := make(config.HostMap)
	if s.HostsFile != "" {
		fromFile, err := config.LoadHosts(s.HostsFile)
		if err != nil {
			return nil, err
		}
		m.Merge(fromFile)
	}
	for _, arg := range args {
		host, path, err := config.ParseTarget(arg)
		if err != nil {
			return nil, err
		}
		m.Add(host, path)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("no files to tail: pass host:path arguments or --hosts-file")
	}
	return m, nil
}

// dialerOptions turns settings into sshconn options. An explicit key is the
// only credential offered; otherwise the agent and the default identity
// files are tried.
func dialerOptions(s config.Settings, logger *log.Logger) (sshconn.Options, error) {
	opts := sshconn.Options{
		DefaultUser:    s.User,
		HostKeyPolicy:  sshconn.HostKeyPolicy(s.HostKeyPolicy),
		KnownHostsFile: s.KnownHostsPath(),
		ConnectTimeout: s.ConnectTimeout,
		Logger:         logger,
		Verbose:        s.Verbose,
	}

	home, homeErr := s.HomeDir()
	if s.Key != "" {
		loader := sshkeys.Loader{HomeDir: home}
		if s.KeyPassphrase != "" {
			loader.Passphrase = []byte(s.KeyPassphrase)
		}
		signer, err := loader.Load(s.Key, s.KeyType)
		if err != nil {
			return sshconn.Options{}, err
		}
		if s.Verbose {
			logger.Printf("[sshtail] using %s key %s (%s)", signer.PublicKey().Type(),
				logutil.SanitizeForLog(s.Key), sshkeys.Fingerprint(signer.PublicKey()))
		}
		opts.Signer = signer
		return opts, nil
	}

	opts.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	if homeErr == nil {
		opts.IdentityFiles = sshconn.DefaultIdentityFiles(home)
	}
	return opts, nil
}

func newDialer(s config.Settings, logger *log.Logger) (*sshconn.Dialer, error) {
	opts, err := dialerOptions(s, logger)
	if err != nil {
		return nil, err
	}
	return sshconn.NewDialer(opts)
}

func tailOptions(s config.Settings, logger *log.Logger) []sshtail.Option {
	return []sshtail.Option{
		sshtail.WithPollInterval(s.PollInterval),
		sshtail.WithLogger(logger),
		sshtail.WithVerbose(s.Verbose),
	}
}
