package sshconn

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/praekelt/sshtail/internal/logutil"
	"github.com/praekelt/sshtail/internal/sshkeys"
)

// HostKeyPolicy decides what happens when a server presents a host key.
type HostKeyPolicy string

const (
	// HostKeyAutoAdd accepts hosts missing from known_hosts and remembers
	// their key for the rest of the process (and in KnownHostsFile when
	// set). Hosts that are known but present a different key are rejected.
	HostKeyAutoAdd HostKeyPolicy = "auto-add"

	// HostKeyStrict rejects any host not already in known_hosts.
	HostKeyStrict HostKeyPolicy = "strict"

	// HostKeyInsecure accepts every host key without checking or recording.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// ParseHostKeyPolicy validates a policy name. Empty means HostKeyAutoAdd.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch p := HostKeyPolicy(s); p {
	case "":
		return HostKeyAutoAdd, nil
	case HostKeyAutoAdd, HostKeyStrict, HostKeyInsecure:
		return p, nil
	default:
		return "", fmt.Errorf("unknown host key policy %q (want %s, %s or %s)", s, HostKeyAutoAdd, HostKeyStrict, HostKeyInsecure)
	}
}

// ErrHostKeyChanged is returned when a remembered host presents a different key.
var ErrHostKeyChanged = errors.New("host key changed")

// HostKeyStore applies a HostKeyPolicy. One store is shared by every session
// a Dialer opens, so a host accepted once stays pinned for the process.
type HostKeyStore struct {
	policy HostKeyPolicy
	path   string
	logger *log.Logger

	mu       sync.Mutex
	known    ssh.HostKeyCallback       // from the known_hosts file, nil if absent
	accepted map[string]ssh.PublicKey // keyed by knownhosts.Normalize(addr)
}

// NewHostKeyStore loads knownHostsFile (a missing file counts as empty) and
// returns a store applying policy.
func NewHostKeyStore(policy HostKeyPolicy, knownHostsFile string, logger *log.Logger) (*HostKeyStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &HostKeyStore{
		policy:   policy,
		path:     knownHostsFile,
		logger:   logger,
		accepted: make(map[string]ssh.PublicKey),
	}
	if policy == HostKeyInsecure || knownHostsFile == "" {
		return s, nil
	}

	if _, err := os.Stat(knownHostsFile); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("stat known hosts: %w", err)
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", knownHostsFile, err)
	}
	s.known = cb
	return s, nil
}

// Policy returns the policy the store applies.
func (s *HostKeyStore) Policy() HostKeyPolicy {
	return s.policy
}

// Callback returns the ssh.HostKeyCallback enforcing the policy.
func (s *HostKeyStore) Callback() ssh.HostKeyCallback {
	return s.check
}

func (s *HostKeyStore) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if s.policy == HostKeyInsecure {
		return nil
	}

	name := knownhosts.Normalize(hostname)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.accepted[name]; ok {
		if bytes.Equal(prev.Marshal(), key.Marshal()) {
			return nil
		}
		return fmt.Errorf("%s: expected %s, got %s: %w", name, sshkeys.Fingerprint(prev), sshkeys.Fingerprint(key), ErrHostKeyChanged)
	}

	var unknown error
	if s.known != nil {
		err := s.known(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			// Revoked or mismatched key.
			return err
		}
		unknown = err
	} else {
		unknown = fmt.Errorf("%s is not in known hosts", name)
	}

	if s.policy == HostKeyStrict {
		return fmt.Errorf("reject unknown host: %w", unknown)
	}

	s.accepted[name] = key
	s.logger.Printf("[sshconn] adding host key for %s (%s %s)", logutil.SanitizeForLog(name), key.Type(), sshkeys.Fingerprint(key))
	if s.path != "" {
		if err := s.persist(name, key); err != nil {
			s.logger.Printf("[sshconn] WARNING: cannot record host key for %s: %v", logutil.SanitizeForLog(name), err)
		}
	}
	return nil
}

// persist appends one known_hosts line. Caller holds s.mu.
func (s *HostKeyStore) persist(name string, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create known hosts directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open known hosts: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, knownhosts.Line([]string{name}, key)); err != nil {
		return fmt.Errorf("write known hosts: %w", err)
	}
	return nil
}
