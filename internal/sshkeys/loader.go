package sshkeys

import (
	"crypto/dsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key type names accepted by [Loader.Load].
const (
	KeyTypeRSA = "rsa"
	KeyTypeDSS = "dss"
)

var (
	// ErrKeyType is returned when a key file parses but holds a different
	// key type than the entry point asked for.
	ErrKeyType = errors.New("unexpected private key type")

	// ErrNoHomeDir is returned when a bare key name needs resolving but the
	// loader has no home directory.
	ErrNoHomeDir = errors.New("home directory not configured")
)

// Loader resolves and parses private key files.
type Loader struct {
	// HomeDir is the directory whose .ssh subdirectory holds bare key names.
	HomeDir string

	// Passphrase decrypts encrypted keys. Empty means keys must be
	// unencrypted.
	Passphrase []byte
}

// DefaultHomeDir returns the invoking user's home directory.
func DefaultHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home, nil
}

// ResolvePath returns the file path for a key name. Names without a path
// separator live in <HomeDir>/.ssh; anything else is used as given.
func (l Loader) ResolvePath(name string) (string, error) {
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	if l.HomeDir == "" {
		return "", fmt.Errorf("resolve key %q: %w", name, ErrNoHomeDir)
	}
	return filepath.Join(l.HomeDir, ".ssh", name), nil
}

// LoadRSAKey reads an RSA private key file.
func (l Loader) LoadRSAKey(name string) (ssh.Signer, error) {
	return l.load(name, KeyTypeRSA, func(key any) bool {
		_, ok := key.(*rsa.PrivateKey)
		return ok
	})
}

// LoadDSSKey reads a DSS (DSA) private key file.
func (l Loader) LoadDSSKey(name string) (ssh.Signer, error) {
	return l.load(name, KeyTypeDSS, func(key any) bool {
		_, ok := key.(*dsa.PrivateKey)
		return ok
	})
}

// Load dispatches to LoadRSAKey or LoadDSSKey by key type name.
func (l Loader) Load(name, keyType string) (ssh.Signer, error) {
	switch strings.ToLower(keyType) {
	case KeyTypeRSA, "":
		return l.LoadRSAKey(name)
	case KeyTypeDSS, "dsa":
		return l.LoadDSSKey(name)
	default:
		return nil, fmt.Errorf("load key %q: unsupported key type %q", name, keyType)
	}
}

func (l Loader) load(name, keyType string, matches func(any) bool) (ssh.Signer, error) {
	path, err := l.ResolvePath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s key: %w", keyType, err)
	}

	var raw any
	if len(l.Passphrase) > 0 {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, l.Passphrase)
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s key %s: %w", keyType, path, err)
	}

	if !matches(raw) {
		return nil, fmt.Errorf("parse %s key %s: got %T: %w", keyType, path, raw, ErrKeyType)
	}

	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return nil, fmt.Errorf("create %s signer: %w", keyType, err)
	}
	return signer, nil
}
