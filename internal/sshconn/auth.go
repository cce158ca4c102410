package sshconn

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/praekelt/sshtail/internal/logutil"
	"github.com/praekelt/sshtail/internal/sshkeys"
)

// ErrNoAuthMethods is returned when there is no key, agent or identity file
// to authenticate with.
var ErrNoAuthMethods = errors.New("no ssh authentication methods available")

// authMethods builds the auth chain for one dial. The returned closer, if
// non-nil, releases the agent connection and must be called once the
// session is done with it.
func (d *Dialer) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	if d.opts.Signer != nil {
		return []ssh.AuthMethod{ssh.PublicKeys(d.opts.Signer)}, nil, nil
	}

	var methods []ssh.AuthMethod
	var closer io.Closer

	if d.opts.AgentSocket != "" {
		conn, err := net.Dial("unix", d.opts.AgentSocket)
		if err != nil {
			d.verbosef("[sshconn] ssh agent unavailable at %s: %v", logutil.SanitizeForLog(d.opts.AgentSocket), err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closer = conn
		}
	}

	if signers := d.identitySigners(); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, nil, ErrNoAuthMethods
	}
	return methods, closer, nil
}

// identitySigners parses whichever default identity files exist. Files that
// are missing or cannot be parsed (typically encrypted) are skipped.
func (d *Dialer) identitySigners() []ssh.Signer {
	var signers []ssh.Signer
	for _, path := range d.opts.IdentityFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := sshkeys.ParsePrivateKey(data)
		if err != nil {
			d.verbosef("[sshconn] skipping identity %s: %v", logutil.SanitizeForLog(path), err)
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

// DefaultIdentityFiles lists the conventional identity files under
// <homeDir>/.ssh, most preferred first.
func DefaultIdentityFiles(homeDir string) []string {
	if homeDir == "" {
		return nil
	}
	names := []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"}
	files := make([]string, 0, len(names))
	for _, n := range names {
		files = append(files, filepath.Join(homeDir, ".ssh", n))
	}
	return files
}
