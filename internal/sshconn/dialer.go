package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/praekelt/sshtail/internal/logutil"
)

// Options configures a Dialer.
type Options struct {
	// DefaultUser is used for host identities without "user@". Empty falls
	// back to the local OS user.
	DefaultUser string

	// Signer, when set, is the only credential offered.
	Signer ssh.Signer

	// AgentSocket is the ssh-agent socket consulted when Signer is nil.
	AgentSocket string

	// IdentityFiles are tried when Signer is nil. Missing files are skipped.
	IdentityFiles []string

	HostKeyPolicy  HostKeyPolicy
	KnownHostsFile string

	// ConnectTimeout bounds the TCP dial and SSH handshake. Zero means no
	// limit beyond the context passed to Dial.
	ConnectTimeout time.Duration

	Logger  *log.Logger
	Verbose bool
}

// Dialer opens SSH+SFTP sessions.
type Dialer struct {
	opts     Options
	hostKeys *HostKeyStore
}

// NewDialer validates opts and loads the known hosts file.
func NewDialer(opts Options) (*Dialer, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.HostKeyPolicy == "" {
		opts.HostKeyPolicy = HostKeyAutoAdd
	}
	if _, err := ParseHostKeyPolicy(string(opts.HostKeyPolicy)); err != nil {
		return nil, err
	}
	if opts.DefaultUser == "" {
		if u, err := user.Current(); err == nil {
			opts.DefaultUser = u.Username
		}
	}

	store, err := NewHostKeyStore(opts.HostKeyPolicy, opts.KnownHostsFile, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Dialer{opts: opts, hostKeys: store}, nil
}

// HostKeys returns the store checking host keys for this dialer.
func (d *Dialer) HostKeys() *HostKeyStore {
	return d.hostKeys
}

func (d *Dialer) verbosef(format string, args ...any) {
	if d.opts.Verbose {
		d.opts.Logger.Printf(format, args...)
	}
}

// Dial connects to host, authenticates and opens an SFTP sub-session.
func (d *Dialer) Dial(ctx context.Context, host HostSpec) (*Session, error) {
	username := host.User
	if username == "" {
		username = d.opts.DefaultUser
	}
	if username == "" {
		return nil, fmt.Errorf("dial %s: no username and no default user", logutil.SanitizeForLog(host.String()))
	}

	auth, agentConn, err := d.authMethods()
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", logutil.SanitizeForLog(host.String()), err)
	}
	closeAgent := func() {
		if agentConn != nil {
			agentConn.Close()
		}
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: d.hostKeys.Callback(),
		Timeout:         d.opts.ConnectTimeout,
	}

	addr := host.Addr()
	d.verbosef("[sshconn] connecting to %s as %s", logutil.SanitizeForLog(addr), logutil.SanitizeForLog(username))

	dialer := net.Dialer{Timeout: d.opts.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("dial %s: %w", logutil.SanitizeForLog(addr), err)
	}

	// The handshake itself ignores ctx; bound it with a deadline and a
	// watcher that closes the socket on cancellation.
	if deadline, ok := handshakeDeadline(ctx, d.opts.ConnectTimeout); ok {
		netConn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		netConn.Close()
		closeAgent()
		return nil, fmt.Errorf("ssh handshake with %s: %w", logutil.SanitizeForLog(addr), ctx.Err())
	}
	if err != nil {
		netConn.Close()
		closeAgent()
		return nil, fmt.Errorf("ssh handshake with %s: %w", logutil.SanitizeForLog(addr), err)
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	d.verbosef("[sshconn] opening SFTP session on %s", logutil.SanitizeForLog(addr))
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		closeAgent()
		return nil, fmt.Errorf("open sftp session on %s: %w", logutil.SanitizeForLog(addr), err)
	}

	return &Session{
		host:      host,
		client:    client,
		sftp:      sftpClient,
		agentConn: agentConn,
		logger:    d.opts.Logger,
		verbose:   d.opts.Verbose,
	}, nil
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if timeout > 0 {
		t := time.Now().Add(timeout)
		if !ok || t.Before(deadline) {
			return t, true
		}
	}
	return deadline, ok
}

// Session is one SSH connection plus its SFTP sub-session.
type Session struct {
	host      HostSpec
	client    *ssh.Client
	sftp      *sftp.Client
	agentConn io.Closer
	logger    *log.Logger
	verbose   bool

	mu     sync.Mutex
	closed bool
}

// Host returns the identity the session was dialled with.
func (s *Session) Host() HostSpec {
	return s.host
}

// SFTP returns the SFTP client.
func (s *Session) SFTP() *sftp.Client {
	return s.sftp
}

// Stat returns file info for a remote path.
func (s *Session) Stat(path string) (os.FileInfo, error) {
	return s.sftp.Stat(path)
}

// Open opens a remote file for reading.
func (s *Session) Open(path string) (*sftp.File, error) {
	return s.sftp.Open(path)
}

// Close closes the SFTP sub-session, then the SSH connection. Only the first
// call does anything; later calls return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.verbose {
		s.logger.Printf("[sshconn] closing SFTP connection to %s", logutil.SanitizeForLog(s.host.String()))
	}
	if err := s.sftp.Close(); err != nil && !errors.Is(err, io.EOF) {
		errs = append(errs, fmt.Errorf("close sftp: %w", err))
	}
	if s.verbose {
		s.logger.Printf("[sshconn] closing SSH connection to %s", logutil.SanitizeForLog(s.host.String()))
	}
	if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close ssh: %w", err))
	}
	if s.agentConn != nil {
		s.agentConn.Close()
	}
	return errors.Join(errs...)
}
