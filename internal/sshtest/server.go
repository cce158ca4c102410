// Package sshtest runs an in-process SSH server with an SFTP subsystem for
// tests. Files live in an afero in-memory filesystem that tests write to
// directly, standing in for the remote process appending to its log.
package sshtest

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	gossh "golang.org/x/crypto/ssh"

	"github.com/praekelt/sshtail/internal/sshkeys"
)

// User is the only login name the server accepts.
const User = "tester"

// Server is a loopback SSH server. Only public key auth with ClientSigner is
// accepted.
type Server struct {
	FS           afero.Fs
	Addr         string
	HostKey      gossh.PublicKey
	ClientSigner gossh.Signer
	ClientKeyPEM []byte

	listener net.Listener
	hostKey  gossh.Signer

	// Counters for assertions on connection lifecycle.
	handshakes atomic.Int64
	open       atomic.Int64
	sftpOpens  atomic.Int64

	mu    sync.Mutex
	conns []net.Conn
	extra []gossh.PublicKey
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	return NewServerWithHostKey(t, newSigner(t))
}

// NewServerWithHostKey starts a server presenting the given host key. Used
// to simulate a host whose key changed.
func NewServerWithHostKey(t testing.TB, hostKey gossh.Signer) *Server {
	t.Helper()

	clientSigner, clientPEM := newKey(t)
	s := &Server{
		FS:           afero.NewMemMapFs(),
		HostKey:      hostKey.PublicKey(),
		ClientSigner: clientSigner,
		ClientKeyPEM: clientPEM,
		hostKey:      hostKey,
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = listener
	s.Addr = listener.Addr().String()

	cfg := &gossh.ServerConfig{
		PublicKeyCallback: func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if conn.User() != User {
				return nil, fmt.Errorf("unknown user %q", conn.User())
			}
			if s.authorized(key) {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostKey)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.handleConn(conn, cfg)
		}
	}()

	t.Cleanup(s.Close)
	return s
}

// NewSigner returns a fresh ED25519 signer.
func NewSigner(t testing.TB) gossh.Signer {
	t.Helper()
	return newSigner(t)
}

func newSigner(t testing.TB) gossh.Signer {
	t.Helper()
	signer, _ := newKey(t)
	return signer
}

func newKey(t testing.TB) (gossh.Signer, []byte) {
	t.Helper()
	_, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := sshkeys.ParsePrivateKey(priv)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return signer, priv
}

// Host returns the identity string to tail this server as.
func (s *Server) Host() string {
	return User + "@" + s.Addr
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// AllowKey authorizes another client key alongside ClientSigner.
func (s *Server) AllowKey(key gossh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = append(s.extra, key)
}

func (s *Server) authorized(key gossh.PublicKey) bool {
	if bytes.Equal(key.Marshal(), s.ClientSigner.PublicKey().Marshal()) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.extra {
		if bytes.Equal(key.Marshal(), k.Marshal()) {
			return true
		}
	}
	return false
}

// Handshakes counts completed SSH handshakes.
func (s *Server) Handshakes() int64 { return s.handshakes.Load() }

// OpenConnections counts SSH connections that have not yet been closed.
func (s *Server) OpenConnections() int64 { return s.open.Load() }

// SFTPSessions counts SFTP subsystems started.
func (s *Server) SFTPSessions() int64 { return s.sftpOpens.Load() }

// WriteFile replaces path with data, creating parent directories.
func (s *Server) WriteFile(t testing.TB, path string, data string) {
	t.Helper()
	if err := afero.WriteFile(s.FS, path, []byte(data), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// AppendFile appends data to path, creating it if needed.
func (s *Server) AppendFile(t testing.TB, path string, data string) {
	t.Helper()
	f, err := s.FS.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

// Truncate shrinks path to size bytes.
func (s *Server) Truncate(t testing.TB, path string, size int64) {
	t.Helper()
	f, err := s.FS.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
}

// Remove deletes path.
func (s *Server) Remove(t testing.TB, path string) {
	t.Helper()
	if err := s.FS.Remove(path); err != nil {
		t.Fatalf("remove %s: %v", path, err)
	}
}

func (s *Server) handleConn(netConn net.Conn, cfg *gossh.ServerConfig) {
	defer netConn.Close()
	srvConn, chans, reqs, err := gossh.NewServerConn(netConn, cfg)
	if err != nil {
		return
	}
	s.handshakes.Add(1)
	s.open.Add(1)
	defer s.open.Add(-1)
	defer srvConn.Close()
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch gossh.Channel, reqs <-chan *gossh.Request) {
	started := false
	for req := range reqs {
		ok := false
		if req.Type == "subsystem" && !started && subsystemName(req.Payload) == "sftp" {
			ok = true
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
		if ok {
			started = true
			s.sftpOpens.Add(1)
			go s.serveSFTP(ch)
		}
	}
	ch.Close()
}

func (s *Server) serveSFTP(ch gossh.Channel) {
	h := fsHandler{fs: s.FS}
	server := sftp.NewRequestServer(ch, sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	})
	server.Serve()
	server.Close()
}

// subsystemName decodes the SSH string payload of a subsystem request.
func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}

// fsHandler serves a read-only view of an afero filesystem.
type fsHandler struct {
	fs afero.Fs
}

func (h fsHandler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	f, err := h.fs.Open(r.Filepath)
	if err != nil {
		return nil, err
	}
	return &lockedFile{f: f}, nil
}

// lockedFile serialises ReadAt: afero's in-memory files implement it by
// moving a shared cursor, and the request server may read concurrently.
type lockedFile struct {
	mu sync.Mutex
	f  afero.File
}

func (l *lockedFile) ReadAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.ReadAt(p, off)
}

func (l *lockedFile) Close() error {
	return l.f.Close()
}

func (h fsHandler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	return nil, sftp.ErrSSHFxPermissionDenied
}

func (h fsHandler) Filecmd(r *sftp.Request) error {
	return sftp.ErrSSHFxOpUnsupported
}

func (h fsHandler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "Stat", "Lstat":
		info, err := h.fs.Stat(r.Filepath)
		if err != nil {
			return nil, err
		}
		return listerAt{info}, nil
	case "List":
		infos, err := afero.ReadDir(h.fs, r.Filepath)
		if err != nil {
			return nil, err
		}
		return listerAt(infos), nil
	}
	return nil, sftp.ErrSSHFxOpUnsupported
}

type listerAt []os.FileInfo

func (l listerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}
