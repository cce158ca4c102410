package cmd

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/praekelt/sshtail/internal/config"
	"github.com/praekelt/sshtail/internal/logging"
	"github.com/praekelt/sshtail/internal/sshconn"
	"github.com/praekelt/sshtail/internal/sshkeys"
	"github.com/praekelt/sshtail/internal/sshtail"
	"github.com/praekelt/sshtail/internal/sshtest"
)

var quietLogger = logging.Discard()

func TestHostMapMergesFileAndArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	if err := os.WriteFile(path, []byte("hosts:\n  web1:\n    - /a.log\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := hostMap(config.Settings{HostsFile: path}, []string{"web1:/b.log", "ops@db:2222:/c.log", "web1:/a.log"})
	if err != nil {
		t.Fatalf("hostMap: %v", err)
	}
	if got := strings.Join(m["web1"], ","); got != "/a.log,/b.log" {
		t.Errorf("web1 files = %s", got)
	}
	if got := strings.Join(m["ops@db:2222"], ","); got != "/c.log" {
		t.Errorf("db files = %s", got)
	}
}

func TestHostMapErrors(t *testing.T) {
	if _, err := hostMap(config.Settings{}, nil); err == nil {
		t.Error("empty host map accepted")
	}
	if _, err := hostMap(config.Settings{}, []string{"no-path"}); err == nil {
		t.Error("bad target accepted")
	}
	if _, err := hostMap(config.Settings{HostsFile: filepath.Join(t.TempDir(), "nope")}, nil); err == nil {
		t.Error("missing hosts file accepted")
	}
}

func TestDialerOptionsWithKey(t *testing.T) {
	srv := sshtest.NewServer(t)
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0700); err != nil {
		t.Fatal(err)
	}
	// The test server's client key is ed25519, which the rsa loader refuses.
	keyPath := filepath.Join(home, ".ssh", "id_test")
	if err := os.WriteFile(keyPath, srv.ClientKeyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	s := config.Settings{Home: home, Key: "id_test", KeyType: "rsa", HostKeyPolicy: "insecure"}
	if _, err := dialerOptions(s, quietLogger); err == nil {
		t.Fatal("ed25519 key accepted as rsa")
	}

	s.Key = ""
	opts, err := dialerOptions(s, quietLogger)
	if err != nil {
		t.Fatalf("dialerOptions: %v", err)
	}
	if opts.Signer != nil {
		t.Error("signer set without a key")
	}
	if len(opts.IdentityFiles) == 0 || !strings.HasPrefix(opts.IdentityFiles[0], filepath.Join(home, ".ssh")) {
		t.Errorf("identity files = %v", opts.IdentityFiles)
	}
	if opts.KnownHostsFile != filepath.Join(home, ".ssh", "known_hosts") {
		t.Errorf("known hosts = %q", opts.KnownHostsFile)
	}
	if opts.HostKeyPolicy != sshconn.HostKeyInsecure {
		t.Errorf("policy = %q", opts.HostKeyPolicy)
	}
}

func TestPrintTail(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, "/app.log", "")

	home := t.TempDir()
	s := config.Settings{
		Home:           home,
		User:           sshtest.User,
		HostKeyPolicy:  "auto-add",
		ConnectTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}
	opts, err := dialerOptions(s, quietLogger)
	if err != nil {
		t.Fatal(err)
	}
	opts.Signer = srv.ClientSigner
	opts.AgentSocket = ""
	dialer, err := sshconn.NewDialer(opts)
	if err != nil {
		t.Fatal(err)
	}

	tailer := sshtail.NewMultiTailer(map[string][]string{srv.Addr: {"/app.log"}}, dialer, tailOptions(s, quietLogger)...)
	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- printTail(ctx, &out, tailer, true) }()

	// The first idle marker means the starting size is recorded.
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "-- idle --") {
		if time.Now().After(deadline) {
			t.Fatal("no idle marker")
		}
		time.Sleep(10 * time.Millisecond)
	}
	srv.AppendFile(t, "/app.log", "hello world\n")

	want := srv.Addr + " /app.log hello world\n"
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output = %q, want %q", out.String(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("printTail after cancel: %v", err)
	}

	// auto-add wrote the host key into the home known_hosts file.
	data, err := os.ReadFile(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil || len(data) == 0 {
		t.Errorf("known_hosts not written: %v", err)
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := tailCmd
	if err := cmd.ParseFlags([]string{"--interval", "5s", "--key", "deploy", "-v"}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, name := range []string{"interval", "key", "verbose"} {
			cmd.Flags().Lookup(name).Changed = false
		}
	})

	s := config.Settings{PollInterval: time.Second, Key: "from-env", HostsFile: "env.yaml"}
	if err := applyFlags(cmd, &s); err != nil {
		t.Fatal(err)
	}
	if s.PollInterval != 5*time.Second || s.Key != "deploy" || !s.Verbose {
		t.Errorf("flags not applied: %+v", s)
	}
	if s.HostsFile != "env.yaml" {
		t.Errorf("unset flag overrode env: %q", s.HostsFile)
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDialerOptionsLogsKeyFingerprint(t *testing.T) {
	home := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".ssh", "deploy"), keyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	logger := log.New(&out, "", 0)
	s := config.Settings{Home: home, Key: "deploy", KeyType: "rsa", HostKeyPolicy: "insecure", Verbose: true}
	opts, err := dialerOptions(s, logger)
	if err != nil {
		t.Fatalf("dialerOptions: %v", err)
	}
	if opts.Signer == nil {
		t.Fatal("no signer loaded")
	}
	if len(opts.IdentityFiles) != 0 || opts.AgentSocket != "" {
		t.Errorf("explicit key should be the only credential: %+v", opts)
	}
	fp := sshkeys.Fingerprint(opts.Signer.PublicKey())
	if !strings.Contains(out.String(), fp) {
		t.Errorf("log %q does not mention fingerprint %s", out.String(), fp)
	}

	out.Reset()
	s.Verbose = false
	if _, err := dialerOptions(s, logger); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("quiet mode logged %q", out.String())
	}
}
