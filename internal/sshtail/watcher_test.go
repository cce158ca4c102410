package sshtail

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/praekelt/sshtail/internal/logging"
	"github.com/praekelt/sshtail/internal/sshconn"
	"github.com/praekelt/sshtail/internal/sshtest"
)

var quietLogger = logging.Discard()

const logPath = "/var/log/app.log"

func newTestDialer(t *testing.T, srv *sshtest.Server) *sshconn.Dialer {
	t.Helper()
	d, err := sshconn.NewDialer(sshconn.Options{
		DefaultUser:    sshtest.User,
		Signer:         srv.ClientSigner,
		HostKeyPolicy:  sshconn.HostKeyInsecure,
		ConnectTimeout: 5 * time.Second,
		Logger:         quietLogger,
	})
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	return d
}

func newTestWatcher(t *testing.T, srv *sshtest.Server, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(srv.Host(), path, newTestDialer(t, srv), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Disconnect)
	return w
}

func mustLines(t *testing.T, w *Watcher) []string {
	t.Helper()
	lines, err := w.Lines(context.Background())
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	return lines
}

func assertLines(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d lines %q, want %q", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// waitFor polls cond until it holds or a deadline passes. Server-side
// counters update asynchronously after the client closes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherFollowsAppends(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)

	assertLines(t, mustLines(t, w))

	srv.AppendFile(t, logPath, "one\ntwo\n")
	assertLines(t, mustLines(t, w), "one", "two")
	if off, ok := w.Offset(); !ok || off != 8 {
		t.Errorf("offset = %d (%v), want 8", off, ok)
	}

	srv.AppendFile(t, logPath, "three")
	assertLines(t, mustLines(t, w))

	srv.AppendFile(t, logPath, "\n")
	assertLines(t, mustLines(t, w), "three")

	assertLines(t, mustLines(t, w))
}

func TestWatcherFirstPollSkipsExistingContent(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "old\nlines\n")
	w := newTestWatcher(t, srv, logPath)

	if _, ok := w.Offset(); ok {
		t.Fatal("offset known before first poll")
	}
	assertLines(t, mustLines(t, w))
	if off, _ := w.Offset(); off != 10 {
		t.Errorf("offset = %d, want 10", off)
	}

	srv.AppendFile(t, logPath, "new\n")
	assertLines(t, mustLines(t, w), "new")
}

func TestWatcherStripsCarriageReturns(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	srv.AppendFile(t, logPath, "dos\r\n\nlast\r\r\n")
	assertLines(t, mustLines(t, w), "dos", "", "last")
}

func TestWatcherConnectsLazily(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)

	if w.Connected() || srv.Handshakes() != 0 {
		t.Fatal("NewWatcher connected eagerly")
	}
	mustLines(t, w)
	if !w.Connected() || srv.Handshakes() != 1 {
		t.Fatalf("after poll: connected=%v handshakes=%d", w.Connected(), srv.Handshakes())
	}
	mustLines(t, w)
	if srv.Handshakes() != 1 {
		t.Errorf("session not reused: %d handshakes", srv.Handshakes())
	}
	if srv.SFTPSessions() != 1 {
		t.Errorf("sftp sessions = %d, want 1", srv.SFTPSessions())
	}
}

func TestWatcherShrinkRebasesOffset(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	srv.AppendFile(t, logPath, "aaaa\nbbbb\n")
	assertLines(t, mustLines(t, w), "aaaa", "bbbb")

	// Rotated and rewritten to below the old size: nothing is emitted and
	// the content written before the poll is skipped.
	srv.Truncate(t, logPath, 0)
	srv.AppendFile(t, logPath, "cc\n")
	assertLines(t, mustLines(t, w))
	if off, _ := w.Offset(); off != 3 {
		t.Errorf("offset after shrink = %d, want 3", off)
	}

	srv.AppendFile(t, logPath, "dd\n")
	assertLines(t, mustLines(t, w), "dd")
}

func TestWatcherUnchangedSizeEmitsNothing(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "x\n")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	// Same size, different bytes: only growth counts.
	srv.WriteFile(t, logPath, "y\n")
	assertLines(t, mustLines(t, w))
}

func TestWatcherExactlyOnceUnderRandomGrowth(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	var want []string
	var content strings.Builder
	for i := 0; i < 40; i++ {
		line := strings.Repeat(string(rune('a'+i%26)), i%7) + "-" + string(rune('0'+i%10))
		want = append(want, line)
		content.WriteString(line + "\n")
	}
	data := content.String()

	rng := rand.New(rand.NewSource(42))
	var got []string
	for pos := 0; pos < len(data); {
		n := 1 + rng.Intn(12)
		if pos+n > len(data) {
			n = len(data) - pos
		}
		srv.AppendFile(t, logPath, data[pos:pos+n])
		pos += n
		got = append(got, mustLines(t, w)...)
	}
	assertLines(t, got, want...)
}

func TestWatcherCallbackErrorResumes(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	srv.AppendFile(t, logPath, "1\n2\n3\n")
	stop := errors.New("stop")
	var got []string
	err := w.Poll(context.Background(), func(line string) error {
		if line == "2" {
			return stop
		}
		got = append(got, line)
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Poll error = %v, want %v", err, stop)
	}
	assertLines(t, got, "1")

	assertLines(t, mustLines(t, w), "2", "3")
}

func TestWatcherMissingFile(t *testing.T) {
	srv := sshtest.NewServer(t)
	w := newTestWatcher(t, srv, "/var/log/nope.log")

	_, err := w.Lines(context.Background())
	var fileErr *RemoteFileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("error = %v, want *RemoteFileError", err)
	}
	if !fileErr.NotFound() {
		t.Errorf("NotFound() = false for %v", err)
	}
	if fileErr.Op != "stat" || fileErr.Path != "/var/log/nope.log" {
		t.Errorf("unexpected error fields: %+v", fileErr)
	}
}

func TestWatcherFileRemovedAfterStart(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "a\n")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	srv.Remove(t, logPath)
	_, err := w.Lines(context.Background())
	var fileErr *RemoteFileError
	if !errors.As(err, &fileErr) || !fileErr.NotFound() {
		t.Fatalf("error = %v, want not-found *RemoteFileError", err)
	}
}

func TestWatcherConnectionErrors(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")

	t.Run("bad credentials", func(t *testing.T) {
		d, err := sshconn.NewDialer(sshconn.Options{
			Signer:        sshtest.NewSigner(t),
			HostKeyPolicy: sshconn.HostKeyInsecure,
			Logger:        quietLogger,
		})
		if err != nil {
			t.Fatal(err)
		}
		w, err := NewWatcher(srv.Host(), logPath, d, WithLogger(quietLogger))
		if err != nil {
			t.Fatal(err)
		}
		err = w.Connect(context.Background())
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("error = %v, want *ConnectionError", err)
		}
		if connErr.Host != srv.Host() {
			t.Errorf("host = %q, want %q", connErr.Host, srv.Host())
		}
		if w.Connected() {
			t.Error("watcher reports connected after failure")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		closed := sshtest.NewServer(t)
		host := closed.Host()
		closed.Close()

		w, err := NewWatcher(host, logPath, newTestDialer(t, srv), WithLogger(quietLogger))
		if err != nil {
			t.Fatal(err)
		}
		_, err = w.Lines(context.Background())
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("error = %v, want *ConnectionError", err)
		}
	})
}

func TestWatcherDisconnect(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)

	w.Disconnect() // never connected

	mustLines(t, w)
	waitFor(t, "connection", func() bool { return srv.OpenConnections() == 1 })

	w.Disconnect()
	w.Disconnect()
	if w.Connected() {
		t.Fatal("still connected after Disconnect")
	}
	waitFor(t, "close", func() bool { return srv.OpenConnections() == 0 })

	// Position survives a reconnect.
	srv.AppendFile(t, logPath, "after\n")
	assertLines(t, mustLines(t, w), "after")
	if srv.Handshakes() != 2 {
		t.Errorf("handshakes = %d, want 2", srv.Handshakes())
	}
}

func TestWatcherCancelledContext(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.WriteFile(t, logPath, "")
	w := newTestWatcher(t, srv, logPath)
	mustLines(t, w)

	srv.AppendFile(t, logPath, "a\nb\n")
	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := w.Poll(ctx, func(line string) error {
		got = append(got, line)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	assertLines(t, got, "a")
	assertLines(t, mustLines(t, w), "b")
}

func TestNewWatcherValidation(t *testing.T) {
	if _, err := NewWatcher("", logPath, nil); err == nil {
		t.Error("empty host accepted")
	}
	if _, err := NewWatcher("example.com", "", nil); err == nil {
		t.Error("empty path accepted")
	}
	w, err := NewWatcher("ops@example.com:2222", logPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Target().String(); got != "ops@example.com:2222:"+logPath {
		t.Errorf("Target = %q", got)
	}
}
