package sshtail

import (
	"context"
	"fmt"
	"io"

	"github.com/praekelt/sshtail/internal/logutil"
	"github.com/praekelt/sshtail/internal/sshconn"
)

// Dialer opens SSH/SFTP sessions. *sshconn.Dialer implements it.
type Dialer interface {
	Dial(ctx context.Context, host sshconn.HostSpec) (*sshconn.Session, error)
}

// Target identifies one watched file: a host identity and a remote path.
type Target struct {
	Host string
	Path string
}

func (t Target) String() string {
	return t.Host + ":" + t.Path
}

// Watcher tails one remote file over one SSH/SFTP session. A Watcher is not
// safe for concurrent use.
type Watcher struct {
	target Target
	spec   sshconn.HostSpec
	dialer Dialer
	opts   options

	session *sshconn.Session

	known  bool  // size has been observed at least once
	size   int64 // stat size at the end of the last poll
	offset int64 // end of the last delivered record
}

// NewWatcher creates a watcher for path on host ("[user@]host[:port]"). No
// connection is made until Connect or the first Poll.
func NewWatcher(host, path string, dialer Dialer, opts ...Option) (*Watcher, error) {
	spec, err := sshconn.ParseHost(host)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("watch %s: empty file path", logutil.SanitizeForLog(host))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Watcher{
		target: Target{Host: host, Path: path},
		spec:   spec,
		dialer: dialer,
		opts:   o,
	}, nil
}

// Target returns the watched host and path.
func (w *Watcher) Target() Target {
	return w.target
}

// Connected reports whether the watcher holds a live session.
func (w *Watcher) Connected() bool {
	return w.session != nil
}

// Offset returns the position up to which records have been delivered, and
// false if the file has not been polled yet.
func (w *Watcher) Offset() (int64, bool) {
	return w.offset, w.known
}

// Connect opens the SSH session and its SFTP sub-session. It is a no-op when
// already connected. Failures are not retried.
func (w *Watcher) Connect(ctx context.Context) error {
	if w.session != nil {
		return nil
	}
	w.opts.verbosef("[sshtail] connecting to %s...", logutil.SanitizeForLog(w.spec.String()))
	sess, err := w.dialer.Dial(ctx, w.spec)
	if err != nil {
		return &ConnectionError{Host: w.target.Host, Err: err}
	}
	w.opts.verbosef("[sshtail] opening remote file %s...", logutil.SanitizeForLog(w.target.Path))
	w.session = sess
	return nil
}

// Poll checks the file for growth and calls fn with each new line, in file
// order. The first poll only records the file size. If the file shrank or
// did not change, fn is not called.
//
// If fn returns an error, polling stops and that error is returned as is;
// lines already accepted by fn are not delivered again. Read and stat
// failures are returned as *RemoteFileError, connect failures as
// *ConnectionError.
func (w *Watcher) Poll(ctx context.Context, fn func(line string) error) error {
	if err := w.Connect(ctx); err != nil {
		return err
	}

	info, err := w.session.Stat(w.target.Path)
	if err != nil {
		return w.fileError("stat", err)
	}
	size := info.Size()

	switch {
	case !w.known:
		w.offset = size
	case size > w.size:
		if err := w.readNew(ctx, size, fn); err != nil {
			return err
		}
	case size < w.size:
		w.opts.verbosef("[sshtail] %s shrank from %d to %d bytes", logutil.SanitizeForLog(w.target.String()), w.size, size)
		w.offset = size
	}

	w.size = size
	w.known = true
	return nil
}

// Lines runs one Poll and returns the lines it produced.
func (w *Watcher) Lines(ctx context.Context) ([]string, error) {
	var lines []string
	err := w.Poll(ctx, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// readNew reads from the last delivered record to EOF with a fresh handle.
func (w *Watcher) readNew(ctx context.Context, size int64, fn func(string) error) error {
	f, err := w.session.Open(w.target.Path)
	if err != nil {
		return w.fileError("open", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			w.opts.logger.Printf("[sshtail] error closing %s: %v", logutil.SanitizeForLog(w.target.String()), err)
		}
	}()

	// The offset can run past the stat size when the file grew while it
	// was being read. Past the current size, though, the file must have
	// been truncated and regrown since; resume from the previous size.
	start := w.offset
	if start > size {
		start = w.size
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return w.fileError("seek", err)
	}

	rr := newRecordReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, ok, err := rr.next()
		if err != nil {
			return w.fileError("read", err)
		}
		if !ok {
			return nil
		}
		if err := fn(line); err != nil {
			return err
		}
		w.offset = start + rr.consumed
	}
}

// Disconnect closes the SFTP sub-session and SSH connection. Repeated calls
// are no-ops and teardown errors are only logged.
func (w *Watcher) Disconnect() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.opts.logger.Printf("[sshtail] error closing session to %s: %v", logutil.SanitizeForLog(w.spec.String()), err)
	}
	w.session = nil
}

func (w *Watcher) fileError(op string, err error) error {
	return &RemoteFileError{Host: w.target.Host, Path: w.target.Path, Op: op, Err: err}
}
