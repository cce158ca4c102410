package sshtail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/praekelt/sshtail/internal/logutil"
)

// Line is one delivered line. The zero Line is the idle marker sent after a
// round that produced nothing, when idle reporting is on.
type Line struct {
	Host string `json:"host"`
	Path string `json:"path"`
	Text string `json:"line"`
}

// Idle reports whether l is the idle marker.
func (l Line) Idle() bool {
	return l == Line{}
}

// Stream is the output of one Tail call.
type Stream struct {
	lines chan Line
	runID string

	mu  sync.Mutex
	err error
}

// Lines returns the channel of delivered lines. It is closed when the tail
// ends.
func (s *Stream) Lines() <-chan Line {
	return s.lines
}

// Err returns the error that ended the tail, or nil if it ended because its
// context was cancelled. Only meaningful once Lines is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RunID identifies this tail in log output.
func (s *Stream) RunID() string {
	return s.runID
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// MultiTailer tails many files across many hosts and merges their lines.
type MultiTailer struct {
	hostFiles map[string][]string
	dialer    Dialer
	optList   []Option
	opts      options

	mu       sync.Mutex
	running  bool
	watchers map[Target]*Watcher
}

// NewMultiTailer creates a tailer for hostFiles, a map from host identity
// ("[user@]host[:port]") to the remote paths to follow on that host.
func NewMultiTailer(hostFiles map[string][]string, dialer Dialer, opts ...Option) *MultiTailer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	copied := make(map[string][]string, len(hostFiles))
	for host, files := range hostFiles {
		copied[host] = append([]string(nil), files...)
	}
	return &MultiTailer{
		hostFiles: copied,
		dialer:    dialer,
		optList:   opts,
		opts:      o,
	}
}

// Connect builds one watcher per (host, path). Sessions are opened lazily by
// each watcher's first poll. Duplicate paths for a host share a watcher.
// It returns ErrTailRunning while a Tail owns the watchers.
func (t *MultiTailer) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrTailRunning
	}
	return t.connectLocked()
}

func (t *MultiTailer) connectLocked() error {
	t.opts.verbosef("[sshtail] connecting to multiple hosts...")
	watchers := make(map[Target]*Watcher)
	for host, files := range t.hostFiles {
		for _, path := range files {
			target := Target{Host: host, Path: path}
			if _, ok := watchers[target]; ok {
				continue
			}
			w, err := NewWatcher(host, path, t.dialer, t.optList...)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			watchers[target] = w
		}
	}
	t.watchers = watchers
	return nil
}

// Watchers lists the current watch targets, sorted by host then path.
func (t *MultiTailer) Watchers() []Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	targets := make([]Target, 0, len(t.watchers))
	for target := range t.watchers {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Host != targets[j].Host {
			return targets[i].Host < targets[j].Host
		}
		return targets[i].Path < targets[j].Path
	})
	return targets
}

// Tail starts polling and returns the stream of new lines. The loop runs
// until ctx is cancelled or a watcher fails; either way the channel is
// closed and every session disconnected. With reportIdle, each round that
// produces no lines is followed by one idle marker (a zero Line).
//
// Lines are sent unbuffered: the loop does not poll ahead of the consumer.
func (t *MultiTailer) Tail(ctx context.Context, reportIdle bool) (*Stream, error) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil, ErrTailRunning
	}
	if len(t.watchers) == 0 {
		if err := t.connectLocked(); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.running = true
	watchers := make([]*Watcher, 0, len(t.watchers))
	for _, w := range t.watchers {
		watchers = append(watchers, w)
	}
	t.mu.Unlock()

	s := &Stream{
		lines: make(chan Line),
		runID: uuid.NewString(),
	}
	t.opts.logger.Printf("[sshtail] tail %s started: %d file(s) on %d host(s), poll interval %s",
		s.runID, len(watchers), len(t.hostFiles), t.opts.pollInterval)
	go t.run(ctx, s, watchers, reportIdle)
	return s, nil
}

func (t *MultiTailer) run(ctx context.Context, s *Stream, watchers []*Watcher, reportIdle bool) {
	defer func() {
		t.mu.Lock()
		// Disconnect the watchers this run polled, then whatever the map
		// holds, in case the two ever differ.
		for _, w := range watchers {
			w.Disconnect()
		}
		t.teardownLocked()
		t.running = false
		t.mu.Unlock()
		if err := s.Err(); err != nil {
			t.opts.logger.Printf("[sshtail] tail %s stopped: %s", s.runID, logutil.Truncate(logutil.SanitizeForLog(err.Error())))
		} else {
			t.opts.logger.Printf("[sshtail] tail %s stopped", s.runID)
		}
		close(s.lines)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		read := 0
		for _, w := range watchers {
			target := w.Target()
			err := w.Poll(ctx, func(text string) error {
				select {
				case s.lines <- Line{Host: target.Host, Path: target.Path, Text: text}:
					read++
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return
				}
				s.fail(err)
				return
			}
		}

		if read > 0 {
			continue
		}

		if reportIdle {
			select {
			case s.lines <- Line{}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-t.opts.clock.After(t.opts.pollInterval):
		case <-ctx.Done():
			return
		}
	}
}

// Disconnect closes every watcher's session and forgets the watchers, so the
// next Connect or Tail starts from scratch. A running Tail owns its watchers
// and disconnects them itself when it ends; cancel its context instead.
func (t *MultiTailer) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.opts.logger.Printf("[sshtail] disconnect ignored: tail still running")
		return
	}
	t.teardownLocked()
}

func (t *MultiTailer) teardownLocked() {
	for target, w := range t.watchers {
		if w.Connected() {
			t.opts.verbosef("[sshtail] disconnecting %s", logutil.SanitizeForLog(target.String()))
		}
		w.Disconnect()
	}
	t.watchers = nil
	t.opts.verbosef("[sshtail] disconnected from hosts")
}
