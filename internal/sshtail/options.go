package sshtail

import (
	"log"
	"time"

	"github.com/juju/clock"
)

// DefaultPollInterval is how long an idle round sleeps.
const DefaultPollInterval = 2 * time.Second

type options struct {
	pollInterval time.Duration
	clock        clock.Clock
	logger       *log.Logger
	verbose      bool
}

func defaultOptions() options {
	return options{
		pollInterval: DefaultPollInterval,
		clock:        clock.WallClock,
		logger:       log.Default(),
	}
}

// Option configures a Watcher or MultiTailer.
type Option func(*options)

// WithPollInterval sets the sleep after an idle round. Non-positive values
// are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock replaces the wall clock used for idle sleeps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger for lifecycle and progress messages.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithVerbose enables progress messages (connecting, opening, closing).
func WithVerbose(v bool) Option {
	return func(o *options) {
		o.verbose = v
	}
}

func (o *options) verbosef(format string, args ...any) {
	if o.verbose {
		o.logger.Printf(format, args...)
	}
}
