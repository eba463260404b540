package server

import (
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPort is the TCP port the server listens on when nothing else is configured
const DefaultPort = 10497

// DefaultAddr listens on DefaultPort on every interface
const DefaultAddr = ":10497"

// DefaultPollInterval bounds how long the accept loop blocks before it checks
// for shutdown and reaps finished connections
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrNotListening is returned by Serve when Listen has not been called
	ErrNotListening = errors.New("server is not listening")
	// ErrServerStopped means a shutdown request arrived after the server stopped
	// without ever broadcasting shutdown
	ErrServerStopped = errors.New("server stopped before shutdown was requested")
)

// Option configures a Server
type Option func(*options)

type options struct {
	addr         string
	pollInterval time.Duration
	rateLimit    rate.Limit
	burst        int
	watch        bool
}

func defaultOptions() options {
	return options{
		addr:         DefaultAddr,
		pollInterval: DefaultPollInterval,
		rateLimit:    rate.Inf,
		burst:        1,
	}
}

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(o *options) {
		o.addr = addr
	}
}

// WithPollInterval sets the accept loop deadline
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithRateLimit caps the number of frames each connection may have
// dispatched per second. Zero or negative disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.rateLimit = rate.Inf
			return
		}
		o.rateLimit = rate.Limit(perSecond)
		if burst < 1 {
			burst = 1
		}
		o.burst = burst
	}
}

// WithDataFileWatch logs a warning whenever the data file changes on disk
// while the server is running
func WithDataFileWatch(enabled bool) Option {
	return func(o *options) {
		o.watch = enabled
	}
}

// handle tracks one connection task in the registry
type handle struct {
	done chan struct{}
	err  error // valid once done is closed
}

func (h *handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
