// Package server serves a line database over TCP.
//
// Each accepted connection runs in its own goroutine with its own database
// session. Any client can ask the whole server to shut down; the request goes
// through a single relay goroutine that broadcasts it exactly once. After the
// broadcast the accept loop stops taking new connections and waits for every
// existing one to notice and finish.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/ksid"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/linedb/internal/database"
	"github.com/standardbeagle/linedb/internal/debug"
)

// fatalExit terminates the process. Swapped out by tests.
var fatalExit = debug.FatalAndExit

// Server accepts connections and dispatches their frames against a Database
type Server struct {
	db   *database.Database
	opts options

	mu       sync.Mutex
	listener *net.TCPListener

	// shutdown is closed once, by publish, to broadcast shutdown to everyone
	shutdown     chan struct{}
	shutdownOnce sync.Once
	// requests is the mailbox the relay goroutine waits on
	requests chan struct{}
	// stopped is closed when Serve returns
	stopped chan struct{}
}

// New creates a server for db. Call Listen and Serve, or Run, to start it.
func New(db *database.Database, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		db:       db,
		opts:     o,
		shutdown: make(chan struct{}),
		requests: make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Listen binds the listening socket
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server already listening on %s", s.listener.Addr())
	}

	addr, err := net.ResolveTCPAddr("tcp", s.opts.addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.opts.addr, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.addr, err)
	}
	s.listener = listener

	debug.LogServer("Listening on %s (pid: %d)", listener.Addr(), os.Getpid())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens and serves until shutdown has been broadcast and every
// connection has finished
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// RequestShutdown asks the relay to broadcast shutdown. It never blocks.
// Cancelling the context passed to Serve has the same effect.
func (s *Server) RequestShutdown() error {
	select {
	case <-s.shutdown:
		// already broadcast
		return nil
	case <-s.stopped:
		return ErrServerStopped
	default:
	}

	select {
	case s.requests <- struct{}{}:
	default:
		// a request is already waiting for the relay
	}
	return nil
}

// ShuttingDown reports whether shutdown has been broadcast
func (s *Server) ShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Done is closed when Serve returns
func (s *Server) Done() <-chan struct{} {
	return s.stopped
}

func (s *Server) publish() {
	s.shutdownOnce.Do(func() {
		debug.LogServer("Shutting down the server")
		close(s.shutdown)
	})
}

// relay waits for the first shutdown request and broadcasts it
func (s *Server) relay(ctx context.Context) {
	select {
	case <-s.requests:
		debug.LogServer("Shutdown requested")
	case <-ctx.Done():
		debug.LogServer("Context cancelled, shutting down")
	}
	s.publish()
}

// watch warns about data file changes until ctx is done. The index is
// never rebuilt, so lookups may return stale content afterwards.
func (s *Server) watch(ctx context.Context) {
	err := s.db.Watch(ctx, func(ev fsnotify.Event) {
		debug.Warn(debug.ComponentIndex, "Data file %s changed (%s); the index is no longer trusted", ev.Name, ev.Op)
	})
	if err != nil {
		debug.Warn(debug.ComponentIndex, "Not watching %s: %v", s.db.Path(), err)
	}
}

// Serve runs the accept loop on the listener bound by Listen.
//
// It returns after shutdown has been broadcast and every connection has
// finished. Connections are never cut off mid-frame; there is no drain timeout.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return ErrNotListening
	}
	defer close(s.stopped)

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error {
		s.relay(gctx)
		return nil
	})
	if s.opts.watch {
		g.Go(func() error {
			s.watch(gctx)
			return nil
		})
	}

	registry := make(map[string]*handle)
	var acceptErr error

	for {
		if err := listener.SetDeadline(time.Now().Add(s.opts.pollInterval)); err != nil {
			acceptErr = fmt.Errorf("failed to set accept deadline: %w", err)
			break
		}

		conn, err := listener.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				reap(registry)
				if s.ShuttingDown() {
					break
				}
				continue
			}
			acceptErr = fmt.Errorf("accept failed: %w", err)
			break
		}

		session, err := s.db.Session()
		if err != nil {
			debug.Warn(debug.ComponentServer, "Dropping connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		id := ksid.NewID().String()
		h := &handle{done: make(chan struct{})}
		registry[id] = h

		c := newConnection(id, conn, session, s)
		go func() {
			defer close(h.done)
			h.err = c.serve(bgCtx)
		}()
	}

	if acceptErr != nil {
		debug.Error(debug.ComponentServer, "%v", acceptErr)
		s.publish()
	}

	listener.Close()
	debug.LogServer("Waiting for %d connection(s) to finish", len(registry))
	for id, h := range registry {
		<-h.done
		if h.err != nil {
			debug.Warn(debug.ComponentConn, "Connection %s ended with error: %v", id, h.err)
		}
	}

	cancel()
	if err := g.Wait(); err != nil && acceptErr == nil {
		acceptErr = err
	}

	debug.LogServer("Server shut down cleanly")
	return acceptErr
}

// reap drops finished connections from the registry
func reap(registry map[string]*handle) {
	for id, h := range registry {
		if !h.finished() {
			continue
		}
		if h.err != nil {
			debug.Warn(debug.ComponentConn, "Connection %s ended with error: %v", id, h.err)
		} else {
			debug.Printf(debug.ComponentConn, "Connection %s finished", id)
		}
		delete(registry, id)
	}
}
