package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/time/rate"

	"github.com/standardbeagle/linedb/internal/database"
	"github.com/standardbeagle/linedb/internal/debug"
	lerrors "github.com/standardbeagle/linedb/internal/errors"
	"github.com/standardbeagle/linedb/internal/protocol"
)

// maxChunkSize bounds how much of one unterminated chunk is buffered. Longer
// chunks are discarded through their terminator and answered with ERR.
const maxChunkSize = 8 * protocol.FrameSize

// connection is the per-client state machine: read a frame, dispatch it,
// repeat until the client leaves or shutdown is broadcast.
type connection struct {
	id      string
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	session *database.Session
	limiter *rate.Limiter

	shutdown        <-chan struct{}
	requestShutdown func() error
}

func newConnection(id string, conn net.Conn, session *database.Session, s *Server) *connection {
	c := &connection{
		id:              id,
		conn:            conn,
		reader:          bufio.NewReaderSize(conn, maxChunkSize),
		writer:          bufio.NewWriter(conn),
		session:         session,
		shutdown:        s.shutdown,
		requestShutdown: s.RequestShutdown,
	}
	if s.opts.rateLimit != rate.Inf {
		c.limiter = rate.NewLimiter(s.opts.rateLimit, s.opts.burst)
	}
	return c
}

// serve runs until the connection is closed. The returned error is an I/O
// failure on this connection only; it never affects other clients.
func (c *connection) serve(ctx context.Context) error {
	defer c.close()
	debug.LogConn("Connection %s opened from %s", c.id, c.conn.RemoteAddr())

	for {
		raw, err := c.readChunk()
		if err != nil {
			return err
		}

		select {
		case <-c.shutdown:
			debug.LogConn("Connection %s: server shutting down", c.id)
			return c.write(protocol.ResponseShutdown)
		default:
		}

		frame, err := protocol.Decode(raw)
		if errors.Is(err, protocol.ErrClientDisconnected) {
			debug.LogConn("Connection %s: client disconnected", c.id)
			return nil
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
		}

		if err != nil {
			debug.Printf(debug.ComponentConn, "Connection %s: %v", c.id, err)
			if err := c.write(protocol.ResponseErr); err != nil {
				return err
			}
			continue
		}

		done, err := c.dispatch(frame.Command)
		if err != nil || done {
			return err
		}
	}
}

// readChunk returns the next '\n'-terminated chunk, or whatever precedes
// EOF. An oversized chunk is skipped and returned as a single byte that can
// never decode, so it is answered with one ERR like any other short frame.
func (c *connection) readChunk() ([]byte, error) {
	raw, err := c.reader.ReadSlice(protocol.Terminator)
	if errors.Is(err, bufio.ErrBufferFull) {
		debug.Printf(debug.ComponentConn, "Connection %s: discarding chunk over %d bytes", c.id, maxChunkSize)
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = c.reader.ReadSlice(protocol.Terminator)
		}
		raw = oversized
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read: %w", err)
	}
	return raw, nil
}

var oversized = []byte{protocol.Terminator}

// dispatch executes one decoded command. done reports that the connection
// must close.
func (c *connection) dispatch(cmd protocol.Command) (done bool, err error) {
	switch cmd.Kind {
	case protocol.KindGet:
		content, err := c.session.Get(uint64(cmd.Line))
		if err != nil {
			debug.Printf(debug.ComponentConn, "Connection %s: %s: %v", c.id, cmd, err)
			return false, c.write(protocol.ResponseErr)
		}
		return false, c.write(protocol.ResponseOK + content)

	case protocol.KindQuit:
		debug.LogConn("Connection %s: client quit", c.id)
		if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err != nil {
				debug.Printf(debug.ComponentConn, "Connection %s: close write: %v", c.id, err)
			}
		}
		return true, nil

	case protocol.KindShutdown:
		debug.LogConn("Connection %s: client requested shutdown", c.id)
		if err := c.requestShutdown(); err != nil {
			fatalExit("Could not deliver shutdown request from connection %s: %v", c.id, err)
		}
		return true, nil

	default:
		return false, c.write(protocol.ResponseErr)
	}
}

func (c *connection) write(response string) error {
	if _, err := c.writer.WriteString(response); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *connection) close() {
	if err := lerrors.NewMultiError([]error{c.session.Close(), c.conn.Close()}).ErrOrNil(); err != nil {
		debug.Warn(debug.ComponentConn, "Connection %s: close: %v", c.id, err)
	}
	debug.LogConn("Connection %s closed", c.id)
}
