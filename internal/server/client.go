package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/standardbeagle/linedb/internal/protocol"
)

var (
	// ErrRemote is returned when the server answers ERR
	ErrRemote = errors.New("server returned ERR")
	// ErrShuttingDown is returned when the server answers SHUTDOWN
	ErrShuttingDown = errors.New("server is shutting down")
)

// Client speaks the frame protocol to a running server
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr. A zero timeout means no I/O deadline.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

func (c *Client) deadline() {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

// Send writes one encoded command. Commands that protocol.Framable rejects
// are refused with protocol.ErrUnframeable instead of being written, since
// the server would answer them with two ERR lines.
func (c *Client) Send(cmd protocol.Command) error {
	if !protocol.Framable(cmd) {
		return fmt.Errorf("%s: %w", cmd, protocol.ErrUnframeable)
	}
	return c.SendRaw(protocol.Encode(cmd))
}

// SendRaw writes bytes as-is, for frames that are deliberately malformed
func (c *Client) SendRaw(b []byte) error {
	c.deadline()
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// ReadStatus reads one status line and returns it without the CRLF
func (c *Client) ReadStatus() (string, error) {
	c.deadline()
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return strings.TrimSuffix(line, "\r\n"), nil
}

// ReadLine reads line content through the next newline, or to EOF
func (c *Client) ReadLine() (string, error) {
	c.deadline()
	line, err := c.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read line: %w", err)
	}
	return line, nil
}

// Get requests one line and returns its content including the newline.
//
// The one-past-end line has no content at all, which is indistinguishable
// from the server being slow; Get blocks until the next response or the
// timeout in that case. Use Fetch when that matters.
func (c *Client) Get(line uint32) (string, error) {
	if err := c.Send(protocol.Get(line)); err != nil {
		return "", err
	}
	status, err := c.ReadStatus()
	if err != nil {
		return "", err
	}
	if err := statusError(status); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// Quit asks the server to close the connection and waits until it does
func (c *Client) Quit() error {
	if err := c.Send(protocol.Quit()); err != nil {
		return err
	}
	c.deadline()
	if _, err := io.Copy(io.Discard, c.reader); err != nil {
		return fmt.Errorf("failed waiting for close: %w", err)
	}
	return nil
}

// Shutdown asks the server to shut down and waits for it to close this connection
func (c *Client) Shutdown() error {
	if err := c.Send(protocol.Shutdown()); err != nil {
		return err
	}
	c.deadline()
	if _, err := io.Copy(io.Discard, c.reader); err != nil {
		return fmt.Errorf("failed waiting for close: %w", err)
	}
	return nil
}

// Close closes the connection without telling the server
func (c *Client) Close() error {
	return c.conn.Close()
}

// Fetch retrieves a single line on a fresh connection. It sends GET followed
// by QUIT and reads until the server closes, so empty content is unambiguous.
func Fetch(addr string, line uint32, timeout time.Duration) (string, error) {
	cmd := protocol.Get(line)
	if !protocol.Framable(cmd) {
		return "", fmt.Errorf("%s: %w", cmd, protocol.ErrUnframeable)
	}

	c, err := Dial(addr, timeout)
	if err != nil {
		return "", err
	}
	defer c.Close()

	frames := append(protocol.Encode(cmd), protocol.Encode(protocol.Quit())...)
	if err := c.SendRaw(frames); err != nil {
		return "", err
	}

	c.deadline()
	reply, err := io.ReadAll(c.reader)
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}

	status, content, ok := strings.Cut(string(reply), "\r\n")
	if !ok {
		return "", fmt.Errorf("malformed reply %q", reply)
	}
	if err := statusError(status); err != nil {
		return "", err
	}
	return content, nil
}

// RequestRemoteShutdown connects to addr and asks the server to shut down
func RequestRemoteShutdown(addr string, timeout time.Duration) error {
	c, err := Dial(addr, timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Shutdown()
}

// WaitForReady polls addr until it accepts connections or timeout passes
func WaitForReady(addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s: %w", addr, err)
		case <-ticker.C:
		}
	}
}

func statusError(status string) error {
	switch status + "\r\n" {
	case protocol.ResponseOK:
		return nil
	case protocol.ResponseErr:
		return ErrRemote
	case protocol.ResponseShutdown:
		return ErrShuttingDown
	default:
		return fmt.Errorf("unexpected status %q", status)
	}
}
