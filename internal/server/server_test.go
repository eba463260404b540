package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/linedb/internal/database"
	"github.com/standardbeagle/linedb/internal/index"
	"github.com/standardbeagle/linedb/internal/protocol"
	ltesting "github.com/standardbeagle/linedb/internal/testing"
)

const testTimeout = 5 * time.Second

const sampleData = "alpha\nbeta\ngamma\n"

func openDB(t *testing.T, content string) *database.Database {
	t.Helper()
	path := ltesting.WriteDataFile(t, content)

	db, err := database.Open(path, index.CachePath(path), false)
	require.NoError(t, err)
	return db
}

type testServer struct {
	*Server
	addr   string
	cancel context.CancelFunc
	errCh  chan error
}

// startServer runs a server on a loopback port and drains it when the test ends
func startServer(t *testing.T, db *database.Database, opts ...Option) *testServer {
	t.Helper()

	opts = append([]Option{WithAddr("127.0.0.1:0"), WithPollInterval(10 * time.Millisecond)}, opts...)
	srv := New(db, opts...)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		Server: srv,
		addr:   srv.Addr().String(),
		cancel: cancel,
		errCh:  make(chan error, 1),
	}
	go func() {
		ts.errCh <- srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-srv.Done():
		case <-time.After(testTimeout):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-ts.errCh:
		return err
	case <-time.After(testTimeout):
		t.Fatal("server did not stop")
		return nil
	}
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_Get(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))
	c := dial(t, ts.addr)

	got, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", got)

	got, err = c.Get(3)
	require.NoError(t, err)
	assert.Equal(t, "gamma\n", got)

	got, err = c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "beta\n", got)
}

func TestServer_ExampleFrame(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))
	c := dial(t, ts.addr)

	require.NoError(t, c.SendRaw([]byte{0x30, 0x00, 0x00, 0x00, 0x01, 0x31, 0x0A}))
	status, err := c.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, "OK", status)

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", line)
}

func TestServer_ErrResponsesKeepConnectionOpen(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))
	c := dial(t, ts.addr)

	bad := map[string][]byte{
		"line zero":     protocol.Encode(protocol.Get(0)),
		"out of bounds": protocol.Encode(protocol.Get(5)),
		"short frame":   {'0', 0, 0, '\n'},
		"unknown tag":   {'7', 0, 0, 0, 0, '7', '\n'},
		"bad checksum":  {'0', 0, 0, 0, 1, 0x32, '\n'},
		"plain text":    []byte("hello world\n"),
		"flipped bit":   {'0', 0, 0, 0, 3, 0x31, '\n'},
		"lone newline":  {'\n'},
	}

	for name, raw := range bad {
		require.NoError(t, c.SendRaw(raw), name)
		status, err := c.ReadStatus()
		require.NoError(t, err, name)
		assert.Equal(t, "ERR", status, name)
	}

	got, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "beta\n", got)
}

func TestServer_SplitFrameGetsTwoErrors(t *testing.T) {
	ts := startServer(t, openDB(t, ltesting.GenerateLines(20, "record-%03d")))
	c := dial(t, ts.addr)

	// GET 10 carries 0x0A in its argument, so it reaches the server as two chunks
	require.NoError(t, c.SendRaw(protocol.Encode(protocol.Get(10))))
	for i := 0; i < 2; i++ {
		status, err := c.ReadStatus()
		require.NoError(t, err)
		assert.Equal(t, "ERR", status)
	}

	got, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "record-002\n", got)
}

func TestClient_RefusesUnframeableCommands(t *testing.T) {
	ts := startServer(t, openDB(t, ltesting.GenerateLines(20, "record-%03d")))
	c := dial(t, ts.addr)

	_, err := c.Get(10)
	assert.ErrorIs(t, err, protocol.ErrUnframeable)

	_, err = Fetch(ts.addr, 10, testTimeout)
	assert.ErrorIs(t, err, protocol.ErrUnframeable)

	// nothing was written, so replies stay in step
	for _, line := range []uint32{1, 2, 11} {
		got, err := c.Get(line)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("record-%03d\n", line), got)
	}
}

func TestServer_OnePastEndLine(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))

	got, err := Fetch(ts.addr, 4, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = Fetch(ts.addr, 5, testTimeout)
	assert.ErrorIs(t, err, ErrRemote)
}

func TestServer_Quit(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))
	c := dial(t, ts.addr)

	got, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", got)

	require.NoError(t, c.Quit())

	// the server keeps serving others
	got, err = Fetch(ts.addr, 2, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "beta\n", got)
	assert.False(t, ts.ShuttingDown())
}

func TestServer_ImmediateDisconnectGetsNoReply(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))

	c := dial(t, ts.addr)
	require.NoError(t, c.Close())

	got, err := Fetch(ts.addr, 1, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", got)
}

func TestServer_ShutdownBroadcast(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))

	idle := dial(t, ts.addr)
	got, err := idle.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", got)

	require.NoError(t, RequestRemoteShutdown(ts.addr, testTimeout))
	require.Eventually(t, ts.ShuttingDown, testTimeout, 5*time.Millisecond)

	// the drain waits for the idle client
	select {
	case <-ts.Done():
		t.Fatal("server stopped before the idle connection finished")
	case <-time.After(50 * time.Millisecond):
	}

	// its next frame is answered with SHUTDOWN instead of being dispatched
	require.NoError(t, idle.Send(protocol.Get(2)))
	status, err := idle.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, "SHUTDOWN", status)

	assert.NoError(t, ts.wait(t))

	_, err = Dial(ts.addr, 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed after drain")
}

func TestServer_ShutdownRequestedTwice(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))

	require.NoError(t, ts.RequestShutdown())
	require.NoError(t, ts.RequestShutdown())
	assert.NoError(t, ts.wait(t))

	assert.NoError(t, ts.RequestShutdown(), "requests after the broadcast are ignored")
}

func TestServer_ContextCancelDrains(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData))
	c := dial(t, ts.addr)

	ts.cancel()
	require.Eventually(t, ts.ShuttingDown, testTimeout, 5*time.Millisecond)

	require.NoError(t, c.Send(protocol.Get(1)))
	status, err := c.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, "SHUTDOWN", status)

	assert.NoError(t, ts.wait(t))
}

func TestServer_ConcurrentClients(t *testing.T) {
	ts := startServer(t, openDB(t, ltesting.GenerateLines(200, "record-%03d")))

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(16)
	for i := 1; i <= 200; i++ {
		line := uint32(i)
		if !protocol.Framable(protocol.Get(line)) {
			continue
		}
		g.Go(func() error {
			got, err := Fetch(ts.addr, line, testTimeout)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if want := fmt.Sprintf("record-%03d\n", line); got != want {
				return fmt.Errorf("line %d: got %q, want %q", line, got, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestServer_RateLimit(t *testing.T) {
	ts := startServer(t, openDB(t, sampleData), WithRateLimit(20, 1))

	// one token up front, then one every 50ms
	ltesting.RetryTimingAssertion(t, 3, func() (time.Duration, error) {
		c, err := Dial(ts.addr, testTimeout)
		if err != nil {
			return 0, err
		}
		defer c.Close()

		start := time.Now()
		for i := 0; i < 5; i++ {
			if _, err := c.Get(1); err != nil {
				return 0, err
			}
		}
		return time.Since(start), nil
	}, 150*time.Millisecond, 0, "five rate limited requests")
}

func TestServer_SessionFailureDropsConnection(t *testing.T) {
	db := openDB(t, sampleData)
	ts := startServer(t, db)

	require.NoError(t, os.Remove(db.Path()))

	c := dial(t, ts.addr)
	_ = c.Send(protocol.Get(1))
	_, err := c.ReadStatus()
	assert.Error(t, err)
	assert.False(t, ts.ShuttingDown())
}

func TestServer_DataFileWatch(t *testing.T) {
	db := openDB(t, sampleData)
	ts := startServer(t, db, WithDataFileWatch(true))

	require.NoError(t, os.WriteFile(db.Path(), []byte("changed\n"), 0644))

	// the index is kept, so the old offsets still apply
	got, err := Fetch(ts.addr, 2, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "d\n", got)
	assert.Equal(t, uint64(3), db.Lines())
}

func TestServe_RequiresListen(t *testing.T) {
	srv := New(openDB(t, sampleData))
	err := srv.Serve(context.Background())
	assert.True(t, errors.Is(err, ErrNotListening))
}

func TestRequestShutdown_AfterStopWithoutBroadcast(t *testing.T) {
	srv := New(openDB(t, sampleData))
	close(srv.stopped)

	assert.ErrorIs(t, srv.RequestShutdown(), ErrServerStopped)
}
