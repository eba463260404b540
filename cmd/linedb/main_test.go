package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/linedb/internal/server"
	"github.com/standardbeagle/linedb/internal/version"
)

// runApp runs the CLI in-process and returns everything it printed
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"linedb", "--log-file", ""}, args...))
	return out.String(), err
}

// setupTestData writes a data file and isolates config lookup from the user's home
func setupTestData(t *testing.T, content string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "linedb ")
}

func TestIndexCommand(t *testing.T) {
	data := setupTestData(t, "alpha\nbeta\ngamma\n")

	out, err := runApp(t, "index", data)
	require.NoError(t, err)
	assert.Contains(t, out, "3 lines")
	assert.FileExists(t, data+".index")

	out, err = runApp(t, "index", "--verify", data)
	require.NoError(t, err)
	assert.Contains(t, out, "matches")

	// same size, different bytes
	require.NoError(t, os.WriteFile(data, []byte("alpha\nbeta\ngamme\n"), 0644))
	_, err = runApp(t, "index", "--verify", data)
	assert.Error(t, err)

	_, err = runApp(t, "index", "--force", data)
	require.NoError(t, err)
	_, err = runApp(t, "index", "--verify", data)
	assert.NoError(t, err)
}

func TestIndexCommand_MissingArgument(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runApp(t, "index")
	assert.ErrorIs(t, err, errMissingDataFile)
}

func TestGetCommand_InvalidLine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runApp(t, "get", "--addr", "127.0.0.1:1", "nope")
	assert.Error(t, err)

	_, err = runApp(t, "get", "--addr", "127.0.0.1:1", "4294967296")
	assert.Error(t, err, "line numbers are 32-bit")
}

func TestServeGetShutdown(t *testing.T) {
	data := setupTestData(t, "alpha\nbeta\ngamma\n")
	addr := freeAddr(t)

	serveErr := make(chan error, 1)
	go func() {
		_, err := runApp(t, "serve", "--addr", addr, "--no-persist", data)
		serveErr <- err
	}()
	require.NoError(t, server.WaitForReady(addr, 5*time.Second))

	out, err := runApp(t, "get", "--addr", addr, "2")
	require.NoError(t, err)
	assert.Equal(t, "beta\n", out)

	_, err = runApp(t, "get", "--addr", addr, "9")
	assert.ErrorIs(t, err, server.ErrRemote)

	out, err = runApp(t, "shutdown", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Shutdown requested")

	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not exit after shutdown")
	}
	assert.NoFileExists(t, data+".index")
}

func TestClientAddr(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var got string
	app := newApp()
	app.Commands[2].Action = func(c *cli.Context) error {
		got = clientAddr(c, configFrom(c))
		return nil
	}
	require.NoError(t, app.Run([]string{"linedb", "--log-file", "", "get", "1"}))
	assert.Equal(t, "127.0.0.1:10497", got)
}

func TestIndexCommand_RejectsDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runApp(t, "index", t.TempDir())
	assert.Error(t, err)
}

func TestVerboseFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var level string
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.Commands[4].Action = func(c *cli.Context) error {
		level = configFrom(c).Log.Level
		return nil
	}
	require.NoError(t, app.Run([]string{"linedb", "--log-file", "", "--verbose", "version"}))
	assert.Equal(t, "debug", level)
}

func TestVersionFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runApp(t, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}
