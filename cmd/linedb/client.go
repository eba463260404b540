package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/linedb/internal/server"
)

const clientTimeout = 10 * time.Second

// getCommand fetches one line and prints it as stored, newline included
func getCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one <line> argument, got %d", c.NArg())
	}
	line, err := strconv.ParseUint(c.Args().First(), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid line number %q: %w", c.Args().First(), err)
	}

	addr := clientAddr(c, configFrom(c))
	content, err := server.Fetch(addr, uint32(line), c.Duration("timeout"))
	if err != nil {
		return fmt.Errorf("get %d from %s: %w", line, addr, err)
	}

	fmt.Fprint(c.App.Writer, content)
	return nil
}

// shutdownCommand sends a shutdown request to the running server
func shutdownCommand(c *cli.Context) error {
	addr := clientAddr(c, configFrom(c))
	if err := server.RequestRemoteShutdown(addr, c.Duration("timeout")); err != nil {
		return fmt.Errorf("shutdown %s: %w", addr, err)
	}
	fmt.Fprintf(c.App.Writer, "Shutdown requested for %s\n", addr)
	return nil
}
