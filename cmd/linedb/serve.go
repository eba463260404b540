package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/linedb/internal/config"
	"github.com/standardbeagle/linedb/internal/database"
	"github.com/standardbeagle/linedb/internal/debug"
	"github.com/standardbeagle/linedb/internal/index"
	"github.com/standardbeagle/linedb/internal/security"
	"github.com/standardbeagle/linedb/internal/server"
)

var errMissingDataFile = errors.New("missing <data-file> argument")

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Listen address (overrides config)",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Listen port on all interfaces (overrides config)",
		},
		&cli.BoolFlag{
			Name:  "no-persist",
			Usage: "Neither read nor write the sidecar index",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Warn when the data file changes while serving",
		},
	}
}

// applyServeOverrides folds serve flags into the loaded config
func applyServeOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("port") {
		cfg.Server.Addr = fmt.Sprintf(":%d", c.Int("port"))
	}
	if c.Bool("no-persist") {
		cfg.Index.Persist = false
	}
	if c.Bool("watch") {
		cfg.Index.WatchDataFile = true
	}
}

// checkDataFile refuses anything that is not a regular file and warns when
// the file looks binary, since lines in binary data are rarely meaningful.
func checkDataFile(dataPath string) error {
	err := security.NewFileValidator().ValidateDataFile(dataPath)
	if errors.Is(err, security.ErrBinaryData) {
		debug.Warn(debug.ComponentCLI, "%v", err)
		return nil
	}
	return err
}

// openDatabase loads or builds the index the way the config says
func openDatabase(cfg *config.Config, dataPath string) (*database.Database, error) {
	if err := checkDataFile(dataPath); err != nil {
		return nil, err
	}
	return database.Open(dataPath, cfg.CachePath(dataPath), cfg.Index.Persist,
		index.WithValidation(cfg.Index.ValidateCache))
}

// serveCommand indexes the data file and serves it until shutdown
func serveCommand(c *cli.Context) error {
	dataPath := c.Args().First()
	if dataPath == "" {
		return errMissingDataFile
	}

	cfg := configFrom(c)
	applyServeOverrides(c, cfg)

	if c.Bool("diagnostics") {
		// Start gops agent for debugging
		if err := agent.Listen(agent.Options{}); err != nil {
			debug.Warn(debug.ComponentCLI, "gops agent failed: %v", err)
		} else {
			defer agent.Close()
		}
	}

	db, err := openDatabase(cfg, dataPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dataPath, err)
	}
	debug.LogServer("Database %s ready with %d lines", dataPath, db.Lines())

	srv := server.New(db,
		server.WithAddr(cfg.Server.Addr),
		server.WithPollInterval(cfg.PollInterval()),
		server.WithRateLimit(cfg.Server.MaxRequestsPerSecond, cfg.Server.Burst),
		server.WithDataFileWatch(cfg.Index.WatchDataFile),
	)
	if err := srv.Listen(); err != nil {
		return err
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			debug.LogServer("Received signal %v, shutting down", sig)
			if err := srv.RequestShutdown(); err != nil {
				debug.Warn(debug.ComponentServer, "%v", err)
			}
		case <-srv.Done():
		}
	}()

	return srv.Serve(context.Background())
}
