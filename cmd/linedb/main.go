package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/standardbeagle/linedb/internal/config"
	"github.com/standardbeagle/linedb/internal/debug"
	"github.com/standardbeagle/linedb/internal/server"
	"github.com/standardbeagle/linedb/internal/version"

	"github.com/urfave/cli/v2"
)

const configKey = "config"

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath := c.String("config"); configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadWithRoot(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// Apply CLI flag overrides
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}

	return cfg, config.ValidateConfig(cfg)
}

// configFrom returns the configuration loaded in Before
func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// mirrorsLog reports whether a command writes the log file as well as stderr.
// Short-lived client commands only log to stderr.
func mirrorsLog(command string) bool {
	switch command {
	case "", "get", "shutdown", "version", "help", "h":
		return false
	default:
		return true
	}
}

// clientAddr picks the address client commands dial
func clientAddr(c *cli.Context, cfg *config.Config) string {
	if addr := c.String("addr"); addr != "" {
		return addr
	}
	host, port, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(server.DefaultPort))
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "linedb",
		Usage:   "Serve the lines of an immutable text file over TCP",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (.kdl or .toml); defaults to ./" + config.KDLFileName + " or ./" + config.TOMLFileName,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Mirror log output to this file (empty disables)",
			},
			&cli.BoolFlag{
				Name:   "diagnostics",
				Usage:  "Start a gops agent while serving",
				Hidden: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "Index a data file and serve its lines",
				ArgsUsage: "<data-file>",
				Flags:     serveFlags(),
				Action:    serveCommand,
			},
			{
				Name:      "index",
				Usage:     "Build the sidecar index for a data file without serving",
				ArgsUsage: "<data-file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Check the saved index against the data file contents",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Rebuild even if a saved index exists",
					},
				},
				Action: indexCommand,
			},
			{
				Name:      "get",
				Usage:     "Fetch one line from a running server",
				ArgsUsage: "<line>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Aliases: []string{"a"},
						Usage:   "Server address (host:port)",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "I/O timeout",
						Value: clientTimeout,
					},
				},
				Action: getCommand,
			},
			{
				Name:  "shutdown",
				Usage: "Ask a running server to shut down gracefully",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Aliases: []string{"a"},
						Usage:   "Server address (host:port)",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "I/O timeout",
						Value: clientTimeout,
					},
				},
				Action: shutdownCommand,
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.FullInfo())
					return nil
				},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfigWithOverrides(c)
			if err != nil {
				return err
			}
			c.App.Metadata[configKey] = cfg

			opts := debug.Options{Level: cfg.Log.Level}
			if mirrorsLog(c.Args().First()) {
				opts.File = cfg.Log.File
			}
			return debug.Setup(opts)
		},
		After: func(c *cli.Context) error {
			return debug.Close()
		},
		// A bare data file argument serves it, like "linedb serve <data-file>"
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return serveCommand(c)
			}
			return cli.ShowAppHelp(c)
		},
		Metadata: map[string]interface{}{},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
