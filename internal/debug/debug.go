package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/linedb/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// TimeFormat is the timestamp layout used for every log line
const TimeFormat = "2006-01-02 15:04:05.000"

// Component names used across the process
const (
	ComponentIndex  = "INDEX"
	ComponentServer = "SERVER"
	ComponentConn   = "CONN"
	ComponentCLI    = "CLI"
)

// Options configures the process logger
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File mirrors every log line to this path when set.
	File string
	// Output replaces stderr, mostly for tests.
	Output io.Writer
}

var (
	// debugMutex protects logger and logFile
	debugMutex sync.Mutex
	logger     = newLogger(colorable.NewColorable(os.Stderr), !isatty.IsTerminal(os.Stderr.Fd()))
	logFile    *os.File
	level      = &slog.LevelVar{}

	// exit is swapped out by tests that exercise FatalAndExit
	exit = os.Exit
)

func init() {
	if IsDebugEnabled() {
		level.Set(slog.LevelDebug)
	}
}

func newLogger(w io.Writer, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: TimeFormat,
		NoColor:    noColor,
	}))
}

// IsDebugEnabled returns true if debug mode is enabled by build flag or environment
func IsDebugEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	return os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true"
}

// ParseLevel converts a textual level into a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Setup installs the process logger.
// Call Close when done to release the mirror file.
func Setup(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	if IsDebugEnabled() {
		lvl = slog.LevelDebug
	}

	var w io.Writer
	noColor := true
	if opts.Output != nil {
		w = opts.Output
	} else {
		w = colorable.NewColorable(os.Stderr)
		noColor = !isatty.IsTerminal(os.Stderr.Fd())
	}

	debugMutex.Lock()
	defer debugMutex.Unlock()

	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = file
		w = io.MultiWriter(w, file)
		// escape codes would end up in the file
		noColor = true
	}

	level.Set(lvl)
	logger = newLogger(w, noColor)
	slog.SetDefault(logger)
	return nil
}

// Close closes the mirror log file if one is open.
func Close() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// Logger returns the process logger
func Logger() *slog.Logger {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return logger
}

func emit(l slog.Level, component, format string, args ...interface{}) {
	Logger().Log(context.Background(), l, fmt.Sprintf(format, args...), "component", component)
}

// Log records an informational event for a component
func Log(component, format string, args ...interface{}) {
	emit(slog.LevelInfo, component, format, args...)
}

// Printf records a debug-level event for a component
func Printf(component, format string, args ...interface{}) {
	emit(slog.LevelDebug, component, format, args...)
}

// Warn records a recoverable problem
func Warn(component, format string, args ...interface{}) {
	emit(slog.LevelWarn, component, format, args...)
}

// Error records a failure
func Error(component, format string, args ...interface{}) {
	emit(slog.LevelError, component, format, args...)
}

// LogIndex provides logging specifically for index operations
func LogIndex(format string, args ...interface{}) {
	Log(ComponentIndex, format, args...)
}

// LogServer provides logging specifically for server lifecycle events
func LogServer(format string, args ...interface{}) {
	Log(ComponentServer, format, args...)
}

// LogConn provides logging specifically for per-connection events
func LogConn(format string, args ...interface{}) {
	Log(ComponentConn, format, args...)
}

// FatalAndExit logs a catastrophic error and exits with status 1.
// Only used where the process cannot continue in a consistent state.
func FatalAndExit(format string, args ...interface{}) {
	emit(slog.LevelError, "FATAL", format, args...)
	debugMutex.Lock()
	if logFile != nil {
		logFile.Sync()
	}
	debugMutex.Unlock()
	exit(1)
}
