package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config file names searched for, in order
const (
	KDLFileName  = ".linedb.kdl"
	TOMLFileName = ".linedb.toml"
)

// Defaults shared with the rest of the process
const (
	DefaultAddr           = ":10497"
	DefaultPollIntervalMs = 100
	DefaultIndexSuffix    = ".index"
	DefaultLogLevel       = "info"
	DefaultLogFile        = "output.log"
)

type Config struct {
	Version int    `toml:"version"`
	Server  Server `toml:"server"`
	Index   Index  `toml:"index"`
	Log     Log    `toml:"log"`
	// Source is the file the configuration was read from, empty for defaults
	Source string `toml:"-"`
}

type Server struct {
	Addr                 string  `toml:"addr"`
	PollIntervalMs       int     `toml:"poll_interval_ms"`
	MaxRequestsPerSecond float64 `toml:"max_requests_per_second"` // 0 disables the limit
	Burst                int     `toml:"burst"`
}

type Index struct {
	Persist       bool   `toml:"persist"`        // read and write the sidecar cache
	Suffix        string `toml:"suffix"`         // appended to the data path to name the cache
	ValidateCache bool   `toml:"validate_cache"` // rebuild when the data file no longer matches the cache
	WatchDataFile bool   `toml:"watch_data_file"`
}

type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"` // empty disables the mirror file
}

// Default returns the configuration used when no file is found
func Default() *Config {
	return &Config{
		Version: 1,
		Server: Server{
			Addr:           DefaultAddr,
			PollIntervalMs: DefaultPollIntervalMs,
			Burst:          1,
		},
		Index: Index{
			Persist:       true,
			Suffix:        DefaultIndexSuffix,
			ValidateCache: true,
		},
		Log: Log{
			Level: DefaultLogLevel,
			File:  DefaultLogFile,
		},
	}
}

// PollInterval returns the accept loop deadline
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Server.PollIntervalMs) * time.Millisecond
}

// CachePath derives the sidecar cache path for a data file
func (c *Config) CachePath(dataPath string) string {
	return dataPath + c.Index.Suffix
}

// Load reads an explicit config file, choosing the format by extension
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, ValidateConfig(cfg)
}

// LoadWithRoot layers the user's global config under the one found in rootDir.
// Either may be absent; with neither, defaults apply.
func LoadWithRoot(rootDir string) (*Config, error) {
	if rootDir == "" {
		rootDir = "."
	}

	cfg := Default()

	// Step 1: global base config from the home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		if err := applyDir(cfg, homeDir); err != nil {
			return nil, err
		}
	}

	// Step 2: project config overrides whatever the base set
	if absRoot, err := filepath.Abs(rootDir); err == nil {
		rootDir = absRoot
	}
	if err := applyDir(cfg, rootDir); err != nil {
		return nil, err
	}

	return cfg, ValidateConfig(cfg)
}

// applyDir applies the first config file found in dir
func applyDir(cfg *Config, dir string) error {
	for _, name := range []string{KDLFileName, TOMLFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return applyFile(cfg, path)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = applyTOML(cfg, content)
	case ".kdl", "":
		err = applyKDL(cfg, string(content))
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	cfg.Source = path
	return nil
}
