package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/standardbeagle/linedb/internal/debug"
	lerrors "github.com/standardbeagle/linedb/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setSmartDefaults(cfg)

	if field, value, err := v.validateServerConfig(&cfg.Server); err != nil {
		return lerrors.NewConfigError("server."+field, value, err)
	}

	if field, value, err := v.validateIndexConfig(&cfg.Index); err != nil {
		return lerrors.NewConfigError("index."+field, value, err)
	}

	if _, err := debug.ParseLevel(cfg.Log.Level); err != nil {
		return lerrors.NewConfigError("log.level", cfg.Log.Level, err)
	}

	return nil
}

// validateServerConfig validates server configuration
func (v *Validator) validateServerConfig(server *Server) (string, string, error) {
	_, port, err := net.SplitHostPort(server.Addr)
	if err != nil {
		return "addr", server.Addr, err
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return "addr", server.Addr, fmt.Errorf("invalid port %q", port)
	}

	if server.PollIntervalMs <= 0 {
		return "poll_interval_ms", strconv.Itoa(server.PollIntervalMs),
			fmt.Errorf("must be positive, got %d", server.PollIntervalMs)
	}

	if server.MaxRequestsPerSecond < 0 {
		return "max_requests_per_second", fmt.Sprint(server.MaxRequestsPerSecond),
			errors.New("cannot be negative")
	}

	if server.Burst < 1 {
		return "burst", strconv.Itoa(server.Burst), fmt.Errorf("must be at least 1, got %d", server.Burst)
	}

	return "", "", nil
}

// validateIndexConfig validates index configuration
func (v *Validator) validateIndexConfig(index *Index) (string, string, error) {
	if index.Suffix == "" {
		return "suffix", "", errors.New("cache suffix cannot be empty")
	}
	return "", "", nil
}

// setSmartDefaults fills zero values left by partial config files
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}
