package config

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// applyTOML decodes a TOML document over cfg. Keys that are absent keep
// their current values; unknown keys are rejected.
func applyTOML(cfg *Config, content []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return nil
}
