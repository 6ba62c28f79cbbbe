// Package config loads the SQL capture settings.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gomigrator/internal/capture"
)

var DefaultDirectory = filepath.Join("db", "migration_sql")

// Capture is the process-wide capture configuration. Environment variables
// take precedence over the file.
type Capture struct {
	Enabled      bool   `yaml:"enabled" env:"CAPTURE_SQL_ENABLED"`
	Directory    string `yaml:"directory" env:"CAPTURE_SQL_DIR"`
	StartingWith int64  `yaml:"starting_with" env:"CAPTURE_SQL_STARTING_WITH"`
}

// Load reads the optional YAML file at path and then the environment.
// Malformed values and unknown keys are reported here rather than at first use.
func Load(path string) (Capture, error) {
	cfg := Capture{Directory: DefaultDirectory}
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Capture{}, errors.Wrapf(err, "read capture config %s", path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return Capture{}, errors.Wrapf(err, "parse capture config %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Capture{}, errors.Wrap(err, "parse capture environment")
	}
	if cfg.StartingWith < 0 {
		return Capture{}, errors.Errorf("capture starting_with must not be negative, got %d", cfg.StartingWith)
	}
	if cfg.Directory == "" {
		cfg.Directory = DefaultDirectory
	}
	return cfg, nil
}

// Interceptor returns the interceptor settings, or nil when capture is off.
func (c Capture) Interceptor() *capture.Config {
	if !c.Enabled {
		return nil
	}
	return &capture.Config{
		Directory:    c.Directory,
		StartingWith: c.StartingWith,
	}
}
