// Package config loads run configurations for the simulator.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// CoreFile and DemographicFile are the file names expected inside a
// configuration directory.
const (
	CoreFile        = "core.json"
	DemographicFile = "demographic.csv"
)

// ErrNotFound indicates the requested configuration file does not exist.
var ErrNotFound = errors.New("configuration not found")

// Load builds a config from the defaults, the JSON file at path (skipped
// when path is empty) and EPISIM_* environment overrides, in that order.
// The result is validated.
func Load(path string) (model.Config, error) {
	cfg := model.Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return model.Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return model.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return model.Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return model.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// LoadDir loads the core configuration stored in dir/core.json.
func LoadDir(dir string) (model.Config, error) {
	return Load(filepath.Join(dir, CoreFile))
}

// ParseEnv applies environment overrides to target. Fields without a
// matching variable keep their current value.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg as indented JSON to path, creating parent directories.
func Save(path string, cfg model.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
