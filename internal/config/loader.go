package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"integrate/pkg/logging"
)

const (
	userConfigDir  = ".config/integrate"
	configFileName = "config.yaml"
)

// DefaultDir returns ~/.config/integrate.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads config.yaml from configPath, fills unset fields with defaults
// and applies environment overrides. A missing file yields the defaults.
func Load(configPath string) (Config, error) {
	var cfg Config

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, &ConfigurationError{FilePath: configFilePath, ErrorType: "io", Message: err.Error()}
	default:
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, newParseError(configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	// Only zero fields are filled; file values win.
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.TokenStore.Dir == "" {
		cfg.TokenStore.Dir = filepath.Join(configPath, "tokens")
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(data) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, cfg)
}

// ParseEnv overlays INTEGRATE_* environment variables onto cfg. Unset
// variables leave their field untouched.
func ParseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
