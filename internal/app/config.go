package app

import (
	"io"
	"os"

	"integrate/internal/config"
)

// Config holds the command line settings the application is started with.
type Config struct {
	Debug bool
	Quiet bool

	// ConfigPath is the directory holding config.yaml.
	ConfigPath string

	// ServerURL overrides serverUrl from config.yaml when set.
	ServerURL string

	// ServeAddr overrides serve.addr when set.
	ServeAddr string

	// LogOutput receives log lines; stderr when nil.
	LogOutput io.Writer

	// Getenv resolves provider credentials; os.Getenv when nil.
	Getenv func(string) string

	// OpenURL opens authorization pages; the system browser when nil.
	OpenURL func(rawURL string) error

	// Settings is filled during bootstrap.
	Settings *config.Config
}

// NewConfig creates an application configuration.
func NewConfig(debug, quiet bool, configPath, serverURL string) *Config {
	return &Config{
		Debug:      debug,
		Quiet:      quiet,
		ConfigPath: configPath,
		ServerURL:  serverURL,
	}
}

func (c *Config) logOutput() io.Writer {
	if c.LogOutput != nil {
		return c.LogOutput
	}
	return os.Stderr
}

func (c *Config) getenv(key string) string {
	if c.Getenv != nil {
		return c.Getenv(key)
	}
	return os.Getenv(key)
}
