package app

import (
	"context"
	"fmt"

	"integrate/internal/config"
	"integrate/pkg/logging"
)

// Application bootstraps integrate for one command invocation.
//
// Bootstrap runs in two phases: load configuration and initialize logging,
// then build the services the command needs. Commands reach the token store,
// the OAuth manager and the tool client through Services.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration and initializes services.
func NewApplication(cfg *Config) (*Application, error) {
	settings, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.ServerURL != "" {
		settings.ServerURL = cfg.ServerURL
	}
	if cfg.ServeAddr != "" {
		settings.Serve.Addr = cfg.ServeAddr
	}

	level := logging.ParseLevel(settings.LogLevel)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cfg.logOutput())

	if err := settings.Validate(); err != nil {
		logging.Error("Bootstrap", err, "Invalid configuration in %s", cfg.ConfigPath)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Settings = &settings
	logging.Debug("Bootstrap", "Loaded configuration from %s (token store: %s)", cfg.ConfigPath, settings.TokenStore.Type)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Settings returns the effective configuration.
func (a *Application) Settings() config.Config { return *a.config.Settings }

// Services returns the initialized services.
func (a *Application) Services() *Services { return a.services }

// Serve runs the OAuth route server until ctx is cancelled or a shutdown
// signal arrives.
func (a *Application) Serve(ctx context.Context) error {
	srv, err := NewRouteServer(*a.config.Settings, a.config.getenv)
	if err != nil {
		return err
	}
	return runUntilSignal(ctx, srv)
}

// Close releases the services.
func (a *Application) Close() error {
	return a.services.Close()
}
