package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"integrate/internal/config"
	"integrate/pkg/client"
	"integrate/pkg/events"
	"integrate/pkg/logging"
	"integrate/pkg/oauth"
	"integrate/pkg/oauth/window"
	"integrate/pkg/tokenstore"
)

// ErrNoServerURL is returned by Services.Client when no tool server is
// configured.
var ErrNoServerURL = errors.New("no tool server configured: set serverUrl in config.yaml, INTEGRATE_SERVER_URL or --server")

// Services holds the components a command works with.
//
// They are initialized in dependency order: the token store, the window
// manager and exchanger, the OAuth manager, and finally the tool client,
// which shares the manager and the event bus.
type Services struct {
	Events  *events.Bus
	Store   oauth.TokenStore
	Windows *window.Manager
	Manager *oauth.Manager

	client  *client.Client
	closers []func() error
}

// InitializeServices builds the services from cfg.Settings.
func InitializeServices(cfg *Config) (*Services, error) {
	settings := *cfg.Settings
	s := &Services{Events: events.NewBus()}

	store, err := s.buildTokenStore(settings.TokenStore)
	if err != nil {
		return nil, err
	}
	s.Store = store

	routeMode := settings.OAuthAPIBase != ""
	configs := settings.OAuthConfigs(!routeMode, cfg.getenv)

	s.Windows = window.NewManager(window.Options{
		Mode:          window.Mode(settings.OAuth.Mode),
		Opener:        &window.BrowserOpener{OpenURL: cfg.OpenURL, Timeout: settings.OAuth.CallbackTimeout},
		Navigator:     &window.BrowserNavigator{OpenURL: cfg.OpenURL},
		ErrorBehavior: window.ErrorBehavior(settings.OAuth.ErrorBehavior),
		ErrorURL:      settings.OAuth.ErrorURL,
	})
	s.closers = append(s.closers, func() error { s.Windows.Close(); return nil })

	mopts := oauth.ManagerOptions{
		Configs:      configs,
		Store:        store,
		Windows:      s.Windows,
		Exchanger:    buildExchanger(settings),
		Events:       s.Events,
		Email:        settings.OAuth.Email,
		PendingTTL:   settings.OAuth.PendingTTL,
		ExpiryMargin: settings.OAuth.ExpiryMargin,
	}
	if routeMode {
		// The routes have no refresh endpoint; public clients refresh
		// against the provider.
		mopts.Refresher = &oauth.DirectExchanger{}
	}
	s.Manager, err = oauth.NewManager(mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth manager: %w", err)
	}

	if settings.ServerURL != "" {
		s.client, err = client.New(client.Options{
			ServerURL: settings.ServerURL,
			APIKey:    settings.APIKey,
			Timeout:   settings.Timeout,
			Streaming: settings.Streaming,
			Manager:   s.Manager,
			Events:    s.Events,
			ReauthHandler: func(ctx context.Context, rc oauth.ReauthContext) (bool, error) {
				if cfg.Quiet {
					return false, nil
				}
				logging.Warn("Reauth", "Tool %s needs %s authorization, opening browser", rc.ToolName, rc.Provider)
				_, err := s.Manager.Authorize(ctx, rc.Provider)
				return err == nil, err
			},
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.client.Close)
	}

	return s, nil
}

// Client returns the tool client, or ErrNoServerURL.
func (s *Services) Client() (*client.Client, error) {
	if s.client == nil {
		return nil, ErrNoServerURL
	}
	return s.client, nil
}

// CompleteRedirect finishes a redirect-mode authorization from the URL the
// browser landed on after the provider redirected back.
func (s *Services) CompleteRedirect(ctx context.Context, rawURL string) (*oauth.ProviderTokenData, error) {
	res, err := s.Windows.ConsumeRedirect(rawURL)
	if err != nil {
		return nil, err
	}
	return s.Manager.HandleCallback(ctx, res.Code, res.State)
}

// Close releases the services in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Services) buildTokenStore(cfg config.TokenStoreConfig) (oauth.TokenStore, error) {
	switch cfg.Type {
	case config.TokenStoreMemory:
		return tokenstore.NewMemoryStore(), nil
	case config.TokenStoreKeyring:
		if tokenstore.Available(cfg.KeyringService) {
			return tokenstore.NewKeyringStore(cfg.KeyringService), nil
		}
		logging.Warn("Bootstrap", "OS keychain unavailable, storing tokens in %s", cfg.Dir)
		return tokenstore.NewFileStore(cfg.Dir)
	case config.TokenStoreRedis:
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, rdb.Close)
		return tokenstore.NewRedisStore(rdb, cfg.Redis.KeyPrefix), nil
	default:
		return tokenstore.NewFileStore(cfg.Dir)
	}
}

func buildExchanger(settings config.Config) oauth.Exchanger {
	if settings.OAuthAPIBase == "" {
		return &oauth.DirectExchanger{}
	}
	return &oauth.RouteExchanger{BaseURL: settings.OAuthAPIBase, APIKey: settings.APIKey}
}
