package config

import (
	"time"

	"integrate/pkg/oauth/window"
	"integrate/pkg/tokenstore"
)

const (
	// DefaultCallbackPort is the loopback port of the CLI redirect_uri.
	DefaultCallbackPort = 8976

	// DefaultOAuthBasePath is where `integrate serve` mounts the OAuth routes.
	DefaultOAuthBasePath = "/api/v1/oauth"

	DefaultServeAddr = "127.0.0.1:8080"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Timeout:  30 * time.Second,
		TokenStore: TokenStoreConfig{
			Type:           TokenStoreFile,
			KeyringService: tokenstore.DefaultKeyringService,
			Redis: RedisConfig{
				KeyPrefix: tokenstore.DefaultRedisKeyPrefix,
			},
		},
		OAuth: OAuthSettings{
			Mode:            string(window.ModePopup),
			ErrorBehavior:   string(window.ErrorConsole),
			CallbackPort:    DefaultCallbackPort,
			CallbackPath:    window.DefaultCallbackPath,
			CallbackTimeout: window.CallbackTimeout,
			PendingTTL:      10 * time.Minute,
			ExpiryMargin:    time.Minute,
		},
		Serve: ServeConfig{
			Addr:     DefaultServeAddr,
			BasePath: DefaultOAuthBasePath,
			StateTTL: 10 * time.Minute,
		},
	}
}
