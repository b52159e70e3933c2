package config

import "time"

// Config is the top-level configuration structure for integrate.
type Config struct {
	// ServerURL is the JSON-RPC endpoint tool calls are sent to.
	ServerURL string `yaml:"serverUrl,omitempty" env:"INTEGRATE_SERVER_URL"`
	// APIKey is sent as X-API-KEY on tool calls and route requests.
	APIKey string `yaml:"apiKey,omitempty" env:"INTEGRATE_API_KEY"`
	// OAuthAPIBase is the base URL of the server-side OAuth routes. When
	// empty, the client exchanges codes with the provider directly.
	OAuthAPIBase string `yaml:"oauthApiBase,omitempty" env:"INTEGRATE_OAUTH_API_BASE"`

	LogLevel string `yaml:"logLevel,omitempty" env:"INTEGRATE_LOG_LEVEL"`

	// Streaming keeps a server-sent event stream open for responses and
	// notifications instead of reading them from each POST.
	Streaming bool          `yaml:"streaming,omitempty" env:"INTEGRATE_STREAMING"`
	Timeout   time.Duration `yaml:"timeout,omitempty" env:"INTEGRATE_TIMEOUT"`

	TokenStore TokenStoreConfig `yaml:"tokenStore"`
	OAuth      OAuthSettings    `yaml:"oauth"`
	Serve      ServeConfig      `yaml:"serve"`

	// Providers override or extend the built-in registry, keyed by provider id.
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// Token store backends.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
	TokenStoreMemory  = "memory"
	TokenStoreRedis   = "redis"
)

// TokenStoreConfig selects where provider tokens are persisted.
type TokenStoreConfig struct {
	Type string `yaml:"type,omitempty" env:"INTEGRATE_TOKEN_STORE"`

	// Dir is the FileStore directory (default: <config dir>/tokens).
	Dir string `yaml:"dir,omitempty" env:"INTEGRATE_TOKEN_DIR"`

	// KeyringService is the OS keychain service name.
	KeyringService string `yaml:"keyringService,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis token store.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty" env:"INTEGRATE_REDIS_ADDR"`
	Password  string `yaml:"password,omitempty" env:"INTEGRATE_REDIS_PASSWORD"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// OAuthSettings tune the client-side authorization flow.
type OAuthSettings struct {
	// CallbackPort is the loopback port of the redirect_uri the CLI listens on.
	CallbackPort int    `yaml:"callbackPort,omitempty" env:"INTEGRATE_CALLBACK_PORT"`
	CallbackPath string `yaml:"callbackPath,omitempty"`

	// CallbackTimeout bounds how long the browser window may take.
	CallbackTimeout time.Duration `yaml:"callbackTimeout,omitempty"`
	// PendingTTL bounds the lifetime of an unfinished authorization.
	PendingTTL time.Duration `yaml:"pendingTtl,omitempty"`
	// ExpiryMargin refreshes tokens this long before they expire.
	ExpiryMargin time.Duration `yaml:"expiryMargin,omitempty"`

	// Mode is "popup" (loopback callback server) or "redirect" (the browser
	// lands on redirect_uri and the address is pasted back to the CLI).
	Mode string `yaml:"mode,omitempty" env:"INTEGRATE_OAUTH_MODE"`
	// ErrorBehavior handles provider errors in redirect mode: silent,
	// console or redirect (opens ErrorURL).
	ErrorBehavior string `yaml:"errorBehavior,omitempty"`
	ErrorURL      string `yaml:"errorUrl,omitempty"`

	// Email selects the account tokens are stored under.
	Email string `yaml:"email,omitempty" env:"INTEGRATE_ACCOUNT"`
}

// ServeConfig configures `integrate serve`, the OAuth route server.
type ServeConfig struct {
	Addr     string        `yaml:"addr,omitempty" env:"INTEGRATE_SERVE_ADDR"`
	BasePath string        `yaml:"basePath,omitempty"`
	StateTTL time.Duration `yaml:"stateTtl,omitempty"`

	// AllowEnvTokens lets PROVIDER_TOKENS answer for every request. Only
	// for single-user deployments.
	AllowEnvTokens bool `yaml:"allowEnvTokens,omitempty" env:"INTEGRATE_ALLOW_ENV_TOKENS"`
}

// ProviderConfig is one provider entry in config.yaml. Empty fields fall
// back to the built-in registry.
type ProviderConfig struct {
	ClientID     string            `yaml:"clientId,omitempty"`
	ClientSecret string            `yaml:"clientSecret,omitempty"`
	Scopes       []string          `yaml:"scopes,omitempty"`
	AuthURL      string            `yaml:"authUrl,omitempty"`
	TokenURL     string            `yaml:"tokenUrl,omitempty"`
	UserInfoURL  string            `yaml:"userInfoUrl,omitempty"`
	RevokeURL    string            `yaml:"revokeUrl,omitempty"`
	Extra        map[string]string `yaml:"extra,omitempty"`
}
