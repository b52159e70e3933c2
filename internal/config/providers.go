package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"integrate/pkg/oauth"
)

// ProviderDefinition is a built-in provider registration.
type ProviderDefinition struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string
	Scopes      []string
	Extra       map[string]string
}

// KnownProviders is the built-in provider registry.
var KnownProviders = map[string]ProviderDefinition{
	"github": {
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		Scopes:      []string{"repo", "read:user"},
	},
	"gmail": {
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		RevokeURL:   "https://oauth2.googleapis.com/revoke",
		Scopes: []string{
			"openid",
			"email",
			"https://www.googleapis.com/auth/gmail.modify",
		},
		// Google only issues refresh tokens with offline access.
		Extra: map[string]string{"access_type": "offline", "prompt": "consent"},
	},
	"slack": {
		AuthURL:  "https://slack.com/oauth/v2/authorize",
		TokenURL: "https://slack.com/api/oauth.v2.access",
		Scopes:   []string{"channels:read", "chat:write", "users:read"},
	},
	"notion": {
		AuthURL:  "https://api.notion.com/v1/oauth/authorize",
		TokenURL: "https://api.notion.com/v1/oauth/token",
		Extra:    map[string]string{"owner": "user"},
	},
	"linear": {
		AuthURL:   "https://linear.app/oauth/authorize",
		TokenURL:  "https://api.linear.app/oauth/token",
		RevokeURL: "https://api.linear.app/oauth/revoke",
		Scopes:    []string{"read", "write"},
	},
}

// UnknownProviderError is returned for a provider that is neither built in
// nor configured.
type UnknownProviderError struct {
	Provider string
	Known    []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Provider)
}

// ProviderCredentialsFromEnv reads {PROVIDER}_CLIENT_ID and
// {PROVIDER}_CLIENT_SECRET. getenv defaults to os.Getenv.
func ProviderCredentialsFromEnv(provider string, getenv func(string) string) (clientID, clientSecret string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	prefix := envPrefix(provider)
	return getenv(prefix + "_CLIENT_ID"), getenv(prefix + "_CLIENT_SECRET")
}

// envPrefix upper-cases provider and maps anything that is not a letter or
// digit to an underscore ("google-drive" -> "GOOGLE_DRIVE").
func envPrefix(provider string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, provider)
}

// ProviderNames lists built-in and configured providers, sorted.
func (c Config) ProviderNames() []string {
	names := slices.Collect(maps.Keys(KnownProviders))
	for name := range c.Providers {
		if _, ok := KnownProviders[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Provider resolves the effective definition of one provider: built-in
// values overlaid with config.yaml, then credentials from the environment.
func (c Config) Provider(name string, getenv func(string) string) (ProviderConfig, error) {
	def, known := KnownProviders[name]
	override, configured := c.Providers[name]
	if !known && !configured {
		return ProviderConfig{}, &UnknownProviderError{Provider: name, Known: c.ProviderNames()}
	}

	p := ProviderConfig{
		AuthURL:     def.AuthURL,
		TokenURL:    def.TokenURL,
		UserInfoURL: def.UserInfoURL,
		RevokeURL:   def.RevokeURL,
		Scopes:      slices.Clone(def.Scopes),
		Extra:       maps.Clone(def.Extra),
	}
	if configured {
		p.ClientID = override.ClientID
		p.ClientSecret = override.ClientSecret
		p.AuthURL = orDefault(override.AuthURL, p.AuthURL)
		p.TokenURL = orDefault(override.TokenURL, p.TokenURL)
		p.UserInfoURL = orDefault(override.UserInfoURL, p.UserInfoURL)
		p.RevokeURL = orDefault(override.RevokeURL, p.RevokeURL)
		if len(override.Scopes) > 0 {
			p.Scopes = slices.Clone(override.Scopes)
		}
		if len(override.Extra) > 0 {
			if p.Extra == nil {
				p.Extra = make(map[string]string, len(override.Extra))
			}
			maps.Copy(p.Extra, override.Extra)
		}
	}

	envID, envSecret := ProviderCredentialsFromEnv(name, getenv)
	p.ClientID = orDefault(p.ClientID, envID)
	p.ClientSecret = orDefault(p.ClientSecret, envSecret)
	return p, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// RedirectURI is the loopback redirect_uri the CLI registers with providers.
func (c Config) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.OAuth.CallbackPort, c.OAuth.CallbackPath)
}

// OAuthConfig builds the oauth.Config of one provider. withSecret controls
// whether the client secret is carried; clients that delegate to the
// server-side routes must not hold it.
func (c Config) OAuthConfig(name string, withSecret bool, getenv func(string) string) (oauth.Config, error) {
	p, err := c.Provider(name, getenv)
	if err != nil {
		return oauth.Config{}, err
	}
	cfg := oauth.Config{
		Provider:    name,
		ClientID:    p.ClientID,
		Scopes:      p.Scopes,
		RedirectURI: c.RedirectURI(),
		AuthURL:     p.AuthURL,
		TokenURL:    p.TokenURL,
		Extra:       p.Extra,
	}
	if withSecret {
		cfg.ClientSecret = p.ClientSecret
	}
	return cfg, nil
}

// OAuthConfigs returns the oauth.Config of every provider that has a
// client id. Providers without one are skipped.
func (c Config) OAuthConfigs(withSecret bool, getenv func(string) string) []oauth.Config {
	var out []oauth.Config
	for _, name := range c.ProviderNames() {
		cfg, err := c.OAuthConfig(name, withSecret, getenv)
		if err != nil || cfg.ClientID == "" {
			continue
		}
		out = append(out, cfg)
	}
	return out
}
