package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// Config is the OAuth registration of one provider. It is copied when handed
// to a Manager and never mutated afterwards.
type Config struct {
	// Provider is the provider id ("github", "gmail", ...).
	Provider string `yaml:"provider" json:"provider"`

	ClientID string `yaml:"clientId" json:"clientId"`

	// ClientSecret is only set in server-side deployments.
	ClientSecret string `yaml:"clientSecret,omitempty" json:"-"`

	Scopes      []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	RedirectURI string   `yaml:"redirectUri,omitempty" json:"redirectUri,omitempty"`

	// AuthURL and TokenURL are the provider's authorization and token endpoints.
	AuthURL  string `yaml:"authUrl,omitempty" json:"authUrl,omitempty"`
	TokenURL string `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`

	// Extra holds provider-specific authorization parameters
	// (for example access_type=offline for Google).
	Extra map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	out := c
	if c.Scopes != nil {
		out.Scopes = append([]string(nil), c.Scopes...)
	}
	if c.Extra != nil {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// OAuth2Config converts the registration to a golang.org/x/oauth2 config.
func (c Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       append([]string(nil), c.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}
}

// ProviderTokenData is the credential persisted per (provider, email).
// It is exactly what the token stores serialize.
type ProviderTokenData struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Email        string    `json:"email,omitempty"`
}

// StampExpiry derives ExpiresAt from ExpiresIn when it is not already set.
func (t *ProviderTokenData) StampExpiry(now time.Time) {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// IsExpired reports whether the token is expired or will be within margin.
// Tokens without an expiry never expire.
func (t *ProviderTokenData) IsExpired(now time.Time, margin time.Duration) bool {
	if t == nil {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(margin).After(t.ExpiresAt)
}

// ToOAuth2Token converts the stored credential to an oauth2.Token.
func (t *ProviderTokenData) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
		ExpiresIn:    t.ExpiresIn,
	}
}

// TokenDataFromOAuth2 converts a token endpoint response. Granted scopes and
// the email claim of an OIDC id_token are picked up from the extra fields.
func TokenDataFromOAuth2(tok *oauth2.Token) *ProviderTokenData {
	data := &ProviderTokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresIn:    tok.ExpiresIn,
		ExpiresAt:    tok.Expiry,
	}

	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		// GitHub separates with commas, everyone else with spaces.
		data.Scopes = strings.FieldsFunc(scope, func(r rune) bool { return r == ' ' || r == ',' })
	}

	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		data.Email = EmailFromIDToken(idToken)
	}

	return data
}

// EmailFromIDToken extracts the email claim from an id_token without
// verifying its signature. The value is only used to key storage, never for
// an authorization decision.
func EmailFromIDToken(idToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}

// AuthState is the derived, never persisted, authentication status of a provider.
type AuthState struct {
	Provider      string    `json:"provider"`
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
}

// ReauthContext is handed to the host's re-authentication handler when a tool
// call fails with an AuthenticationError.
type ReauthContext struct {
	Provider string
	Err      error
	ToolName string
}

// TenantContext identifies the end user a token belongs to in multi-tenant
// server deployments. Single-user stores ignore it.
type TenantContext struct {
	UserID         string            `json:"userId,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether no tenant information is set.
func (c TenantContext) IsZero() bool {
	return c.UserID == "" && c.OrganizationID == "" && len(c.Extra) == 0
}

// TokenStore is the persistence boundary for provider credentials.
// Get returns (nil, nil) when nothing is stored. Set with nil data deletes.
// Implementations live in pkg/tokenstore.
type TokenStore interface {
	Get(ctx context.Context, provider, email string, tenant TenantContext) (*ProviderTokenData, error)
	Set(ctx context.Context, provider string, data *ProviderTokenData, email string, tenant TenantContext) error
}

// TokenRemover is implemented by stores with a dedicated delete operation.
type TokenRemover interface {
	Remove(ctx context.Context, provider, email string, tenant TenantContext) error
}

// RemoveToken deletes a credential, falling back to Set(nil) for stores that
// do not implement TokenRemover.
func RemoveToken(ctx context.Context, store TokenStore, provider, email string, tenant TenantContext) error {
	if r, ok := store.(TokenRemover); ok {
		return r.Remove(ctx, provider, email, tenant)
	}
	return store.Set(ctx, provider, nil, email, tenant)
}

// Clock abstracts time for expiry handling.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
