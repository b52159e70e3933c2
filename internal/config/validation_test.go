package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "bad urls",
			mutate: func(c *Config) {
				c.ServerURL = "mcp.example.com"
				c.OAuthAPIBase = "ftp://example.com"
			},
			fields: []string{"serverUrl", "oauthApiBase"},
		},
		{
			name:   "unknown token store",
			mutate: func(c *Config) { c.TokenStore.Type = "s3" },
			fields: []string{"tokenStore.type"},
		},
		{
			name:   "redis without address",
			mutate: func(c *Config) { c.TokenStore.Type = TokenStoreRedis },
			fields: []string{"tokenStore.redis.addr"},
		},
		{
			name: "oauth and serve settings",
			mutate: func(c *Config) {
				c.OAuth.CallbackPort = 70000
				c.OAuth.CallbackPath = "callback"
				c.Serve.BasePath = "api"
				c.LogLevel = "loud"
			},
			fields: []string{"oauth.callbackPort", "oauth.callbackPath", "serve.basePath", "logLevel"},
		},
		{
			name: "unknown oauth mode and error behavior",
			mutate: func(c *Config) {
				c.OAuth.Mode = "tab"
				c.OAuth.ErrorBehavior = "panic"
			},
			fields: []string{"oauth.mode", "oauth.errorBehavior"},
		},
		{
			name: "redirect error behavior without url",
			mutate: func(c *Config) {
				c.OAuth.Mode = "redirect"
				c.OAuth.ErrorBehavior = "redirect"
			},
			fields: []string{"oauth.errorUrl"},
		},
		{
			name: "redirect mode with error page",
			mutate: func(c *Config) {
				c.OAuth.Mode = "redirect"
				c.OAuth.ErrorBehavior = "redirect"
				c.OAuth.ErrorURL = "https://app.example.com/oauth-error"
			},
		},
		{
			name: "custom provider without endpoints",
			mutate: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"acme": {ClientID: "x"}, "github": {}}
			},
			fields: []string{"providers.acme"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var errs ValidationErrors
			require.True(t, errors.As(err, &errs))
			var got []string
			for _, e := range errs {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())
	errs.Add("a", "is wrong")
	assert.Equal(t, "field 'a': is wrong", errs.Error())
	errs.Add("", "general problem")
	assert.Equal(t, "validation failed: field 'a': is wrong; general problem", errs.Error())
}
