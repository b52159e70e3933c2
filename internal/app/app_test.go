package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrate/internal/testing/mock"
	"integrate/pkg/oauth"
	"integrate/pkg/oauth/window"
	"integrate/pkg/tokenstore"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestConfig(t *testing.T, yaml string, env map[string]string) *Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	cfg := NewConfig(false, true, dir, "")
	cfg.LogOutput = io.Discard
	cfg.Getenv = func(k string) string { return env[k] }
	return cfg
}

func newTestApp(t *testing.T, cfg *Config) *Application {
	t.Helper()
	a, err := NewApplication(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewApplication_MemoryStore(t *testing.T) {
	cfg := newTestConfig(t, "serverUrl: http://127.0.0.1:1/rpc\ntokenStore:\n  type: memory\n",
		map[string]string{"GITHUB_CLIENT_ID": "gh-client"})
	a := newTestApp(t, cfg)

	assert.IsType(t, &tokenstore.MemoryStore{}, a.Services().Store)
	assert.Equal(t, []string{"github"}, a.Services().Manager.Providers())

	c, err := a.Services().Client()
	require.NoError(t, err)
	assert.Same(t, a.Services().Manager, c.Manager())
}

func TestNewApplication_ServerURLOverride(t *testing.T) {
	cfg := newTestConfig(t, "tokenStore:\n  type: memory\n", nil)
	cfg.ServerURL = "https://tools.example.com/rpc"
	a := newTestApp(t, cfg)
	assert.Equal(t, "https://tools.example.com/rpc", a.Settings().ServerURL)
}

func TestNewApplication_NoServerURL(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, "tokenStore:\n  type: memory\n", nil))
	_, err := a.Services().Client()
	assert.ErrorIs(t, err, ErrNoServerURL)
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	_, err := NewApplication(newTestConfig(t, "tokenStore:\n  type: s3\n", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenStore.type")
}

func TestNewApplication_FileStoreDefault(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, "", nil))
	fs, ok := a.Services().Store.(*tokenstore.FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(a.config.ConfigPath, "tokens"), fs.Dir())
}

func TestNewApplication_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestApp(t, newTestConfig(t, fmt.Sprintf("tokenStore:\n  type: redis\n  redis:\n    addr: %s\n", mr.Addr()), nil))

	ctx := context.Background()
	store := a.Services().Store
	require.NoError(t, store.Set(ctx, "github", &oauth.ProviderTokenData{AccessToken: "tok", TokenType: "Bearer"}, "", oauth.TenantContext{}))
	got, err := store.Get(ctx, "github", "", oauth.TenantContext{})
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)
	assert.True(t, mr.Exists("integrate:tokens:_:_:github"))
}

func TestBuildExchanger(t *testing.T) {
	settings := newTestApp(t, newTestConfig(t, "tokenStore:\n  type: memory\n", nil)).Settings()
	assert.IsType(t, &oauth.DirectExchanger{}, buildExchanger(settings))

	settings.OAuthAPIBase = "https://api.example.com/api/v1/oauth"
	settings.APIKey = "k"
	ex, ok := buildExchanger(settings).(*oauth.RouteExchanger)
	require.True(t, ok)
	assert.Equal(t, "k", ex.APIKey)
}

func TestAuthorize_EndToEndThroughBrowser(t *testing.T) {
	provider := mock.NewProviderServer(mock.ProviderServerConfig{ClientID: "acme-client", ClientSecret: "s3cret", TokenLifetime: time.Hour})
	t.Cleanup(provider.Close)

	port := freePort(t)
	cfg := newTestConfig(t, fmt.Sprintf(`tokenStore:
  type: memory
oauth:
  callbackPort: %d
providers:
  acme:
    clientId: acme-client
    clientSecret: s3cret
    authUrl: %s
    tokenUrl: %s
`, port, provider.AuthorizeURL(), provider.TokenURL()), nil)

	cfg.OpenURL = func(rawURL string) error {
		code, state, err := provider.Approve(rawURL)
		if err != nil {
			return err
		}
		go func() {
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/oauth/callback?code=%s&state=%s", port, code, state))
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
		}()
		return nil
	}
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tok, err := a.Services().Manager.Authorize(ctx, "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)

	state, err := a.Services().Manager.CheckAuthStatus(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, state.Authenticated)
}

func TestCompleteRedirect(t *testing.T) {
	provider := mock.NewProviderServer(mock.ProviderServerConfig{ClientID: "acme-client", ClientSecret: "s3cret", TokenLifetime: time.Hour})
	t.Cleanup(provider.Close)

	cfg := newTestConfig(t, fmt.Sprintf(`tokenStore:
  type: memory
oauth:
  mode: redirect
providers:
  acme:
    clientId: acme-client
    clientSecret: s3cret
    authUrl: %s
    tokenUrl: %s
`, provider.AuthorizeURL(), provider.TokenURL()), nil)

	landed := make(chan string, 1)
	cfg.OpenURL = func(rawURL string) error {
		code, state, err := provider.Approve(rawURL)
		if err != nil {
			return err
		}
		landed <- fmt.Sprintf("%s?code=%s&state=%s", cfg.Settings.RedirectURI(), code, state)
		return nil
	}
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.Services().Manager.Authorize(ctx, "acme")
	require.ErrorIs(t, err, window.ErrRedirectStarted)
	_, pending := a.Services().Manager.Pending("acme")
	assert.True(t, pending)

	callback := <-landed
	tok, err := a.Services().CompleteRedirect(ctx, callback)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)

	_, err = a.Services().CompleteRedirect(ctx, callback)
	assert.ErrorIs(t, err, window.ErrCallbackConsumed)

	_, err = a.Services().CompleteRedirect(ctx, "http://127.0.0.1:1/oauth/callback")
	assert.ErrorIs(t, err, window.ErrNoCallback)
}

func TestRouteServer(t *testing.T) {
	provider := mock.NewProviderServer(mock.ProviderServerConfig{ClientID: "acme-client", ClientSecret: "s3cret", TokenLifetime: time.Hour})
	t.Cleanup(provider.Close)

	a := newTestApp(t, newTestConfig(t, fmt.Sprintf(`apiKey: secret-key
tokenStore:
  type: memory
providers:
  acme:
    clientId: acme-client
    clientSecret: s3cret
    authUrl: %s
    tokenUrl: %s
`, provider.AuthorizeURL(), provider.TokenURL()), nil))

	srv, err := NewRouteServer(a.Settings(), a.config.getenv)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := `{"provider":"acme","codeChallenge":"abc","codeChallengeMethod":"S256","state":"st"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/oauth/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", "secret-key")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), provider.AuthorizeURL())
}

func TestRouteServer_StartAndShutdown(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, "tokenStore:\n  type: memory\nserve:\n  addr: 127.0.0.1:0\n",
		map[string]string{"GITHUB_CLIENT_ID": "gh", "GITHUB_CLIENT_SECRET": "sec"}))

	srv, err := NewRouteServer(a.Settings(), a.config.getenv)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestRouteServer_NoProviders(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, "tokenStore:\n  type: memory\n", nil))
	_, err := NewRouteServer(a.Settings(), a.config.getenv)
	assert.Error(t, err)
}
