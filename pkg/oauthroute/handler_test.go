package oauthroute

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrate/internal/testing/mock"
	"integrate/pkg/oauth"
)

const testAPIKey = "k-123"

type fixture struct {
	provider *mock.ProviderServer
	handler  *Handler
	server   *httptest.Server
	clock    *mock.MockClock
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	clock := mock.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	provider := mock.NewProviderServer(mock.ProviderServerConfig{
		ClientID:      "srv",
		ClientSecret:  "s3cret",
		TokenLifetime: time.Hour,
		Clock:         clock,
	})
	t.Cleanup(provider.Close)

	cfg := Config{
		Providers: []oauth.Config{{
			Provider:     "github",
			ClientID:     "srv",
			ClientSecret: "s3cret",
			Scopes:       []string{"repo"},
			RedirectURI:  "http://localhost:3000/oauth/callback",
			AuthURL:      provider.AuthorizeURL(),
			TokenURL:     provider.TokenURL(),
		}},
		APIKey: testAPIKey,
		Clock:  clock,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h, err := NewHandler(cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.Mount(r, "/api/v1/oauth/")
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{provider: provider, handler: h, server: srv, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+"/api/v1/oauth"+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-API-KEY", testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *fixture) authorize(t *testing.T, verifier, state string) string {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/authorize", oauth.RouteAuthorizeRequest{
		Provider:      "github",
		CodeChallenge: oauth.GenerateCodeChallenge(verifier),
		State:         state,
	}, nil)
	require.Equal(t, http.StatusOK, status, body)
	return body["url"].(string)
}

func TestAuthorize_BuildsProviderURL(t *testing.T) {
	f := newFixture(t)
	authURL := f.authorize(t, "verifier-verifier-verifier-verifier-verifier", "st-1")

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "srv", q.Get("client_id"))
	assert.Equal(t, "st-1", q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "repo", q.Get("scope"))
	assert.Empty(t, q.Get("client_secret"))
}

func TestAuthorize_ScopeOverride(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/authorize", oauth.RouteAuthorizeRequest{
		Provider:      "github",
		Scopes:        []string{"read:user", "gist"},
		CodeChallenge: "c",
		State:         "s",
	}, nil)
	u, err := url.Parse(body["url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "read:user gist", u.Query().Get("scope"))

	// The configured scopes are not mutated by an override.
	assert.Equal(t, []string{"repo"}, f.handler.providers["github"].Scopes)
}

func TestAuthorize_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  any
		code string
	}{
		{"unknown provider", oauth.RouteAuthorizeRequest{Provider: "nope", CodeChallenge: "c", State: "s"}, "unknown_provider"},
		{"missing provider", oauth.RouteAuthorizeRequest{CodeChallenge: "c", State: "s"}, "invalid_request"},
		{"missing challenge", oauth.RouteAuthorizeRequest{Provider: "github", State: "s"}, "invalid_request"},
		{"missing state", oauth.RouteAuthorizeRequest{Provider: "github", CodeChallenge: "c"}, "invalid_request"},
		{"bad method", oauth.RouteAuthorizeRequest{Provider: "github", CodeChallenge: "c", CodeChallengeMethod: "S512", State: "s"}, "invalid_request"},
		{"unknown field", map[string]string{"provider": "github", "clientSecret": "x"}, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/authorize", tt.req, nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestRoutes_RequireAPIKey(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{"", "wrong"} {
		status, body := f.do(t, http.MethodGet, "/status?provider=github", nil, map[string]string{"X-API-KEY": key})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_api_key", body["error"])
	}
}

func TestCallback_FullFlow(t *testing.T) {
	f := newFixture(t)
	verifier := "abcdefghijklmnopqrstuvwxyz0123456789-._~ABCDEFG"
	code, state, err := f.provider.Approve(f.authorize(t, verifier, "st-flow"))
	require.NoError(t, err)
	require.Equal(t, "st-flow", state)

	status, body := f.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
		Provider:     "github",
		Code:         code,
		CodeVerifier: verifier,
		State:        state,
	}, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "github", body["provider"])
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	assert.EqualValues(t, 3600, body["expiresIn"])
	assert.NotEmpty(t, body["expiresAt"])

	// The verifier is forwarded to the provider.
	form := f.provider.LastTokenForm()
	assert.Equal(t, verifier, form.Get("code_verifier"))

	// States are single use.
	status, body = f.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
		Provider: "github", Code: code, CodeVerifier: verifier, State: state,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_state", body["error"])
}

func TestCallback_StateChecks(t *testing.T) {
	f := newFixture(t)
	verifier := "verifier-verifier-verifier-verifier-verifier-1"

	t.Run("wrong verifier", func(t *testing.T) {
		f.authorize(t, verifier, "st-a")
		status, body := f.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
			Provider: "github", Code: "c", CodeVerifier: "other", State: "st-a",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("expired state", func(t *testing.T) {
		f.authorize(t, verifier, "st-b")
		f.clock.Advance(DefaultStateTTL + time.Second)
		status, body := f.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
			Provider: "github", Code: "c", CodeVerifier: verifier, State: "st-b",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_state", body["error"])
	})

	t.Run("missing code", func(t *testing.T) {
		status, body := f.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
			Provider: "github", CodeVerifier: verifier,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_request", body["error"])
	})
}

func TestCallback_ProviderErrors(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
		Provider: "github", Code: "never-issued", CodeVerifier: "v",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])

	down := newFixture(t, func(c *Config) { c.Providers[0].TokenURL = "http://127.0.0.1:1/token" })
	status, body = down.do(t, http.MethodPost, "/callback", oauth.RouteCallbackRequest{
		Provider: "github", Code: "c", CodeVerifier: "v",
	}, nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "token_exchange_failed", body["error"])
}

func TestStatus(t *testing.T) {
	userInfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	}))
	t.Cleanup(userInfo.Close)
	f := newFixture(t, func(c *Config) {
		c.UserInfoURLs = map[string]string{"github": userInfo.URL}
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"valid bearer", map[string]string{"Authorization": "Bearer good"}, true},
		{"rejected bearer", map[string]string{"Authorization": "Bearer bad"}, false},
		{"no token", nil, false},
		{"token context", map[string]string{"x-integrate-tokens": `{"github":"good"}`}, true},
		{"bearer wins over context", map[string]string{"Authorization": "Bearer bad", "x-integrate-tokens": `{"github":"good"}`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodGet, "/status?provider=github", nil, tt.headers)
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, tt.want, body["authorized"])
		})
	}

	status, body := f.do(t, http.MethodGet, "/status?provider=gitlab", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_provider", body["error"])
}

func TestStatus_WithoutUserInfoEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := f.handler.Status(context.Background(), "github", "anything")
	require.NoError(t, err)
	assert.True(t, resp.Authorized)
}

func TestDisconnect_Revokes(t *testing.T) {
	type revocation struct {
		form url.Values
		user string
	}
	got := make(chan revocation, 1)
	revoke := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, _, _ := r.BasicAuth()
		got <- revocation{form: r.PostForm, user: user}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(revoke.Close)
	f := newFixture(t, func(c *Config) {
		c.RevocationURLs = map[string]string{"github": revoke.URL}
	})

	status, body := f.do(t, http.MethodPost, "/disconnect", oauth.RouteDisconnectRequest{Provider: "github"},
		map[string]string{"Authorization": "Bearer tok-1"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	rev := <-got
	assert.Equal(t, "tok-1", rev.form.Get("token"))
	assert.Equal(t, "access_token", rev.form.Get("token_type_hint"))
	assert.Equal(t, "srv", rev.user)

	status, body = f.do(t, http.MethodPost, "/disconnect", oauth.RouteDisconnectRequest{Provider: "github"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_token", body["error"])
}

func TestDisconnect_RevocationFailure(t *testing.T) {
	revoke := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(revoke.Close)
	f := newFixture(t, func(c *Config) {
		c.RevocationURLs = map[string]string{"github": revoke.URL}
	})
	resp, err := f.handler.Disconnect(context.Background(), "github", "tok")
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{Providers: []oauth.Config{
		{Provider: "a"},
		{ClientID: "x"},
		{Provider: "b", ClientID: "y"},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider a: client id is required")
	assert.Contains(t, err.Error(), "without provider name")
	assert.Contains(t, err.Error(), "provider b: authorization and token endpoints")
}

// The client-side RouteExchanger and the Handler agree on the wire format.
func TestRouteExchanger_AgainstHandler(t *testing.T) {
	f := newFixture(t)
	ex := &oauth.RouteExchanger{BaseURL: f.server.URL + "/api/v1/oauth", APIKey: testAPIKey}
	cfg := oauth.Config{Provider: "github", ClientID: "srv", Scopes: []string{"repo"}}

	verifier := "route-exchanger-verifier-route-exchanger-verifier"
	authURL, err := ex.AuthorizationURL(context.Background(), cfg, oauth.AuthorizeParams{
		State:         "st-rx",
		CodeChallenge: oauth.GenerateCodeChallenge(verifier),
	})
	require.NoError(t, err)

	code, _, err := f.provider.Approve(authURL)
	require.NoError(t, err)
	data, err := ex.Exchange(context.Background(), cfg, code, verifier)
	require.NoError(t, err)
	assert.NotEmpty(t, data.AccessToken)
	assert.True(t, f.provider.ValidateToken(data.AccessToken))

	_, err = ex.Exchange(context.Background(), cfg, "bogus", verifier)
	var exErr *oauth.TokenExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "invalid_grant", exErr.Code)
	assert.Equal(t, http.StatusBadRequest, exErr.StatusCode)

	require.NoError(t, ex.Revoke(context.Background(), "github", data))
}
