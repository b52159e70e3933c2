package oauthroute

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrate/pkg/transport"
)

func TestParseTokenMap(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{`{"github":"gho_1","slack":"xoxb"}`, map[string]string{"github": "gho_1", "slack": "xoxb"}},
		{`{"github":""}`, nil},
		{`{"github":1}`, nil},
		{`["github"]`, nil},
		{`{}`, nil},
		{`not json`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseTokenMap(tt.raw)
			assert.Equal(t, tt.want != nil, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type staticTokens map[string]string

func (s staticTokens) Tokens(*http.Request) (map[string]string, bool) { return s, true }

func TestTokenResolver_Order(t *testing.T) {
	t.Setenv(EnvTokensVariable, `{"github":"from-env"}`)

	withHeader := httptest.NewRequest(http.MethodGet, "/", nil)
	withHeader.Header.Set(transport.TokensHeader, `{"github":"from-header"}`)
	bare := httptest.NewRequest(http.MethodGet, "/", nil)

	header := NewTokenResolver(false)
	tok, ok := header.Token(withHeader, "github")
	assert.True(t, ok)
	assert.Equal(t, "from-header", tok)
	_, ok = header.Token(bare, "github")
	assert.False(t, ok, "environment tokens are opt-in")

	env := NewTokenResolver(true)
	tok, _ = env.Token(withHeader, "github")
	assert.Equal(t, "from-header", tok, "header wins over environment")
	tok, _ = env.Token(bare, "github")
	assert.Equal(t, "from-env", tok)

	extra := NewTokenResolver(false, staticTokens{"github": "static"})
	tok, _ = extra.Token(bare, "github")
	assert.Equal(t, "static", tok)
	_, ok = extra.Token(bare, "slack")
	assert.False(t, ok)
}

func TestEnvTokenProvider_Malformed(t *testing.T) {
	p := EnvTokenProvider{Getenv: func(string) string { return `{"github":` }}
	_, ok := p.Tokens(nil)
	assert.False(t, ok)
}

func TestMiddleware_InjectsIntoOutgoingCalls(t *testing.T) {
	forwarded := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded <- r.Header.Get(transport.TokensHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(upstream.Close)

	tr, err := transport.NewHTTPTransport(transport.Options{Endpoint: upstream.URL})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	var seen map[string]string
	h := NewTokenResolver(false).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = TokensFromContext(r.Context())
		// Only the outgoing headers matter; the empty reply fails the call.
		_, _ = tr.SendRequest(r.Context(), "tools/call", nil, InjectTokens(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/tools", nil)
	req.Header.Set(transport.TokensHeader, `{"notion":"secret_1"}`)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, map[string]string{"notion": "secret_1"}, seen)
	assert.JSONEq(t, `{"notion":"secret_1"}`, <-forwarded)
}

func TestTokensFromContext_Empty(t *testing.T) {
	_, ok := TokensFromContext(context.Background())
	assert.False(t, ok)
	ctx := WithTokens(context.Background(), map[string]string{"a": "b"})
	got, ok := TokensFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "b", got["a"])
}
