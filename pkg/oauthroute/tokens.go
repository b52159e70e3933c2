package oauthroute

import (
	"context"
	"net/http"
	"os"

	"github.com/tidwall/gjson"

	"integrate/pkg/logging"
	"integrate/pkg/transport"
)

// EnvTokensVariable holds a JSON object of provider tokens for
// single-user deployments.
const EnvTokensVariable = "PROVIDER_TOKENS"

// TokenContextProvider yields provider tokens for a request. ok is false
// when the provider has nothing to say about this request.
type TokenContextProvider interface {
	Tokens(r *http.Request) (tokens map[string]string, ok bool)
}

// HeaderTokenProvider reads the x-integrate-tokens header.
type HeaderTokenProvider struct{}

// Tokens implements TokenContextProvider.
func (HeaderTokenProvider) Tokens(r *http.Request) (map[string]string, bool) {
	raw := r.Header.Get(transport.TokensHeader)
	if raw == "" {
		return nil, false
	}
	tokens, ok := parseTokenMap(raw)
	if !ok {
		logging.Warn("OAuthRoute", "Ignoring malformed %s header", transport.TokensHeader)
	}
	return tokens, ok
}

// EnvTokenProvider reads PROVIDER_TOKENS. It applies to every request, so
// it must only be enabled where all requests act for the same user.
type EnvTokenProvider struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Tokens implements TokenContextProvider.
func (p EnvTokenProvider) Tokens(*http.Request) (map[string]string, bool) {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	raw := getenv(EnvTokensVariable)
	if raw == "" {
		return nil, false
	}
	tokens, ok := parseTokenMap(raw)
	if !ok {
		logging.Warn("OAuthRoute", "Ignoring malformed %s", EnvTokensVariable)
	}
	return tokens, ok
}

// parseTokenMap accepts a JSON object whose values are all non-empty
// strings.
func parseTokenMap(raw string) (map[string]string, bool) {
	if !gjson.Valid(raw) {
		return nil, false
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, false
	}
	tokens := make(map[string]string)
	valid := true
	parsed.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String || value.Str == "" {
			valid = false
			return false
		}
		tokens[key.String()] = value.Str
		return true
	})
	if !valid || len(tokens) == 0 {
		return nil, false
	}
	return tokens, true
}

// TokenResolver consults providers in registration order; the first one
// that answers wins.
type TokenResolver struct {
	providers []TokenContextProvider
}

// NewTokenResolver registers the header provider, then the environment
// provider if allowEnv is set, then extra.
func NewTokenResolver(allowEnv bool, extra ...TokenContextProvider) *TokenResolver {
	providers := []TokenContextProvider{HeaderTokenProvider{}}
	if allowEnv {
		providers = append(providers, EnvTokenProvider{})
	}
	return &TokenResolver{providers: append(providers, extra...)}
}

// Tokens returns the first answer from the registered providers.
func (t *TokenResolver) Tokens(r *http.Request) (map[string]string, bool) {
	for _, p := range t.providers {
		if tokens, ok := p.Tokens(r); ok {
			return tokens, true
		}
	}
	return nil, false
}

// Token returns one provider's token.
func (t *TokenResolver) Token(r *http.Request, provider string) (string, bool) {
	tokens, ok := t.Tokens(r)
	if !ok {
		return "", false
	}
	tok, ok := tokens[provider]
	return tok, ok
}

type tokensKey struct{}

// Middleware stores the resolved tokens in the request context.
func (t *TokenResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokens, ok := t.Tokens(r); ok {
			r = r.WithContext(WithTokens(r.Context(), tokens))
		}
		next.ServeHTTP(w, r)
	})
}

// WithTokens returns ctx carrying tokens.
func WithTokens(ctx context.Context, tokens map[string]string) context.Context {
	return context.WithValue(ctx, tokensKey{}, tokens)
}

// TokensFromContext returns the tokens stored by Middleware or WithTokens.
func TokensFromContext(ctx context.Context) (map[string]string, bool) {
	tokens, ok := ctx.Value(tokensKey{}).(map[string]string)
	return tokens, ok
}

// InjectTokens forwards the context's tokens on an outgoing tool call as
// the x-integrate-tokens header.
func InjectTokens(ctx context.Context) transport.RequestOption {
	tokens, _ := TokensFromContext(ctx)
	return transport.WithProviderTokens(tokens)
}
