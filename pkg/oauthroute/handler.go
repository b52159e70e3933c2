package oauthroute

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"integrate/pkg/logging"
	"integrate/pkg/oauth"
)

// DefaultStateTTL bounds the time between authorize and callback.
const DefaultStateTTL = 10 * time.Minute

// Config is everything a Handler needs. There is no package-level state.
type Config struct {
	// Providers carry client credentials and endpoints.
	Providers []oauth.Config
	// APIKey, when set, must be presented as X-API-KEY on every route.
	APIKey string
	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration

	// UserInfoURLs maps provider to an endpoint that accepts the access
	// token; /status reports authorized when it answers 2xx. Providers
	// without one are authorized whenever a token is presented.
	UserInfoURLs map[string]string
	// RevocationURLs maps provider to an RFC 7009 revocation endpoint.
	RevocationURLs map[string]string

	// Tokens resolves provider tokens when no bearer is sent. Defaults to
	// the x-integrate-tokens header only.
	Tokens *TokenResolver

	Adapter    Adapter
	HTTPClient *http.Client
	Clock      oauth.Clock
}

// Handler serves the OAuth routes.
type Handler struct {
	providers map[string]oauth.Config
	apiKey    string
	stateTTL  time.Duration
	userInfo  map[string]string
	revoke    map[string]string
	tokens    *TokenResolver
	adapter   Adapter
	client    *http.Client
	exchanger *oauth.DirectExchanger
	clock     oauth.Clock

	mu     sync.Mutex
	states map[string]authorizeState
}

type authorizeState struct {
	provider  string
	challenge string
	method    string
	createdAt time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewHandler validates cfg and builds a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	h := &Handler{
		providers: make(map[string]oauth.Config, len(cfg.Providers)),
		apiKey:    cfg.APIKey,
		stateTTL:  cfg.StateTTL,
		userInfo:  cfg.UserInfoURLs,
		revoke:    cfg.RevocationURLs,
		tokens:    cfg.Tokens,
		adapter:   cfg.Adapter,
		client:    cfg.HTTPClient,
		clock:     cfg.Clock,
		states:    make(map[string]authorizeState),
	}

	var errs []error
	for _, p := range cfg.Providers {
		switch {
		case p.Provider == "":
			errs = append(errs, errors.New("provider config without provider name"))
		case p.ClientID == "":
			errs = append(errs, fmt.Errorf("provider %s: client id is required", p.Provider))
		case p.AuthURL == "" || p.TokenURL == "":
			errs = append(errs, fmt.Errorf("provider %s: authorization and token endpoints are required", p.Provider))
		default:
			h.providers[p.Provider] = p.Clone()
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if h.stateTTL <= 0 {
		h.stateTTL = DefaultStateTTL
	}
	if h.tokens == nil {
		h.tokens = NewTokenResolver(false)
	}
	if h.adapter == nil {
		h.adapter = HTTPAdapter{}
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 30 * time.Second}
	}
	if h.clock == nil {
		h.clock = systemClock{}
	}
	h.exchanger = &oauth.DirectExchanger{HTTPClient: h.client}
	return h, nil
}

// RouteError is a failed route with its HTTP status.
type RouteError struct {
	Status      int
	Code        string
	Description string
}

func (e *RouteError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func badRequest(code, format string, args ...any) *RouteError {
	return &RouteError{Status: http.StatusBadRequest, Code: code, Description: fmt.Sprintf(format, args...)}
}

// StatusResponse is the reply of GET {base}/status.
type StatusResponse struct {
	Authorized bool `json:"authorized"`
}

// DisconnectResponse is the reply of POST {base}/disconnect.
type DisconnectResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) provider(name string) (oauth.Config, *RouteError) {
	if name == "" {
		return oauth.Config{}, badRequest("invalid_request", "provider is required")
	}
	cfg, ok := h.providers[name]
	if !ok {
		return oauth.Config{}, badRequest("unknown_provider", "provider %q is not configured", name)
	}
	return cfg, nil
}

// Authorize validates the request, remembers its state and returns the
// provider authorization URL.
func (h *Handler) Authorize(_ context.Context, req oauth.RouteAuthorizeRequest) (*oauth.RouteAuthorizeResponse, error) {
	cfg, rerr := h.provider(req.Provider)
	if rerr != nil {
		return nil, rerr
	}
	if req.CodeChallenge == "" {
		return nil, badRequest("invalid_request", "codeChallenge is required")
	}
	if req.State == "" {
		return nil, badRequest("invalid_request", "state is required")
	}
	method := req.CodeChallengeMethod
	if method == "" {
		method = oauth.CodeChallengeMethodS256
	}
	if method != oauth.CodeChallengeMethodS256 && method != "plain" {
		return nil, badRequest("invalid_request", "unsupported codeChallengeMethod %q", method)
	}
	if len(req.Scopes) > 0 {
		cfg.Scopes = req.Scopes
	}

	authURL, err := oauth.BuildAuthorizationURL(cfg, oauth.AuthorizeParams{
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ReturnURL:           req.ReturnURL,
	})
	if err != nil {
		return nil, &RouteError{Status: http.StatusInternalServerError, Code: "server_error", Description: err.Error()}
	}

	h.rememberState(req.State, authorizeState{
		provider:  req.Provider,
		challenge: req.CodeChallenge,
		method:    method,
		createdAt: h.clock.Now(),
	})
	logging.Debug("OAuthRoute", "Issued authorization URL for %s", req.Provider)
	return &oauth.RouteAuthorizeResponse{URL: authURL}, nil
}

// Callback exchanges the authorization code using the provider's client
// secret. When state is sent it must match an earlier authorize call for
// the same provider and the verifier must match its challenge.
func (h *Handler) Callback(ctx context.Context, req oauth.RouteCallbackRequest) (*oauth.RouteCallbackResponse, error) {
	cfg, rerr := h.provider(req.Provider)
	if rerr != nil {
		return nil, rerr
	}
	if req.Code == "" || req.CodeVerifier == "" {
		return nil, badRequest("invalid_request", "code and codeVerifier are required")
	}

	if req.State != "" {
		st, ok := h.takeState(req.State)
		if !ok || st.provider != req.Provider {
			return nil, badRequest("invalid_state", "unknown or expired state")
		}
		if !verifierMatches(st, req.CodeVerifier) {
			return nil, badRequest("invalid_grant", "code verifier does not match challenge")
		}
	}

	data, err := h.exchanger.Exchange(ctx, cfg, req.Code, req.CodeVerifier)
	if err != nil {
		var exErr *oauth.TokenExchangeError
		if errors.As(err, &exErr) && exErr.Code != "" {
			return nil, &RouteError{Status: http.StatusBadRequest, Code: exErr.Code, Description: exErr.Description}
		}
		logging.Error("OAuthRoute", err, "Token exchange for %s failed", req.Provider)
		return nil, &RouteError{Status: http.StatusBadGateway, Code: "token_exchange_failed", Description: err.Error()}
	}
	data.StampExpiry(h.clock.Now())

	logging.Audit("token_issued", "provider", req.Provider)
	return &oauth.RouteCallbackResponse{Provider: req.Provider, ProviderTokenData: *data}, nil
}

// Status reports whether token is accepted by the provider.
func (h *Handler) Status(ctx context.Context, provider, token string) (*StatusResponse, error) {
	if _, rerr := h.provider(provider); rerr != nil {
		return nil, rerr
	}
	if token == "" {
		return &StatusResponse{Authorized: false}, nil
	}
	endpoint := h.userInfo[provider]
	if endpoint == "" {
		return &StatusResponse{Authorized: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &RouteError{Status: http.StatusInternalServerError, Code: "server_error", Description: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &RouteError{Status: http.StatusBadGateway, Code: "provider_unreachable", Description: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &StatusResponse{Authorized: true}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &StatusResponse{Authorized: false}, nil
	default:
		return nil, &RouteError{Status: http.StatusBadGateway, Code: "provider_error", Description: fmt.Sprintf("userinfo returned %d", resp.StatusCode)}
	}
}

// Disconnect revokes token at the provider when a revocation endpoint is
// configured.
func (h *Handler) Disconnect(ctx context.Context, provider, token string) (*DisconnectResponse, error) {
	cfg, rerr := h.provider(provider)
	if rerr != nil {
		return nil, rerr
	}
	if token == "" {
		return nil, &RouteError{Status: http.StatusUnauthorized, Code: "missing_token", Description: "a bearer token is required"}
	}
	endpoint := h.revoke[provider]
	if endpoint == "" {
		logging.Audit("token_disconnected", "provider", provider, "revoked", false)
		return &DisconnectResponse{Success: true}, nil
	}

	form := url.Values{"token": {token}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &RouteError{Status: http.StatusInternalServerError, Code: "server_error", Description: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &RouteError{Status: http.StatusBadGateway, Code: "provider_unreachable", Description: err.Error()}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		logging.Warn("OAuthRoute", "Revocation for %s returned %d", provider, resp.StatusCode)
	}
	logging.Audit("token_disconnected", "provider", provider, "revoked", ok)
	return &DisconnectResponse{Success: ok}, nil
}

func (h *Handler) rememberState(state string, st authorizeState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clock.Now()
	for k, v := range h.states {
		if now.Sub(v.createdAt) > h.stateTTL {
			delete(h.states, k)
		}
	}
	h.states[state] = st
}

// takeState consumes state; each state is usable once.
func (h *Handler) takeState(state string) (authorizeState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.states[state]
	if !ok {
		return authorizeState{}, false
	}
	delete(h.states, state)
	if h.clock.Now().Sub(st.createdAt) > h.stateTTL {
		return authorizeState{}, false
	}
	return st, true
}

func verifierMatches(st authorizeState, verifier string) bool {
	expected := verifier
	if st.method == oauth.CodeChallengeMethodS256 {
		expected = oauth.GenerateCodeChallenge(verifier)
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(st.challenge)) == 1
}

// Routes returns a chi router serving the four routes at its root.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireAPIKey)
	r.Post("/authorize", h.handleAuthorize)
	r.Post("/callback", h.handleCallback)
	r.Get("/status", h.handleStatus)
	r.Post("/disconnect", h.handleDisconnect)
	return r
}

// Mount registers the routes under base on r.
func (h *Handler) Mount(r chi.Router, base string) {
	r.Mount(strings.TrimSuffix(base, "/"), h.Routes())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" {
			got := h.adapter.GetHeader(r, "X-API-KEY")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.apiKey)) != 1 {
				h.fail(w, &RouteError{Status: http.StatusUnauthorized, Code: "invalid_api_key"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req oauth.RouteAuthorizeRequest
	if err := h.adapter.ParseBody(r, &req); err != nil {
		h.fail(w, badRequest("invalid_request", "%v", err))
		return
	}
	resp, err := h.Authorize(r.Context(), req)
	h.respond(w, resp, err)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req oauth.RouteCallbackRequest
	if err := h.adapter.ParseBody(r, &req); err != nil {
		h.fail(w, badRequest("invalid_request", "%v", err))
		return
	}
	resp, err := h.Callback(r.Context(), req)
	h.respond(w, resp, err)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	resp, err := h.Status(r.Context(), provider, h.token(r, provider))
	h.respond(w, resp, err)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req oauth.RouteDisconnectRequest
	if err := h.adapter.ParseBody(r, &req); err != nil {
		h.fail(w, badRequest("invalid_request", "%v", err))
		return
	}
	resp, err := h.Disconnect(r.Context(), req.Provider, h.token(r, req.Provider))
	h.respond(w, resp, err)
}

// token prefers the bearer credential and falls back to the token context.
func (h *Handler) token(r *http.Request, provider string) string {
	if bearer := bearerToken(h.adapter.GetHeader(r, "Authorization")); bearer != "" {
		return bearer
	}
	tok, _ := h.tokens.Token(r, provider)
	return tok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (h *Handler) respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	h.adapter.BuildResponse(w, http.StatusOK, body)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var rerr *RouteError
	if !errors.As(err, &rerr) {
		rerr = &RouteError{Status: http.StatusInternalServerError, Code: "server_error", Description: err.Error()}
	}
	h.adapter.BuildResponse(w, rerr.Status, oauth.RouteErrorResponse{
		Error:            rerr.Code,
		ErrorDescription: rerr.Description,
	})
}
