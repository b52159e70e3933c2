package mock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// idTokenKey signs the id_tokens issued by the mock. Consumers only read the
// claims, so the key never needs to be shared.
var idTokenKey = []byte("integrate-mock-provider")

// ProviderServerConfig configures a mock OAuth provider.
type ProviderServerConfig struct {
	ClientID     string
	ClientSecret string

	// TokenLifetime is the expires_in of issued access tokens.
	TokenLifetime time.Duration

	// Email is put into the id_token. Empty means no id_token.
	Email string

	// CommaScopes makes the token response list scopes comma separated, like GitHub.
	CommaScopes bool

	SimulateErrors *ProviderErrorSimulation

	Clock Clock
}

// ProviderErrorSimulation makes the token endpoint fail.
type ProviderErrorSimulation struct {
	// InvalidGrant rejects every grant with invalid_grant.
	InvalidGrant bool

	// ServerError answers every token request with HTTP 500.
	ServerError bool
}

// TokenResponse is the token endpoint response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	Scope           string
	CodeChallenge   string
	ChallengeMethod string
}

type issuedToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// ProviderServer is a mock OAuth 2.1 provider (authorization code + PKCE,
// refresh_token grants) backed by httptest.
type ProviderServer struct {
	config ProviderServerConfig
	server *httptest.Server
	clock  Clock

	mu            sync.Mutex
	authCodes     map[string]*authCodeEntry
	issued        map[string]*issuedToken
	tokenRequests int
	lastForm      url.Values
}

// NewProviderServer starts a mock provider.
func NewProviderServer(config ProviderServerConfig) *ProviderServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	s := &ProviderServer{
		config:    config,
		clock:     clock,
		authCodes: make(map[string]*authCodeEntry),
		issued:    make(map[string]*issuedToken),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)
	s.server = httptest.NewServer(mux)
	return s
}

// Close stops the server.
func (s *ProviderServer) Close() { s.server.Close() }

// URL returns the base URL.
func (s *ProviderServer) URL() string { return s.server.URL }

// AuthorizeURL returns the authorization endpoint.
func (s *ProviderServer) AuthorizeURL() string { return s.server.URL + "/authorize" }

// TokenURL returns the token endpoint.
func (s *ProviderServer) TokenURL() string { return s.server.URL + "/token" }

// TokenRequests returns how many requests reached the token endpoint.
func (s *ProviderServer) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// LastTokenForm returns the form of the most recent token request.
func (s *ProviderServer) LastTokenForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

// GenerateAuthCode registers an authorization code as if the user approved.
func (s *ProviderServer) GenerateAuthCode(clientID, redirectURI, scope, codeChallenge, codeChallengeMethod string) string {
	code := generateOpaqueToken()
	s.mu.Lock()
	s.authCodes[code] = &authCodeEntry{
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		CodeChallenge:   codeChallenge,
		ChallengeMethod: codeChallengeMethod,
	}
	s.mu.Unlock()
	return code
}

// Approve simulates the user approving the authorization URL the client
// built. It returns the code and state the provider redirects back with.
func (s *ProviderServer) Approve(authURL string) (code, state string, err error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if q.Get("response_type") != "code" {
		return "", "", fmt.Errorf("unsupported response_type %q", q.Get("response_type"))
	}
	if q.Get("client_id") != s.config.ClientID {
		return "", "", fmt.Errorf("unknown client_id %q", q.Get("client_id"))
	}
	code = s.GenerateAuthCode(q.Get("client_id"), q.Get("redirect_uri"), q.Get("scope"),
		q.Get("code_challenge"), q.Get("code_challenge_method"))
	return code, q.Get("state"), nil
}

// AddToken makes a refresh token known to the server.
func (s *ProviderServer) AddToken(accessToken, refreshToken, scope string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[accessToken] = &issuedToken{AccessToken: accessToken, RefreshToken: refreshToken, Scope: scope, ExpiresAt: expiresAt}
}

// ValidateToken reports whether accessToken was issued and is unexpired.
func (s *ProviderServer) ValidateToken(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.issued[accessToken]
	return ok && s.clock.Now().Before(tok.ExpiresAt)
}

func (s *ProviderServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	code, state, err := s.Approve(r.URL.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	redirectURL, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || redirectURL.Host == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	q := redirectURL.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	redirectURL.RawQuery = q.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *ProviderServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}

	s.mu.Lock()
	s.tokenRequests++
	s.lastForm = r.PostForm
	s.mu.Unlock()

	if sim := s.config.SimulateErrors; sim != nil {
		if sim.ServerError {
			writeTokenError(w, http.StatusInternalServerError, "server_error", "simulated failure")
			return
		}
		if sim.InvalidGrant {
			writeTokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid")
			return
		}
	}

	if !s.authenticateClient(r) {
		writeTokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	switch grant := r.PostForm.Get("grant_type"); grant {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r)
	case "refresh_token":
		s.handleRefreshToken(w, r)
	default:
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant_type %s not supported", grant))
	}
}

func (s *ProviderServer) authenticateClient(r *http.Request) bool {
	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID != s.config.ClientID {
		return false
	}
	return s.config.ClientSecret == "" || secret == s.config.ClientSecret
}

func (s *ProviderServer) handleAuthCodeExchange(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	s.mu.Lock()
	entry, ok := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()

	if !ok {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code not found or expired")
		return
	}
	if entry.CodeChallenge != "" && !verifyPKCE(entry.CodeChallenge, entry.ChallengeMethod, r.PostForm.Get("code_verifier")) {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "code_verifier verification failed")
		return
	}
	if entry.RedirectURI != "" && r.PostForm.Get("redirect_uri") != "" && r.PostForm.Get("redirect_uri") != entry.RedirectURI {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}

	s.issue(w, entry.Scope)
}

func (s *ProviderServer) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")

	s.mu.Lock()
	var original *issuedToken
	for _, tok := range s.issued {
		if tok.RefreshToken == refreshToken {
			original = tok
			break
		}
	}
	if original != nil {
		delete(s.issued, original.AccessToken)
	}
	s.mu.Unlock()

	if original == nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "refresh token not found")
		return
	}
	s.issue(w, original.Scope)
}

func (s *ProviderServer) issue(w http.ResponseWriter, scope string) {
	tok := &issuedToken{
		AccessToken:  generateOpaqueToken(),
		RefreshToken: generateOpaqueToken(),
		Scope:        scope,
		ExpiresAt:    s.clock.Now().Add(s.config.TokenLifetime),
	}
	s.mu.Lock()
	s.issued[tok.AccessToken] = tok
	s.mu.Unlock()

	if s.config.CommaScopes {
		scope = strings.Join(strings.Fields(scope), ",")
	}

	resp := TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
		Scope:        scope,
	}
	if s.config.Email != "" {
		resp.IDToken = s.idToken()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *ProviderServer) idToken() string {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"iss":   s.server.URL,
		"sub":   "test-user-123",
		"aud":   s.config.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(s.config.TokenLifetime).Unix(),
		"email": s.config.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(idTokenKey)
	if err != nil {
		panic(fmt.Errorf("failed to sign id_token: %w", err))
	}
	return signed
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case "S256":
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
	case "plain", "":
		return verifier == challenge
	default:
		return false
	}
}

// generateOpaqueToken panics if crypto/rand fails.
func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
