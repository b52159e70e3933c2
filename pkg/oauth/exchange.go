package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Exchanger trades an authorization code plus PKCE verifier for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, cfg Config, code, verifier string) (*ProviderTokenData, error)
}

// Refresher obtains a new access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, cfg Config, token *ProviderTokenData) (*ProviderTokenData, error)
}

// Revoker tells a remote party that a provider connection was dropped.
type Revoker interface {
	Revoke(ctx context.Context, provider string, token *ProviderTokenData) error
}

// AuthorizeParams are the inputs to an authorization URL.
type AuthorizeParams struct {
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ReturnURL           string
}

// URLBuilder is implemented by exchangers that obtain the authorization URL
// remotely instead of building it from the Config.
type URLBuilder interface {
	AuthorizationURL(ctx context.Context, cfg Config, params AuthorizeParams) (string, error)
}

// BuildAuthorizationURL builds the provider authorization URL with PKCE.
// Extra parameters are appended last and never override the protocol ones.
func BuildAuthorizationURL(cfg Config, params AuthorizeParams) (string, error) {
	if cfg.AuthURL == "" {
		return "", fmt.Errorf("provider %s has no authorization endpoint", cfg.Provider)
	}
	u, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint for %s: %w", cfg.Provider, err)
	}

	method := params.CodeChallengeMethod
	if method == "" {
		method = CodeChallengeMethodS256
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	if cfg.RedirectURI != "" {
		q.Set("redirect_uri", cfg.RedirectURI)
	}
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	q.Set("state", params.State)
	q.Set("code_challenge", params.CodeChallenge)
	q.Set("code_challenge_method", method)
	for k, v := range cfg.Extra {
		if q.Has(k) {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DirectExchanger talks to the provider token endpoint itself. It is used by
// confidential clients and CLIs registered as public clients.
type DirectExchanger struct {
	HTTPClient *http.Client
}

func (e *DirectExchanger) context(ctx context.Context) context.Context {
	if e.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.HTTPClient)
}

// Exchange implements Exchanger.
func (e *DirectExchanger) Exchange(ctx context.Context, cfg Config, code, verifier string) (*ProviderTokenData, error) {
	tok, err := cfg.OAuth2Config().Exchange(e.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, exchangeError(cfg.Provider, err)
	}
	return TokenDataFromOAuth2(tok), nil
}

// Refresh implements Refresher. The refresh token, email and scopes are
// carried over when the provider omits them from the response.
func (e *DirectExchanger) Refresh(ctx context.Context, cfg Config, token *ProviderTokenData) (*ProviderTokenData, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, &TokenExchangeError{Provider: cfg.Provider, Err: errors.New("no refresh token")}
	}

	expired := &oauth2.Token{RefreshToken: token.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := cfg.OAuth2Config().TokenSource(e.context(ctx), expired).Token()
	if err != nil {
		return nil, exchangeError(cfg.Provider, err)
	}

	data := TokenDataFromOAuth2(tok)
	if data.RefreshToken == "" {
		data.RefreshToken = token.RefreshToken
	}
	if data.Email == "" {
		data.Email = token.Email
	}
	if len(data.Scopes) == 0 {
		data.Scopes = token.Scopes
	}
	return data, nil
}

func exchangeError(provider string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &TokenExchangeError{
			Provider:    provider,
			StatusCode:  status,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         err,
		}
	}
	return &TokenExchangeError{Provider: provider, Err: err}
}

// Wire types of the server-side OAuth routes.

// RouteAuthorizeRequest is the body of POST {base}/authorize.
type RouteAuthorizeRequest struct {
	Provider            string   `json:"provider"`
	Scopes              []string `json:"scopes,omitempty"`
	ReturnURL           string   `json:"returnUrl,omitempty"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
	State               string   `json:"state"`
}

// RouteAuthorizeResponse is the reply of POST {base}/authorize.
type RouteAuthorizeResponse struct {
	URL string `json:"url"`
}

// RouteCallbackRequest is the body of POST {base}/callback.
type RouteCallbackRequest struct {
	Provider     string `json:"provider"`
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
	State        string `json:"state,omitempty"`
}

// RouteCallbackResponse is the reply of POST {base}/callback.
type RouteCallbackResponse struct {
	Provider string `json:"provider"`
	ProviderTokenData
}

// RouteDisconnectRequest is the body of POST {base}/disconnect.
type RouteDisconnectRequest struct {
	Provider string `json:"provider"`
}

// RouteErrorResponse is returned by every route on failure.
type RouteErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RouteExchanger delegates the confidential parts of the flow to the
// server-side OAuth routes mounted at BaseURL. Clients without a client
// secret use it.
type RouteExchanger struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func (e *RouteExchanger) client() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

// AuthorizationURL implements URLBuilder via POST {base}/authorize.
func (e *RouteExchanger) AuthorizationURL(ctx context.Context, cfg Config, params AuthorizeParams) (string, error) {
	var resp RouteAuthorizeResponse
	status, err := e.post(ctx, "/authorize", "", RouteAuthorizeRequest{
		Provider:            cfg.Provider,
		Scopes:              cfg.Scopes,
		ReturnURL:           params.ReturnURL,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		State:               params.State,
	}, &resp)
	if err != nil {
		return "", routeError(cfg.Provider, status, err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("authorize route returned no url for %s", cfg.Provider)
	}
	return resp.URL, nil
}

// Exchange implements Exchanger via POST {base}/callback.
func (e *RouteExchanger) Exchange(ctx context.Context, cfg Config, code, verifier string) (*ProviderTokenData, error) {
	var resp RouteCallbackResponse
	status, err := e.post(ctx, "/callback", "", RouteCallbackRequest{
		Provider:     cfg.Provider,
		Code:         code,
		CodeVerifier: verifier,
	}, &resp)
	if err != nil {
		return nil, routeError(cfg.Provider, status, err)
	}
	if resp.AccessToken == "" {
		return nil, &TokenExchangeError{Provider: cfg.Provider, StatusCode: status, Err: errors.New("response carries no access token")}
	}
	data := resp.ProviderTokenData
	return &data, nil
}

// Revoke implements Revoker via POST {base}/disconnect.
func (e *RouteExchanger) Revoke(ctx context.Context, provider string, token *ProviderTokenData) error {
	if token == nil || token.AccessToken == "" {
		return nil
	}
	status, err := e.post(ctx, "/disconnect", token.AccessToken, RouteDisconnectRequest{Provider: provider}, nil)
	if err != nil {
		return fmt.Errorf("disconnect route failed for %s (status %d): %w", provider, status, err)
	}
	return nil
}

// routeFailure carries a decoded RouteErrorResponse.
type routeFailure struct {
	code        string
	description string
}

func (f *routeFailure) Error() string {
	if f.description != "" {
		return f.code + ": " + f.description
	}
	return f.code
}

func routeError(provider string, status int, err error) error {
	var f *routeFailure
	if errors.As(err, &f) {
		return &TokenExchangeError{Provider: provider, StatusCode: status, Code: f.code, Description: f.description, Err: err}
	}
	return &TokenExchangeError{Provider: provider, StatusCode: status, Err: err}
}

func (e *RouteExchanger) post(ctx context.Context, path, bearer string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := strings.TrimRight(e.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.APIKey != "" {
		req.Header.Set("X-API-KEY", e.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.client().Do(req)
	if err != nil {
		return 0, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body RouteErrorResponse
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return resp.StatusCode, &routeFailure{code: body.Error, description: body.ErrorDescription}
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
