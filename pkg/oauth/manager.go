package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"integrate/pkg/events"
	"integrate/pkg/logging"
	"integrate/pkg/oauth/window"
)

// DefaultPendingTTL bounds how long an authorization may stay pending.
const DefaultPendingTTL = 10 * time.Minute

// Windows shows authorization pages. *window.Manager implements it.
type Windows interface {
	Open(ctx context.Context, req window.Request) (*window.Result, error)
}

// PendingAuthorization is an in-flight authorization attempt. It is consumed
// exactly once by HandleCallback or discarded.
type PendingAuthorization struct {
	Provider     string
	State        string
	CodeVerifier string
	CreatedAt    time.Time
	ReturnURL    string

	cancel context.CancelCauseFunc
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Configs   []Config
	Store     TokenStore
	Windows   Windows
	Exchanger Exchanger

	// Refresher and Revoker default to the Exchanger when it implements them.
	Refresher Refresher
	Revoker   Revoker

	Events *events.Bus

	// ReturnURL is embedded in every state token.
	ReturnURL string

	Tenant TenantContext

	// Email selects the account key tokens are stored under.
	Email string

	PendingTTL   time.Duration
	ExpiryMargin time.Duration
	Clock        Clock
}

// Manager runs the authorization flow and owns the token lifecycle of
// every configured provider.
type Manager struct {
	configs   map[string]Config
	store     TokenStore
	windows   Windows
	exchanger Exchanger
	refresher Refresher
	revoker   Revoker
	bus       *events.Bus

	returnURL    string
	tenant       TenantContext
	email        string
	pendingTTL   time.Duration
	expiryMargin time.Duration
	clock        Clock

	mu      sync.Mutex
	pending map[string]*PendingAuthorization
	cache   map[string]*ProviderTokenData

	refreshes singleflight.Group
}

// NewManager creates a Manager. Configs are copied.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("oauth manager requires a token store")
	}
	if opts.Exchanger == nil {
		return nil, errors.New("oauth manager requires an exchanger")
	}

	m := &Manager{
		configs:      make(map[string]Config, len(opts.Configs)),
		store:        opts.Store,
		windows:      opts.Windows,
		exchanger:    opts.Exchanger,
		refresher:    opts.Refresher,
		revoker:      opts.Revoker,
		bus:          opts.Events,
		returnURL:    opts.ReturnURL,
		tenant:       opts.Tenant,
		email:        opts.Email,
		pendingTTL:   opts.PendingTTL,
		expiryMargin: opts.ExpiryMargin,
		clock:        opts.Clock,
		pending:      make(map[string]*PendingAuthorization),
		cache:        make(map[string]*ProviderTokenData),
	}
	for _, cfg := range opts.Configs {
		if cfg.Provider == "" {
			return nil, errors.New("oauth config without provider")
		}
		m.configs[cfg.Provider] = cfg.Clone()
	}
	if m.refresher == nil {
		m.refresher, _ = opts.Exchanger.(Refresher)
	}
	if m.revoker == nil {
		m.revoker, _ = opts.Exchanger.(Revoker)
	}
	if m.pendingTTL <= 0 {
		m.pendingTTL = DefaultPendingTTL
	}
	if m.expiryMargin <= 0 {
		m.expiryMargin = DefaultExpiryMargin
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	return m, nil
}

// Providers returns the configured provider ids, sorted.
func (m *Manager) Providers() []string {
	out := make([]string, 0, len(m.configs))
	for p := range m.configs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Config returns a copy of a provider's configuration.
func (m *Manager) Config(provider string) (Config, bool) {
	cfg, ok := m.configs[provider]
	if !ok {
		return Config{}, false
	}
	return cfg.Clone(), true
}

func (m *Manager) config(provider string) (Config, error) {
	cfg, ok := m.configs[provider]
	if !ok {
		return Config{}, &UnknownProviderError{Provider: provider}
	}
	return cfg, nil
}

func (m *Manager) emit(ev events.Event) {
	m.bus.Publish(ev)
}

// Authorize runs the full authorization flow for provider and returns the
// stored token. A second Authorize for the same provider supersedes the
// first one, which then fails with ErrAuthorizationSuperseded. In redirect
// mode it returns window.ErrRedirectStarted and the flow completes through
// HandleCallback.
func (m *Manager) Authorize(ctx context.Context, provider string) (*ProviderTokenData, error) {
	cfg, err := m.config(provider)
	if err != nil {
		return nil, err
	}
	if m.windows == nil {
		return nil, errors.New("oauth manager has no window manager configured")
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState(m.returnURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := &PendingAuthorization{
		Provider:     provider,
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
		CreatedAt:    m.clock.Now(),
		ReturnURL:    m.returnURL,
		cancel:       cancel,
	}
	m.mu.Lock()
	if prev := m.pending[provider]; prev != nil {
		logging.Info("OAuth", "Superseding pending authorization for %s", provider)
		prev.cancel(ErrAuthorizationSuperseded)
	}
	m.pending[provider] = p
	m.mu.Unlock()

	authURL, err := m.authorizationURL(ctx, cfg, AuthorizeParams{
		State:               state,
		CodeChallenge:       pkce.CodeChallenge,
		CodeChallengeMethod: pkce.CodeChallengeMethod,
		ReturnURL:           m.returnURL,
	})
	if err != nil {
		m.dropPending(p)
		m.emit(events.Event{Type: events.AuthError, Provider: provider, Err: err})
		return nil, err
	}

	m.emit(events.Event{Type: events.AuthStarted, Provider: provider})
	logging.Debug("OAuth", "Opening authorization window for %s", provider)

	res, err := m.windows.Open(ctx, window.Request{Provider: provider, URL: authURL, State: state})
	if err != nil {
		if errors.Is(err, window.ErrRedirectStarted) {
			return nil, err
		}
		m.dropPending(p)
		if cause := context.Cause(ctx); errors.Is(cause, ErrAuthorizationSuperseded) || errors.Is(cause, ErrAuthorizationCancelled) {
			err = cause
		}
		logging.Info("OAuth", "Authorization for %s failed: %v", provider, err)
		m.emit(events.Event{Type: events.AuthError, Provider: provider, Err: err})
		return nil, err
	}

	return m.HandleCallback(ctx, res.Code, res.State)
}

func (m *Manager) authorizationURL(ctx context.Context, cfg Config, params AuthorizeParams) (string, error) {
	if b, ok := m.exchanger.(URLBuilder); ok {
		return b.AuthorizationURL(ctx, cfg, params)
	}
	return BuildAuthorizationURL(cfg, params)
}

func (m *Manager) dropPending(p *PendingAuthorization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[p.Provider] == p {
		delete(m.pending, p.Provider)
	}
}

// HandleCallback completes an authorization: it validates state against a
// live pending entry, exchanges the code and persists the token. A state
// that matches nothing fails with ErrStateMismatch before any exchange.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (*ProviderTokenData, error) {
	p := m.takePending(state)
	if p == nil {
		logging.Audit("oauth_state_mismatch")
		m.emit(events.Event{Type: events.AuthError, Err: ErrStateMismatch})
		return nil, ErrStateMismatch
	}
	if m.clock.Now().Sub(p.CreatedAt) > m.pendingTTL {
		logging.Audit("oauth_state_expired", "provider", p.Provider)
		m.emit(events.Event{Type: events.AuthError, Provider: p.Provider, Err: ErrStateMismatch})
		return nil, ErrStateMismatch
	}

	cfg := m.configs[p.Provider]
	data, err := m.exchanger.Exchange(ctx, cfg, code, p.CodeVerifier)
	if err != nil {
		var exErr *TokenExchangeError
		if !errors.As(err, &exErr) {
			err = &TokenExchangeError{Provider: p.Provider, Err: err}
		}
		logging.Error("OAuth", err, "Token exchange failed for %s", p.Provider)
		m.emit(events.Event{Type: events.AuthError, Provider: p.Provider, Err: err})
		return nil, err
	}

	if err := m.persist(ctx, p.Provider, data); err != nil {
		m.emit(events.Event{Type: events.AuthError, Provider: p.Provider, Err: err})
		return nil, err
	}

	logging.Info("OAuth", "Authorization complete for %s", p.Provider)
	m.emit(events.Event{Type: events.AuthComplete, Provider: p.Provider, ExpiresAt: data.ExpiresAt})
	return data, nil
}

// takePending removes and returns the pending entry matching state.
func (m *Manager) takePending(state string) *PendingAuthorization {
	if state == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for provider, p := range m.pending {
		if subtle.ConstantTimeCompare([]byte(p.State), []byte(state)) == 1 {
			delete(m.pending, provider)
			return p
		}
	}
	return nil
}

// persist stamps expiry, stores the token and updates the cache.
func (m *Manager) persist(ctx context.Context, provider string, data *ProviderTokenData) error {
	data.StampExpiry(m.clock.Now())
	if err := m.store.Set(ctx, provider, data, m.email, m.tenant); err != nil {
		return storageError("set", provider, err)
	}
	m.mu.Lock()
	m.cache[provider] = data
	m.mu.Unlock()
	logging.Audit("token_stored", "provider", provider)
	return nil
}

func storageError(op, provider string, err error) error {
	var serr *StorageError
	if errors.As(err, &serr) {
		return err
	}
	return &StorageError{Op: op, Provider: provider, Err: err}
}

func (m *Manager) load(ctx context.Context, provider string) (*ProviderTokenData, error) {
	m.mu.Lock()
	data := m.cache[provider]
	m.mu.Unlock()
	if data != nil {
		return data, nil
	}

	data, err := m.store.Get(ctx, provider, m.email, m.tenant)
	if err != nil {
		return nil, storageError("get", provider, err)
	}
	if data != nil {
		m.mu.Lock()
		m.cache[provider] = data
		m.mu.Unlock()
	}
	return data, nil
}

// GetToken returns a usable token for provider, refreshing it when it is
// about to expire and a refresh token is available. Missing or expired
// credentials surface as AuthenticationError (TokenExpiredError).
func (m *Manager) GetToken(ctx context.Context, provider string) (*ProviderTokenData, error) {
	if _, err := m.config(provider); err != nil {
		return nil, err
	}

	data, err := m.load(ctx, provider)
	if err != nil {
		return nil, err
	}
	if data == nil || data.AccessToken == "" {
		return nil, &AuthenticationError{Provider: provider, Message: "not authorized"}
	}

	now := m.clock.Now()
	if !data.IsExpired(now, m.expiryMargin) {
		return data, nil
	}

	if data.RefreshToken != "" && m.refresher != nil {
		refreshed, err := m.refresh(ctx, provider, data)
		if err == nil {
			return refreshed, nil
		}
		var serr *StorageError
		if errors.As(err, &serr) {
			return nil, err
		}
		logging.Warn("OAuth", "Token refresh for %s failed: %v", provider, err)
		if data.IsExpired(now, 0) {
			return nil, &TokenExpiredError{Provider: provider, ExpiredAt: data.ExpiresAt, Err: err}
		}
		return data, nil
	}

	if data.IsExpired(now, 0) {
		return nil, &TokenExpiredError{Provider: provider, ExpiredAt: data.ExpiresAt}
	}
	return data, nil
}

// refresh deduplicates concurrent refreshes of the same provider.
func (m *Manager) refresh(ctx context.Context, provider string, current *ProviderTokenData) (*ProviderTokenData, error) {
	v, err, _ := m.refreshes.Do(provider, func() (any, error) {
		refreshed, err := m.refresher.Refresh(ctx, m.configs[provider], current)
		if err != nil {
			return nil, err
		}
		if err := m.persist(ctx, provider, refreshed); err != nil {
			return nil, err
		}
		logging.Debug("OAuth", "Refreshed token for %s", provider)
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProviderTokenData), nil
}

// CheckAuthStatus reports whether provider has a usable token. Authentication
// failures map to Authenticated=false; storage failures are returned.
func (m *Manager) CheckAuthStatus(ctx context.Context, provider string) (AuthState, error) {
	data, err := m.GetToken(ctx, provider)
	if err != nil {
		if _, ok := AsAuthenticationError(err); ok {
			return AuthState{Provider: provider}, nil
		}
		return AuthState{Provider: provider}, err
	}
	return AuthState{Provider: provider, Authenticated: true, ExpiresAt: data.ExpiresAt}, nil
}

// SetToken stores a token obtained outside the authorization flow.
func (m *Manager) SetToken(ctx context.Context, provider string, data *ProviderTokenData) error {
	if _, err := m.config(provider); err != nil {
		return err
	}
	if data == nil || data.AccessToken == "" {
		return fmt.Errorf("token for %s has no access token", provider)
	}
	if err := m.persist(ctx, provider, data); err != nil {
		return err
	}
	m.emit(events.Event{Type: events.AuthComplete, Provider: provider, ExpiresAt: data.ExpiresAt})
	return nil
}

// DisconnectProvider forgets provider's token locally (and remotely when a
// Revoker is configured). Disconnecting a provider without a token succeeds.
func (m *Manager) DisconnectProvider(ctx context.Context, provider string) error {
	if _, err := m.config(provider); err != nil {
		return err
	}

	m.CancelPending(provider)

	current, err := m.load(ctx, provider)
	if err != nil {
		logging.Warn("OAuth", "Could not read %s token before disconnect: %v", provider, err)
	}
	if m.revoker != nil && current != nil {
		if err := m.revoker.Revoke(ctx, provider, current); err != nil {
			logging.Warn("OAuth", "Remote disconnect for %s failed: %v", provider, err)
		}
	}

	m.mu.Lock()
	delete(m.cache, provider)
	m.mu.Unlock()

	if err := RemoveToken(ctx, m.store, provider, m.email, m.tenant); err != nil {
		return storageError("remove", provider, err)
	}

	logging.Audit("token_deleted", "provider", provider)
	m.emit(events.Event{Type: events.AuthDisconnect, Provider: provider})
	return nil
}

// Logout disconnects every configured provider.
func (m *Manager) Logout(ctx context.Context) error {
	var errs []error
	for _, provider := range m.Providers() {
		if err := m.DisconnectProvider(ctx, provider); err != nil {
			errs = append(errs, err)
		}
	}
	m.emit(events.Event{Type: events.AuthLogout})
	return errors.Join(errs...)
}

// CancelPending aborts provider's pending authorization, if any.
func (m *Manager) CancelPending(provider string) bool {
	m.mu.Lock()
	p := m.pending[provider]
	delete(m.pending, provider)
	m.mu.Unlock()
	if p == nil {
		return false
	}
	p.cancel(ErrAuthorizationCancelled)
	return true
}

// CancelAll aborts every pending authorization.
func (m *Manager) CancelAll() {
	for _, provider := range m.Providers() {
		m.CancelPending(provider)
	}
}

// Pending returns a copy of provider's pending authorization.
func (m *Manager) Pending(provider string) (PendingAuthorization, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[provider]
	if !ok {
		return PendingAuthorization{}, false
	}
	out := *p
	out.cancel = nil
	return out, true
}

// Invalidate drops cached tokens so the next read goes to the store. An
// empty provider drops every entry. Hosts call it when another process
// changed the store.
func (m *Manager) Invalidate(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if provider == "" {
		clear(m.cache)
		return
	}
	delete(m.cache, provider)
}
