package window

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"integrate/pkg/logging"
)

const (
	// DefaultPollInterval is how often an open popup is checked for closure.
	DefaultPollInterval = 500 * time.Millisecond

	// CallbackTimeout bounds how long a popup may stay open without a callback.
	CallbackTimeout = 10 * time.Minute
)

// DefaultPopupSize is the popup size used when Options.PopupSize is zero.
var DefaultPopupSize = Size{Width: 600, Height: 700}

var (
	// ErrPopupBlocked is returned when the Opener refuses to open a window.
	ErrPopupBlocked = errors.New("popup blocked")

	// ErrUserCancelled is returned when the popup closed before a callback arrived.
	ErrUserCancelled = errors.New("authorization window closed by user")

	// ErrRedirectStarted is returned by Open in redirect mode once the
	// navigation was issued. The flow continues in ConsumeRedirect.
	ErrRedirectStarted = errors.New("redirect to authorization page started")

	// ErrCallbackConsumed is returned when the same callback is consumed twice.
	ErrCallbackConsumed = errors.New("oauth callback already consumed")

	// ErrNoCallback is returned by ConsumeRedirect for URLs without callback parameters.
	ErrNoCallback = errors.New("url carries no oauth callback")

	// ErrClosed is returned after the Manager has been closed.
	ErrClosed = errors.New("window manager closed")
)

// ProviderError is an error reported by the provider on the callback
// (error=access_denied and friends).
type ProviderError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s returned error %q", e.Provider, e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// MessageType discriminates window messages.
type MessageType string

const (
	MessageCallback MessageType = "oauth_callback"
	MessageError    MessageType = "oauth_error"
)

// Message is what a callback page posts back to the window that opened it.
type Message struct {
	Type             MessageType `json:"type"`
	Provider         string      `json:"provider,omitempty"`
	Code             string      `json:"code,omitempty"`
	State            string      `json:"state,omitempty"`
	Error            string      `json:"error,omitempty"`
	ErrorDescription string      `json:"error_description,omitempty"`

	// Origin is the scheme://host[:port] of the page that posted the message.
	Origin string `json:"-"`
}

// Request describes one authorization window.
type Request struct {
	Provider string
	URL      string
	State    string
}

// Result is a successful callback.
type Result struct {
	Provider string
	Code     string
	State    string
}

// Size is a popup size in pixels.
type Size struct {
	Width  int
	Height int
}

// Mode selects how the authorization page is shown.
type Mode string

const (
	ModePopup    Mode = "popup"
	ModeRedirect Mode = "redirect"
)

// ErrorBehavior controls what ConsumeRedirect does with a provider error.
type ErrorBehavior string

const (
	ErrorSilent   ErrorBehavior = "silent"
	ErrorConsole  ErrorBehavior = "console"
	ErrorRedirect ErrorBehavior = "redirect"
)

// Poster receives window messages.
type Poster interface {
	Post(msg Message)
}

// Window is a handle to an open authorization window.
type Window interface {
	Closed() bool
	Close()
}

// Opener opens authorization windows. Messages from the window must be
// delivered to inbox.
type Opener interface {
	Open(ctx context.Context, req Request, size Size, inbox Poster) (Window, error)
}

// Navigator navigates the current page (redirect mode).
type Navigator interface {
	Navigate(rawURL string) error
}

// History rewrites the current page URL without navigating.
type History interface {
	Replace(rawURL string)
}

// Options configure a Manager.
type Options struct {
	Mode Mode

	// Origin, when set, is the only origin messages are accepted from.
	// Otherwise the origin of the request's redirect_uri is expected.
	Origin string

	Opener       Opener
	PopupSize    Size
	PollInterval time.Duration

	Navigator     Navigator
	History       History
	ErrorBehavior ErrorBehavior
	ErrorURL      string
}

type outcome struct {
	res *Result
	err error
}

type waiter struct {
	req    Request
	origin string
	result chan outcome
}

// Manager correlates authorization windows with the messages they post back.
// A single goroutine owns the state → waiter map; everything else talks to it
// through channels.
type Manager struct {
	opts Options

	inbox      chan Message
	register   chan *waiter
	unregister chan string
	done       chan struct{}
	closeOnce  sync.Once

	consumedMu sync.Mutex
	consumed   map[string]time.Time
}

// NewManager starts a window manager.
func NewManager(opts Options) *Manager {
	if opts.Mode == "" {
		opts.Mode = ModePopup
	}
	if opts.PopupSize.Width <= 0 || opts.PopupSize.Height <= 0 {
		opts.PopupSize = DefaultPopupSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorBehavior == "" {
		opts.ErrorBehavior = ErrorConsole
	}
	if opts.Opener == nil && opts.Mode == ModePopup {
		opts.Opener = &BrowserOpener{}
	}

	m := &Manager{
		opts:       opts,
		inbox:      make(chan Message, 16),
		register:   make(chan *waiter),
		unregister: make(chan string),
		done:       make(chan struct{}),
		consumed:   make(map[string]time.Time),
	}
	go m.loop()
	return m
}

// Mode returns the configured mode.
func (m *Manager) Mode() Mode { return m.opts.Mode }

func (m *Manager) loop() {
	waiters := make(map[string]*waiter)
	for {
		select {
		case w := <-m.register:
			waiters[w.req.State] = w
		case state := <-m.unregister:
			delete(waiters, state)
		case msg := <-m.inbox:
			m.dispatch(waiters, msg)
		case <-m.done:
			for state, w := range waiters {
				w.result <- outcome{err: ErrClosed}
				delete(waiters, state)
			}
			return
		}
	}
}

func (m *Manager) dispatch(waiters map[string]*waiter, msg Message) {
	var w *waiter
	switch msg.Type {
	case MessageCallback:
		w = waiters[msg.State]
	case MessageError:
		if msg.State != "" {
			w = waiters[msg.State]
		} else {
			for _, candidate := range waiters {
				if candidate.req.Provider == msg.Provider {
					w = candidate
					break
				}
			}
		}
	default:
		logging.Debug("Window", "Dropping message of unknown type %q", msg.Type)
		return
	}

	if w == nil {
		logging.Debug("Window", "Dropping %s message with no matching window", msg.Type)
		return
	}
	if msg.Origin != w.origin {
		logging.Debug("Window", "Dropping %s message from unexpected origin %q", msg.Type, msg.Origin)
		return
	}
	if msg.Provider != "" && msg.Provider != w.req.Provider {
		logging.Debug("Window", "Dropping %s message for provider %s (window is for %s)", msg.Type, msg.Provider, w.req.Provider)
		return
	}

	delete(waiters, w.req.State)
	if msg.Type == MessageError {
		w.result <- outcome{err: &ProviderError{Provider: w.req.Provider, Code: msg.Error, Description: msg.ErrorDescription}}
		return
	}
	w.result <- outcome{res: &Result{Provider: w.req.Provider, Code: msg.Code, State: msg.State}}
}

// Post delivers a message to the manager. Messages posted after Close are dropped.
func (m *Manager) Post(msg Message) {
	select {
	case m.inbox <- msg:
	case <-m.done:
	}
}

// Open shows the authorization page for req and waits for its callback.
// In redirect mode it navigates away and returns ErrRedirectStarted.
func (m *Manager) Open(ctx context.Context, req Request) (*Result, error) {
	if m.opts.Mode == ModeRedirect {
		return nil, m.navigate(req)
	}

	w := &waiter{
		req:    req,
		origin: m.expectedOrigin(req),
		result: make(chan outcome, 1),
	}
	select {
	case m.register <- w:
	case <-m.done:
		return nil, ErrClosed
	}

	win, err := m.opts.Opener.Open(ctx, req, m.opts.PopupSize, m)
	if err != nil {
		m.forget(req.State)
		if errors.Is(err, ErrPopupBlocked) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPopupBlocked, err)
	}

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-w.result:
			win.Close()
			return out.res, out.err
		case <-ticker.C:
			if !win.Closed() {
				continue
			}
			m.forget(req.State)
			// The loop may have resolved the waiter right before the forget.
			select {
			case out := <-w.result:
				return out.res, out.err
			default:
			}
			logging.Info("Window", "Authorization window for %s closed before callback", req.Provider)
			return nil, ErrUserCancelled
		case <-ctx.Done():
			m.forget(req.State)
			win.Close()
			return nil, context.Cause(ctx)
		}
	}
}

func (m *Manager) forget(state string) {
	select {
	case m.unregister <- state:
	case <-m.done:
	}
}

func (m *Manager) expectedOrigin(req Request) string {
	if m.opts.Origin != "" {
		return m.opts.Origin
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return ""
	}
	return OriginOf(u.Query().Get("redirect_uri"))
}

func (m *Manager) navigate(req Request) error {
	if m.opts.Navigator == nil {
		return errors.New("redirect mode requires a Navigator")
	}
	if err := m.opts.Navigator.Navigate(req.URL); err != nil {
		return fmt.Errorf("failed to navigate to authorization page: %w", err)
	}
	logging.Debug("Window", "Navigated to authorization page for %s", req.Provider)
	return ErrRedirectStarted
}

// Close stops the manager; waiting Open calls return ErrClosed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// OriginOf returns scheme://host[:port] of rawURL, or "" when it has none.
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
