package window

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"integrate/pkg/logging"
)

// FragmentKey is the fragment parameter server-side callback routes use to
// hand the callback back to the page: #oauth_callback=<json>.
const FragmentKey = "oauth_callback"

var callbackQueryKeys = []string{"code", "state", "error", "error_description"}

// ConsumeRedirect extracts the callback from the URL the provider (or the
// callback route) redirected back to. A callback is consumed at most once;
// the page URL is rewritten through History so a reload cannot replay it.
func (m *Manager) ConsumeRedirect(rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback url: %w", err)
	}

	msg, fromFragment, err := extractCallback(u)
	if msg != nil || err != nil {
		if m.opts.History != nil {
			m.opts.History.Replace(cleanURL(u, fromFragment))
		}
	}
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNoCallback
	}

	key := msg.State
	if key == "" {
		key = rawURL
	}
	if !m.markConsumed(key, time.Now()) {
		return nil, ErrCallbackConsumed
	}

	if msg.Type == MessageError {
		perr := &ProviderError{Provider: msg.Provider, Code: msg.Error, Description: msg.ErrorDescription}
		m.reportRedirectError(perr)
		return nil, perr
	}

	return &Result{Provider: msg.Provider, Code: msg.Code, State: msg.State}, nil
}

// consumedRetention bounds how long consumed states are remembered. It
// outlives the pending authorization TTL, after which a replayed state fails
// the state check anyway.
const consumedRetention = 30 * time.Minute

// markConsumed records key and reports whether it was new. Entries older
// than consumedRetention are dropped on the way.
func (m *Manager) markConsumed(key string, now time.Time) bool {
	m.consumedMu.Lock()
	defer m.consumedMu.Unlock()
	for k, at := range m.consumed {
		if now.Sub(at) > consumedRetention {
			delete(m.consumed, k)
		}
	}
	if _, seen := m.consumed[key]; seen {
		return false
	}
	m.consumed[key] = now
	return true
}

func (m *Manager) reportRedirectError(perr *ProviderError) {
	switch m.opts.ErrorBehavior {
	case ErrorSilent:
	case ErrorRedirect:
		if m.opts.Navigator == nil || m.opts.ErrorURL == "" {
			logging.Warn("Window", "OAuth callback error: %v", perr)
			return
		}
		target, err := url.Parse(m.opts.ErrorURL)
		if err != nil {
			logging.Warn("Window", "Invalid error url %q: %v", m.opts.ErrorURL, err)
			return
		}
		q := target.Query()
		q.Set("error", perr.Code)
		if perr.Description != "" {
			q.Set("error_description", perr.Description)
		}
		target.RawQuery = q.Encode()
		if err := m.opts.Navigator.Navigate(target.String()); err != nil {
			logging.Warn("Window", "Failed to navigate to error page: %v", err)
		}
	default:
		logging.Warn("Window", "OAuth callback error: %v", perr)
	}
}

// extractCallback reads the callback from the fragment first, then the query.
func extractCallback(u *url.URL) (*Message, bool, error) {
	if u.Fragment != "" {
		values, err := url.ParseQuery(u.Fragment)
		if err == nil {
			if payload := values.Get(FragmentKey); payload != "" {
				var msg Message
				if err := json.Unmarshal([]byte(payload), &msg); err != nil {
					return nil, true, fmt.Errorf("malformed %s fragment: %w", FragmentKey, err)
				}
				msg.Type = MessageCallback
				if msg.Error != "" {
					msg.Type = MessageError
				}
				return &msg, true, nil
			}
		}
	}

	q := u.Query()
	switch {
	case q.Get("error") != "":
		return &Message{
			Type:             MessageError,
			Provider:         q.Get("provider"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}, false, nil
	case q.Get("code") != "" && q.Get("state") != "":
		return &Message{
			Type:     MessageCallback,
			Provider: q.Get("provider"),
			Code:     q.Get("code"),
			State:    q.Get("state"),
		}, false, nil
	}
	return nil, false, nil
}

func cleanURL(u *url.URL, fromFragment bool) string {
	clean := *u
	if fromFragment {
		clean.Fragment = ""
		clean.RawFragment = ""
		return clean.String()
	}
	q := clean.Query()
	for _, key := range callbackQueryKeys {
		q.Del(key)
	}
	clean.RawQuery = q.Encode()
	return strings.TrimSuffix(clean.String(), "?")
}
