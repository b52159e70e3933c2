package oauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStateMismatch is returned when a callback's state does not match a
	// live pending authorization. No token exchange is attempted.
	ErrStateMismatch = errors.New("invalid or expired authorization attempt: state mismatch")

	// ErrAuthorizationSuperseded is returned to an Authorize call whose pending
	// entry was replaced by a newer Authorize for the same provider.
	ErrAuthorizationSuperseded = errors.New("authorization superseded by a newer attempt")

	// ErrAuthorizationCancelled is returned when a pending authorization is
	// cancelled explicitly.
	ErrAuthorizationCancelled = errors.New("authorization cancelled")
)

// UnknownProviderError is returned when no Config is registered for a provider.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no OAuth configuration registered for provider %q", e.Provider)
}

// TokenExchangeError reports an upstream failure while trading the
// authorization code (or a refresh token) for tokens.
type TokenExchangeError struct {
	Provider    string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "token exchange failed for %s", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
		if e.Description != "" {
			fmt.Fprintf(&b, " - %s", e.Description)
		}
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// StorageError wraps a token store backend failure. It is deliberately not an
// AuthenticationError: "the database is down" must not look like "log in again".
type StorageError struct {
	Op       string
	Provider string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token store %s failed for %s: %v", e.Op, e.Provider, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AuthenticationError means the credential for a provider is missing, invalid
// or expired. It is the only error eligible for automatic re-authentication.
type AuthenticationError struct {
	Provider string
	Message  string
	Err      error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication required"
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TokenExpiredError is the specialization of AuthenticationError used when a
// credential exists but is past its expiry. errors.As matches it against
// both *TokenExpiredError and *AuthenticationError.
type TokenExpiredError struct {
	Provider  string
	ExpiredAt time.Time
	Err       error
}

func (e *TokenExpiredError) Error() string {
	if e.ExpiredAt.IsZero() {
		return fmt.Sprintf("%s: access token expired", e.Provider)
	}
	return fmt.Sprintf("%s: access token expired at %s", e.Provider, e.ExpiredAt.Format(time.RFC3339))
}

// Unwrap exposes the generic authentication failure for errors.As.
func (e *TokenExpiredError) Unwrap() error {
	return &AuthenticationError{Provider: e.Provider, Message: "access token expired", Err: e.Err}
}

// AuthorizationError means the credential is valid but lacks scope.
type AuthorizationError struct {
	Provider       string
	RequiredScopes []string
	Message        string
}

func (e *AuthorizationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "insufficient scope"
	}
	if len(e.RequiredScopes) > 0 {
		msg = fmt.Sprintf("%s (requires %s)", msg, strings.Join(e.RequiredScopes, " "))
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

// ConnectionError wraps a transport or network failure.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolCallError is a remote execution failure unrelated to authentication.
type ToolCallError struct {
	Tool    string
	Message string
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// AsAuthenticationError returns the AuthenticationError in err's chain, if any.
func AsAuthenticationError(err error) (*AuthenticationError, bool) {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
