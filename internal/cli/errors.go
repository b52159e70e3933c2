package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"integrate/internal/config"
	"integrate/pkg/oauth"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a refused or unreachable endpoint.
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError is a categorized failure to reach the tool server, the
// OAuth routes or a provider.
type ConnectionError struct {
	Endpoint string
	Type     ConnectionErrorType
	Reason   error
}

// Error returns the failure with a hint matching its category.
func (e *ConnectionError) Error() string {
	var hint string
	switch e.Type {
	case ConnectionErrorTLS:
		return fmt.Sprintf(`TLS certificate verification failed for %s: %v

The server certificate is not trusted. Self-signed certificates must be
added to the system trust store.`, e.Endpoint, e.Reason)
	case ConnectionErrorNetwork:
		hint = "Check that the server is running and serverUrl in config.yaml is correct."
	case ConnectionErrorTimeout:
		return fmt.Sprintf("Connection to %s timed out: %v", e.Endpoint, e.Reason)
	case ConnectionErrorDNS:
		return fmt.Sprintf("DNS resolution failed for %s: %v", e.Endpoint, e.Reason)
	}
	msg := fmt.Sprintf("Connection failed to %s: %v", e.Endpoint, e.Reason)
	if hint != "" {
		msg += "\n\n" + hint
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Reason }

// ClassifyConnectionError analyzes err and returns a categorized
// ConnectionError, or nil for a nil err.
func ClassifyConnectionError(err error, endpoint string) *ConnectionError {
	if err == nil {
		return nil
	}
	ce := &ConnectionError{Endpoint: endpoint, Type: ConnectionErrorUnknown, Reason: err}

	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		ce.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		ce.Type = ConnectionErrorDNS
	case isTimeoutError(err):
		ce.Type = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		ce.Type = ConnectionErrorNetwork
	}
	return ce
}

func isTLSError(err error) bool {
	if err == nil {
		return false
	}

	var certErr *x509.CertificateInvalidError
	var hostErr *x509.HostnameError
	var unknownAuthErr *x509.UnknownAuthorityError
	var systemRootsErr *x509.SystemRootsError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(errStr string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// AuthRequiredError means no usable token exists for a provider.
type AuthRequiredError struct {
	Provider string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Not authorized for %s

To authorize, run:
  integrate auth login %s

To check current authorization status:
  integrate auth status`, e.Provider, e.Provider)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError means the provider token expired and could not be
// refreshed.
type AuthExpiredError struct {
	Provider string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf(`Authorization expired for %s

To re-authorize, run:
  integrate auth login %s`, e.Provider, e.Provider)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError means the authorization flow itself failed.
type AuthFailedError struct {
	Provider string
	Reason   error
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authorization failed for %s: %v

To retry, run:
  integrate auth login %s`, e.Provider, e.Reason, e.Provider)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error { return e.Reason }

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// UnknownProviderError is a provider name the CLI cannot resolve, with
// close matches from the known providers.
type UnknownProviderError struct {
	Provider    string
	Suggestions []string
}

func (e *UnknownProviderError) Error() string {
	msg := fmt.Sprintf("Unknown provider %q", e.Provider)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf("\n\nDid you mean: %s?", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// Translate turns library errors into CLI errors carrying guidance. Errors
// without a CLI counterpart are returned unchanged.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	var expired *oauth.TokenExpiredError
	if errors.As(err, &expired) {
		return &AuthExpiredError{Provider: expired.Provider}
	}
	if authErr, ok := oauth.AsAuthenticationError(err); ok {
		return &AuthRequiredError{Provider: authErr.Provider}
	}

	var cfgUnknown *config.UnknownProviderError
	if errors.As(err, &cfgUnknown) {
		return &UnknownProviderError{
			Provider:    cfgUnknown.Provider,
			Suggestions: SuggestProviders(cfgUnknown.Provider, cfgUnknown.Known),
		}
	}
	var oauthUnknown *oauth.UnknownProviderError
	if errors.As(err, &oauthUnknown) {
		return fmt.Errorf("provider %s has no client id configured; set %s_CLIENT_ID or providers.%s.clientId: %w",
			oauthUnknown.Provider, strings.ToUpper(oauthUnknown.Provider), oauthUnknown.Provider, err)
	}

	var connErr *oauth.ConnectionError
	if errors.As(err, &connErr) {
		return ClassifyConnectionError(connErr.Err, connErr.Endpoint)
	}
	return err
}
