package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// AuthChallenge represents parsed information from a WWW-Authenticate header.
type AuthChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer").
	Scheme string

	Realm string

	// Scope is the space-separated list of required scopes.
	Scope string

	// Error is the RFC 6750 error code (invalid_token, insufficient_scope, ...).
	Error string

	ErrorDescription string
}

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
//
//	Bearer realm="tools", error="invalid_token", error_description="expired"
//	Bearer error="insufficient_scope", scope="repo read:org"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{Scheme: parts[0]}
	if len(parts) == 1 {
		return challenge, nil
	}

	for _, match := range authParamRegex.FindAllStringSubmatch(parts[1], -1) {
		switch strings.ToLower(match[1]) {
		case "realm":
			challenge.Realm = match[2]
		case "scope":
			challenge.Scope = match[2]
		case "error":
			challenge.Error = match[2]
		case "error_description":
			challenge.ErrorDescription = match[2]
		}
	}

	return challenge, nil
}

// ClassifyHTTPAuthFailure maps a 401/403 response from a tool endpoint onto the
// error taxonomy. It returns nil for other status codes.
func ClassifyHTTPAuthFailure(provider string, status int, wwwAuthenticate string) error {
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return nil
	}

	challenge, _ := ParseWWWAuthenticate(wwwAuthenticate)
	if challenge == nil {
		challenge = &AuthChallenge{}
	}

	if status == http.StatusForbidden || challenge.Error == "insufficient_scope" {
		return &AuthorizationError{
			Provider:       provider,
			RequiredScopes: strings.Fields(challenge.Scope),
			Message:        challenge.ErrorDescription,
		}
	}

	desc := strings.ToLower(challenge.ErrorDescription)
	if challenge.Error == "invalid_token" && strings.Contains(desc, "expired") {
		return &TokenExpiredError{Provider: provider}
	}

	msg := challenge.ErrorDescription
	if msg == "" {
		msg = "unauthorized"
	}
	return &AuthenticationError{Provider: provider, Message: msg}
}
