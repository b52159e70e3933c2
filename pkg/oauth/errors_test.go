package oauth

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiredError_IsAuthenticationError(t *testing.T) {
	err := error(&TokenExpiredError{Provider: "github"})

	var expired *TokenExpiredError
	require.True(t, errors.As(err, &expired))

	authErr, ok := AsAuthenticationError(err)
	require.True(t, ok)
	assert.Equal(t, "github", authErr.Provider)
}

func TestStorageError_NotAuthenticationError(t *testing.T) {
	err := &StorageError{Op: "get", Provider: "github", Err: errors.New("connection refused")}

	_, ok := AsAuthenticationError(err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTokenExchangeError_Message(t *testing.T) {
	err := &TokenExchangeError{Provider: "slack", StatusCode: 400, Code: "invalid_grant", Description: "code expired"}
	assert.Equal(t, "token exchange failed for slack (status 400): invalid_grant - code expired", err.Error())

	wrapped := &TokenExchangeError{Provider: "slack", Err: errors.New("dial tcp: refused")}
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
	assert.ErrorIs(t, wrapped, wrapped.Err)
}

func TestParseWWWAuthenticate(t *testing.T) {
	challenge, err := ParseWWWAuthenticate(`Bearer realm="tools", error="insufficient_scope", scope="repo read:org"`)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", challenge.Scheme)
	assert.Equal(t, "tools", challenge.Realm)
	assert.Equal(t, "insufficient_scope", challenge.Error)
	assert.Equal(t, "repo read:org", challenge.Scope)

	_, err = ParseWWWAuthenticate("  ")
	assert.Error(t, err)
}

func TestClassifyHTTPAuthFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "ok status",
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "expired token",
			status: http.StatusUnauthorized,
			header: `Bearer error="invalid_token", error_description="The access token expired"`,
			check: func(t *testing.T, err error) {
				var expired *TokenExpiredError
				assert.ErrorAs(t, err, &expired)
			},
		},
		{
			name:   "plain unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var authErr *AuthenticationError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, "github", authErr.Provider)
				var expired *TokenExpiredError
				assert.False(t, errors.As(err, &expired))
			},
		},
		{
			name:   "insufficient scope",
			status: http.StatusUnauthorized,
			header: `Bearer error="insufficient_scope", scope="repo"`,
			check: func(t *testing.T, err error) {
				var authzErr *AuthorizationError
				require.ErrorAs(t, err, &authzErr)
				assert.Equal(t, []string{"repo"}, authzErr.RequiredScopes)
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var authzErr *AuthorizationError
				assert.ErrorAs(t, err, &authzErr)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, ClassifyHTTPAuthFailure("github", tc.status, tc.header))
		})
	}
}
