package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrate/internal/config"
	"integrate/pkg/oauth"
)

func TestAuthErrors_Guidance(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"required", &AuthRequiredError{Provider: "github"}, []string{"Not authorized for github", "integrate auth login github", "integrate auth status"}},
		{"expired", &AuthExpiredError{Provider: "gmail"}, []string{"expired", "integrate auth login gmail"}},
		{"failed", &AuthFailedError{Provider: "slack", Reason: errors.New("access_denied")}, []string{"access_denied", "integrate auth login slack"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				assert.Contains(t, msg, w)
			}
		})
	}
}

func TestAuthErrors_Is(t *testing.T) {
	wrapped := fmt.Errorf("call: %w", &AuthRequiredError{Provider: "github"})
	assert.ErrorIs(t, wrapped, &AuthRequiredError{})
	assert.NotErrorIs(t, wrapped, &AuthExpiredError{})

	reason := errors.New("boom")
	failed := &AuthFailedError{Provider: "x", Reason: reason}
	assert.ErrorIs(t, failed, reason)
	assert.ErrorIs(t, fmt.Errorf("w: %w", failed), &AuthFailedError{})
}

func TestConnectionErrorType_String(t *testing.T) {
	assert.Equal(t, "TLS certificate error", ConnectionErrorTLS.String())
	assert.Equal(t, "Network error", ConnectionErrorNetwork.String())
	assert.Equal(t, "Connection timeout", ConnectionErrorTimeout.String())
	assert.Equal(t, "DNS resolution error", ConnectionErrorDNS.String())
	assert.Equal(t, "Connection error", ConnectionErrorUnknown.String())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ConnectionErrorType
	}{
		{"unknown authority", x509.UnknownAuthorityError{}, ConnectionErrorTLS},
		{"tls text", errors.New("remote error: tls: bad certificate"), ConnectionErrorTLS},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, ConnectionErrorDNS},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, ConnectionErrorTimeout},
		{"deadline text", errors.New("context deadline exceeded"), ConnectionErrorTimeout},
		{"refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), ConnectionErrorNetwork},
		{"other", errors.New("something odd"), ConnectionErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ClassifyConnectionError(tt.err, "http://localhost:8080")
			require.NotNil(t, ce)
			assert.Equal(t, tt.want, ce.Type)
			assert.ErrorIs(t, ce, tt.err)
			assert.Contains(t, ce.Error(), "localhost:8080")
		})
	}

	assert.Nil(t, ClassifyConnectionError(nil, "x"))
}

func TestConnectionError_NetworkHint(t *testing.T) {
	ce := &ConnectionError{Endpoint: "http://x", Type: ConnectionErrorNetwork, Reason: errors.New("refused")}
	assert.Contains(t, ce.Error(), "serverUrl")
}

func TestTranslate(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, Translate(nil))
	})

	t.Run("expired token", func(t *testing.T) {
		err := fmt.Errorf("get token: %w", &oauth.TokenExpiredError{Provider: "gmail", ExpiredAt: time.Now()})
		var expired *AuthExpiredError
		require.ErrorAs(t, Translate(err), &expired)
		assert.Equal(t, "gmail", expired.Provider)
	})

	t.Run("authentication", func(t *testing.T) {
		err := &oauth.AuthenticationError{Provider: "github", Message: "401"}
		var required *AuthRequiredError
		require.ErrorAs(t, Translate(err), &required)
		assert.Equal(t, "github", required.Provider)
	})

	t.Run("unknown provider gets hints", func(t *testing.T) {
		err := &config.UnknownProviderError{Provider: "gihtub", Known: []string{"github", "gmail", "slack"}}
		var unknown *UnknownProviderError
		require.ErrorAs(t, Translate(err), &unknown)
		assert.Equal(t, []string{"github"}, unknown.Suggestions)
		assert.Contains(t, unknown.Error(), "Did you mean: github?")
	})

	t.Run("provider without client id", func(t *testing.T) {
		err := Translate(&oauth.UnknownProviderError{Provider: "notion"})
		assert.Contains(t, err.Error(), "NOTION_CLIENT_ID")
	})

	t.Run("connection", func(t *testing.T) {
		err := &oauth.ConnectionError{Endpoint: "https://token.example.com", Err: errors.New("dial tcp: connection refused")}
		var ce *ConnectionError
		require.ErrorAs(t, Translate(err), &ce)
		assert.Equal(t, ConnectionErrorNetwork, ce.Type)
	})

	t.Run("passthrough", func(t *testing.T) {
		plain := errors.New("plain")
		assert.Same(t, plain, Translate(plain))
	})
}

func TestSuggestProviders(t *testing.T) {
	known := []string{"github", "gmail", "linear", "notion", "slack"}
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"subsequence", "gh", []string{"github"}},
		{"typo", "gmial", []string{"gmail"}},
		{"case", "SLACK", []string{"slack"}},
		{"nothing close", "zzzzzz", []string{}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestProviders(tt.input, known))
		})
	}
}
