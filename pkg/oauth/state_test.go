package oauth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		returnURL string
	}{
		{name: "no return url", returnURL: ""},
		{name: "plain url", returnURL: "https://app.example.com/settings"},
		{name: "query and fragment", returnURL: "https://app.example.com/cb?tab=2&x=%20y#section"},
		{name: "unicode", returnURL: "https://app.example.com/ünïcode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state, err := GenerateState(tc.returnURL)
			require.NoError(t, err)

			payload, ok := ParseState(state)
			require.True(t, ok)
			assert.Equal(t, tc.returnURL, payload.ReturnURL)
			assert.Len(t, payload.Nonce, 43)
		})
	}
}

func TestState_Unique(t *testing.T) {
	a, err := GenerateState("")
	require.NoError(t, err)
	b, err := GenerateState("")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseState_Malformed(t *testing.T) {
	inputs := map[string]string{
		"empty":        "",
		"not base64":   "%%%not-base64%%%",
		"not json":     base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"empty nonce":  base64.RawURLEncoding.EncodeToString([]byte(`{"nonce":""}`)),
		"wrong shape":  base64.RawURLEncoding.EncodeToString([]byte(`[1,2,3]`)),
		"padded std64": base64.StdEncoding.EncodeToString([]byte(`{"nonce":"abc"}`)) + "==",
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			payload, ok := ParseState(in)
			assert.False(t, ok)
			assert.Nil(t, payload)
		})
	}
}
