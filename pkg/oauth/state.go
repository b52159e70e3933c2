package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// StatePayload is the JSON envelope carried in the OAuth state parameter.
type StatePayload struct {
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"returnUrl,omitempty"`
}

// GenerateState builds a fresh state value: a base64url-encoded JSON envelope
// holding a random nonce and the optional URL to return to once the flow
// completes.
func GenerateState(returnURL string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(StatePayload{Nonce: nonce, ReturnURL: returnURL})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ParseState decodes a value produced by GenerateState. It reports false for
// any malformed input instead of returning an error, so callers can treat a
// bad state exactly like an unknown one.
func ParseState(state string) (*StatePayload, bool) {
	if state == "" {
		return nil, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return nil, false
	}

	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if payload.Nonce == "" {
		return nil, false
	}

	return &payload, true
}
