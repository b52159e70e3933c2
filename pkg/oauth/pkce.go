package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes encode to 43 base64url characters, the RFC 7636 minimum.
	pkceVerifierBytes = 32

	// nonceBytes is the number of random bytes in the state nonce.
	nonceBytes = 32

	// CodeChallengeMethodS256 is the only challenge method we emit.
	CodeChallengeMethodS256 = "S256"
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) pair.
type PKCEChallenge struct {
	// CodeVerifier is kept locally and only sent to the token endpoint.
	CodeVerifier string

	// CodeChallenge is sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GenerateCodeVerifier returns a cryptographically random, URL-safe verifier
// of 43 characters (RFC 7636 allows 43-128).
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeChallenge returns base64url(SHA-256(verifier)) without padding.
// It is a pure function of the verifier.
func GenerateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       GenerateCodeChallenge(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
	}, nil
}

// generateNonce returns 32 random bytes encoded as base64url.
func generateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
