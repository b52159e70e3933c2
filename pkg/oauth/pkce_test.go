package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestGenerateCodeVerifier_LengthAndCharset(t *testing.T) {
	for i := 0; i < 200; i++ {
		verifier, err := GenerateCodeVerifier()
		if err != nil {
			t.Fatalf("GenerateCodeVerifier() error = %v", err)
		}

		if len(verifier) < 43 || len(verifier) > 128 {
			t.Fatalf("verifier length = %d, want within [43,128]", len(verifier))
		}
		if strings.ContainsAny(verifier, "+/=") {
			t.Fatalf("verifier %q contains non URL-safe characters", verifier)
		}
	}
}

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}

	if pkce.CodeChallengeMethod != "S256" {
		t.Errorf("CodeChallengeMethod = %q, want %q", pkce.CodeChallengeMethod, "S256")
	}

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	if pkce.CodeChallenge != expectedChallenge {
		t.Errorf("CodeChallenge = %q, want %q", pkce.CodeChallenge, expectedChallenge)
	}

	// Verify our implementation matches the oauth2 package
	stdlibChallenge := oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier)
	if pkce.CodeChallenge != stdlibChallenge {
		t.Errorf("CodeChallenge = %q, want oauth2 result %q", pkce.CodeChallenge, stdlibChallenge)
	}
}

func TestGenerateCodeChallenge_Deterministic(t *testing.T) {
	verifier := oauth2.GenerateVerifier()

	first := GenerateCodeChallenge(verifier)
	for i := 0; i < 10; i++ {
		if got := GenerateCodeChallenge(verifier); got != first {
			t.Fatalf("challenge changed between calls: %q vs %q", first, got)
		}
	}
	if strings.ContainsAny(first, "+/=") {
		t.Errorf("challenge %q is not unpadded base64url", first)
	}
}

func TestGenerateCodeChallenge_KnownVector(t *testing.T) {
	// RFC 7636 Appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := GenerateCodeChallenge(verifier); got != want {
		t.Errorf("GenerateCodeChallenge() = %q, want %q", got, want)
	}
}

func TestGeneratePKCE_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pkce, err := GeneratePKCE()
		if err != nil {
			t.Fatalf("GeneratePKCE() error = %v", err)
		}

		if seen[pkce.CodeVerifier] {
			t.Error("Generated duplicate CodeVerifier")
		}
		seen[pkce.CodeVerifier] = true
	}
}
