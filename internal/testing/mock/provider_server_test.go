package mock

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func testOAuth2Config(s *ProviderServer) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    s.config.ClientID,
		RedirectURL: "http://127.0.0.1:9999/oauth/callback",
		Scopes:      []string{"repo", "read:user"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.AuthorizeURL(),
			TokenURL: s.TokenURL(),
		},
	}
}

func TestProviderServer_AuthorizationCodeWithPKCE(t *testing.T) {
	server := NewProviderServer(ProviderServerConfig{ClientID: "cli", Email: "dev@example.com"})
	defer server.Close()

	cfg := testOAuth2Config(server)
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL("state-1", oauth2.S256ChallengeOption(verifier))

	code, state, err := server.Approve(authURL)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if state != "state-1" {
		t.Errorf("Expected state-1, got %q", state)
	}

	tok, err := cfg.Exchange(context.Background(), code, oauth2.VerifierOption(verifier))
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if !server.ValidateToken(tok.AccessToken) {
		t.Error("Expected issued token to validate")
	}
	if idToken, _ := tok.Extra("id_token").(string); idToken == "" {
		t.Error("Expected an id_token when Email is configured")
	}

	// Codes are single use.
	if _, err := cfg.Exchange(context.Background(), code, oauth2.VerifierOption(verifier)); err == nil {
		t.Error("Expected second exchange of the same code to fail")
	}
}

func TestProviderServer_RejectsWrongVerifier(t *testing.T) {
	server := NewProviderServer(ProviderServerConfig{ClientID: "cli"})
	defer server.Close()

	cfg := testOAuth2Config(server)
	authURL := cfg.AuthCodeURL("s", oauth2.S256ChallengeOption(oauth2.GenerateVerifier()))
	code, _, err := server.Approve(authURL)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	_, err = cfg.Exchange(context.Background(), code, oauth2.VerifierOption(oauth2.GenerateVerifier()))
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.ErrorCode != "invalid_grant" {
		t.Errorf("Expected invalid_grant, got %v", err)
	}
}

func TestProviderServer_Refresh(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	server := NewProviderServer(ProviderServerConfig{ClientID: "cli", Clock: clock, TokenLifetime: time.Minute})
	defer server.Close()

	server.AddToken("old-access", "old-refresh", "repo", clock.Now().Add(-time.Minute))
	if server.ValidateToken("old-access") {
		t.Error("Expected expired token to be invalid")
	}

	cfg := testOAuth2Config(server)
	tok, err := cfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: "old-refresh", Expiry: time.Unix(1, 0)}).Token()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tok.AccessToken == "old-access" || tok.RefreshToken == "old-refresh" {
		t.Error("Expected rotated tokens")
	}
	if got := server.LastTokenForm().Get("grant_type"); got != "refresh_token" {
		t.Errorf("Expected refresh_token grant, got %q", got)
	}
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	if !verifyPKCE(challenge, "S256", verifier) {
		t.Error("Expected S256 verification to succeed")
	}
	if verifyPKCE(challenge, "S256", "wrong") {
		t.Error("Expected S256 verification to fail for wrong verifier")
	}
	if verifyPKCE(challenge, "S256", "") {
		t.Error("Expected empty verifier to fail")
	}
	if verifyPKCE(challenge, "unknown", verifier) {
		t.Error("Expected unknown method to fail")
	}
}

func TestProviderServer_ApproveValidatesClient(t *testing.T) {
	server := NewProviderServer(ProviderServerConfig{ClientID: "cli"})
	defer server.Close()

	q := url.Values{"response_type": {"code"}, "client_id": {"someone-else"}}
	if _, _, err := server.Approve(server.AuthorizeURL() + "?" + q.Encode()); err == nil {
		t.Error("Expected unknown client to be rejected")
	}
}
