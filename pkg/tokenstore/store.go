package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"integrate/pkg/oauth"
)

// Store is the full token store contract.
type Store interface {
	oauth.TokenStore
	Remove(ctx context.Context, provider, email string, tenant oauth.TenantContext) error
}

// Remove deletes a credential, falling back to Set(nil) for stores that have
// no dedicated delete.
func Remove(ctx context.Context, store oauth.TokenStore, provider, email string, tenant oauth.TenantContext) error {
	return oauth.RemoveToken(ctx, store, provider, email, tenant)
}

// accountKey is the logical key of a credential.
func accountKey(provider, email string) string {
	if email == "" {
		return provider
	}
	return provider + ":" + email
}

// hashedKey is a filesystem-safe identifier for a credential.
func hashedKey(provider, email string) string {
	hash := sha256.Sum256([]byte(accountKey(provider, email)))
	return hex.EncodeToString(hash[:16])
}

func storageErr(op, provider string, err error) error {
	if err == nil {
		return nil
	}
	return &oauth.StorageError{Op: op, Provider: provider, Err: err}
}

func validateProvider(provider string) error {
	if provider == "" {
		return fmt.Errorf("provider must not be empty")
	}
	return nil
}
