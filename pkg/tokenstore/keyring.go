package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"integrate/pkg/oauth"
)

// DefaultKeyringService is the keychain service name tokens are filed under.
const DefaultKeyringService = "integrate"

// KeyringStore keeps credentials in the OS keychain, one entry per
// (provider, email) with the account name provider[:email]. It ignores the
// TenantContext.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store for service (DefaultKeyringService if empty).
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

// Get implements oauth.TokenStore.
func (s *KeyringStore) Get(_ context.Context, provider, email string, _ oauth.TenantContext) (*oauth.ProviderTokenData, error) {
	secret, err := keyring.Get(s.service, accountKey(provider, email))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", provider, err)
	}

	var data oauth.ProviderTokenData
	if err := json.Unmarshal([]byte(secret), &data); err != nil {
		return nil, storageErr("get", provider, fmt.Errorf("failed to unmarshal token: %w", err))
	}
	return &data, nil
}

// Set implements oauth.TokenStore. Nil data deletes.
func (s *KeyringStore) Set(ctx context.Context, provider string, data *oauth.ProviderTokenData, email string, tenant oauth.TenantContext) error {
	if err := validateProvider(provider); err != nil {
		return storageErr("set", provider, err)
	}
	if data == nil {
		return s.Remove(ctx, provider, email, tenant)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return storageErr("set", provider, fmt.Errorf("failed to marshal token: %w", err))
	}
	return storageErr("set", provider, keyring.Set(s.service, accountKey(provider, email), string(raw)))
}

// Remove implements Store. Removing a missing entry succeeds.
func (s *KeyringStore) Remove(_ context.Context, provider, email string, _ oauth.TenantContext) error {
	err := keyring.Delete(s.service, accountKey(provider, email))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return storageErr("remove", provider, err)
}

// Available probes whether the keychain can be written on this machine.
func Available(service string) bool {
	if service == "" {
		service = DefaultKeyringService
	}
	const probe = "integrate-keyring-probe"
	if err := keyring.Set(service, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(service, probe)
	return true
}
