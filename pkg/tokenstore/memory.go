package tokenstore

import (
	"context"
	"sync"

	"integrate/pkg/oauth"
)

// MemoryStore keeps credentials in process memory. Stored values are copied
// on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]oauth.ProviderTokenData
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]oauth.ProviderTokenData)}
}

// Get implements oauth.TokenStore.
func (s *MemoryStore) Get(_ context.Context, provider, email string, _ oauth.TenantContext) (*oauth.ProviderTokenData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.tokens[accountKey(provider, email)]
	if !ok {
		return nil, nil
	}
	return copyToken(&data), nil
}

// Set implements oauth.TokenStore. Nil data deletes.
func (s *MemoryStore) Set(ctx context.Context, provider string, data *oauth.ProviderTokenData, email string, tenant oauth.TenantContext) error {
	if err := validateProvider(provider); err != nil {
		return storageErr("set", provider, err)
	}
	if data == nil {
		return s.Remove(ctx, provider, email, tenant)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountKey(provider, email)] = *copyToken(data)
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, provider, email string, _ oauth.TenantContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, accountKey(provider, email))
	return nil
}

// Len returns the number of stored credentials.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func copyToken(data *oauth.ProviderTokenData) *oauth.ProviderTokenData {
	out := *data
	if data.Scopes != nil {
		out.Scopes = append([]string(nil), data.Scopes...)
	}
	return &out
}
