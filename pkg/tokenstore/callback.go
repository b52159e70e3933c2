package tokenstore

import (
	"context"
	"errors"

	"integrate/pkg/oauth"
)

// GetFunc loads a credential; (nil, nil) means absent.
type GetFunc func(ctx context.Context, provider, email string, tenant oauth.TenantContext) (*oauth.ProviderTokenData, error)

// SetFunc stores a credential; nil data means delete.
type SetFunc func(ctx context.Context, provider string, data *oauth.ProviderTokenData, email string, tenant oauth.TenantContext) error

// RemoveFunc deletes a credential.
type RemoveFunc func(ctx context.Context, provider, email string, tenant oauth.TenantContext) error

// Callbacks is the host-supplied persistence for CallbackStore. Remove is
// optional.
type Callbacks struct {
	Get    GetFunc
	Set    SetFunc
	Remove RemoveFunc
}

// CallbackStore delegates to host callbacks, threading the TenantContext
// through every call. It is the backend for multi-tenant servers.
type CallbackStore struct {
	cb Callbacks
}

// NewCallbackStore validates cb and returns a store.
func NewCallbackStore(cb Callbacks) (*CallbackStore, error) {
	if cb.Get == nil || cb.Set == nil {
		return nil, errors.New("callback store requires Get and Set callbacks")
	}
	return &CallbackStore{cb: cb}, nil
}

// Get implements oauth.TokenStore.
func (s *CallbackStore) Get(ctx context.Context, provider, email string, tenant oauth.TenantContext) (*oauth.ProviderTokenData, error) {
	data, err := s.cb.Get(ctx, provider, email, tenant)
	if err != nil {
		return nil, wrapStorage("get", provider, err)
	}
	return data, nil
}

// Set implements oauth.TokenStore.
func (s *CallbackStore) Set(ctx context.Context, provider string, data *oauth.ProviderTokenData, email string, tenant oauth.TenantContext) error {
	return wrapStorage("set", provider, s.cb.Set(ctx, provider, data, email, tenant))
}

// Remove implements Store, falling back to Set(nil) without a Remove callback.
func (s *CallbackStore) Remove(ctx context.Context, provider, email string, tenant oauth.TenantContext) error {
	if s.cb.Remove == nil {
		return wrapStorage("remove", provider, s.cb.Set(ctx, provider, nil, email, tenant))
	}
	return wrapStorage("remove", provider, s.cb.Remove(ctx, provider, email, tenant))
}

func wrapStorage(op, provider string, err error) error {
	if err == nil {
		return nil
	}
	var serr *oauth.StorageError
	if errors.As(err, &serr) {
		return err
	}
	return storageErr(op, provider, err)
}
