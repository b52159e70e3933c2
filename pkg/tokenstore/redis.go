package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"integrate/pkg/oauth"
)

// DefaultRedisKeyPrefix prefixes every key written by RedisCallbacks.
const DefaultRedisKeyPrefix = "integrate:tokens"

// redisRetention keeps refreshable tokens around after the access token
// expired so the refresh token stays usable.
const redisRetention = 30 * 24 * time.Hour

// RedisKey returns the key a credential is stored under:
// prefix:org:user:provider[:email]. Missing tenant parts are "_".
func RedisKey(prefix, provider, email string, tenant oauth.TenantContext) string {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	part := func(s string) string {
		if s == "" {
			return "_"
		}
		return s
	}
	parts := []string{prefix, part(tenant.OrganizationID), part(tenant.UserID), provider}
	if email != "" {
		parts = append(parts, email)
	}
	return strings.Join(parts, ":")
}

// RedisCallbacks returns CallbackStore callbacks backed by Redis. Keys carry
// the tenant, so one Redis serves every user of a multi-tenant server.
// Tokens without a refresh token expire with the access token.
func RedisCallbacks(client redis.UniversalClient, prefix string) Callbacks {
	return Callbacks{
		Get: func(ctx context.Context, provider, email string, tenant oauth.TenantContext) (*oauth.ProviderTokenData, error) {
			raw, err := client.Get(ctx, RedisKey(prefix, provider, email, tenant)).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get token: %w", err)
			}
			var data oauth.ProviderTokenData
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal token: %w", err)
			}
			return &data, nil
		},
		Set: func(ctx context.Context, provider string, data *oauth.ProviderTokenData, email string, tenant oauth.TenantContext) error {
			key := RedisKey(prefix, provider, email, tenant)
			if data == nil {
				return client.Del(ctx, key).Err()
			}
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("failed to marshal token: %w", err)
			}
			return client.Set(ctx, key, raw, redisTTL(data, time.Now())).Err()
		},
		Remove: func(ctx context.Context, provider, email string, tenant oauth.TenantContext) error {
			return client.Del(ctx, RedisKey(prefix, provider, email, tenant)).Err()
		},
	}
}

// redisTTL derives the key TTL; 0 means no expiry.
func redisTTL(data *oauth.ProviderTokenData, now time.Time) time.Duration {
	if data.ExpiresAt.IsZero() {
		return 0
	}
	if data.RefreshToken != "" {
		return redisRetention
	}
	ttl := data.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// Already expired; keep briefly so status reads report expiry.
		return time.Minute
	}
	return ttl
}

// NewRedisStore is a convenience for NewCallbackStore(RedisCallbacks(...)).
func NewRedisStore(client redis.UniversalClient, prefix string) *CallbackStore {
	store, _ := NewCallbackStore(RedisCallbacks(client, prefix))
	return store
}
