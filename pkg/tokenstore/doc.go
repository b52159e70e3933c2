// Package tokenstore provides the persistence backends for provider
// credentials.
//
// Every backend implements Store, which is oauth.TokenStore plus Remove.
// Credentials are keyed by (provider, email); the empty email is the
// default account. Backends are safe for concurrent use and isolate keys
// from each other: writing one provider never blocks or clobbers another.
//
//   - MemoryStore: process-local map, used in tests and as a fallback
//   - FileStore: one 0600 JSON file per key, atomic writes, cross-process
//     locking with gofrs/flock, change notification with fsnotify
//   - KeyringStore: the OS keychain through zalando/go-keyring
//   - CallbackStore: host-supplied functions receiving the TenantContext,
//     with RedisCallbacks as a ready-made multi-tenant implementation
//
// SECURITY: token values are never logged. Backend failures are returned
// as *oauth.StorageError so they are never mistaken for "log in again".
package tokenstore
