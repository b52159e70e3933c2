package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"integrate/pkg/logging"
	"integrate/pkg/oauth"
)

// DefaultTokenStorageDir is the default directory for token files, relative
// to the user's home directory.
const DefaultTokenStorageDir = ".config/integrate/tokens"

const (
	lockTimeout       = 5 * time.Second
	lockRetryInterval = 50 * time.Millisecond
)

// FileStore persists one JSON file per (provider, email) key. It ignores
// the TenantContext.
//
// SECURITY: files are created 0600 inside a 0700 directory. Writes go
// through a temp file and rename so readers never see partial JSON, and a
// per-key flock serializes writers across processes.
type FileStore struct {
	dir string

	mu    sync.RWMutex
	names map[string]Change // hashed key -> provider/email, for Watch
}

// NewFileStore creates the storage directory if needed. An empty dir means
// ~/.config/integrate/tokens.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultTokenStorageDir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}
	return &FileStore{dir: dir, names: make(map[string]Change)}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) remember(provider, email string) string {
	key := hashedKey(provider, email)
	s.mu.Lock()
	s.names[key] = Change{Provider: provider, Email: email}
	s.mu.Unlock()
	return key
}

func (s *FileStore) tokenPath(key string) string { return filepath.Join(s.dir, key+".json") }
func (s *FileStore) lockPath(key string) string  { return filepath.Join(s.dir, key+".lock") }

// Track registers a (provider, email) pair so Watch can name changes made
// by other processes before this one touched the key.
func (s *FileStore) Track(provider, email string) {
	s.remember(provider, email)
}

// Get implements oauth.TokenStore.
func (s *FileStore) Get(ctx context.Context, provider, email string, _ oauth.TenantContext) (*oauth.ProviderTokenData, error) {
	key := s.remember(provider, email)

	var data *oauth.ProviderTokenData
	err := s.withLock(ctx, key, true, func() error {
		// #nosec G304 -- path is built from a hashed key, not user input
		raw, err := os.ReadFile(s.tokenPath(key))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		var stored oauth.ProviderTokenData
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal token: %w", err)
		}
		data = &stored
		return nil
	})
	if err != nil {
		return nil, storageErr("get", provider, err)
	}
	return data, nil
}

// Set implements oauth.TokenStore. Nil data deletes.
func (s *FileStore) Set(ctx context.Context, provider string, data *oauth.ProviderTokenData, email string, tenant oauth.TenantContext) error {
	if err := validateProvider(provider); err != nil {
		return storageErr("set", provider, err)
	}
	if data == nil {
		return s.Remove(ctx, provider, email, tenant)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return storageErr("set", provider, fmt.Errorf("failed to marshal token: %w", err))
	}

	key := s.remember(provider, email)
	err = s.withLock(ctx, key, false, func() error {
		return writeFileAtomic(s.tokenPath(key), raw)
	})
	if err != nil {
		logging.Audit("token_store_failed", "provider", provider, "error", err.Error())
		return storageErr("set", provider, err)
	}
	return nil
}

// Remove implements Store. Removing a missing key succeeds.
func (s *FileStore) Remove(ctx context.Context, provider, email string, _ oauth.TenantContext) error {
	key := s.remember(provider, email)
	err := s.withLock(ctx, key, false, func() error {
		if err := os.Remove(s.tokenPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
	return storageErr("remove", provider, err)
}

func (s *FileStore) withLock(ctx context.Context, key string, shared bool, fn func() error) error {
	fileLock := flock.New(s.lockPath(key))
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logging.Warn("TokenStore", "Failed to unlock %s: %v", fileLock.Path(), err)
		}
	}()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fileLock.TryRLockContext(lockCtx, lockRetryInterval)
	} else {
		locked, err = fileLock.TryLockContext(lockCtx, lockRetryInterval)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire token lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire token lock: timeout after %v", lockTimeout)
	}
	return fn()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	return os.Rename(tmpName, path)
}

// ChangeOp is the kind of external change seen by Watch.
type ChangeOp string

const (
	ChangeStored  ChangeOp = "stored"
	ChangeRemoved ChangeOp = "removed"
)

// Change describes a token file that changed on disk. Provider and Email are
// empty for keys this store has never seen.
type Change struct {
	Provider string
	Email    string
	Key      string
	Op       ChangeOp
}

// Watch reports token files created, rewritten or removed (by this or any
// other process) until ctx is done.
func (s *FileStore) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if change, ok := s.classify(event); ok {
					fn(change)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("TokenStore", err, "Token directory watcher error")
			}
		}
	}()

	logging.Debug("TokenStore", "Watching %s for token changes", s.dir)
	return nil
}

func (s *FileStore) classify(event fsnotify.Event) (Change, bool) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
		return Change{}, false
	}
	key := strings.TrimSuffix(name, ".json")

	var op ChangeOp
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		op = ChangeStored
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = ChangeRemoved
	default:
		return Change{}, false
	}

	s.mu.RLock()
	change := s.names[key]
	s.mu.RUnlock()
	change.Key = key
	change.Op = op
	return change, true
}
