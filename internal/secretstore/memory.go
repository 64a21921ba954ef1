package secretstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a process-local Store for tests. Contents are lost when the
// process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string

	// FailWrites makes Set report the store as unavailable. Used to exercise
	// fail-closed paths in callers.
	FailWrites bool
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

// Set stores the secret in memory.
func (m *MemoryStore) Set(ctx context.Context, key, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%w: writes disabled", ErrUnavailable)
	}
	m.secrets[key] = secret
	return nil
}

// Get returns the stored secret or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[key]
	if !ok || secret == "" {
		return "", fmt.Errorf("%w: key %s", ErrNotFound, key)
	}
	return secret, nil
}

// Delete removes the secret. A missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}

// Len reports the number of stored secrets.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}
