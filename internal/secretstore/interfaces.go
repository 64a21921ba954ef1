package secretstore

import (
	"context"
	"errors"
)

// Error kinds reported by Store implementations. Callers distinguish a plain
// miss from a broken backend: ErrNotFound means the key has no secret,
// ErrUnavailable means the backend is locked, missing, or unreachable and
// token operations must fail closed.
var (
	ErrNotFound         = errors.New("secret not found")
	ErrUnavailable      = errors.New("credential store unavailable")
	ErrPermissionDenied = errors.New("credential store access denied")
)

// Store reads and writes secrets addressed by opaque string keys scoped to
// this product. Concurrent access from multiple process instances is
// last-writer-wins.
type Store interface {
	// Set persists the secret under key, overwriting any existing value.
	Set(ctx context.Context, key, secret string) error

	// Get returns the secret for key. Returns ErrNotFound if no secret is
	// stored under key.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes the secret for key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
