package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore holds secrets in the OS-native credential store.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringStore struct {
	service string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore scoped to the given service
// identifier. All keys written by this store live under that service.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore{service: service}, nil
}

// Set persists the secret in the system keyring, overwriting any existing value.
func (k *KeyringStore) Set(ctx context.Context, key, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Set(k.service, key, secret); err != nil {
		return classifyKeyringErr(err)
	}
	return nil
}

// Get returns the secret from the system keyring. An empty stored value is
// treated as absent.
func (k *KeyringStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret, err := keyring.Get(k.service, key)
	if err != nil {
		return "", classifyKeyringErr(err)
	}
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret for key %s", ErrNotFound, key)
	}
	return secret, nil
}

// Delete removes the secret from the system keyring. A missing key is not an
// error.
func (k *KeyringStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return classifyKeyringErr(err)
	}
	return nil
}

// classifyKeyringErr maps backend errors onto the store's error kinds so the
// token cache can tell a miss from a locked or missing secret service.
func classifyKeyringErr(err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
