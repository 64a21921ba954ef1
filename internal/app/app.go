// Package app wires the identity subsystem together: storage path, secret
// store, token cache, account store, and controller, all explicitly
// constructed and owned by one App instance.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/authflow"
	"github.com/identkit/dbident/internal/identity"
	"github.com/identkit/dbident/internal/secretstore"
	"github.com/identkit/dbident/internal/storagepath"
	"github.com/identkit/dbident/internal/tokencache"
)

// ErrIdentityUnavailable is returned by all identity operations when storage
// initialization failed. The subsystem degrades instead of crashing the host
// process; the cause is logged once at construction.
var ErrIdentityUnavailable = errors.New("identity features unavailable")

const (
	// keyringService scopes credential-store entries to this product.
	keyringService = "dbident"
	// metadataKeyName is the credential-store key holding the metadata
	// encryption key.
	metadataKeyName = "metadata-encryption-key"

	tokenDBFile   = "dbident.db"
	accountDBFile = "accounts.db"
	secretDirName = "secrets"
)

// App owns the identity subsystem for one process.
type App struct {
	cfg *Config

	cache      *tokencache.Cache
	accounts   *accountstore.Store
	controller *identity.Controller

	// degraded is set when storage initialization failed; all identity
	// operations then return ErrIdentityUnavailable.
	degraded bool
}

// New constructs the subsystem. Initialization happens once, here: flows and
// callers reuse the same cache, store, and controller instances afterwards.
// Storage failures (unresolvable platform, unwritable directory) yield a
// degraded App rather than an error; configuration errors are fatal.
func New(cfg *Config, prompter authflow.Prompter) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	root, err := storageRoot(cfg)
	if err != nil {
		slog.Warn("identity storage unavailable, identity features disabled", "error", err)
		return &App{cfg: cfg, degraded: true}, nil
	}

	secrets, err := newSecretStore(cfg, root)
	if err != nil {
		return nil, fmt.Errorf("creating credential store: %w", err)
	}

	cacheOpts, err := encryptionOptions(cfg, secrets)
	if err != nil {
		return nil, err
	}

	cache, err := tokencache.New(filepath.Join(root, tokenDBFile), secrets, cacheOpts...)
	if err != nil {
		slog.Warn("token cache unavailable, identity features disabled", "error", err)
		return &App{cfg: cfg, degraded: true}, nil
	}

	accounts, err := accountstore.New(filepath.Join(root, accountDBFile))
	if err != nil {
		_ = cache.Close()
		slog.Warn("account registry unavailable, identity features disabled", "error", err)
		return &App{cfg: cfg, degraded: true}, nil
	}

	controller, err := identity.New(cfg.Settings(), cfg.Auth.Method, cache, accounts, prompter)
	if err != nil {
		_ = cache.Close()
		_ = accounts.Close()
		return nil, fmt.Errorf("creating identity controller: %w", err)
	}

	return &App{
		cfg:        cfg,
		cache:      cache,
		accounts:   accounts,
		controller: controller,
	}, nil
}

// Degraded reports whether identity features are disabled.
func (a *App) Degraded() bool {
	return a.degraded
}

// Controller returns the identity controller, or ErrIdentityUnavailable in
// degraded mode.
func (a *App) Controller() (*identity.Controller, error) {
	if a.degraded {
		return nil, ErrIdentityUnavailable
	}
	return a.controller, nil
}

// Close releases all owned resources. The credential store is an OS-level
// shared resource and needs no teardown.
func (a *App) Close(ctx context.Context) error {
	if a.degraded {
		return nil
	}

	var errs []error
	if err := a.controller.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.accounts.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// storageRoot resolves and creates the directory holding identity state.
func storageRoot(cfg *Config) (string, error) {
	root := cfg.Storage.Root
	if root == "" {
		resolved, err := storagepath.TokenStoreRoot(runtime.GOOS)
		if err != nil {
			return "", err
		}
		root = resolved
	}
	if err := storagepath.EnsureDir(root); err != nil {
		return "", err
	}
	return root, nil
}

// newSecretStore creates the configured credential-store backend.
func newSecretStore(cfg *Config, root string) (secretstore.Store, error) {
	switch cfg.Storage.SecretBackend {
	case SecretBackendKeyring:
		return secretstore.NewKeyringStore(keyringService)
	case SecretBackendFile:
		return secretstore.NewFileStore(filepath.Join(root, secretDirName))
	default:
		return nil, fmt.Errorf("unsupported secret backend: %s", cfg.Storage.SecretBackend)
	}
}

// encryptionOptions loads or creates the metadata encryption key when
// encryption at rest is enabled. The key lives in the credential store, next
// to the refresh material it does not protect.
func encryptionOptions(cfg *Config, secrets secretstore.Store) ([]tokencache.Option, error) {
	if !cfg.Storage.EncryptMetadata {
		return nil, nil
	}

	ctx := context.Background()
	encoded, err := secrets.Get(ctx, metadataKeyName)
	switch {
	case err == nil:
	case errors.Is(err, secretstore.ErrNotFound):
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating metadata key: %w", err)
		}
		encoded = base64.StdEncoding.EncodeToString(key)
		if err := secrets.Set(ctx, metadataKeyName, encoded); err != nil {
			return nil, fmt.Errorf("storing metadata key: %w", err)
		}
	default:
		return nil, fmt.Errorf("loading metadata key: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata key: %w", err)
	}
	return []tokencache.Option{tokencache.WithEncryption(key)}, nil
}
