package secretstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore holds secrets as per-key files with owner-only permissions.
// Writes use temp file + rename for crash safety. Intended as a fallback for
// hosts without a usable OS keyring (headless Linux without Secret Service).
type FileStore struct {
	dir string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &FileStore{dir: dir}, nil
}

// path maps a cache key onto a filesystem-safe file name. Keys contain
// characters (path separators, colons) that must not reach the filesystem.
func (f *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:16])+".secret")
}

// Set atomically writes the secret using temp file + rename with 0600
// permissions.
func (f *FileStore) Set(ctx context.Context, key, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write([]byte(secret)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := os.Chmod(tempName, 0600); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := os.Rename(tempName, f.path(key)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Get returns the stored secret. Returns ErrNotFound if no file exists for
// key, ErrPermissionDenied if the file has been widened beyond 0600.
func (f *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := f.path(key)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: key %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("%w: insecure permissions %04o on %s", ErrPermissionDenied, info.Mode().Perm(), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret file for key %s", ErrNotFound, key)
	}
	return secret, nil
}

// Delete removes the secret file. A missing file is not an error.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
