// Package tokencache persists cached access tokens for (account, resource,
// tenant) triples.
//
// Non-secret fields (access token, expiry) live in a SQLite metadata file at
// the resolved storage root; the refresh token lives only in the secure
// credential store under the same composite key. The credential store is the
// sole source of truth for secret material: metadata with no matching secret
// is treated as absent, and a failed secret write rolls the metadata write
// back so a reader never observes half a token.
package tokencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/identkit/dbident/internal/secretstore"
)

// Key addresses one cached token: the account it belongs to, the resource it
// grants access to, and the tenant it was issued for.
type Key struct {
	AccountKey string
	Resource   string
	TenantID   string
}

// String returns the composite cache key used for both the metadata row and
// the credential-store entry.
func (k Key) String() string {
	return strings.Join([]string{k.AccountKey, k.Resource, k.TenantID}, "/")
}

// Entry is one cached access/refresh token pair. RefreshToken is never
// written to the metadata file.
type Entry struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken string
}

// Expired reports whether the access token's expiry has passed, with slack
// subtracted so a token about to expire is refreshed before use. Expiry is
// advisory: an expired entry is still returned by Get, the caller decides
// whether to force a refresh.
func (e *Entry) Expired(slack time.Duration) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt.Add(-slack))
}

// Option configures a Cache.
type Option func(*Cache) error

// WithEncryption enables AES-GCM encryption of the access-token column using
// the given 16/24/32-byte key. Refresh material is unaffected: it never
// reaches the metadata file in the first place.
func WithEncryption(key []byte) Option {
	return func(c *Cache) error {
		box, err := newSealer(key)
		if err != nil {
			return fmt.Errorf("configuring metadata encryption: %w", err)
		}
		c.sealer = box
		return nil
	}
}

// Cache is the token persistence layer.
type Cache struct {
	db      *sql.DB
	secrets secretstore.Store
	sealer  *sealer
}

// New opens (creating if necessary) the metadata file at dbPath, backed by
// the given credential store for secret material.
func New(dbPath string, secrets secretstore.Store, opts ...Option) (*Cache, error) {
	if secrets == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening token metadata: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tokens (
			cache_key TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			expires_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating tokens table: %w", err)
	}

	c := &Cache{db: db, secrets: secrets}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close closes the metadata file. The credential store is a shared OS
// resource and is not owned by the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached token for key, or nil if absent. Metadata without a
// matching secret counts as absent; a partial token is never synthesized.
// A broken credential store surfaces as an error, not a miss.
func (c *Cache) Get(ctx context.Context, key Key) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT access_token, token_type, expires_at FROM tokens WHERE cache_key = ?
	`, key.String())

	var entry Entry
	if err := row.Scan(&entry.AccessToken, &entry.TokenType, &entry.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token metadata: %w", err)
	}

	if c.sealer != nil {
		plain, err := c.sealer.open(entry.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("decrypting token metadata: %w", err)
		}
		entry.AccessToken = plain
	}

	refresh, err := c.secrets.Get(ctx, key.String())
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading refresh secret: %w", err)
	}
	entry.RefreshToken = refresh

	return &entry, nil
}

// Save writes the non-secret fields to metadata and the refresh token to the
// credential store. On a secret-store failure the metadata write is rolled
// back so Get never observes one half without the other.
func (c *Cache) Save(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil || entry.AccessToken == "" {
		return fmt.Errorf("cannot cache empty token")
	}
	if entry.RefreshToken == "" {
		return fmt.Errorf("cannot cache token without refresh material")
	}

	prior, err := c.readRow(ctx, key)
	if err != nil {
		return err
	}

	accessToken := entry.AccessToken
	if c.sealer != nil {
		accessToken, err = c.sealer.seal(entry.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypting token metadata: %w", err)
		}
	}

	tokenType := entry.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO tokens (cache_key, access_token, token_type, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key.String(), accessToken, tokenType, entry.ExpiresAt.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("writing token metadata: %w", err)
	}

	if err := c.secrets.Set(ctx, key.String(), entry.RefreshToken); err != nil {
		c.rollbackRow(ctx, key, prior)
		return fmt.Errorf("writing refresh secret: %w", err)
	}

	return nil
}

// Remove deletes both halves of the cached token. Missing either half is not
// an error.
func (c *Cache) Remove(ctx context.Context, key Key) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM tokens WHERE cache_key = ?`, key.String()); err != nil {
		return fmt.Errorf("deleting token metadata: %w", err)
	}
	if err := c.secrets.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("deleting refresh secret: %w", err)
	}
	return nil
}

// metadataRow is a raw metadata snapshot used for rollback. AccessToken is in
// its stored (possibly encrypted) form.
type metadataRow struct {
	accessToken string
	tokenType   string
	expiresAt   time.Time
	updatedAt   time.Time
}

func (c *Cache) readRow(ctx context.Context, key Key) (*metadataRow, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT access_token, token_type, expires_at, updated_at FROM tokens WHERE cache_key = ?
	`, key.String())

	var m metadataRow
	if err := row.Scan(&m.accessToken, &m.tokenType, &m.expiresAt, &m.updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token metadata: %w", err)
	}
	return &m, nil
}

// rollbackRow restores the pre-Save metadata state after a failed secret
// write. Best effort: the bounded inconsistency window closes on the next
// Save or Remove for the key.
func (c *Cache) rollbackRow(ctx context.Context, key Key, prior *metadataRow) {
	if prior == nil {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM tokens WHERE cache_key = ?`, key.String())
		return
	}
	_, _ = c.db.ExecContext(ctx, `
		INSERT INTO tokens (cache_key, access_token, token_type, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key.String(), prior.accessToken, prior.tokenType, prior.expiresAt, prior.updatedAt)
}
