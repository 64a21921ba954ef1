// Package accountstore persists the registry of known identity accounts.
//
// The registry lives in its own SQLite file, independent of the token cache,
// so account identity survives a token-cache reset or corruption.
package accountstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when no account exists for a key.
var ErrNotFound = errors.New("account not found")

// Store is a SQLite-backed account registry.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the account registry at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening account registry: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			key TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			auth_type TEXT NOT NULL,
			tenants TEXT NOT NULL,
			is_stale INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating accounts table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add upserts the account by key. The prior record is replaced entirely,
// there is no field-level merge.
func (s *Store) Add(ctx context.Context, account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	tenantsJSON, err := json.Marshal(account.Tenants)
	if err != nil {
		return fmt.Errorf("marshalling tenants: %w", err)
	}

	updatedAt := account.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (key, email, display_name, auth_type, tenants, is_stale, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			auth_type = excluded.auth_type,
			tenants = excluded.tenants,
			is_stale = excluded.is_stale,
			updated_at = excluded.updated_at
	`, account.Key, account.DisplayInfo.Email, account.DisplayInfo.DisplayName,
		string(account.AuthType), string(tenantsJSON), account.IsStale, updatedAt)
	if err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

// Get returns the account for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, email, display_name, auth_type, tenants, is_stale, updated_at
		FROM accounts WHERE key = ?
	`, key)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return account, err
}

// List returns all accounts in insertion order. The order carries no meaning
// beyond determinism for listing UIs.
func (s *Store) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, email, display_name, auth_type, tenants, is_stale, updated_at
		FROM accounts ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		account     Account
		authType    string
		tenantsJSON string
	)
	if err := row.Scan(&account.Key, &account.DisplayInfo.Email, &account.DisplayInfo.DisplayName,
		&authType, &tenantsJSON, &account.IsStale, &account.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	account.AuthType = AuthType(authType)
	if err := json.Unmarshal([]byte(tenantsJSON), &account.Tenants); err != nil {
		return nil, fmt.Errorf("unmarshalling tenants: %w", err)
	}
	return &account, nil
}
