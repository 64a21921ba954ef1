package authflow

import "errors"

var (
	// ErrReauthenticationRequired means the provider revoked the refresh
	// token. The account has been marked stale; only a fresh interactive
	// login recovers it. Never retried automatically.
	ErrReauthenticationRequired = errors.New("reauthentication required")

	// ErrLoginTimedOut means the interactive wait window elapsed before the
	// user completed login. No partial state is persisted.
	ErrLoginTimedOut = errors.New("login timed out")

	// ErrLoginCancelled means the caller cancelled the interactive flow.
	// No partial state is persisted.
	ErrLoginCancelled = errors.New("login cancelled")

	// ErrExchangeFailed wraps transient provider or network failures that
	// survived bounded retry. Safe to retry later.
	ErrExchangeFailed = errors.New("token exchange failed")
)
