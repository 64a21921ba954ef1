// Package secretstore provides keyed storage for sensitive refresh material.
//
// Supports three backends with different security and deployment tradeoffs:
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - File: per-key files with atomic writes and owner-only permissions
//   - Memory: process-local storage for tests
//
// The secret store is the sole source of truth for refresh tokens; the token
// cache's metadata file never holds secret material. Error kinds are
// distinguishable so callers can tell "no secret" from "store broken":
// a missing key is ErrNotFound, a locked or unreachable backend is
// ErrUnavailable.
package secretstore
