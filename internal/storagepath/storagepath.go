// Package storagepath resolves the platform-specific directory that holds
// persisted identity state (token metadata, account registry).
//
// Resolution is deterministic for a given OS and environment; directory
// creation is idempotent. Callers that fail to obtain a usable storage root
// are expected to disable identity features rather than abort the process.
package storagepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsupportedPlatform is returned when the host OS has no known
// application-data convention.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

const (
	// productDir is the fixed subdirectory under the platform base directory.
	productDir = "dbident"
	// aadDir separates Azure AD identity state from other product state.
	aadDir = "aad"
)

// Resolve returns the platform base directory for application data:
// roaming AppData on Windows, Application Support on macOS, XDG config home
// (or ~/.config) elsewhere.
func Resolve(goos string) (string, error) {
	switch goos {
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "AppData", "Roaming"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	case "linux", "freebsd", "openbsd", "netbsd", "solaris":
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, ".config"), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}

// TokenStoreRoot returns the directory that holds the token cache and
// account registry for the given OS.
func TokenStoreRoot(goos string) (string, error) {
	base, err := Resolve(goos)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, productDir, aadDir), nil
}

// EnsureDir creates path recursively with owner-only permissions.
// An existing directory is success, not failure.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("creating storage directory %s: %w", path, err)
	}
	return nil
}
