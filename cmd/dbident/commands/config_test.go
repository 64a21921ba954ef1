package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/app"
)

func TestLoadConfigFromEnv(t *testing.T) {
	environ := func() []string {
		return []string{
			"DBIDENT_PROVIDER__CLIENT_ID=env-client",
			"DBIDENT_AUTH__METHOD=devicecode",
			"UNRELATED=ignored",
		}
	}

	cfg, err := loadConfig("", nil, environ)
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Provider.ClientID)
	assert.Equal(t, accountstore.AuthTypeDeviceCode, cfg.Auth.Method)
	// Untouched fields fall back to defaults.
	assert.Equal(t, app.DefaultConfigAuthority, cfg.Provider.Authority)
	assert.Equal(t, app.DefaultConfigSecretBackend, cfg.Storage.SecretBackend)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[provider]
client_id = "file-client"
authority = "https://login.example.test"

[storage]
secret_backend = "file"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	environ := func() []string {
		return []string{"DBIDENT_PROVIDER__CLIENT_ID=env-client"}
	}

	cfg, err := loadConfig(path, nil, environ)
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Provider.ClientID, "environment wins over file")
	assert.Equal(t, "https://login.example.test", cfg.Provider.Authority)
	assert.Equal(t, app.SecretBackendFile, cfg.Storage.SecretBackend)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	// No client_id from any source.
	_, err := loadConfig("", nil, func() []string { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"), nil, func() []string { return nil })
	assert.Error(t, err)
}
