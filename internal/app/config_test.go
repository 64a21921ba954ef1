package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identkit/dbident/internal/accountstore"
)

func validConfig() *Config {
	cfg := &Config{}
	_ = cfg.ApplyDefaults()
	cfg.Provider.ClientID = "11111111-2222-3333-4444-555555555555"
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, DefaultConfigLogFormat, cfg.LogFormat)
	assert.Equal(t, DefaultConfigAuthority, cfg.Provider.Authority)
	assert.Equal(t, DefaultConfigDefaultResource, cfg.Provider.DefaultResource)
	assert.Equal(t, DefaultConfigAuthMethod, cfg.Auth.Method)
	assert.Equal(t, DefaultConfigSecretBackend, cfg.Storage.SecretBackend)
	assert.Equal(t, DefaultConfigLoginTimeout, cfg.Auth.LoginTimeout)
	assert.Equal(t, DefaultConfigRefreshTimeout, cfg.Auth.RefreshTimeout)
	assert.Contains(t, cfg.Provider.Resources, "sql")
	assert.Contains(t, cfg.Provider.Scopes, "offline_access")
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Provider.Authority = "https://login.example.test"
	cfg.Auth.Method = accountstore.AuthTypeDeviceCode
	cfg.Auth.LoginTimeout = time.Minute
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, "https://login.example.test", cfg.Provider.Authority)
	assert.Equal(t, accountstore.AuthTypeDeviceCode, cfg.Auth.Method)
	assert.Equal(t, time.Minute, cfg.Auth.LoginTimeout)
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingClientID(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.ClientID = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownAuthMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Method = "implicit"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSecretBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.SecretBackend = "vault"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnmappedDefaultResource(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.DefaultResource = "blob"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_resource")
}

func TestSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.RedirectPort = 8976

	settings := cfg.Settings()
	assert.Equal(t, cfg.Provider.ClientID, settings.ClientID)
	assert.Equal(t, 8976, settings.RedirectPort)
	assert.Equal(t, DefaultConfigExpirySlack, settings.ExpirySlack)
	assert.Equal(t, "https://database.windows.net/", settings.DefaultResourceID())
}
