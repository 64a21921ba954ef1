package app

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/authflow"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// SecretBackend represents the credential-store backends supported for
// refresh material.
type SecretBackend string

const (
	SecretBackendKeyring SecretBackend = "keyring"
	SecretBackendFile    SecretBackend = "file"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigAuthority       = "https://login.microsoftonline.com"
	DefaultConfigDefaultResource = "sql"
	DefaultConfigAuthMethod      = accountstore.AuthTypeAuthCodeGrant
	DefaultConfigSecretBackend   = SecretBackendKeyring
	DefaultConfigLoginTimeout    = 5 * time.Minute
	DefaultConfigRefreshTimeout  = 30 * time.Second
	DefaultConfigExpirySlack     = 2 * time.Minute
)

// DefaultConfigResources maps resource short names to identifier URIs.
var DefaultConfigResources = map[string]string{
	"sql": "https://database.windows.net/",
	"arm": "https://management.azure.com/",
}

// ProviderConfig holds the identity-provider settings consumed by both login
// flows.
type ProviderConfig struct {
	Authority string `json:"authority" validate:"required,url"`
	// ClientID is the registered public client (PKCE, no secret).
	ClientID string `json:"client_id" validate:"required"`
	// Tenant pins interactive sign-in to a tenant; empty uses the common
	// endpoint.
	Tenant          string            `json:"tenant,omitempty"`
	Scopes          []string          `json:"scopes"`
	Resources       map[string]string `json:"resources"`
	DefaultResource string            `json:"default_resource"`
	// RedirectPort for the auth-code callback listener; 0 picks an ephemeral
	// port.
	RedirectPort uint16 `json:"redirect_port"`
}

// AuthConfig represents how logins run and how long the subsystem waits.
type AuthConfig struct {
	Method accountstore.AuthType `json:"method" validate:"required,oneof=authcode devicecode"`

	// LoginTimeout bounds the interactive wait window.
	LoginTimeout time.Duration `json:"login_timeout"`
	// RefreshTimeout bounds a single silent exchange.
	RefreshTimeout time.Duration `json:"refresh_timeout"`
}

// StorageConfig holds where identity state is persisted.
type StorageConfig struct {
	// Root overrides the platform-resolved storage directory. Empty resolves
	// per platform convention.
	Root string `json:"root,omitempty"`

	SecretBackend SecretBackend `json:"secret_backend" validate:"required,oneof=keyring file"`

	// EncryptMetadata turns on AES-GCM encryption of the token metadata
	// file. The key is held in the credential store.
	EncryptMetadata bool `json:"encrypt_metadata"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Provider  ProviderConfig `json:"provider"`
	Auth      AuthConfig     `json:"auth"`
	Storage   StorageConfig  `json:"storage"`
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Provider.Authority == "" {
		c.Provider.Authority = DefaultConfigAuthority
	}
	if len(c.Provider.Scopes) == 0 {
		c.Provider.Scopes = []string{"openid", "profile", "offline_access"}
	}
	if len(c.Provider.Resources) == 0 {
		c.Provider.Resources = DefaultConfigResources
	}
	if c.Provider.DefaultResource == "" {
		c.Provider.DefaultResource = DefaultConfigDefaultResource
	}
	if c.Auth.Method == "" {
		c.Auth.Method = DefaultConfigAuthMethod
	}
	if c.Auth.LoginTimeout == 0 {
		c.Auth.LoginTimeout = DefaultConfigLoginTimeout
	}
	if c.Auth.RefreshTimeout == 0 {
		c.Auth.RefreshTimeout = DefaultConfigRefreshTimeout
	}
	if c.Storage.SecretBackend == "" {
		c.Storage.SecretBackend = DefaultConfigSecretBackend
	}
	return nil
}

// Validate validates the configuration using struct tags and cross-field
// rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if _, ok := c.Provider.Resources[c.Provider.DefaultResource]; !ok {
		return errors.New("default_resource must name an entry in provider.resources")
	}

	return nil
}

// Settings converts the provider and auth sections into the flow settings
// consumed by the identity controller.
func (c *Config) Settings() authflow.Settings {
	return authflow.Settings{
		Authority:       c.Provider.Authority,
		ClientID:        c.Provider.ClientID,
		Tenant:          c.Provider.Tenant,
		Scopes:          c.Provider.Scopes,
		Resources:       c.Provider.Resources,
		DefaultResource: c.Provider.DefaultResource,
		RedirectPort:    int(c.Provider.RedirectPort),
		LoginTimeout:    c.Auth.LoginTimeout,
		RefreshTimeout:  c.Auth.RefreshTimeout,
		ExpirySlack:     DefaultConfigExpirySlack,
	}
}
