package accountstore

import (
	"fmt"
	"time"
)

// AuthType identifies which login flow created an account. Refresh always
// dispatches on the account's recorded AuthType, never on the currently
// configured flow.
type AuthType string

const (
	AuthTypeAuthCodeGrant AuthType = "authcode"
	AuthTypeDeviceCode    AuthType = "devicecode"
)

// Valid reports whether t is a known auth type.
func (t AuthType) Valid() bool {
	switch t {
	case AuthTypeAuthCodeGrant, AuthTypeDeviceCode:
		return true
	}
	return false
}

// Tenant is one directory the account is authorized in.
type Tenant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	// Home marks the primary/default tenant. Every account has at least one.
	Home bool `json:"home,omitempty"`
}

// DisplayInfo carries the human-readable identity fields shown in listing UIs.
type DisplayInfo struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Account is one signed-in identity. Created by a successful login, replaced
// wholesale (same Key) on every successful refresh. Never silently deleted:
// an account whose refresh material is revoked is marked stale and kept until
// the user explicitly removes it.
type Account struct {
	// Key is the stable unique identifier, the store's primary key.
	Key         string      `json:"key"`
	DisplayInfo DisplayInfo `json:"display_info"`
	AuthType    AuthType    `json:"auth_type"`
	Tenants     []Tenant    `json:"tenants"`
	// IsStale is set when a refresh fails because the provider revoked the
	// refresh token. A stale account requires fresh interactive login.
	IsStale   bool      `json:"is_stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HomeTenant returns the tenant marked as home.
func (a *Account) HomeTenant() (Tenant, error) {
	for _, t := range a.Tenants {
		if t.Home {
			return t, nil
		}
	}
	return Tenant{}, fmt.Errorf("account %s has no home tenant", a.Key)
}

// Validate checks the invariants a store entry must satisfy.
func (a *Account) Validate() error {
	if a.Key == "" {
		return fmt.Errorf("account key cannot be empty")
	}
	if !a.AuthType.Valid() {
		return fmt.Errorf("unknown auth type: %s", a.AuthType)
	}
	if _, err := a.HomeTenant(); err != nil {
		return err
	}
	return nil
}
