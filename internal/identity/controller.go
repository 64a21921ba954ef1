// Package identity orchestrates the login flows, account registry, and token
// cache behind a single controller.
//
// The controller is explicitly constructed with its dependencies and owns the
// local callback listener for its lifetime. Refreshes are single-flight per
// account key: concurrent callers await the one in-flight exchange instead of
// issuing competing exchanges that would invalidate each other's rotated
// refresh tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/authflow"
	"github.com/identkit/dbident/internal/tokencache"
)

// ErrAccountNotFound is returned when a caller references an account key
// that is not in the account store. Reported before any network operation.
var ErrAccountNotFound = errors.New("account not found")

// FlowFactory builds the flow strategy for an auth type. Replaceable for
// tests.
type FlowFactory func(authType accountstore.AuthType) (authflow.Flow, error)

// Option configures a Controller.
type Option func(*Controller)

// WithFlowFactory overrides how flow strategies are constructed.
func WithFlowFactory(factory FlowFactory) Option {
	return func(c *Controller) {
		c.newFlow = factory
	}
}

// Controller drives login and refresh against the configured provider.
type Controller struct {
	settings   authflow.Settings
	configured accountstore.AuthType
	cache      *tokencache.Cache
	accounts   *accountstore.Store
	prompter   authflow.Prompter
	listener   *authflow.CallbackListener

	newFlow      FlowFactory
	refreshGroup singleflight.Group
}

// New creates a Controller. The token cache and account store are sibling
// dependencies owned by the caller; the callback listener is created here and
// owned by the controller.
func New(settings authflow.Settings, configured accountstore.AuthType, cache *tokencache.Cache, accounts *accountstore.Store, prompter authflow.Prompter, opts ...Option) (*Controller, error) {
	if !configured.Valid() {
		return nil, fmt.Errorf("unknown auth type: %s", configured)
	}
	if cache == nil || accounts == nil {
		return nil, fmt.Errorf("missing token cache or account store")
	}
	if prompter == nil {
		prompter = authflow.NopPrompter{}
	}

	c := &Controller{
		settings:   settings,
		configured: configured,
		cache:      cache,
		accounts:   accounts,
		prompter:   prompter,
		listener:   authflow.NewCallbackListener(settings.RedirectPort),
	}
	c.newFlow = c.buildFlow

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// buildFlow is the default flow factory.
func (c *Controller) buildFlow(authType accountstore.AuthType) (authflow.Flow, error) {
	switch authType {
	case accountstore.AuthTypeAuthCodeGrant:
		return authflow.NewAuthCodeFlow(c.settings, c.cache, c.accounts, c.prompter, c.listener), nil
	case accountstore.AuthTypeDeviceCode:
		return authflow.NewDeviceCodeFlow(c.settings, c.cache, c.accounts, c.prompter), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", authType)
	}
}

// ensureListener starts the callback listener once. The listener is a
// singleton for the controller's lifetime: a second start is a no-op reusing
// the already-bound port.
func (c *Controller) ensureListener(ctx context.Context) error {
	if c.listener.Started() {
		return nil
	}
	if err := c.listener.Start(ctx); err != nil && !errors.Is(err, authflow.ErrListenerStarted) {
		return err
	}
	return nil
}

// GetTokens runs the configured login flow and fills the profile's
// AccountID, Email, and Token fields for its requested resource and tenant.
func (c *Controller) GetTokens(ctx context.Context, profile *Profile) error {
	flow, err := c.newFlow(c.configured)
	if err != nil {
		return err
	}
	if c.configured == accountstore.AuthTypeAuthCodeGrant {
		if err := c.ensureListener(ctx); err != nil {
			return err
		}
	}

	account, err := flow.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	entry, err := c.securityToken(ctx, flow, account, profile)
	if err != nil {
		return err
	}

	profile.AccountID = account.Key
	profile.Email = account.DisplayInfo.Email
	profile.Token = entry.AccessToken
	return nil
}

// RefreshToken silently refreshes the given account and returns a usable
// access token. Dispatches by the account's recorded auth type, not the
// currently configured one: the account may have been created under a
// different flow. Concurrent calls for one account share a single exchange.
func (c *Controller) RefreshToken(ctx context.Context, accountKey string) (string, error) {
	account, err := c.accounts.Get(ctx, accountKey)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountKey)
		}
		return "", err
	}

	token, err, shared := c.refreshGroup.Do(account.Key, func() (any, error) {
		flow, err := c.newFlow(account.AuthType)
		if err != nil {
			return nil, err
		}

		refreshed, err := flow.Refresh(ctx, account)
		if err != nil {
			return nil, err
		}

		entry, err := c.securityToken(ctx, flow, refreshed, &Profile{})
		if err != nil {
			return nil, err
		}
		return entry.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		slog.DebugContext(ctx, "refresh coalesced with in-flight exchange", "account", accountKey)
	}
	return token.(string), nil
}

// securityToken resolves the profile's tenant and resource against the
// account and fetches the scoped token.
func (c *Controller) securityToken(ctx context.Context, flow authflow.Flow, account *accountstore.Account, profile *Profile) (*tokencache.Entry, error) {
	tenantID := profile.TenantID
	if tenantID == "" {
		home, err := flow.HomeTenant(account)
		if err != nil {
			return nil, err
		}
		tenantID = home.ID
	}

	resource := c.settings.DefaultResourceID()
	if profile.Resource != "" {
		id, ok := c.settings.Resources[profile.Resource]
		if !ok {
			return nil, fmt.Errorf("unknown resource: %s", profile.Resource)
		}
		resource = id
	}

	entry, err := flow.SecurityToken(ctx, account, tenantID, resource)
	if err != nil {
		return nil, fmt.Errorf("fetching security token: %w", err)
	}
	return entry, nil
}

// Accounts exposes the account registry for listing UIs.
func (c *Controller) Accounts() *accountstore.Store {
	return c.accounts
}

// Logout evicts the account's cached tokens across all of its tenants and
// the configured resources. The account record is kept; accounts are never
// silently deleted.
func (c *Controller) Logout(ctx context.Context, accountKey string) error {
	account, err := c.accounts.Get(ctx, accountKey)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, accountKey)
		}
		return err
	}

	for _, tenant := range account.Tenants {
		for _, resource := range c.settings.Resources {
			key := tokencache.Key{AccountKey: account.Key, Resource: resource, TenantID: tenant.ID}
			if err := c.cache.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the controller's resources (the callback listener).
func (c *Controller) Close(ctx context.Context) error {
	return c.listener.Shutdown(ctx)
}
