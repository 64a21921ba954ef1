package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/tokencache"
)

// base carries the state and persistence plumbing shared by both flow
// strategies.
type base struct {
	settings Settings
	cache    *tokencache.Cache
	accounts *accountstore.Store
	prompter Prompter

	state atomic.Int32
}

func newBase(settings Settings, cache *tokencache.Cache, accounts *accountstore.Store, prompter Prompter) base {
	if prompter == nil {
		prompter = NopPrompter{}
	}
	return base{
		settings: settings,
		cache:    cache,
		accounts: accounts,
		prompter: prompter,
	}
}

// State reports the flow's current state-machine position.
func (b *base) State() FlowState {
	return FlowState(b.state.Load())
}

func (b *base) setState(s FlowState) {
	b.state.Store(int32(s))
}

// HomeTenant returns the tenant marked as home on the account.
func (b *base) HomeTenant(account *accountstore.Account) (accountstore.Tenant, error) {
	return account.HomeTenant()
}

// failLogin classifies a login failure onto the flow's terminal states and
// typed errors. No partial state has been persisted at any failure point.
func (b *base) failLogin(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLoginTimedOut):
		b.setState(StateTimedOut)
		return fmt.Errorf("%w: %w", ErrLoginTimedOut, err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		b.setState(StateFailed)
		return fmt.Errorf("%w: %w", ErrLoginCancelled, err)
	default:
		b.setState(StateFailed)
		return err
	}
}

// persistLogin turns a successful token exchange into durable state: the
// account record first (every cached token must resolve to an account), then
// the cached token for the home tenant and default resource.
func (b *base) persistLogin(ctx context.Context, tok *oauth2.Token, authType accountstore.AuthType) (*accountstore.Account, error) {
	claims, err := tokenClaims(tok)
	if err != nil {
		return nil, fmt.Errorf("extracting identity claims: %w", err)
	}

	account := &accountstore.Account{
		Key: claims.AccountKey(),
		DisplayInfo: accountstore.DisplayInfo{
			Email:       claims.Email,
			DisplayName: claims.Name,
		},
		AuthType:  authType,
		Tenants:   []accountstore.Tenant{{ID: claims.TenantID, Home: true}},
		UpdatedAt: time.Now().UTC(),
	}
	if err := b.accounts.Add(ctx, account); err != nil {
		return nil, fmt.Errorf("persisting account: %w", err)
	}

	key := tokencache.Key{
		AccountKey: account.Key,
		Resource:   b.settings.DefaultResourceID(),
		TenantID:   claims.TenantID,
	}
	if err := b.cache.Save(ctx, key, entryFromToken(tok, "")); err != nil {
		return nil, fmt.Errorf("caching token: %w", err)
	}

	return account, nil
}

// Refresh obtains a new access/refresh pair for the account's home tenant
// and default resource without user interaction.
func (b *base) Refresh(ctx context.Context, account *accountstore.Account) (*accountstore.Account, error) {
	home, err := account.HomeTenant()
	if err != nil {
		return nil, err
	}

	key := tokencache.Key{
		AccountKey: account.Key,
		Resource:   b.settings.DefaultResourceID(),
		TenantID:   home.ID,
	}
	entry, err := b.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh material for account %s", ErrReauthenticationRequired, account.Key)
	}

	cfg := b.settings.oauthConfig(home.ID, b.settings.DefaultResourceID(), "")
	tok, err := b.exchangeRefresh(ctx, cfg, entry.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrReauthenticationRequired) {
			b.markStale(ctx, account)
		}
		return nil, err
	}

	if err := b.cache.Save(ctx, key, entryFromToken(tok, entry.RefreshToken)); err != nil {
		return nil, fmt.Errorf("caching refreshed token: %w", err)
	}

	refreshed := *account
	refreshed.IsStale = false
	refreshed.UpdatedAt = time.Now().UTC()
	if err := b.accounts.Add(ctx, &refreshed); err != nil {
		return nil, fmt.Errorf("persisting refreshed account: %w", err)
	}
	return &refreshed, nil
}

// SecurityToken returns an access token for the account scoped to the given
// tenant and resource. A cached, unexpired token is returned as is; otherwise
// the cached refresh material (for this key, falling back to the account's
// primary entry) drives a silent exchange.
func (b *base) SecurityToken(ctx context.Context, account *accountstore.Account, tenantID, resource string) (*tokencache.Entry, error) {
	key := tokencache.Key{AccountKey: account.Key, Resource: resource, TenantID: tenantID}
	entry, err := b.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil && !entry.Expired(b.settings.ExpirySlack) {
		return entry, nil
	}

	refreshToken := ""
	if entry != nil {
		refreshToken = entry.RefreshToken
	}
	if refreshToken == "" {
		// Azure AD refresh tokens span resources within an account: fall back
		// to the refresh material cached at login.
		home, err := account.HomeTenant()
		if err != nil {
			return nil, err
		}
		primary, err := b.cache.Get(ctx, tokencache.Key{
			AccountKey: account.Key,
			Resource:   b.settings.DefaultResourceID(),
			TenantID:   home.ID,
		})
		if err != nil {
			return nil, err
		}
		if primary != nil {
			refreshToken = primary.RefreshToken
		}
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh material for account %s", ErrReauthenticationRequired, account.Key)
	}

	cfg := b.settings.oauthConfig(tenantID, resource, "")
	tok, err := b.exchangeRefresh(ctx, cfg, refreshToken)
	if err != nil {
		if errors.Is(err, ErrReauthenticationRequired) {
			b.markStale(ctx, account)
		}
		return nil, err
	}

	fresh := entryFromToken(tok, refreshToken)
	if err := b.cache.Save(ctx, key, fresh); err != nil {
		return nil, fmt.Errorf("caching token: %w", err)
	}
	return fresh, nil
}

// exchangeRefresh performs one refresh-token exchange, bounded by the refresh
// timeout, retrying transient failures with capped exponential backoff.
// Provider responses that identify the refresh token as revoked are permanent
// and map to ErrReauthenticationRequired.
func (b *base) exchangeRefresh(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, b.settings.RefreshTimeout)
	defer cancel()

	operation := func() (*oauth2.Token, error) {
		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, classifyExchangeErr(err)
		}
		return tok, nil
	}

	tok, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		if errors.Is(err, ErrReauthenticationRequired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	return tok, nil
}

// classifyExchangeErr separates revocation (permanent, requires reauth) and
// other provider rejections (permanent, not worth retrying) from transient
// network failures (retried).
func classifyExchangeErr(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return err // transport-level, retry
	}
	switch retrieveErr.ErrorCode {
	case "invalid_grant", "invalid_token":
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrReauthenticationRequired, err))
	}
	if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
		return err // provider hiccup, retry
	}
	return backoff.Permanent(err)
}

// markStale records that the account's refresh material is irrecoverably
// invalid. The account is kept: removal is an explicit user action.
func (b *base) markStale(ctx context.Context, account *accountstore.Account) {
	stale := *account
	stale.IsStale = true
	stale.UpdatedAt = time.Now().UTC()
	if err := b.accounts.Add(ctx, &stale); err != nil {
		slog.ErrorContext(ctx, "failed to mark account stale", "account", account.Key, "error", err)
		return
	}
	account.IsStale = true
}

// entryFromToken converts an oauth2 token into a cache entry. Providers may
// omit the rotated refresh token; the previous one is kept in that case.
func entryFromToken(tok *oauth2.Token, previousRefresh string) *tokencache.Entry {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return &tokencache.Entry{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		RefreshToken: refresh,
	}
}
