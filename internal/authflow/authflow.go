package authflow

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/tokencache"
)

// FlowState is the current position of a flow in its state machine.
type FlowState int32

const (
	StateIdle FlowState = iota
	StateAwaitingUserAction
	StateExchanging
	StateAuthenticated
	StateFailed
	StateTimedOut
)

// String returns the state name for logging.
func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUserAction:
		return "awaiting_user_action"
	case StateExchanging:
		return "exchanging"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Flow is the capability set shared by both login strategies.
type Flow interface {
	// Login runs the interactive flow and returns the signed-in account.
	// Blocks until the user completes, cancels, or the login window elapses.
	Login(ctx context.Context) (*accountstore.Account, error)

	// Refresh obtains a new access/refresh pair for the account without user
	// interaction, rotating the persisted refresh material. Returns
	// ErrReauthenticationRequired (and marks the account stale) if the
	// provider revoked the refresh token.
	Refresh(ctx context.Context, account *accountstore.Account) (*accountstore.Account, error)

	// SecurityToken returns an access token for the account scoped to the
	// given tenant and resource, refreshing through the cached refresh
	// material when the cached access token is missing or expired.
	SecurityToken(ctx context.Context, account *accountstore.Account, tenantID, resource string) (*tokencache.Entry, error)

	// HomeTenant returns the account's primary tenant.
	HomeTenant(account *accountstore.Account) (accountstore.Tenant, error)

	// State reports the flow's current state-machine position.
	State() FlowState
}

// Prompter is the interactive-prompt collaborator. Notifications are
// fire-and-forget; the flows depend on nothing beyond acknowledgement.
type Prompter interface {
	ShowDeviceCodeMessage(userCode, verificationURL string)
	ShowError(message string)
	ShowInfo(message string)
}

// NopPrompter discards all notifications. Used where no UI is attached.
type NopPrompter struct{}

var _ Prompter = NopPrompter{}

func (NopPrompter) ShowDeviceCodeMessage(string, string) {}
func (NopPrompter) ShowError(string)                     {}
func (NopPrompter) ShowInfo(string)                      {}

// Settings is the read-only provider configuration consumed by both flows.
type Settings struct {
	// Authority is the identity provider base, e.g. https://login.microsoftonline.com.
	Authority string
	// ClientID is the public client identifier (no secret, PKCE).
	ClientID string
	// Tenant pins interactive sign-in to a tenant. Empty signs in against the
	// provider's common endpoint.
	Tenant string
	// Scopes are the base OpenID scopes requested on every login.
	Scopes []string
	// Resources maps short resource names to their identifier URIs.
	Resources map[string]string
	// DefaultResource is the short name of the resource requested at login.
	DefaultResource string
	// RedirectPort for the local callback listener; 0 picks an ephemeral port.
	RedirectPort int
	// LoginTimeout bounds the interactive wait window.
	LoginTimeout time.Duration
	// RefreshTimeout bounds a single silent token exchange.
	RefreshTimeout time.Duration
	// ExpirySlack treats tokens this close to expiry as already expired.
	ExpirySlack time.Duration
}

// DefaultResourceID returns the identifier URI of the default resource.
func (s Settings) DefaultResourceID() string {
	return s.Resources[s.DefaultResource]
}

// endpoint returns the OAuth2 endpoints for a tenant under this authority.
// Azure AD token endpoints are tenant-scoped. AuthStyle is pinned to
// in-params (the v2.0 endpoint's style for public clients) so x/oauth2 never
// probes by re-sending a failed exchange with the alternate client-auth
// style; a revoked refresh token must reach the provider exactly once.
func (s Settings) endpoint(tenantID string) oauth2.Endpoint {
	if s.Authority == "" || strings.HasPrefix(s.Authority, "https://login.microsoftonline.com") {
		endpoint := microsoft.AzureADEndpoint(tenantID)
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		return endpoint
	}
	base := strings.TrimSuffix(s.Authority, "/")
	if tenantID == "" {
		tenantID = "common"
	}
	return oauth2.Endpoint{
		AuthURL:       base + "/" + tenantID + "/oauth2/v2.0/authorize",
		TokenURL:      base + "/" + tenantID + "/oauth2/v2.0/token",
		DeviceAuthURL: base + "/" + tenantID + "/oauth2/v2.0/devicecode",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}

// oauthConfig builds the oauth2 client configuration for a tenant and
// resource. The resource is requested via its ".default" scope alongside the
// base OpenID scopes.
func (s Settings) oauthConfig(tenantID, resource, redirectURI string) *oauth2.Config {
	scopes := make([]string, 0, len(s.Scopes)+1)
	scopes = append(scopes, s.Scopes...)
	if resource != "" {
		scopes = append(scopes, strings.TrimSuffix(resource, "/")+"/.default")
	}
	return &oauth2.Config{
		ClientID:    s.ClientID,
		Endpoint:    s.endpoint(tenantID),
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
}
