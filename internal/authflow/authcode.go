package authflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/tokencache"
)

// AuthCodeFlow implements the authorization-code grant with PKCE. The user
// authenticates in a browser; the local callback listener receives the
// provider's redirect carrying the authorization code.
type AuthCodeFlow struct {
	base
	listener *CallbackListener
}

// Compile-time check to ensure AuthCodeFlow implements Flow
var _ Flow = (*AuthCodeFlow)(nil)

// NewAuthCodeFlow creates the flow. The listener is owned by the controller
// and shared across logins; it must be started before Login is called.
func NewAuthCodeFlow(settings Settings, cache *tokencache.Cache, accounts *accountstore.Store, prompter Prompter, listener *CallbackListener) *AuthCodeFlow {
	return &AuthCodeFlow{
		base:     newBase(settings, cache, accounts, prompter),
		listener: listener,
	}
}

// Login opens the provider's sign-in page in a browser and blocks until the
// callback delivers an authorization code, the context is cancelled, or the
// login window elapses. The code is then exchanged and persisted.
func (f *AuthCodeFlow) Login(ctx context.Context) (*accountstore.Account, error) {
	if !f.listener.Started() {
		return nil, fmt.Errorf("callback listener not started")
	}

	ctx, cancel := context.WithTimeout(ctx, f.settings.LoginTimeout)
	defer cancel()

	f.setState(StateAwaitingUserAction)

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	cfg := f.settings.oauthConfig(f.settings.Tenant, f.settings.DefaultResourceID(), f.listener.RedirectURI())

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	f.prompter.ShowInfo("Complete sign-in in your browser: " + authURL)
	if err := openBrowser(authURL); err != nil {
		// The URL was already surfaced; the user can open it manually.
		f.prompter.ShowInfo("Could not open a browser automatically.")
	}

	code, err := f.listener.Wait(ctx, state)
	if err != nil {
		return nil, f.failLogin(ctx, err)
	}

	f.setState(StateExchanging)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, f.failLogin(ctx, fmt.Errorf("%w: %w", ErrExchangeFailed, err))
	}

	account, err := f.persistLogin(ctx, tok, accountstore.AuthTypeAuthCodeGrant)
	if err != nil {
		return nil, f.failLogin(ctx, err)
	}

	// Terminal success; the next Login call moves the machine out of
	// Authenticated again.
	f.setState(StateAuthenticated)
	return account, nil
}
