package authflow

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/tokencache"
)

// DeviceCodeFlow implements the device-code grant for input-constrained
// sessions: the user enters a short code on a second device while this
// process polls the token endpoint at the provider-specified interval.
type DeviceCodeFlow struct {
	base
}

// Compile-time check to ensure DeviceCodeFlow implements Flow
var _ Flow = (*DeviceCodeFlow)(nil)

// NewDeviceCodeFlow creates the flow.
func NewDeviceCodeFlow(settings Settings, cache *tokencache.Cache, accounts *accountstore.Store, prompter Prompter) *DeviceCodeFlow {
	return &DeviceCodeFlow{
		base: newBase(settings, cache, accounts, prompter),
	}
}

// Login requests a device code, surfaces the user code through the prompter,
// and polls until the user approves, denies, the context is cancelled, or
// the login window elapses. Cancellation stops the polling loop immediately;
// provider-side state simply expires.
func (f *DeviceCodeFlow) Login(ctx context.Context) (*accountstore.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, f.settings.LoginTimeout)
	defer cancel()

	cfg := f.settings.oauthConfig(f.settings.Tenant, f.settings.DefaultResourceID(), "")

	response, err := cfg.DeviceAuth(ctx)
	if err != nil {
		f.setState(StateFailed)
		return nil, fmt.Errorf("%w: requesting device code: %w", ErrExchangeFailed, err)
	}

	f.setState(StateAwaitingUserAction)
	f.prompter.ShowDeviceCodeMessage(response.UserCode, response.VerificationURI)

	// DeviceAccessToken polls at the provider-specified interval and honors
	// both the response's expiry and our context deadline.
	tok, err := cfg.DeviceAccessToken(ctx, response)
	if err != nil {
		return nil, f.failLogin(ctx, classifyDeviceErr(err))
	}

	f.setState(StateExchanging)
	account, err := f.persistLogin(ctx, tok, accountstore.AuthTypeDeviceCode)
	if err != nil {
		return nil, f.failLogin(ctx, err)
	}

	f.setState(StateAuthenticated)
	return account, nil
}

// classifyDeviceErr maps provider polling terminations onto the flow's typed
// errors.
func classifyDeviceErr(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "authorization_declined", "access_denied":
			return fmt.Errorf("%w: user declined sign-in", ErrLoginCancelled)
		case "expired_token":
			return fmt.Errorf("%w: device code expired", ErrLoginTimedOut)
		}
	}
	return err
}
