package identity

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identkit/dbident/internal/accountstore"
	"github.com/identkit/dbident/internal/authflow"
	"github.com/identkit/dbident/internal/secretstore"
	"github.com/identkit/dbident/internal/tokencache"
)

const (
	testTenant   = "72f988bf-86f1-41af-91ab-2d7cd011db47"
	testResource = "https://database.windows.net/"
)

// fakeFlow is a scriptable Flow for controller tests.
type fakeFlow struct {
	refreshCalls atomic.Int64
	refreshDelay time.Duration
	refreshErr   error
	token        string
}

var _ authflow.Flow = (*fakeFlow)(nil)

func (f *fakeFlow) Login(ctx context.Context) (*accountstore.Account, error) {
	return testAccount(accountstore.AuthTypeAuthCodeGrant), nil
}

func (f *fakeFlow) Refresh(ctx context.Context, account *accountstore.Account) (*accountstore.Account, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return account, nil
}

func (f *fakeFlow) SecurityToken(ctx context.Context, account *accountstore.Account, tenantID, resource string) (*tokencache.Entry, error) {
	return &tokencache.Entry{
		AccessToken:  f.token,
		ExpiresAt:    time.Now().Add(time.Hour),
		RefreshToken: "refresh",
	}, nil
}

func (f *fakeFlow) HomeTenant(account *accountstore.Account) (accountstore.Tenant, error) {
	return account.HomeTenant()
}

func (f *fakeFlow) State() authflow.FlowState { return authflow.StateIdle }

func testAccount(authType accountstore.AuthType) *accountstore.Account {
	return &accountstore.Account{
		Key:         "user.one@contoso.com",
		DisplayInfo: accountstore.DisplayInfo{Email: "user.one@contoso.com"},
		AuthType:    authType,
		Tenants:     []accountstore.Tenant{{ID: testTenant, Home: true}},
		UpdatedAt:   time.Now().UTC(),
	}
}

func testSettings() authflow.Settings {
	return authflow.Settings{
		Authority:       "https://login.microsoftonline.com",
		ClientID:        "client",
		Scopes:          []string{"openid", "profile", "offline_access"},
		Resources:       map[string]string{"sql": testResource},
		DefaultResource: "sql",
		LoginTimeout:    time.Minute,
		RefreshTimeout:  30 * time.Second,
	}
}

// setupController wires a controller over temp stores with a scriptable flow
// factory.
func setupController(t *testing.T, factory FlowFactory) (*Controller, *accountstore.Store) {
	t.Helper()

	dir := t.TempDir()
	cache, err := tokencache.New(filepath.Join(dir, "dbident.db"), secretstore.NewMemoryStore())
	require.NoError(t, err)
	accounts, err := accountstore.New(filepath.Join(dir, "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, cache.Close())
		assert.NoError(t, accounts.Close())
	})

	var opts []Option
	if factory != nil {
		opts = append(opts, WithFlowFactory(factory))
	}
	controller, err := New(testSettings(), accountstore.AuthTypeDeviceCode, cache, accounts, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, controller.Close(ctx))
	})

	return controller, accounts
}

func TestRefreshTokenUnknownAccount(t *testing.T) {
	flow := &fakeFlow{token: "tok"}
	controller, _ := setupController(t, func(accountstore.AuthType) (authflow.Flow, error) {
		return flow, nil
	})

	_, err := controller.RefreshToken(context.Background(), "nobody@contoso.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Zero(t, flow.refreshCalls.Load(), "no exchange for unresolvable account")
}

func TestRefreshTokenDispatchesByAccountAuthType(t *testing.T) {
	var requested []accountstore.AuthType
	flow := &fakeFlow{token: "tok"}
	controller, accounts := setupController(t, func(authType accountstore.AuthType) (authflow.Flow, error) {
		requested = append(requested, authType)
		return flow, nil
	})

	// Account created under the auth-code grant; the controller is currently
	// configured for device code.
	require.NoError(t, accounts.Add(context.Background(), testAccount(accountstore.AuthTypeAuthCodeGrant)))

	token, err := controller.RefreshToken(context.Background(), "user.one@contoso.com")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	require.Len(t, requested, 1)
	assert.Equal(t, accountstore.AuthTypeAuthCodeGrant, requested[0])
}

func TestRefreshTokenSingleFlight(t *testing.T) {
	flow := &fakeFlow{token: "tok", refreshDelay: 100 * time.Millisecond}
	controller, accounts := setupController(t, func(accountstore.AuthType) (authflow.Flow, error) {
		return flow, nil
	})
	require.NoError(t, accounts.Add(context.Background(), testAccount(accountstore.AuthTypeDeviceCode)))

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = controller.RefreshToken(context.Background(), "user.one@contoso.com")
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok", tokens[i], "all callers share the in-flight result")
	}
	assert.EqualValues(t, 1, flow.refreshCalls.Load(), "exactly one exchange issued")
}

func TestRefreshTokenPropagatesReauthRequired(t *testing.T) {
	flow := &fakeFlow{refreshErr: authflow.ErrReauthenticationRequired}
	controller, accounts := setupController(t, func(accountstore.AuthType) (authflow.Flow, error) {
		return flow, nil
	})
	require.NoError(t, accounts.Add(context.Background(), testAccount(accountstore.AuthTypeDeviceCode)))

	_, err := controller.RefreshToken(context.Background(), "user.one@contoso.com")
	assert.ErrorIs(t, err, authflow.ErrReauthenticationRequired)
}

func TestGetTokensFillsProfile(t *testing.T) {
	flow := &fakeFlow{token: "profile-token"}
	controller, _ := setupController(t, func(accountstore.AuthType) (authflow.Flow, error) {
		return flow, nil
	})

	profile := &Profile{}
	require.NoError(t, controller.GetTokens(context.Background(), profile))
	assert.Equal(t, "user.one@contoso.com", profile.AccountID)
	assert.Equal(t, "user.one@contoso.com", profile.Email)
	assert.Equal(t, "profile-token", profile.Token)
}

func TestGetTokensRejectsUnknownResource(t *testing.T) {
	flow := &fakeFlow{token: "tok"}
	controller, _ := setupController(t, func(accountstore.AuthType) (authflow.Flow, error) {
		return flow, nil
	})

	profile := &Profile{Resource: "blob"}
	err := controller.GetTokens(context.Background(), profile)
	assert.ErrorContains(t, err, "unknown resource")
}

func TestNewRejectsUnknownAuthType(t *testing.T) {
	dir := t.TempDir()
	cache, err := tokencache.New(filepath.Join(dir, "dbident.db"), secretstore.NewMemoryStore())
	require.NoError(t, err)
	defer cache.Close()
	accounts, err := accountstore.New(filepath.Join(dir, "accounts.db"))
	require.NoError(t, err)
	defer accounts.Close()

	_, err = New(testSettings(), "implicit", cache, accounts, nil)
	assert.Error(t, err)
}
