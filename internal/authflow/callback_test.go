package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestListener binds a listener on an ephemeral port and tears it down
// with the test.
func startTestListener(t *testing.T) *CallbackListener {
	t.Helper()

	listener := NewCallbackListener(0)
	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, listener.Shutdown(ctx))
	})
	return listener
}

// hitCallback simulates the provider redirect.
func hitCallback(t *testing.T, listener *CallbackListener, params url.Values) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?%s", listener.Port(), params.Encode()))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
}

func TestCallbackDeliversCode(t *testing.T) {
	listener := startTestListener(t)

	done := make(chan struct{})
	var code string
	var waitErr error
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		code, waitErr = listener.Wait(ctx, "expected-state")
	}()

	// Give Wait a moment to register its pending channel.
	require.Eventually(t, func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return listener.pending != nil
	}, time.Second, 10*time.Millisecond)

	hitCallback(t, listener, url.Values{"state": {"expected-state"}, "code": {"auth-code-123"}})

	<-done
	require.NoError(t, waitErr)
	assert.Equal(t, "auth-code-123", code)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	listener := startTestListener(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := listener.Wait(ctx, "expected-state")
		done <- err
	}()

	require.Eventually(t, func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return listener.pending != nil
	}, time.Second, 10*time.Millisecond)

	hitCallback(t, listener, url.Values{"state": {"forged"}, "code": {"auth-code-123"}})

	assert.ErrorContains(t, <-done, "state mismatch")
}

func TestCallbackSurfacesProviderError(t *testing.T) {
	listener := startTestListener(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := listener.Wait(ctx, "s")
		done <- err
	}()

	require.Eventually(t, func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return listener.pending != nil
	}, time.Second, 10*time.Millisecond)

	hitCallback(t, listener, url.Values{"error": {"access_denied"}, "error_description": {"user said no"}})

	assert.ErrorContains(t, <-done, "access_denied")
}

func TestWaitHonorsContextDeadline(t *testing.T) {
	listener := startTestListener(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := listener.Wait(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartTwiceFails(t *testing.T) {
	listener := startTestListener(t)

	err := listener.Start(context.Background())
	assert.ErrorIs(t, err, ErrListenerStarted)
	assert.True(t, listener.Started())
}

func TestRedirectURIUsesBoundPort(t *testing.T) {
	listener := startTestListener(t)

	assert.Equal(t, fmt.Sprintf("http://localhost:%d/callback", listener.Port()), listener.RedirectURI())
	assert.NotZero(t, listener.Port())
}

func TestCallbackWithoutPendingLoginConflicts(t *testing.T) {
	listener := startTestListener(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=x", listener.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
