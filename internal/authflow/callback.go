package authflow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httplog/v3"
)

// ErrListenerStarted is returned when Start is called on a listener that is
// already bound.
var ErrListenerStarted = errors.New("callback listener already started")

// callbackResult is what one redirect delivers: an authorization code or a
// provider error.
type callbackResult struct {
	code string
	err  error
}

// CallbackListener receives the provider's redirect after interactive
// browser login. It binds a loopback port once per controller lifetime and
// hands each authorization code to the single in-flight Wait call.
type CallbackListener struct {
	mu       sync.Mutex
	port     int
	server   *http.Server
	listener net.Listener

	// pending is the single-shot waiter registered by Wait. The handler
	// rejects callbacks when no login is in flight.
	pending      chan callbackResult
	pendingState string
}

// NewCallbackListener creates an unbound listener. Port 0 selects an
// ephemeral port at Start.
func NewCallbackListener(port int) *CallbackListener {
	return &CallbackListener{port: port}
}

// Start binds the loopback port and begins serving callbacks. Starting an
// already-bound listener returns ErrListenerStarted; callers treating the
// listener as a singleton check with Started first or reuse the instance.
func (l *CallbackListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return ErrListenerStarted
	}

	addr := fmt.Sprintf("127.0.0.1:%d", l.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding callback listener on %s: %w", addr, err)
	}
	l.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		l.port = tcpAddr.Port
	}

	mux := http.NewServeMux()
	mux.Handle("/callback", logging(slog.Default())(http.HandlerFunc(l.handleCallback)))

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	l.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("callback listener failed", "error", err)
		}
	}()

	return nil
}

// Started reports whether the listener is bound.
func (l *CallbackListener) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.server != nil
}

// Port returns the bound port.
func (l *CallbackListener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// RedirectURI returns the redirect URI to embed in the login request.
func (l *CallbackListener) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/callback", l.Port())
}

// Wait blocks until the provider redirect delivers an authorization code for
// the given state, the context is cancelled, or its deadline passes.
// Single-shot: one Wait may be in flight at a time.
func (l *CallbackListener) Wait(ctx context.Context, expectedState string) (string, error) {
	l.mu.Lock()
	if l.server == nil {
		l.mu.Unlock()
		return "", fmt.Errorf("callback listener not started")
	}
	if l.pending != nil {
		l.mu.Unlock()
		return "", fmt.Errorf("another login is already awaiting its callback")
	}
	pending := make(chan callbackResult, 1)
	l.pending = pending
	l.pendingState = expectedState
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.pending = nil
		l.pendingState = ""
		l.mu.Unlock()
	}()

	select {
	case result := <-pending:
		return result.code, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// handleCallback validates the provider redirect and forwards the code to the
// pending waiter.
func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	pending := l.pending
	expectedState := l.pendingState
	l.mu.Unlock()

	if pending == nil {
		http.Error(w, "no login in progress", http.StatusConflict)
		return
	}

	deliver := func(result callbackResult) {
		select {
		case pending <- result:
		default:
		}
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		errDesc := query.Get("error_description")
		deliver(callbackResult{err: fmt.Errorf("provider error: %s: %s", errParam, errDesc)})
		writeResultPage(w, "Sign-in failed", html.EscapeString(errDesc))
		return
	}

	if state := query.Get("state"); state != expectedState {
		deliver(callbackResult{err: fmt.Errorf("state mismatch on callback")})
		writeResultPage(w, "Sign-in failed", "Invalid state parameter.")
		return
	}

	code := query.Get("code")
	if code == "" {
		deliver(callbackResult{err: fmt.Errorf("no authorization code in callback")})
		writeResultPage(w, "Sign-in failed", "No authorization code received.")
		return
	}

	deliver(callbackResult{code: code})
	writeResultPage(w, "Sign-in successful", "You can close this window and return to your terminal.")
}

// Shutdown stops the listener. Safe to call on an unstarted listener.
func (l *CallbackListener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	server := l.server
	l.server = nil
	l.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
		return fmt.Errorf("callback listener shutdown: %w", err)
	}
	return nil
}

// logging logs callback requests with method, path, status, and duration.
func logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// The redirect query string carries the authorization code; never log
		// headers or bodies here.
		LogRequestHeaders:  []string{},
		LogResponseHeaders: []string{},
	})
}

func writeResultPage(w http.ResponseWriter, title, message string) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>dbident</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>`, title, message)
}
