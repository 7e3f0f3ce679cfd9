// Package auth implements the browser-based credential
// acquisition flow: an ephemeral loopback listener receives the
// redirect from the server's desktop authorization page, and the
// resulting key is verified and persisted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/usechronicle/chronicle/internal/client"
	"github.com/usechronicle/chronicle/internal/config"
)

const (
	callbackPortStart = 18923
	callbackPortCount = 20
	defaultTimeout    = 5 * time.Minute
)

var (
	// ErrPortExhausted means no port in the callback range was
	// free to bind.
	ErrPortExhausted = errors.New(
		"no free loopback port for the login callback",
	)

	// ErrTimeout means the operator never completed the browser
	// flow before the deadline.
	ErrTimeout = errors.New(
		"timed out waiting for browser authorization",
	)
)

// DeniedError is returned when the server redirects back with an
// error instead of a key.
type DeniedError struct {
	Message string
}

func (e *DeniedError) Error() string {
	return "authorization denied: " + e.Message
}

// Result carries the raw outcome of a successful browser handoff,
// before identity verification.
type Result struct {
	APIKey     string
	TenantID   string
	TenantName string
}

// Flow runs one credential acquisition attempt. The zero value is
// not usable; construct with New.
type Flow struct {
	serverURL string

	// Timeout bounds the wait for the browser callback.
	Timeout time.Duration

	// OpenBrowser launches the operator's browser. Replaceable in
	// tests. Launch failures are ignored: the operator can always
	// follow the printed URL by hand.
	OpenBrowser func(url string) error

	portStart int
	portCount int
}

// New creates a Flow against the given authorization server.
func New(serverURL string) *Flow {
	return &Flow{
		serverURL:   serverURL,
		Timeout:     defaultTimeout,
		OpenBrowser: OpenBrowser,
		portStart:   callbackPortStart,
		portCount:   callbackPortCount,
	}
}

// findCallbackPort probes a contiguous loopback range in ascending
// order, binding and immediately releasing a throwaway listener.
func findCallbackPort(start, count int) (int, error) {
	for port := start; port < start+count; port++ {
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, ErrPortExhausted
}

// outcome is the single settlement of one acquisition attempt.
type outcome struct {
	result Result
	err    error
}

// Run executes the handoff: bind the callback listener, open the
// browser at the server's desktop authorization page, and wait for
// exactly one terminal event. The listener is torn down on every
// exit path.
func (f *Flow) Run(ctx context.Context) (Result, error) {
	port, err := findCallbackPort(f.portStart, f.portCount)
	if err != nil {
		return Result{}, err
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("binding callback listener: %w", err)
	}

	settled := make(chan outcome, 1)
	var once sync.Once
	settle := func(o outcome) {
		once.Do(func() { settled <- o })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if msg := q.Get("error"); msg != "" {
			writePage(w, failurePage(msg))
			settle(outcome{err: &DeniedError{Message: msg}})
			return
		}
		if key := q.Get("key"); key != "" {
			writePage(w, successPage)
			settle(outcome{result: Result{
				APIKey:     key,
				TenantID:   q.Get("tenant_id"),
				TenantName: q.Get("tenant_name"),
			}})
			return
		}
		// A /callback without key or error resolves nothing.
		http.NotFound(w, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Browser prefetch, favicon requests, and stray navigation
		// must not affect the pending resolution.
		http.NotFound(w, r)
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	callbackURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)
	authURL := f.serverURL + "/auth/desktop?redirect_uri=" +
		url.QueryEscape(callbackURL)

	fmt.Printf("Opening browser to authorize:\n  %s\n", authURL)
	if f.OpenBrowser != nil {
		// Fire and forget; the listener is the only rendezvous.
		go func() { _ = f.OpenBrowser(authURL) }()
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-settled:
		return o.result, o.err
	case <-timer.C:
		return Result{}, ErrTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Login runs the full acquisition: browser handoff, identity
// verification, then persistence. The credential is only written
// after the identity fetch succeeds; an unverifiable key is
// discarded and the login fails.
func Login(ctx context.Context, serverURL string) (config.Credential, error) {
	return login(ctx, New(serverURL), serverURL)
}

func login(
	ctx context.Context, flow *Flow, serverURL string,
) (config.Credential, error) {
	result, err := flow.Run(ctx)
	if err != nil {
		return config.Credential{}, err
	}

	identity, err := client.New(serverURL, result.APIKey).Identity(ctx)
	if err != nil {
		return config.Credential{}, err
	}

	cred := config.Credential{
		APIKey:      result.APIKey,
		ServerURL:   serverURL,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		TenantID:    result.TenantID,
		TenantName:  result.TenantName,
	}
	if err := config.Merge(cred); err != nil {
		return config.Credential{}, fmt.Errorf("saving credential: %w", err)
	}
	return cred, nil
}

// WhoAmI re-verifies the stored credential without mutating it.
// Returns the stored record plus the live identity, or an error
// when no credential exists or the server rejects it.
func WhoAmI(ctx context.Context) (config.Credential, *client.Identity, error) {
	cred, err := config.Load()
	if err != nil {
		return config.Credential{}, nil, err
	}
	if !cred.Authenticated() {
		return cred, nil, errors.New("not logged in")
	}
	identity, err := client.New(cred.ServerURL, cred.APIKey).Identity(ctx)
	if err != nil {
		return cred, nil, fmt.Errorf("invalid credentials: %w", err)
	}
	return cred, identity, nil
}

// Logout clears the credential store. Safe to call when already
// logged out.
func Logout() error {
	return config.Clear()
}
