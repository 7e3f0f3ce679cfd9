package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usechronicle/chronicle/internal/config"
)

// reservePort returns a loopback port that was free a moment ago.
func reservePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestFindCallbackPortSkipsOccupied(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	occupied := ln.Addr().(*net.TCPAddr).Port

	got, err := findCallbackPort(occupied, 5)
	require.NoError(t, err)
	assert.NotEqual(t, occupied, got)
	assert.Greater(t, got, occupied)

	// The selected port must be bindable after release.
	ln2, err := net.Listen(
		"tcp", fmt.Sprintf("127.0.0.1:%d", got),
	)
	require.NoError(t, err)
	ln2.Close()
}

func TestFindCallbackPortExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	occupied := ln.Addr().(*net.TCPAddr).Port

	_, err = findCallbackPort(occupied, 1)
	assert.ErrorIs(t, err, ErrPortExhausted)
}

// fakeBrowser returns an OpenBrowser replacement that extracts the
// redirect_uri from the authorization URL and issues the given
// callback requests against it, in order. Each entry is a query
// string appended to the callback URL.
func fakeBrowser(
	t *testing.T, got chan<- *http.Response, queries ...string,
) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		callback := u.Query().Get("redirect_uri")
		if callback == "" {
			return errors.New("no redirect_uri in auth URL")
		}
		for _, q := range queries {
			resp, err := http.Get(callback + "?" + q)
			if err != nil {
				return err
			}
			if got != nil {
				got <- resp
			} else {
				resp.Body.Close()
			}
		}
		return nil
	}
}

func newTestFlow(t *testing.T, serverURL string) *Flow {
	t.Helper()
	f := New(serverURL)
	f.Timeout = 5 * time.Second
	f.portStart = reservePort(t)
	f.portCount = 5
	return f
}

func TestRunSuccessCallback(t *testing.T) {
	pages := make(chan *http.Response, 1)
	f := newTestFlow(t, "https://auth.example.test")
	f.OpenBrowser = fakeBrowser(
		t, pages, "key=key-1&tenant_id=t-1&tenant_name=acme",
	)

	result, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-1", result.APIKey)
	assert.Equal(t, "t-1", result.TenantID)
	assert.Equal(t, "acme", result.TenantName)

	resp := <-pages
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Login complete")
}

func TestRunErrorCallback(t *testing.T) {
	f := newTestFlow(t, "https://auth.example.test")
	f.OpenBrowser = fakeBrowser(t, nil, "error=access+revoked")

	_, err := f.Run(context.Background())
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "access revoked", denied.Message)
}

func TestRunTimeoutClosesListener(t *testing.T) {
	f := newTestFlow(t, "https://auth.example.test")
	f.Timeout = 100 * time.Millisecond
	var callbackURL string
	f.OpenBrowser = func(authURL string) error {
		u, _ := url.Parse(authURL)
		callbackURL = u.Query().Get("redirect_uri")
		return nil // never completes the flow
	}

	_, err := f.Run(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)

	// The listener must be gone after Run returns.
	require.NotEmpty(t, callbackURL)
	_, dialErr := http.Get(callbackURL)
	assert.Error(t, dialErr)
}

func TestRunFirstCallbackWins(t *testing.T) {
	f := newTestFlow(t, "https://auth.example.test")
	// Error arrives first, then a success; the success must be
	// ignored.
	f.OpenBrowser = fakeBrowser(
		t, nil, "error=denied", "key=late-key",
	)

	_, err := f.Run(context.Background())
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "denied", denied.Message)
}

func TestRunIgnoresOtherPaths(t *testing.T) {
	f := newTestFlow(t, "https://auth.example.test")
	f.OpenBrowser = func(authURL string) error {
		u, _ := url.Parse(authURL)
		callback := u.Query().Get("redirect_uri")
		base := callback[:len(callback)-len("/callback")]

		// Noise traffic before the real callback.
		resp, err := http.Get(base + "/favicon.ico")
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf(
				"favicon: got %d, want 404", resp.StatusCode,
			)
		}

		resp, err = http.Get(callback + "?key=key-1")
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	result, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-1", result.APIKey)
}

func TestLoginVerifiesIdentityAndPersists(t *testing.T) {
	t.Setenv(config.EnvConfigDir, t.TempDir())
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvServerURL, "")

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/session", r.URL.Path)
			assert.Equal(t, "Bearer key-1",
				r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"authenticated": true,
				"user": map[string]string{
					"username": "alice",
					"name":     "Alice",
				},
			})
		},
	))
	defer srv.Close()

	f := newTestFlow(t, srv.URL)
	f.OpenBrowser = fakeBrowser(
		t, nil, "key=key-1&tenant_id=t-1&tenant_name=acme",
	)

	cred, err := login(context.Background(), f, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "t-1", cred.TenantID)

	stored, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "key-1", stored.APIKey)
	assert.Equal(t, srv.URL, stored.ServerURL)
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, "acme", stored.TenantName)
}

func TestLoginFailsWhenIdentityRejected(t *testing.T) {
	t.Setenv(config.EnvConfigDir, t.TempDir())
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvServerURL, "")

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	))
	defer srv.Close()

	f := newTestFlow(t, srv.URL)
	f.OpenBrowser = fakeBrowser(t, nil, "key=bad-key")

	_, err := login(context.Background(), f, srv.URL)
	require.Error(t, err)

	// An unverifiable key must not be persisted.
	stored, err := config.Load()
	require.NoError(t, err)
	assert.False(t, stored.Authenticated())
}

func TestLogoutIdempotent(t *testing.T) {
	t.Setenv(config.EnvConfigDir, t.TempDir())
	require.NoError(t, Logout())
	require.NoError(t, Logout())
}
