package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/token"
)

func TestStateStoreSingleUse(t *testing.T) {
	store := newStateStore(time.Minute)
	state, err := store.Issue()
	require.NoError(t, err)

	assert.True(t, store.Consume(state))
	// Second consumption must fail.
	assert.False(t, store.Consume(state))
	assert.False(t, store.Consume("never-issued"))
}

func TestStateStoreExpiry(t *testing.T) {
	store := newStateStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	state, err := store.Issue()
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.False(t, store.Consume(state))
}

type fakePasswordBackend struct {
	token string
	err   error
}

func (b *fakePasswordBackend) Authenticate(ctx context.Context, username, password string) (string, error) {
	return b.token, b.err
}

func TestFormAuthenticator(t *testing.T) {
	a := NewFormAuthenticator("password", &fakePasswordBackend{token: "keystone-token"})

	start, err := a.Start(context.Background(), httptest.NewRequest(http.MethodGet, "/auth/password/start", nil), "http://portal/auth/password/complete")
	require.NoError(t, err)
	require.Len(t, start.Form, 2)
	assert.Equal(t, "username", start.Form[0].Name)
	assert.True(t, start.Form[1].Secret)

	r := httptest.NewRequest(http.MethodPost, "/auth/password/complete",
		strings.NewReader("username=alice&password=s3cret"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tok, ok := a.Complete(context.Background(), r)
	assert.True(t, ok)
	assert.Equal(t, "keystone-token", tok)
	assert.False(t, a.UsesCrossDomainPOST())
}

func TestFormAuthenticatorRejections(t *testing.T) {
	// Backend error and empty submissions both end as "no token".
	for name, backend := range map[string]PasswordBackend{
		"backend error": &fakePasswordBackend{err: errors.New("401")},
		"empty token":   &fakePasswordBackend{},
	} {
		a := NewFormAuthenticator("password", backend)
		r := httptest.NewRequest(http.MethodPost, "/complete",
			strings.NewReader("username=alice&password=wrong"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		_, ok := a.Complete(context.Background(), r)
		assert.False(t, ok, name)
	}
}

// newFakeIssuer serves the OIDC discovery document and a token endpoint.
func newFakeIssuer(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"issuer": %q,
			"authorization_endpoint": "%s/authorize",
			"token_endpoint": "%s/token",
			"jwks_uri": "%s/keys"
		}`, srv.URL, srv.URL, srv.URL, srv.URL)
	})
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newOIDCUnderTest(t *testing.T, tokenHandler http.HandlerFunc) *OIDCAuthenticator {
	t.Helper()
	issuer := newFakeIssuer(t, tokenHandler)
	a, err := NewOIDCAuthenticator(context.Background(), "oidc", &config.Config{
		OIDCIssuerURL:    issuer.URL,
		OIDCClientID:     "portal",
		OIDCClientSecret: "secret",
		OIDCRedirectURL:  "http://portal/auth/oidc/complete",
		OIDCScopes:       "openid,profile,groups",
	})
	require.NoError(t, err)
	return a
}

func TestOIDCStartRedirects(t *testing.T) {
	a := newOIDCUnderTest(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/auth/oidc/start", nil)
	start, err := a.Start(context.Background(), r, "http://portal/auth/oidc/complete?failure_code=stale#frag")
	require.NoError(t, err)
	require.NotEmpty(t, start.RedirectURL)

	u, err := url.Parse(start.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.NotEmpty(t, u.Query().Get("state"))
	// Query and fragment are stripped from the embedded callback.
	assert.Equal(t, "http://portal/auth/oidc/complete", u.Query().Get("redirect_uri"))
}

func TestOIDCStartReplaysFailure(t *testing.T) {
	a := newOIDCUnderTest(t, nil)
	r := httptest.NewRequest(http.MethodGet, "/auth/oidc/start?failure_code=invalid_credentials", nil)
	start, err := a.Start(context.Background(), r, "http://portal/auth/oidc/complete")
	require.NoError(t, err)
	assert.Equal(t, "invalid_credentials", start.FailureCode)
	assert.Empty(t, start.RedirectURL)
}

func TestOIDCCompleteExchangesCode(t *testing.T) {
	a := newOIDCUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		assert.Equal(t, "the-code", r.PostFormValue("code"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "at-1", "refresh_token": "rt-1", "token_type": "bearer", "expires_in": 300}`)
	})

	startReq := httptest.NewRequest(http.MethodGet, "/start", nil)
	start, err := a.Start(context.Background(), startReq, "http://portal/complete")
	require.NoError(t, err)
	u, _ := url.Parse(start.RedirectURL)
	state := u.Query().Get("state")

	r := httptest.NewRequest(http.MethodGet, "/complete?state="+state+"&code=the-code", nil)
	opaque, ok := a.Complete(context.Background(), r)
	require.True(t, ok)

	env := token.Decode(opaque)
	assert.Equal(t, "at-1", env.AccessToken)
	assert.Equal(t, "rt-1", env.RefreshToken)
	assert.True(t, env.ExpiryKnown())
}

func TestOIDCCompleteFailures(t *testing.T) {
	t.Run("missing state", func(t *testing.T) {
		a := newOIDCUnderTest(t, nil)
		r := httptest.NewRequest(http.MethodGet, "/complete?code=x", nil)
		_, ok := a.Complete(context.Background(), r)
		assert.False(t, ok)
	})

	t.Run("unknown state", func(t *testing.T) {
		a := newOIDCUnderTest(t, nil)
		r := httptest.NewRequest(http.MethodGet, "/complete?state=bogus&code=x", nil)
		_, ok := a.Complete(context.Background(), r)
		assert.False(t, ok)
	})

	t.Run("exchange rejected", func(t *testing.T) {
		a := newOIDCUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
		})
		startReq := httptest.NewRequest(http.MethodGet, "/start", nil)
		start, err := a.Start(context.Background(), startReq, "http://portal/complete")
		require.NoError(t, err)
		u, _ := url.Parse(start.RedirectURL)

		r := httptest.NewRequest(http.MethodGet, "/complete?state="+u.Query().Get("state")+"&code=bad", nil)
		_, ok := a.Complete(context.Background(), r)
		assert.False(t, ok)
	})
}

func TestFederatedRedirectURL(t *testing.T) {
	withProvider := NewFederatedAuthenticator("federated", "https://keystone.example.com/v3/", "corp-idp", "saml2")
	start, err := withProvider.Start(context.Background(), httptest.NewRequest(http.MethodGet, "/start", nil), "http://portal/complete?x=1")
	require.NoError(t, err)
	assert.Equal(t,
		"https://keystone.example.com/v3/auth/OS-FEDERATION/identity_providers/corp-idp/protocols/saml2/websso?origin="+url.QueryEscape("http://portal/complete"),
		start.RedirectURL)

	protocolOnly := NewFederatedAuthenticator("federated", "https://keystone.example.com/v3", "", "openid")
	start, err = protocolOnly.Start(context.Background(), httptest.NewRequest(http.MethodGet, "/start", nil), "http://portal/complete")
	require.NoError(t, err)
	assert.Equal(t,
		"https://keystone.example.com/v3/auth/OS-FEDERATION/websso/openid?origin="+url.QueryEscape("http://portal/complete"),
		start.RedirectURL)
}

func TestFederatedComplete(t *testing.T) {
	a := NewFederatedAuthenticator("federated", "https://keystone.example.com/v3", "", "saml2")
	assert.True(t, a.UsesCrossDomainPOST())

	r := httptest.NewRequest(http.MethodPost, "/complete", strings.NewReader("token=keystone-tok"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tok, ok := a.Complete(context.Background(), r)
	assert.True(t, ok)
	assert.Equal(t, "keystone-tok", tok)

	r = httptest.NewRequest(http.MethodPost, "/complete", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, ok = a.Complete(context.Background(), r)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	form := NewFormAuthenticator("password", &fakePasswordBackend{})
	fed := NewFederatedAuthenticator("federated", "https://ks", "", "saml2")
	reg := NewRegistry(form, fed)

	assert.Equal(t, []string{"password", "federated"}, reg.Names())
	assert.Same(t, form, reg.Get("password").(*FormAuthenticator))
	assert.Nil(t, reg.Get("missing"))
}
