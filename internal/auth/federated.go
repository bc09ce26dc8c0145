package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
)

// FederatedAuthenticator delegates the whole login to Keystone's websso
// machinery (SAML or OIDC federation terminated at Keystone). Keystone POSTs
// the issued token straight back to the callback from its own origin, so
// there is no exchange step on our side.
type FederatedAuthenticator struct {
	name     string
	authURL  string
	provider string // identity provider component; empty = protocol-only URL
	protocol string // e.g. saml2, openid
}

// NewFederatedAuthenticator builds a federated authenticator against the
// Keystone deployment at authURL.
func NewFederatedAuthenticator(name, authURL, provider, protocol string) *FederatedAuthenticator {
	return &FederatedAuthenticator{
		name:     name,
		authURL:  strings.TrimSuffix(authURL, "/"),
		provider: provider,
		protocol: protocol,
	}
}

func (a *FederatedAuthenticator) Name() string { return a.name }

func (a *FederatedAuthenticator) Start(ctx context.Context, r *http.Request, callbackURL string) (*Start, error) {
	if code := r.URL.Query().Get(FailureCodeParam); code != "" {
		return &Start{FailureCode: code}, nil
	}
	origin := url.QueryEscape(stripQueryFragment(callbackURL))
	var redirect string
	if a.provider != "" {
		redirect = fmt.Sprintf(
			"%s/auth/OS-FEDERATION/identity_providers/%s/protocols/%s/websso?origin=%s",
			a.authURL, a.provider, a.protocol, origin,
		)
	} else {
		redirect = fmt.Sprintf("%s/auth/OS-FEDERATION/websso/%s?origin=%s", a.authURL, a.protocol, origin)
	}
	metrics.AuthFlowTotal.WithLabelValues(a.name, "started").Inc()
	return &Start{RedirectURL: redirect}, nil
}

func (a *FederatedAuthenticator) Complete(ctx context.Context, r *http.Request) (string, bool) {
	tok := r.PostFormValue("token")
	if tok == "" {
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}
	metrics.AuthFlowTotal.WithLabelValues(a.name, "completed").Inc()
	return tok, true
}

// UsesCrossDomainPOST is true: completion arrives as a form POST from
// Keystone's origin, so the HTTP layer must relax CSRF and SameSite for
// this flow.
func (a *FederatedAuthenticator) UsesCrossDomainPOST() bool { return true }
