package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
	"github.com/azimuth-cloud/azimuth-portal/internal/token"
)

// FailureCodeParam is the query parameter a failed completion redirects back
// with. Its presence on a start request means the previous attempt failed:
// the start replays the failure instead of redirecting again.
const FailureCodeParam = "failure_code"

const stateTTL = 10 * time.Minute

// OIDCAuthenticator runs the authorization-code flow against an OIDC
// provider and packages the resulting tokens into one opaque envelope.
type OIDCAuthenticator struct {
	name         string
	oauth2Config *oauth2.Config
	states       *stateStore
}

// NewOIDCAuthenticator discovers the issuer's endpoints and builds the flow.
func NewOIDCAuthenticator(ctx context.Context, name string, cfg *config.Config) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, err
	}
	return &OIDCAuthenticator{
		name: name,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.OIDCScopeList(),
		},
		states: newStateStore(stateTTL),
	}, nil
}

func (a *OIDCAuthenticator) Name() string { return a.name }

func (a *OIDCAuthenticator) Start(ctx context.Context, r *http.Request, callbackURL string) (*Start, error) {
	if code := r.URL.Query().Get(FailureCodeParam); code != "" {
		return &Start{FailureCode: code}, nil
	}
	state, err := a.states.Issue()
	if err != nil {
		return nil, err
	}
	metrics.AuthFlowTotal.WithLabelValues(a.name, "started").Inc()

	// The callback registered with the IdP must be bare: a stale query
	// string (e.g. a previous failure code) would otherwise come back
	// appended to the IdP's own parameters.
	cfg := *a.oauth2Config
	cfg.RedirectURL = stripQueryFragment(callbackURL)
	return &Start{RedirectURL: cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)}, nil
}

// Complete pops and validates the state, exchanges the authorization code at
// the token endpoint over a direct HTTP call, and encodes the result. Every
// failure path returns ok=false; the caller redirects back to login.
func (a *OIDCAuthenticator) Complete(ctx context.Context, r *http.Request) (string, bool) {
	state := r.FormValue("state")
	if state == "" || !a.states.Consume(state) {
		slog.Info("oidc completion with missing or unknown state", "authenticator", a.name)
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}
	code := r.FormValue("code")
	if code == "" {
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}

	tok, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		slog.Info("oidc code exchange failed", "authenticator", a.name, "error", err)
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}

	env := token.Envelope{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		env.ExpiresAt = tok.Expiry.Unix()
	}
	opaque, err := token.Encode(env)
	if err != nil {
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}
	metrics.AuthFlowTotal.WithLabelValues(a.name, "completed").Inc()
	return opaque, true
}

func (a *OIDCAuthenticator) UsesCrossDomainPOST() bool { return false }
