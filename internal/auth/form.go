package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
)

// PasswordBackend exchanges a username and password for an opaque token.
// An empty token with a nil error means the credentials were rejected.
type PasswordBackend interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// FormAuthenticator collects a username and password and hands them to a
// backend. It never redirects.
type FormAuthenticator struct {
	name    string
	backend PasswordBackend
}

// NewFormAuthenticator builds a form authenticator over the given backend.
func NewFormAuthenticator(name string, backend PasswordBackend) *FormAuthenticator {
	return &FormAuthenticator{name: name, backend: backend}
}

func (a *FormAuthenticator) Name() string { return a.name }

func (a *FormAuthenticator) Start(ctx context.Context, r *http.Request, callbackURL string) (*Start, error) {
	return &Start{
		Form: []FormField{
			{Name: "username", Label: "Username", Required: true},
			{Name: "password", Label: "Password", Secret: true, Required: true},
		},
	}, nil
}

func (a *FormAuthenticator) Complete(ctx context.Context, r *http.Request) (string, bool) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}
	tok, err := a.backend.Authenticate(ctx, username, password)
	if err != nil || tok == "" {
		if err != nil {
			slog.Info("password authentication rejected", "authenticator", a.name, "username", username)
		}
		metrics.AuthFlowTotal.WithLabelValues(a.name, "failed").Inc()
		return "", false
	}
	metrics.AuthFlowTotal.WithLabelValues(a.name, "completed").Inc()
	return tok, true
}

func (a *FormAuthenticator) UsesCrossDomainPOST() bool { return false }
