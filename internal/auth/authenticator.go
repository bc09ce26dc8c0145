// Package auth implements the pluggable login flows that produce the opaque
// token a session provider later consumes. Two families exist: form-based
// authenticators collect credentials directly, redirect-based authenticators
// bounce the user to an external identity provider and pick the result up on
// the way back.
//
// Every flow failure here is deliberately collapsed into a "no token"
// outcome: backend-specific detail never leaks past this boundary, the
// caller just redirects back to login with a generic failure indicator.
package auth

import (
	"context"
	"net/http"
	"net/url"
)

// FormField describes one input of a credential-collection form.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Secret   bool   `json:"secret"`
	Required bool   `json:"required"`
}

// Start is the outcome of beginning a login flow. Exactly one of Form and
// RedirectURL is set, unless FailureCode is set, in which case the caller
// replays the failure page instead of redirecting again (this breaks the
// infinite redirect loop a permanently failing IdP would otherwise cause).
type Start struct {
	Form        []FormField
	RedirectURL string
	FailureCode string
}

// Authenticator is one configured way of logging in.
type Authenticator interface {
	// Name identifies the authenticator in URLs and configuration.
	Name() string
	// Start begins the flow. callbackURL is where the flow completes;
	// redirect authenticators strip its query and fragment before embedding
	// it as the IdP return target.
	Start(ctx context.Context, r *http.Request, callbackURL string) (*Start, error)
	// Complete finishes the flow, returning the opaque token. ok is false
	// for every flow failure: bad credentials, missing state, failed code
	// exchange. The caller redirects back to login; it never sees why.
	Complete(ctx context.Context, r *http.Request) (token string, ok bool)
	// UsesCrossDomainPOST reports whether completion arrives as a form POST
	// from another origin. The HTTP layer relaxes CSRF protection and
	// cookie SameSite policy for exactly those flows, so this is a
	// security-relevant contract, not a convenience.
	UsesCrossDomainPOST() bool
}

// Registry holds the configured authenticators by name, in a stable order.
type Registry struct {
	names  []string
	byName map[string]Authenticator
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(authenticators ...Authenticator) *Registry {
	reg := &Registry{byName: make(map[string]Authenticator, len(authenticators))}
	for _, a := range authenticators {
		if _, exists := reg.byName[a.Name()]; exists {
			continue
		}
		reg.names = append(reg.names, a.Name())
		reg.byName[a.Name()] = a
	}
	return reg
}

// Get returns the named authenticator, or nil.
func (r *Registry) Get(name string) Authenticator { return r.byName[name] }

// Names lists the configured authenticators in registration order.
func (r *Registry) Names() []string { return append([]string(nil), r.names...) }

// stripQueryFragment removes query and fragment from a callback URL before
// it is handed to an external IdP as the return target.
func stripQueryFragment(callback string) string {
	u, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
