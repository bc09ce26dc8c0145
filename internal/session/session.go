// Package session turns an opaque token into a provider-agnostic session
// exposing identity, tenancy listing, SSH key management and scoped
// credential issuance. Sessions are request-scoped: each request builds its
// own from the incoming token and closes it on the way out. Nothing is
// persisted; the token is the only state that crosses requests.
package session

import (
	"context"

	"github.com/azimuth-cloud/azimuth-portal/internal/models"
)

// Provider builds sessions from tokens. Implementations are long-lived and
// safe for concurrent use; the sessions they produce are not.
type Provider interface {
	FromToken(ctx context.Context, token string) (Session, error)
}

// Session is the per-request view of one authenticated principal. Methods a
// backend cannot serve return an UnsupportedOperation error. The token may
// be refreshed in place during any call: callers that round-trip the token
// must re-read Token() after the request and persist the current value.
type Session interface {
	// Token returns the current opaque token, including any refresh that
	// happened since the session was built.
	Token() string
	// User returns the identity derived from the token.
	User(ctx context.Context) (*models.User, error)
	// Tenancies lists the tenancies the user may operate in. Order is not
	// significant; ids are unique within the returned slice.
	Tenancies(ctx context.Context) ([]models.Tenancy, error)
	// SSHPublicKey returns the user's stored SSH public key.
	SSHPublicKey(ctx context.Context) (string, error)
	// UpdateSSHPublicKey replaces the stored key and returns the new value.
	UpdateSSHPublicKey(ctx context.Context, key string) (string, error)
	// Credential issues an ephemeral credential scoped to one tenancy for
	// the named downstream provider. A nil credential with nil error means
	// the session cannot issue credentials for that provider.
	Credential(ctx context.Context, tenancyID, provider string) (*models.Credential, error)
	// Close releases the connection owned by the session. It must be called
	// on every exit path; sessions must not rely on garbage collection.
	Close() error
}
