// Package models holds the provider-agnostic value types exchanged between
// the session layer, the cluster engine and the API surface.
package models

// User is the identity derived from the caller's token on every request.
// It is never persisted by this core.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Tenancy is a scoping boundary (cloud project or namespace) a user may
// operate in. IDs are unique across the tenancies discovered for one user.
type Tenancy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Credential is an ephemeral, tenancy-scoped credential issued by a session.
// It lives only for the request or operation that asked for it and must never
// reach stable storage.
type Credential struct {
	Provider string `json:"provider"`
	// Data is either an opaque string (e.g. a scoped token) or a small
	// string map (e.g. appcred id + secret), depending on the provider.
	Data map[string]string `json:"data"`
}
