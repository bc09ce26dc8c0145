// Package token encodes and decodes the opaque token blobs handed to
// clients. OIDC bundles access and refresh tokens into one base64-JSON
// envelope; OpenStack tokens pass through untouched.
package token

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Envelope is the decoded form of an OIDC token blob.
type Envelope struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a unix timestamp; zero means the expiry is unknown.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Encode packs the envelope into the opaque string handed to clients.
func Encode(env Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode unpacks an opaque token string. If the string is not a valid
// envelope it is treated as a bare access token: the caller degrades
// gracefully instead of failing hard. In that case, if the bare token parses
// as a JWT its exp claim supplies the expiry.
func Decode(opaque string) Envelope {
	data, err := base64.URLEncoding.DecodeString(opaque)
	if err == nil {
		var env Envelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr == nil && env.AccessToken != "" {
			return env
		}
	}
	return Envelope{
		AccessToken: opaque,
		ExpiresAt:   jwtExpiry(opaque),
	}
}

// jwtExpiry recovers the exp claim from a JWT without verifying the
// signature. Expiry here only decides whether a refresh is attempted, so an
// unverified read is acceptable. Returns zero when the token is not a JWT or
// carries no exp claim.
func jwtExpiry(raw string) int64 {
	parser := jwt.NewParser()
	tok, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return 0
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}

// Expired reports whether the envelope's access token is known to be expired
// at the given instant. An unknown expiry is never considered expired: the
// caller keeps using the token and lets the backend reject it.
func (e Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.Unix() >= e.ExpiresAt
}

// ExpiryKnown reports whether the envelope carries a usable expiry.
func (e Envelope) ExpiryKnown() bool { return e.ExpiresAt != 0 }
