package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    1700000000,
	}
	opaque, err := Encode(env)
	require.NoError(t, err)

	got := Decode(opaque)
	assert.Equal(t, env, got)
}

func TestDecodeOpaqueFallback(t *testing.T) {
	// Not base64, not JSON: the whole string is the access token.
	got := Decode("gAAAAA-keystone-style-token")
	assert.Equal(t, "gAAAAA-keystone-style-token", got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.False(t, got.ExpiryKnown())
}

func TestDecodeRecoversJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	got := Decode(raw)
	assert.Equal(t, raw, got.AccessToken)
	assert.Equal(t, exp.Unix(), got.ExpiresAt)
	assert.False(t, got.Expired(exp.Add(-time.Minute)))
	assert.True(t, got.Expired(exp.Add(time.Minute)))
}

func TestExpiredUnknownExpiry(t *testing.T) {
	env := Envelope{AccessToken: "tok"}
	assert.False(t, env.Expired(time.Now().Add(100*365*24*time.Hour)))
}
