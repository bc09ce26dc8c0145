package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusBadRequest, KindBadInput},
		{http.StatusUnauthorized, KindAuthenticationExpired},
		{http.StatusForbidden, KindPermissionDenied},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindInvalidOperation},
		{http.StatusTeapot, KindCommunicationError},
		{http.StatusInternalServerError, KindCommunicationError},
		{http.StatusBadGateway, KindCommunicationError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FromStatus(c.status), "status %d", c.status)
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("cluster %q not found", "demo"))
	assert.True(t, errors.Is(err, NotFound("")))
	assert.False(t, errors.Is(err, BadInput("")))
	assert.True(t, IsKind(err, KindNotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindCommunicationError, cause, "listing projects")
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindCommunicationError, KindOf(err))
	assert.Equal(t, "listing projects", err.Error())
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(AuthenticationExpired("expired")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(InvalidOperation("busy")))
	assert.Equal(t, http.StatusNotImplemented, HTTPStatus(UnsupportedOperation("no ssh keys")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(OperationTimedOut("poll")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
