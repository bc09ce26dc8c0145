package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azimuth-cloud/azimuth-portal/internal/models"
	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

type stubSession struct {
	token   string
	closed  bool
	refresh string // when set, Token() flips to this after User is called
}

func (s *stubSession) Token() string { return s.token }
func (s *stubSession) User(ctx context.Context) (*models.User, error) {
	if s.refresh != "" {
		s.token = s.refresh
	}
	return &models.User{ID: "u1"}, nil
}
func (s *stubSession) Tenancies(ctx context.Context) ([]models.Tenancy, error) { return nil, nil }
func (s *stubSession) SSHPublicKey(ctx context.Context) (string, error)        { return "", nil }
func (s *stubSession) UpdateSSHPublicKey(ctx context.Context, key string) (string, error) {
	return "", nil
}
func (s *stubSession) Credential(ctx context.Context, tenancyID, provider string) (*models.Credential, error) {
	return nil, nil
}
func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type stubProvider struct {
	sess *stubSession
}

func (p *stubProvider) FromToken(ctx context.Context, token string) (session.Session, error) {
	p.sess.token = token
	return p.sess, nil
}

func TestSessionMiddlewareRequiresToken(t *testing.T) {
	handler := Session(&stubProvider{sess: &stubSession{}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run without a token")
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddlewareAttachesAndCloses(t *testing.T) {
	stub := &stubSession{}
	handler := Session(&stubProvider{sess: stub})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			require.True(t, ok)
			assert.Equal(t, "tok-1", sess.Token())
			w.WriteHeader(http.StatusNoContent)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, stub.closed, "session is closed after the handler returns")
	assert.Empty(t, rec.Header().Get(RefreshedTokenHeader))
}

func TestSessionMiddlewareWritesBackRefreshedToken(t *testing.T) {
	stub := &stubSession{refresh: "tok-2"}
	handler := Session(&stubProvider{sess: stub})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := SessionFromContext(r.Context())
			_, err := sess.User(r.Context()) // triggers the refresh
			require.NoError(t, err)
			w.Write([]byte("{}"))
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "tok-2", rec.Header().Get(RefreshedTokenHeader),
		"clients are told about the refreshed token")
}
