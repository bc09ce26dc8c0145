package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/token"
)

// fakeIssuer is a minimal OIDC issuer serving discovery, token refresh and
// userinfo from one httptest server.
type fakeIssuer struct {
	server *httptest.Server

	userinfo      map[string]any
	wantBearer    string
	refreshStatus int
	refreshBody   map[string]any
	refreshCalls  int
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	issuer := &fakeIssuer{refreshStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer.server.URL,
			"authorization_endpoint": issuer.server.URL + "/authorize",
			"token_endpoint":         issuer.server.URL + "/token",
			"userinfo_endpoint":      issuer.server.URL + "/userinfo",
			"jwks_uri":               issuer.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		issuer.refreshCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		w.WriteHeader(issuer.refreshStatus)
		if issuer.refreshBody != nil {
			json.NewEncoder(w).Encode(issuer.refreshBody)
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if issuer.wantBearer != "" && r.Header.Get("Authorization") != "Bearer "+issuer.wantBearer {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(issuer.userinfo)
	})
	issuer.server = httptest.NewServer(mux)
	t.Cleanup(issuer.server.Close)
	return issuer
}

func tenancyTestConfig(issuerURL string) *config.Config {
	return &config.Config{
		OIDCIssuerURL:          issuerURL,
		OIDCClientID:           "portal",
		TenancyIDLabel:         "portal.azimuth-cloud.io/tenant-id",
		TenancyIDLegacyLabel:   "portal.azimuth-cloud.io/project-id",
		TenancyNameAnnotation:  "portal.azimuth-cloud.io/tenant-name",
		TenancyGroupAnnotation: "portal.azimuth-cloud.io/tenant-group",
		TenancyNamespacePrefix: "az-",
	}
}

func namespace(name string, labels, annotations map[string]string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:        name,
		Labels:      labels,
		Annotations: annotations,
	}}
}

func mustEnvelope(t *testing.T, env token.Envelope) string {
	t.Helper()
	opaque, err := token.Encode(env)
	require.NoError(t, err)
	return opaque
}

func TestOIDCSessionUser(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.userinfo = map[string]any{
		"sub":                "user-1",
		"preferred_username": "alice",
		"email":              "alice@example.com",
	}

	provider, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(issuer.server.URL), fake.NewSimpleClientset())
	require.NoError(t, err)

	sess, err := provider.FromToken(context.Background(),
		mustEnvelope(t, token.Envelope{AccessToken: "at"}))
	require.NoError(t, err)
	defer sess.Close()

	user, err := sess.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestOIDCSessionTenancies(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.userinfo = map[string]any{
		"sub":    "user-1",
		"groups": []string{"team-a", "team-b"},
	}

	clientset := fake.NewSimpleClientset(
		// Visible: current label, name annotation, matching group.
		namespace("az-alpha",
			map[string]string{"portal.azimuth-cloud.io/tenant-id": "t-alpha"},
			map[string]string{
				"portal.azimuth-cloud.io/tenant-name":  "Alpha",
				"portal.azimuth-cloud.io/tenant-group": "team-a",
			}),
		// Visible: legacy label only, name derived from the namespace.
		namespace("az-beta",
			map[string]string{"portal.azimuth-cloud.io/project-id": "t-beta"},
			map[string]string{"portal.azimuth-cloud.io/tenant-group": "team-b"}),
		// Hidden: group annotation names a group the user is not in.
		namespace("az-gamma",
			map[string]string{"portal.azimuth-cloud.io/tenant-id": "t-gamma"},
			map[string]string{"portal.azimuth-cloud.io/tenant-group": "team-z"}),
		// Hidden: no group annotation at all.
		namespace("az-delta",
			map[string]string{"portal.azimuth-cloud.io/tenant-id": "t-delta"},
			nil),
	)

	provider, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(issuer.server.URL), clientset)
	require.NoError(t, err)

	sess, err := provider.FromToken(context.Background(),
		mustEnvelope(t, token.Envelope{AccessToken: "at"}))
	require.NoError(t, err)
	defer sess.Close()

	tenancies, err := sess.Tenancies(context.Background())
	require.NoError(t, err)

	byID := map[string]string{}
	for _, tenancy := range tenancies {
		byID[tenancy.ID] = tenancy.Name
	}
	assert.Len(t, tenancies, 2)
	assert.Equal(t, "Alpha", byID["t-alpha"])
	assert.Equal(t, "beta", byID["t-beta"], "name falls back to the prefix-stripped namespace")
}

func TestOIDCSessionTenanciesDuplicateID(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.userinfo = map[string]any{
		"sub":    "user-1",
		"groups": []string{"team-a"},
	}

	clientset := fake.NewSimpleClientset(
		namespace("az-one",
			map[string]string{"portal.azimuth-cloud.io/tenant-id": "t-dup"},
			map[string]string{"portal.azimuth-cloud.io/tenant-group": "team-a"}),
		namespace("az-two",
			map[string]string{"portal.azimuth-cloud.io/tenant-id": "t-dup"},
			map[string]string{"portal.azimuth-cloud.io/tenant-group": "team-a"}),
	)

	provider, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(issuer.server.URL), clientset)
	require.NoError(t, err)

	sess, err := provider.FromToken(context.Background(),
		mustEnvelope(t, token.Envelope{AccessToken: "at"}))
	require.NoError(t, err)
	defer sess.Close()

	tenancies, err := sess.Tenancies(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenancies, 1, "a tenancy id claimed twice yields one tenancy")
	assert.Equal(t, "t-dup", tenancies[0].ID)
}

func TestOIDCSessionTenanciesNoGroups(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.userinfo = map[string]any{"sub": "user-1"}

	clientset := fake.NewSimpleClientset(
		namespace("az-alpha",
			map[string]string{"portal.azimuth-cloud.io/tenant-id": "t-alpha"},
			map[string]string{"portal.azimuth-cloud.io/tenant-group": "team-a"}),
	)

	provider, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(issuer.server.URL), clientset)
	require.NoError(t, err)

	sess, err := provider.FromToken(context.Background(),
		mustEnvelope(t, token.Envelope{AccessToken: "at"}))
	require.NoError(t, err)
	defer sess.Close()

	tenancies, err := sess.Tenancies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tenancies)
	assert.Empty(t, clientset.Actions(), "no groups means the namespace scan is skipped")
}

func TestOIDCSessionRefresh(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.userinfo = map[string]any{"sub": "user-1"}
	issuer.wantBearer = "at-new"
	issuer.refreshBody = map[string]any{
		"access_token":  "at-new",
		"refresh_token": "rt-new",
		"expires_in":    3600,
	}

	provider, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(issuer.server.URL), fake.NewSimpleClientset())
	require.NoError(t, err)

	expired := token.Envelope{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}
	sess, err := provider.FromToken(context.Background(), mustEnvelope(t, expired))
	require.NoError(t, err)
	defer sess.Close()

	user, err := sess.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, 1, issuer.refreshCalls)

	refreshed := token.Decode(sess.Token())
	assert.Equal(t, "at-new", refreshed.AccessToken)
	assert.Equal(t, "rt-new", refreshed.RefreshToken)
	assert.True(t, refreshed.ExpiryKnown())
}

func TestOIDCSessionRefreshFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apperrors.Kind
	}{
		{"rejected grant forces a new login", http.StatusBadRequest, apperrors.KindAuthenticationExpired},
		{"issuer outage is a communication error", http.StatusBadGateway, apperrors.KindCommunicationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := newFakeIssuer(t)
			issuer.userinfo = map[string]any{"sub": "user-1"}
			issuer.refreshStatus = tt.status

			provider, err := NewOIDCProviderWithClientset(
				context.Background(), tenancyTestConfig(issuer.server.URL), fake.NewSimpleClientset())
			require.NoError(t, err)

			expired := token.Envelope{
				AccessToken:  "at-old",
				RefreshToken: "rt-old",
				ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
			}
			sess, err := provider.FromToken(context.Background(), mustEnvelope(t, expired))
			require.NoError(t, err)
			defer sess.Close()

			_, err = sess.User(context.Background())
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestOIDCSessionCredential(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.userinfo = map[string]any{"sub": "user-1"}

	provider, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(issuer.server.URL), fake.NewSimpleClientset())
	require.NoError(t, err)

	sess, err := provider.FromToken(context.Background(),
		mustEnvelope(t, token.Envelope{AccessToken: "at"}))
	require.NoError(t, err)
	defer sess.Close()

	cred, err := sess.Credential(context.Background(), "t-alpha", CredentialProviderOIDC)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, CredentialProviderOIDC, cred.Provider)
	assert.Equal(t, "at", cred.Data["access_token"])
	assert.Equal(t, "t-alpha", cred.Data["tenancy_id"])

	otherCred, err := sess.Credential(context.Background(), "t-alpha", "unknown_provider")
	require.NoError(t, err)
	assert.Nil(t, otherCred, "unknown providers yield no credential")

	_, err = sess.SSHPublicKey(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnsupportedOperation))
}

func TestOIDCProviderRequiresEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"issuer": %q, "authorization_endpoint": %q}`,
			"http://"+r.Host, "http://"+r.Host+"/authorize")
	}))
	defer server.Close()

	_, err := NewOIDCProviderWithClientset(
		context.Background(), tenancyTestConfig(server.URL), fake.NewSimpleClientset())
	assert.Error(t, err)
}
