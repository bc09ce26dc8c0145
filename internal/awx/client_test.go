package awx

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

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(&config.Config{AWXURL: srv.URL, AWXToken: "test-token"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, srv
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   apperrors.Kind
	}{
		{http.StatusBadRequest, apperrors.KindBadInput},
		{http.StatusUnauthorized, apperrors.KindAuthenticationExpired},
		{http.StatusForbidden, apperrors.KindPermissionDenied},
		{http.StatusNotFound, apperrors.KindNotFound},
		{http.StatusConflict, apperrors.KindInvalidOperation},
		{http.StatusInternalServerError, apperrors.KindCommunicationError},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := c.GetInventory(context.Background(), 1)
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, apperrors.KindOf(err), "status %d", tc.status)
	}
}

func TestListFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/job_templates/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"count": 3, "next": null, "results": [{"id": 3, "name": "c"}]}`)
			return
		}
		next := srv.URL + "/api/v2/job_templates/?page=2"
		fmt.Fprintf(w, `{"count": 3, "next": %q, "results": [{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]}`, next)
	})
	c, s := newTestClient(t, mux)
	srv = s

	templates, err := c.ListJobTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 3)
	assert.Equal(t, "c", templates[2].Name)
}

func TestFindByNameNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"count": 0, "next": null, "results": []}`)
	}))
	_, err := c.FindInventory(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestLaunchJobPayload(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/job_templates/7/launch/", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 99, "status": "pending", "inventory": 42}`)
	}))

	job, err := c.LaunchJob(context.Background(), 7, 42,
		map[string]any{"cluster_state": "present"}, []int{5})
	require.NoError(t, err)
	assert.Equal(t, 99, job.ID)
	assert.Equal(t, float64(42), got["inventory"])

	var extraVars map[string]any
	require.NoError(t, json.Unmarshal([]byte(got["extra_vars"].(string)), &extraVars))
	assert.Equal(t, "present", extraVars["cluster_state"])
	assert.Equal(t, []any{float64(5)}, got["credentials"])
}

func TestPollBounded(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 3, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindOperationTimedOut))
	assert.Equal(t, 3, calls)
}

func TestPollStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 5, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return calls == 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
