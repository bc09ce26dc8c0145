// Package rest exposes the portal over HTTP: authentication flows, the
// session surface (identity, tenancies, SSH keys) and the cluster lifecycle
// operations, all as thin translations onto the session and cluster
// packages.
package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azimuth-cloud/azimuth-portal/internal/api/middleware"
	"github.com/azimuth-cloud/azimuth-portal/internal/auth"
	"github.com/azimuth-cloud/azimuth-portal/internal/cluster"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

// Handler wires the HTTP surface to the portal's subsystems.
type Handler struct {
	cfg      *config.Config
	registry *auth.Registry
	provider session.Provider
	engine   *cluster.Engine
}

func NewHandler(cfg *config.Config, registry *auth.Registry, provider session.Provider, engine *cluster.Engine) *Handler {
	return &Handler{cfg: cfg, registry: registry, provider: provider, engine: engine}
}

// Router builds the full route tree with the middleware chain applied.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Tracing, middleware.StructuredLog)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz/live", h.healthzLive).Methods(http.MethodGet)
	r.HandleFunc("/healthz/ready", h.healthzReady).Methods(http.MethodGet)

	authRouter := r.PathPrefix("/api/auth").Subrouter()
	authRouter.HandleFunc("/methods", h.authMethods).Methods(http.MethodGet)
	authRouter.HandleFunc("/{method}/start", h.authStart).Methods(http.MethodGet, http.MethodPost)
	authRouter.HandleFunc("/{method}/complete", h.authComplete).Methods(http.MethodGet, http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Session(h.provider))
	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/ssh_key", h.sshPublicKey).Methods(http.MethodGet)
	api.HandleFunc("/ssh_key", h.updateSSHPublicKey).Methods(http.MethodPut)
	api.HandleFunc("/tenancies", h.tenancies).Methods(http.MethodGet)

	tenancy := api.PathPrefix("/tenancies/{tenancyId}").Subrouter()
	tenancy.HandleFunc("/cluster_types", h.clusterTypes).Methods(http.MethodGet)
	tenancy.HandleFunc("/cluster_types/{name}", h.clusterType).Methods(http.MethodGet)
	tenancy.HandleFunc("/clusters", h.clusters).Methods(http.MethodGet)
	tenancy.HandleFunc("/clusters", h.createCluster).Methods(http.MethodPost)
	tenancy.HandleFunc("/clusters/{clusterId}", h.cluster).Methods(http.MethodGet)
	tenancy.HandleFunc("/clusters/{clusterId}", h.updateCluster).Methods(http.MethodPut)
	tenancy.HandleFunc("/clusters/{clusterId}", h.deleteCluster).Methods(http.MethodDelete)
	tenancy.HandleFunc("/clusters/{clusterId}/patch", h.patchCluster).Methods(http.MethodPost)

	return middleware.CORS(h.cfg)(r)
}

func (h *Handler) healthzLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthzReady reports readiness. The portal keeps no local state; once the
// process is serving it is ready, and backend outages surface per-request.
func (h *Handler) healthzReady(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
