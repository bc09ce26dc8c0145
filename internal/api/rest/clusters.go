package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/cluster"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

// tenancyManager resolves the tenancy from the URL against the session's own
// tenancy list and builds a manager for it. A tenancy the user does not
// belong to is indistinguishable from one that does not exist.
func (h *Handler) tenancyManager(w http.ResponseWriter, r *http.Request) (*cluster.Manager, session.Session, bool) {
	sess, ok := requestSession(w, r)
	if !ok {
		return nil, nil, false
	}
	tenancyID := mux.Vars(r)["tenancyId"]

	tenancies, err := sess.Tenancies(r.Context())
	if err != nil {
		respondError(w, r, err)
		return nil, nil, false
	}
	var tenancy *models.Tenancy
	for i := range tenancies {
		if tenancies[i].ID == tenancyID {
			tenancy = &tenancies[i]
			break
		}
	}
	if tenancy == nil {
		respondError(w, r, apperrors.NotFound("tenancy %q not found", tenancyID))
		return nil, nil, false
	}

	manager, err := h.engine.ManagerForTenancy(r.Context(), *tenancy)
	if err != nil {
		respondError(w, r, err)
		return nil, nil, false
	}
	return manager, sess, true
}

// credentialProvider names the downstream credential provider matching the
// configured session backend.
func (h *Handler) credentialProvider() string {
	if h.cfg.AuthType == "oidc" {
		return session.CredentialProviderOIDC
	}
	return session.CredentialProviderOpenStackToken
}

// operationCredential issues the tenancy-scoped credential that cluster
// writes are executed with.
func (h *Handler) operationCredential(r *http.Request, sess session.Session, tenancyID string) (*models.Credential, error) {
	credential, err := sess.Credential(r.Context(), tenancyID, h.credentialProvider())
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, apperrors.UnsupportedOperation(
			"the session cannot issue credentials for this operation")
	}
	return credential, nil
}

func (h *Handler) clusterTypes(w http.ResponseWriter, r *http.Request) {
	manager, _, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()
	types, err := manager.ClusterTypes(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cluster_types": types})
}

func (h *Handler) clusterType(w http.ResponseWriter, r *http.Request) {
	manager, _, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()
	clusterType, err := manager.FindClusterType(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, clusterType)
}

func (h *Handler) clusters(w http.ResponseWriter, r *http.Request) {
	manager, _, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()
	clusters, err := manager.Clusters(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (h *Handler) cluster(w http.ResponseWriter, r *http.Request) {
	manager, _, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()
	found, err := manager.FindCluster(r.Context(), mux.Vars(r)["clusterId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, found)
}

func (h *Handler) createCluster(w http.ResponseWriter, r *http.Request) {
	manager, sess, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()

	var body struct {
		Name            string         `json:"name"`
		ClusterType     string         `json:"cluster_type"`
		ParameterValues map[string]any `json:"parameter_values"`
		SSHPublicKey    string         `json:"ssh_public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apperrors.BadInput("invalid request body"))
		return
	}

	sshKey := body.SSHPublicKey
	if sshKey == "" {
		// Fall back to the user's stored key; absence is fine, some cluster
		// types do not need one.
		if stored, err := sess.SSHPublicKey(r.Context()); err == nil {
			sshKey = stored
		}
	}

	credential, err := h.operationCredential(r, sess, mux.Vars(r)["tenancyId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	created, err := manager.CreateCluster(r.Context(),
		body.Name, body.ClusterType, body.ParameterValues, sshKey, credential)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateCluster(w http.ResponseWriter, r *http.Request) {
	manager, sess, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()

	var body struct {
		ParameterValues map[string]any `json:"parameter_values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apperrors.BadInput("invalid request body"))
		return
	}
	credential, err := h.operationCredential(r, sess, mux.Vars(r)["tenancyId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	updated, err := manager.UpdateCluster(r.Context(),
		mux.Vars(r)["clusterId"], body.ParameterValues, credential)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) patchCluster(w http.ResponseWriter, r *http.Request) {
	manager, sess, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()

	credential, err := h.operationCredential(r, sess, mux.Vars(r)["tenancyId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	patched, err := manager.PatchCluster(r.Context(), mux.Vars(r)["clusterId"], credential)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, patched)
}

func (h *Handler) deleteCluster(w http.ResponseWriter, r *http.Request) {
	manager, sess, ok := h.tenancyManager(w, r)
	if !ok {
		return
	}
	defer manager.Close()

	credential, err := h.operationCredential(r, sess, mux.Vars(r)["tenancyId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	deleted, err := manager.DeleteCluster(r.Context(), mux.Vars(r)["clusterId"], credential)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, deleted)
}
