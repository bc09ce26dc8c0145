package rest

import (
	"encoding/json"
	"net/http"

	"github.com/azimuth-cloud/azimuth-portal/internal/api/middleware"
	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

// requestSession returns the session the middleware attached. The session
// middleware guards every route that reaches here, so absence is a wiring
// bug, reported as an internal error rather than a panic.
func requestSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		respondError(w, r, apperrors.New(apperrors.KindUnknown, "no session on request"))
	}
	return sess, ok
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	user, err := sess.User(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) tenancies(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	tenancies, err := sess.Tenancies(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenancies": tenancies})
}

func (h *Handler) sshPublicKey(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	key, err := sess.SSHPublicKey(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"ssh_public_key": key})
}

func (h *Handler) updateSSHPublicKey(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	var body struct {
		SSHPublicKey string `json:"ssh_public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apperrors.BadInput("invalid request body"))
		return
	}
	key, err := sess.UpdateSSHPublicKey(r.Context(), body.SSHPublicKey)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"ssh_public_key": key})
}
