package rest

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/azimuth-cloud/azimuth-portal/internal/auth"
)

// authMethod is the public description of one configured login flow.
type authMethod struct {
	Name                string `json:"name"`
	UsesCrossDomainPOST bool   `json:"uses_crossdomain_post"`
}

func (h *Handler) authMethods(w http.ResponseWriter, r *http.Request) {
	methods := make([]authMethod, 0)
	for _, name := range h.registry.Names() {
		a := h.registry.Get(name)
		methods = append(methods, authMethod{
			Name:                a.Name(),
			UsesCrossDomainPOST: a.UsesCrossDomainPOST(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"methods": methods})
}

func (h *Handler) authenticator(r *http.Request) auth.Authenticator {
	return h.registry.Get(mux.Vars(r)["method"])
}

// authStart begins a login flow: a form descriptor for form authenticators,
// a redirect for IdP-backed ones, or a replayed failure when the IdP sent
// the user back with a failure code.
func (h *Handler) authStart(w http.ResponseWriter, r *http.Request) {
	a := h.authenticator(r)
	if a == nil {
		respondJSON(w, http.StatusNotFound, APIError{Error: "unknown authentication method", Code: "NOT_FOUND"})
		return
	}

	start, err := a.Start(r.Context(), r, h.completeURL(r, a.Name()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	switch {
	case start.FailureCode != "":
		respondJSON(w, http.StatusUnauthorized, map[string]string{
			"error":        "login failed",
			"failure_code": start.FailureCode,
		})
	case start.RedirectURL != "":
		http.Redirect(w, r, start.RedirectURL, http.StatusFound)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"form": start.Form})
	}
}

// authComplete finishes a login flow. Every flow failure is a generic 401;
// the reason never reaches the client.
func (h *Handler) authComplete(w http.ResponseWriter, r *http.Request) {
	a := h.authenticator(r)
	if a == nil {
		respondJSON(w, http.StatusNotFound, APIError{Error: "unknown authentication method", Code: "NOT_FOUND"})
		return
	}
	token, ok := a.Complete(r.Context(), r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// completeURL derives the callback for a login flow from the incoming
// request, honouring the proxy protocol header.
func (h *Handler) completeURL(r *http.Request, method string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return fmt.Sprintf("%s://%s/api/auth/%s/complete", scheme, r.Host, method)
}
