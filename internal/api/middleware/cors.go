package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/azimuth-cloud/azimuth-portal/internal/config"
)

// CORS builds the cross-origin policy from configuration. Login completion
// for cross-domain POST authenticators arrives as a form POST from the
// identity provider's origin, so POST with form content types must be
// allowed from any origin on the auth routes; that is handled by the simple
// request rules of CORS itself and needs no preflight exemption here.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", ResponseRequestIDHeader},
		ExposedHeaders: []string{RefreshedTokenHeader, ResponseRequestIDHeader, TraceIDHeader},
		MaxAge:         300,
	})
	return c.Handler
}
