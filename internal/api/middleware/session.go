package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

type sessionContextKey struct{}

// RefreshedTokenHeader carries the new token when a session refreshed its
// token mid-request. Clients must replace their stored token whenever the
// header is present.
const RefreshedTokenHeader = "X-Refreshed-Token"

// SessionFromContext returns the request's session, if one was attached.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return sess, ok
}

// Session builds a session from the bearer token and attaches it to the
// request context. The session is closed when the handler returns, on every
// path. Requests without a token are rejected here so handlers can assume a
// session exists.
func Session(provider session.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "authentication required")
				return
			}
			sess, err := provider.FromToken(r.Context(), token)
			if err != nil {
				unauthorized(w, "session is no longer valid")
				return
			}
			defer sess.Close()

			// The session may refresh its token during any call. The new
			// token has to reach the client, and response headers are
			// immutable once the body starts, so the check runs lazily just
			// before the first write.
			tw := &tokenWriter{ResponseWriter: w, original: token, session: sess}
			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(tw, r.WithContext(ctx))
			tw.flushHeader()
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// tokenWriter defers the refreshed-token header until the response is about
// to be written, when any refresh has already happened.
type tokenWriter struct {
	http.ResponseWriter
	original string
	session  session.Session
	wrote    bool
}

func (w *tokenWriter) flushHeader() {
	if w.wrote {
		return
	}
	w.wrote = true
	if current := w.session.Token(); current != w.original {
		w.Header().Set(RefreshedTokenHeader, current)
	}
}

func (w *tokenWriter) WriteHeader(code int) {
	w.flushHeader()
	w.ResponseWriter.WriteHeader(code)
}

func (w *tokenWriter) Write(b []byte) (int, error) {
	w.flushHeader()
	return w.ResponseWriter.Write(b)
}
