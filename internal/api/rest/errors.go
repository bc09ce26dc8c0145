package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/logger"
)

// APIError is the structured error response body.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// errorCode maps the shared error taxonomy to stable client-facing codes.
func errorCode(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindAuthenticationExpired:
		return "AUTHENTICATION_EXPIRED"
	case apperrors.KindPermissionDenied:
		return "FORBIDDEN"
	case apperrors.KindBadInput:
		return "INVALID_REQUEST"
	case apperrors.KindNotFound:
		return "NOT_FOUND"
	case apperrors.KindInvalidOperation:
		return "INVALID_OPERATION"
	case apperrors.KindUnsupportedOperation:
		return "UNSUPPORTED_OPERATION"
	case apperrors.KindOperationTimedOut:
		return "TIMEOUT"
	case apperrors.KindImproperlyConfigured, apperrors.KindCommunicationError:
		return "INTERNAL_ERROR"
	}
	return "INTERNAL_ERROR"
}

// respondError translates a typed error into a status code and JSON body.
// Backend and configuration failures are logged with detail but reported
// generically; everything else carries its message through.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if kind == apperrors.KindCommunicationError || kind == apperrors.KindImproperlyConfigured || kind == apperrors.KindUnknown {
		slog.Error("request failed", "error", err,
			"request_id", logger.FromContext(r.Context()), "path", r.URL.Path)
		message = "an internal error occurred"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Error:     message,
		Code:      errorCode(kind),
		RequestID: logger.FromContext(r.Context()),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
