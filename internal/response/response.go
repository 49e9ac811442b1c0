package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"mediarelay/internal/errs"
)

// ErrorResponse is the standard error body for every endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Standard error codes
const (
	CodeBadRequest        = "bad_request"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeReconnectRequired = "reconnect_required"
	CodeSessionExpired    = "session_expired"
	CodeUpstreamRejected  = "upstream_rejected"
	CodePollTimeout       = "poll_timeout"
	CodeInternal          = "internal_error"
	CodeUnauthorized      = "unauthorized"
)

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a standardized error response.
func WriteError(w http.ResponseWriter, status int, code, message, hint string) {
	WriteJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Hint:    hint,
	})
}

// WriteTaxonomyError maps a pipeline error onto HTTP. The message is
// always the sanitized form; full detail stays in server logs.
func WriteTaxonomyError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	hint := ""
	if code == CodeReconnectRequired {
		hint = "Re-authorize the platform connection and retry"
	}
	WriteError(w, status, code, errs.Sanitize(err), hint)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, errs.ErrSessionNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errs.ErrSessionExpired):
		return http.StatusGone, CodeSessionExpired
	case errors.Is(err, errs.ErrMergeInProgress):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, errs.ErrReconnectRequired):
		return http.StatusUnauthorized, CodeReconnectRequired
	case errors.Is(err, errs.ErrUpstreamSubmission):
		return http.StatusBadGateway, CodeUpstreamRejected
	case errors.Is(err, errs.ErrPollTimeout):
		return http.StatusGatewayTimeout, CodePollTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
