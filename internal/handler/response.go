package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//
//	{
//	  "error":    "validation_error",
//	  "message":  "please correct the highlighted fields",
//	  "fields":   {"email": "Enter a valid email address."},
//	  "messages": [{"level":"error","text":"Enter a valid email address.","field":"email"}]
//	}
//
// "fields" is there for forms that annotate inputs directly; "messages" is
// the same feedback in the notification format used by successful calls.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/notify"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error    string            `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message  string            `json:"message"` // Human-readable description
	Fields   map[string]string `json:"fields,omitempty"`
	Messages []notify.Message  `json:"messages,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// writes, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// The headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error category to its HTTP status and machine-readable
// type.
//
//	ErrValidation          → 400 validation_error
//	ErrInvalidCredentials  → 401 invalid_credentials
//	ErrPermissionDenied    → 403 forbidden
//	ErrNotFound            → 404 not_found
//	ErrDuplicateEmail      → 409 duplicate_email
//	ErrProviderUnreachable → 503 provider_unreachable
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, apperror.ErrPermissionDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	case errors.Is(err, apperror.ErrProviderUnreachable):
		return http.StatusServiceUnavailable, "provider_unreachable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// The service layer returns apperror categories and never chooses status
// codes; this is the one place they become HTTP.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		// The client went away; nobody is left to read a response.
		logger.Debug("request abandoned by client")
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, errorType := statusFor(err)
		msgs := notify.FromError(appErr)
		message := appErr.Message
		if status == http.StatusServiceUnavailable {
			// The wrapped cause names hosts and ports.
			message = msgs[0].Text
		}
		writeJSON(w, status, ErrorResponse{
			Error:    errorType,
			Message:  message,
			Fields:   appErr.Fields,
			Messages: msgs,
		})
		return
	}

	// Unknown error: return a generic 500.
	// NEVER expose internal error details to the client; the raw message
	// might contain SQL or file paths.
	logger.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
