package web

// errors.go provides unified error response handling for the API.
//
// Every error is logged with full technical detail server-side, then
// returned to the client as a user-friendly message with an action
// suggestion and a support code. The HTTP status comes from the engine's
// sentinel errors so clients can branch without parsing messages.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wcrm/importd/internal/importer"
)

// ErrorResponse is the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message,
// Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs the technical error and writes the sanitized JSON
// response with a status derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusFor(err)
	userMsg := importer.MapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var missing *importer.MissingRequiredError
	switch {
	case errors.Is(err, importer.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrWrongStage):
		return http.StatusConflict
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrNoDataRows):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrRepositoryUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
