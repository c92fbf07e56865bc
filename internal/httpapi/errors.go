package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
)

// ErrorResponse is the JSON body of every failed request
//
//	{
//	  "error": "Not Found",
//	  "code": "JOB_NOT_FOUND",
//	  "message": "job not found"
//	}
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error codes
const (
	CodeJobNotFound  = "JOB_NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotReady     = "JOB_NOT_READY"
	CodeInternal     = "INTERNAL_ERROR"
)

// WriteError maps err to a status code and writes an ErrorResponse
func WriteError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	status, code := classify(err)

	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("error_code", code).
		Err(err).
		Msg("request failed")

	WriteJSON(w, log, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: err.Error(),
	})
}

// WriteJSON writes data as a JSON response
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, CodeNotReady
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
