package api

import (
	"errors"
	"net/http"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

var errNoDataset = errors.New("no dataset source configured")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`

	// Set for feature/schema mismatches.
	Expected []string `json:"expected,omitempty"`
	Received []string `json:"received,omitempty"`

	// Set when a single feature value is rejected.
	Field string `json:"field,omitempty"`
}

// statusFor maps domain errors to HTTP status codes. Only payload problems,
// including an oversized body, are the caller's fault; everything else is a 500.
func statusFor(err error) int {
	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		return http.StatusBadRequest
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}

	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		resp.Expected = schemaErr.Expected
		resp.Received = schemaErr.Received
		resp.Field = schemaErr.Field
	}
	return resp
}

// writeError writes err as a JSON error body with its mapped status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse(err))
}
