package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/digitalrelab/star-export/internal/domain"
)

// envelope is the uniform response body shape: success plus either a
// data payload, an error message, or a human-readable message.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func respond(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondData(w http.ResponseWriter, status int, data any) {
	respond(w, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, envelope{Success: false, Error: msg})
}

// respondDomainError maps domain errors to HTTP status codes.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, domain.ErrArtifactNotFound):
		respondError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, domain.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, domain.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		respondError(w, http.StatusBadRequest, "Unsupported platform")
	case errors.Is(err, domain.ErrNotConnected):
		respondError(w, http.StatusBadRequest, "Platform not connected")
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// timestamp formats t as RFC 3339, returning nil for the zero value so
// the field is omitted from JSON.
func timestamp(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
