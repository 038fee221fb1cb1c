package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/digitalrelab/star-export/internal/repository"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	jobs *repository.JobRegistry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(jobs *repository.JobRegistry) *HealthHandler {
	return &HealthHandler{jobs: jobs}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
	Jobs      int    `json:"jobs"`
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Jobs:      h.jobs.Len(),
	})
}
