package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digitalrelab/star-export/internal/api/middleware"
	"github.com/digitalrelab/star-export/internal/domain"
	"github.com/digitalrelab/star-export/internal/repository"
	"github.com/digitalrelab/star-export/internal/service"
)

// ExportHandler handles export-related HTTP requests.
type ExportHandler struct {
	exportSvc *service.ExportService
	users     *repository.UserRepository
	logger    *slog.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(exportSvc *service.ExportService, users *repository.UserRepository, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		exportSvc: exportSvc,
		users:     users,
		logger:    logger,
	}
}

// ExportStartRequest is the request body for starting an export.
type ExportStartRequest struct {
	Platform     string `json:"platform"`
	Format       string `json:"format"`
	IncludeMedia bool   `json:"includeMedia"`
	Password     string `json:"password,omitempty"`
}

// JobStatusResponse is the polled read model for one export job.
type JobStatusResponse struct {
	Status            string  `json:"status"`
	Progress          int     `json:"progress"`
	CurrentStep       string  `json:"currentStep,omitempty"`
	RecordsProcessed  int     `json:"recordsProcessed"`
	TotalRecords      int     `json:"totalRecords"`
	DownloadURL       string  `json:"downloadUrl,omitempty"`
	Error             string  `json:"error,omitempty"`
	IncludeMedia      bool    `json:"includeMedia"`
	MediaDownloadPath string  `json:"mediaDownloadPath,omitempty"`
	StartedAt         *string `json:"startedAt,omitempty"`
	CompletedAt       *string `json:"completedAt,omitempty"`
}

// HistoryEntry is one job in the export history listing.
type HistoryEntry struct {
	ID          string  `json:"id"`
	Platform    string  `json:"platform"`
	Status      string  `json:"status"`
	Format      string  `json:"format"`
	CreatedAt   *string `json:"createdAt,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
	RecordCount int     `json:"recordCount"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
}

func jobStatusResponse(job *domain.Job) JobStatusResponse {
	return JobStatusResponse{
		Status:            string(job.Status),
		Progress:          job.Progress,
		CurrentStep:       job.CurrentStep,
		RecordsProcessed:  job.RecordsProcessed,
		TotalRecords:      job.TotalRecords,
		DownloadURL:       job.DownloadURL,
		Error:             job.Error,
		IncludeMedia:      job.IncludeMedia,
		MediaDownloadPath: job.MediaDownloadPath,
		StartedAt:         timestamp(job.StartedAt),
		CompletedAt:       timestamp(job.CompletedAt),
	}
}

// Start begins an export job for the authenticated user.
func (h *ExportHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	var req ExportStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Platform == "" {
		respondError(w, http.StatusBadRequest, "Platform is required")
		return
	}
	if req.Format == "" {
		respondError(w, http.StatusBadRequest, "Format is required")
		return
	}

	job, err := h.exportSvc.Start(service.StartExportParams{
		UserID:       userID,
		Platform:     domain.Platform(req.Platform),
		Format:       req.Format,
		IncludeMedia: req.IncludeMedia,
		Password:     req.Password,
	})
	if err != nil {
		h.logger.Warn("failed to start export", "user_id", userID, "platform", req.Platform, "error", err)
		respondDomainError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]string{"jobId": job.ID.String()})
}

// Status returns the current state of one export job.
func (h *ExportHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	jobID := domain.JobID(chi.URLParam(r, "jobID"))

	job, err := h.exportSvc.Status(jobID, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondData(w, http.StatusOK, jobStatusResponse(job))
}

// Cancel requests cancellation of a processing job.
func (h *ExportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	jobID := domain.JobID(chi.URLParam(r, "jobID"))

	err := h.exportSvc.Cancel(jobID, userID)
	if errors.Is(err, domain.ErrJobNotCancellable) {
		respond(w, http.StatusOK, envelope{Success: false, Message: "Job could not be cancelled"})
		return
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respond(w, http.StatusOK, envelope{Success: true, Message: "Job cancelled"})
}

// History lists the authenticated user's export jobs.
func (h *ExportHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	jobs := h.exportSvc.JobsForUser(userID)
	entries := make([]HistoryEntry, 0, len(jobs))
	for _, job := range jobs {
		entries = append(entries, HistoryEntry{
			ID:          job.ID.String(),
			Platform:    job.Platform.String(),
			Status:      string(job.Status),
			Format:      job.Format,
			CreatedAt:   timestamp(job.StartedAt),
			CompletedAt: timestamp(job.CompletedAt),
			RecordCount: job.RecordsProcessed,
			DownloadURL: job.DownloadURL,
		})
	}

	respondData(w, http.StatusOK, map[string]any{
		"jobs": entries,
		"pagination": map[string]int{
			"page":       1,
			"limit":      20,
			"total":      len(entries),
			"totalPages": 1,
		},
	})
}

// PlatformStatus reports whether the user's account is connected to a
// platform and summarizes the most recent export for it.
func (h *ExportHandler) PlatformStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	platform := domain.Platform(chi.URLParam(r, "platform"))

	if !platform.Supported() {
		respondError(w, http.StatusBadRequest, "Unsupported platform")
		return
	}

	user, err := h.users.FindByID(userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	connected := user.AccessToken != ""
	if platform == domain.PlatformYouTube {
		connected = connected && user.GoogleID != ""
	} else {
		connected = connected && user.FacebookID != ""
	}

	data := map[string]any{
		"connected": connected,
		"lastSync":  timestamp(user.UpdatedAt),
	}
	if job, err := h.exportSvc.LatestForPlatform(userID, platform); err == nil {
		data["lastExport"] = map[string]any{
			"jobId":       job.ID.String(),
			"status":      string(job.Status),
			"completedAt": timestamp(job.CompletedAt),
		}
	}

	respondData(w, http.StatusOK, data)
}

// Download serves a finished export artifact.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	jobID := domain.JobID(chi.URLParam(r, "jobID"))
	filename := chi.URLParam(r, "filename")

	path, err := h.exportSvc.ArtifactPath(jobID, userID, filename)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	contentType := "application/json"
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip":
		contentType = "application/zip"
	case ".enc":
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeFile(w, r, path)
}
