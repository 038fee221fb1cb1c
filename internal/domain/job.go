package domain

import (
	"time"
)

// JobID is a unique identifier for an export job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of an export job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents one export request's full lifecycle record.
// Jobs are owned by the export service and mutated only through its
// status-update path; they live for the lifetime of the process.
type Job struct {
	ID                JobID
	UserID            string
	Platform          Platform
	Format            string
	Status            JobStatus
	Progress          int
	CurrentStep       string
	RecordsProcessed  int
	TotalRecords      int
	DownloadURL       string
	Error             string
	IncludeMedia      bool
	MediaDownloadPath string
	StartedAt         time.Time
	CompletedAt       time.Time
}

// NewJob creates a new export job in the pending state.
func NewJob(id JobID, userID string, platform Platform, format string, includeMedia bool) *Job {
	return &Job{
		ID:           id,
		UserID:       userID,
		Platform:     platform,
		Format:       format,
		Status:       JobStatusPending,
		IncludeMedia: includeMedia,
		StartedAt:    time.Now(),
	}
}

// MarkProcessing transitions the job into the processing state.
func (j *Job) MarkProcessing(step string) {
	j.Status = JobStatusProcessing
	j.CurrentStep = step
}

// MarkCompleted finalizes a successful job.
func (j *Job) MarkCompleted(downloadURL string, records int) {
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.CurrentStep = "Export completed"
	j.DownloadURL = downloadURL
	j.RecordsProcessed = records
	j.CompletedAt = time.Now()
}

// MarkFailed records a terminal failure with a human-readable message.
func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.CompletedAt = time.Now()
}

// CanCancel reports whether a cancel request is honored for the job.
// Only jobs that are actively processing may be cancelled.
func (j *Job) CanCancel() bool {
	return j.Status == JobStatusProcessing
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
