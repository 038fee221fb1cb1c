// Package service contains the export orchestrator. It owns the job
// registry, drives the per-platform fetch sequences, delegates media
// downloading, and materializes the downloadable artifact.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitalrelab/star-export/internal/config"
	"github.com/digitalrelab/star-export/internal/domain"
	"github.com/digitalrelab/star-export/internal/media"
	"github.com/digitalrelab/star-export/internal/platform"
	"github.com/digitalrelab/star-export/internal/repository"
	"github.com/digitalrelab/star-export/pkg/crypto"
)

// StartExportParams describes one export request.
type StartExportParams struct {
	UserID       string
	Platform     domain.Platform
	Format       string
	IncludeMedia bool

	// Password, when non-empty, seals the final artifact so it can only
	// be opened with the same password.
	Password string
}

// ExportService runs export jobs. Each job fetches the user's data from
// the platform API, optionally downloads the referenced media, and
// writes a downloadable artifact under the export directory. Jobs run
// in background goroutines; state is owned by the job registry and
// every mutation goes through it.
type ExportService struct {
	jobs       *repository.JobRegistry
	users      *repository.UserRepository
	clients    platform.ClientFactory
	downloader *media.Downloader
	exportCfg  config.ExportConfig
	retryCfg   config.DownloadConfig
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[domain.JobID]context.CancelFunc
	running sync.WaitGroup
}

// NewExportService creates the orchestrator.
func NewExportService(
	jobs *repository.JobRegistry,
	users *repository.UserRepository,
	clients platform.ClientFactory,
	downloader *media.Downloader,
	exportCfg config.ExportConfig,
	retryCfg config.DownloadConfig,
	logger *slog.Logger,
) *ExportService {
	return &ExportService{
		jobs:       jobs,
		users:      users,
		clients:    clients,
		downloader: downloader,
		exportCfg:  exportCfg,
		retryCfg:   retryCfg,
		logger:     logger,
		cancels:    make(map[domain.JobID]context.CancelFunc),
	}
}

// Start creates a job and launches its export in the background. The
// returned snapshot reflects the job's initial pending state.
func (s *ExportService) Start(params StartExportParams) (*domain.Job, error) {
	if !params.Platform.Supported() {
		return nil, domain.ErrUnsupportedPlatform
	}

	user, err := s.users.FindByID(params.UserID)
	if err != nil {
		return nil, err
	}
	if user.AccessToken == "" {
		return nil, domain.ErrNotConnected
	}

	format := params.Format
	if format == "" {
		format = "json"
	}

	job := domain.NewJob(domain.JobID(uuid.NewString()), params.UserID, params.Platform, format, params.IncludeMedia)

	// Snapshot before the job is registered and the run goroutine can
	// start mutating it through the registry.
	snapshot := *job
	s.jobs.Create(job)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("export job started",
		"job_id", job.ID,
		"user_id", params.UserID,
		"platform", params.Platform,
		"include_media", params.IncludeMedia,
	)

	s.running.Add(1)
	go s.run(ctx, snapshot.ID, user.AccessToken, params.Password)

	return &snapshot, nil
}

// Status returns a snapshot of the job, enforcing ownership.
func (s *ExportService) Status(jobID domain.JobID, userID string) (*domain.Job, error) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrAccessDenied
	}
	return job, nil
}

// JobsForUser returns snapshots of the user's jobs in start order.
func (s *ExportService) JobsForUser(userID string) []*domain.Job {
	return s.jobs.ListByUser(userID)
}

// LatestForPlatform returns the most recently started of the user's
// jobs for the platform.
func (s *ExportService) LatestForPlatform(userID string, p domain.Platform) (*domain.Job, error) {
	jobs := s.jobs.ListByUser(userID)
	for i := len(jobs) - 1; i >= 0; i-- {
		if jobs[i].Platform == p {
			return jobs[i], nil
		}
	}
	return nil, domain.ErrJobNotFound
}

// Cancel stops a processing job. The job is marked failed with a
// cancellation message and its background goroutine is signalled to
// stop between steps. Jobs in any other state cannot be cancelled.
func (s *ExportService) Cancel(jobID domain.JobID, userID string) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if job.UserID != userID {
		return domain.ErrAccessDenied
	}

	cancelled := false
	if err := s.jobs.Update(jobID, func(j *domain.Job) {
		if !j.CanCancel() {
			return
		}
		j.MarkFailed("Cancelled by user")
		cancelled = true
	}); err != nil {
		return err
	}
	if !cancelled {
		return domain.ErrJobNotCancellable
	}

	s.mu.Lock()
	cancel := s.cancels[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.logger.Info("export job cancelled", "job_id", jobID, "user_id", userID)
	return nil
}

// ArtifactPath resolves a download request to a file under the job's
// export directory, enforcing ownership and rejecting path traversal.
func (s *ExportService) ArtifactPath(jobID domain.JobID, userID, filename string) (string, error) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return "", err
	}
	if job.UserID != userID {
		return "", domain.ErrAccessDenied
	}

	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", domain.ErrArtifactNotFound
	}

	path := filepath.Join(s.exportCfg.Dir, jobID.String(), filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", domain.ErrArtifactNotFound
	}
	return path, nil
}

// Wait blocks until all in-flight export jobs have finished. Used at
// shutdown so running jobs reach a terminal state.
func (s *ExportService) Wait() {
	s.running.Wait()
}

func (s *ExportService) run(ctx context.Context, jobID domain.JobID, accessToken, password string) {
	defer s.running.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[jobID]; ok {
			cancel()
			delete(s.cancels, jobID)
		}
		s.mu.Unlock()
	}()

	if err := s.runExport(ctx, jobID, accessToken, password); err != nil {
		if ctx.Err() != nil {
			// Cancel already marked the job; leave its state alone.
			s.logger.Info("export job stopped", "job_id", jobID)
			return
		}
		s.fail(jobID, err)
	}
}

func (s *ExportService) runExport(ctx context.Context, jobID domain.JobID, accessToken, password string) error {
	if err := s.jobs.Update(jobID, func(j *domain.Job) {
		j.MarkProcessing("Initializing export...")
	}); err != nil {
		return err
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}

	switch job.Platform {
	case domain.PlatformYouTube:
		return s.exportYouTube(ctx, jobID, accessToken, job.IncludeMedia, password)
	case domain.PlatformFacebook:
		return s.exportFacebook(ctx, jobID, accessToken, job.IncludeMedia, password)
	case domain.PlatformInstagram:
		return s.exportInstagram(ctx, jobID, accessToken, job.IncludeMedia, password)
	default:
		return domain.ErrUnsupportedPlatform
	}
}

func (s *ExportService) exportYouTube(ctx context.Context, jobID domain.JobID, accessToken string, includeMedia bool, password string) error {
	client := s.clients.YouTube(accessToken)

	s.checkpoint(jobID, 10, "Fetching channel information...")
	channel, err := client.ChannelInfo(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 25, "Fetching videos...")
	videos, err := client.Videos(ctx, s.exportCfg.MaxItems)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 50, "Fetching video statistics...")
	s.setTotalRecords(jobID, len(videos))

	videoIDs := make([]string, len(videos))
	for i, v := range videos {
		videoIDs[i] = v.ID
	}
	statistics, err := client.VideoStatistics(ctx, videoIDs)
	if err != nil {
		return err
	}
	attachStatistics(videos, statistics)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 70, "Fetching playlists...")
	playlists, err := client.Playlists(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 85, "Fetching subscriptions...")
	subscriptions, err := client.Subscriptions(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var mediaPath string
	if includeMedia {
		mediaPath, err = s.downloadMedia(ctx, jobID, client.ExtractMediaItems(videos))
		if err != nil {
			return err
		}
	}

	payload := map[string]any{
		"channel":       channel,
		"videos":        videos,
		"playlists":     playlists,
		"subscriptions": subscriptions,
	}

	return s.finalize(ctx, jobID, domain.PlatformYouTube, payload, mediaPath, password, len(videos))
}

func (s *ExportService) exportFacebook(ctx context.Context, jobID domain.JobID, accessToken string, includeMedia bool, password string) error {
	client := s.clients.Facebook(accessToken)

	s.checkpoint(jobID, 10, "Fetching user information...")
	userInfo, err := client.UserInfo(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 25, "Fetching user posts...")
	posts, err := client.UserPosts(ctx, s.exportCfg.MaxItems)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 40, "Fetching pages...")
	s.setTotalRecords(jobID, len(posts))
	pages, err := client.UserPages(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 60, "Fetching liked pages...")
	likedPages, err := client.LikedPages(ctx, s.exportCfg.MaxSecondary)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 75, "Fetching friends...")
	friends, err := client.Friends(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 85, "Fetching photos...")
	photos, err := client.Photos(ctx, s.exportCfg.MaxSecondary)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var mediaPath string
	if includeMedia {
		mediaPath, err = s.downloadMedia(ctx, jobID, client.ExtractMediaItems(posts, photos))
		if err != nil {
			return err
		}
	}

	payload := map[string]any{
		"user":       userInfo,
		"posts":      posts,
		"pages":      pages,
		"likedPages": likedPages,
		"friends":    friends,
		"photos":     photos,
	}

	return s.finalize(ctx, jobID, domain.PlatformFacebook, payload, mediaPath, password, len(posts)+len(photos))
}

func (s *ExportService) exportInstagram(ctx context.Context, jobID domain.JobID, accessToken string, includeMedia bool, password string) error {
	client := s.clients.Instagram(accessToken)

	s.checkpoint(jobID, 10, "Fetching user information...")
	userInfo, err := client.UserInfo(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 25, "Fetching media posts...")
	userMedia, err := client.UserMedia(ctx, s.exportCfg.MaxItems)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 45, "Fetching stories...")
	s.setTotalRecords(jobID, len(userMedia))
	stories, err := client.Stories(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 65, "Fetching tagged media...")
	taggedMedia, err := client.TaggedMedia(ctx, s.exportCfg.MaxSecondary)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.checkpoint(jobID, 80, "Fetching account insights...")
	insights, err := client.AccountInsights(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var mediaPath string
	if includeMedia {
		mediaPath, err = s.downloadMedia(ctx, jobID, client.ExtractMediaItems(userMedia, stories))
		if err != nil {
			return err
		}
	}

	payload := map[string]any{
		"user":        userInfo,
		"media":       userMedia,
		"stories":     stories,
		"taggedMedia": taggedMedia,
		"insights":    insights,
	}

	return s.finalize(ctx, jobID, domain.PlatformInstagram, payload, mediaPath, password, len(userMedia)+len(taggedMedia))
}

// downloadMedia fetches the job's media files under its export
// directory. Individual download failures are recorded by the
// downloader and do not fail the job; only cancellation aborts.
func (s *ExportService) downloadMedia(ctx context.Context, jobID domain.JobID, items []domain.MediaItem) (string, error) {
	s.checkpoint(jobID, 90, "Downloading media files...")

	outputDir := filepath.Join(s.exportCfg.Dir, jobID.String(), "media")
	stats, err := s.downloader.DownloadBatch(ctx, items, media.Options{
		OutputDir:   outputDir,
		Concurrency: s.exportCfg.MediaConcurrency,
		MaxRetries:  s.retryCfg.MaxRetries,
		RetryDelay:  s.retryCfg.RetryDelay,
		OnProgress: func(p domain.DownloadProgress) {
			if p.Total == 0 {
				return
			}
			// Media downloads occupy the 90-95 band of overall progress.
			pct := 90 + (p.Downloaded*5)/p.Total
			s.checkpoint(jobID, pct, fmt.Sprintf("Downloading media: %d/%d", p.Downloaded, p.Total))
		},
	})
	if err != nil {
		return "", err
	}

	if len(stats.Failed) > 0 {
		s.logger.Warn("some media downloads failed",
			"job_id", jobID,
			"failed", len(stats.Failed),
			"downloaded", stats.Downloaded,
		)
	}
	return outputDir, nil
}

// finalize writes the artifact and marks the job completed, unless the
// context was cancelled in the meantime.
func (s *ExportService) finalize(ctx context.Context, jobID domain.JobID, p domain.Platform, payload map[string]any, mediaPath, password string, records int) error {
	s.checkpoint(jobID, 95, "Generating export file...")

	// Every platform's artifact carries the same trailing metadata.
	// Truncating to seconds keeps the timestamp in plain RFC 3339.
	meta := domain.ExportMeta{
		ExportedAt:      time.Now().UTC().Truncate(time.Second),
		MediaDownloaded: mediaPath != "",
		MediaPath:       mediaPath,
	}
	payload["exportedAt"] = meta.ExportedAt
	payload["mediaDownloaded"] = meta.MediaDownloaded
	if meta.MediaPath != "" {
		payload["mediaPath"] = meta.MediaPath
	}

	downloadURL, err := s.writeArtifact(jobID, p, payload, mediaPath, password)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.jobs.Update(jobID, func(j *domain.Job) {
		if j.Terminal() {
			return
		}
		j.MarkCompleted(downloadURL, records)
		j.MediaDownloadPath = mediaPath
	}); err != nil {
		return err
	}

	s.logger.Info("export job completed",
		"job_id", jobID,
		"platform", p,
		"records", records,
		"download_url", downloadURL,
	)
	return nil
}

// writeArtifact serializes the export payload into the job's directory
// and returns the artifact's download URL. When media was downloaded
// the whole directory is bundled into a zip; when a password was given
// the artifact is sealed and the plaintext removed.
func (s *ExportService) writeArtifact(jobID domain.JobID, p domain.Platform, payload map[string]any, mediaPath, password string) (string, error) {
	exportDir := filepath.Join(s.exportCfg.Dir, jobID.String())
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	jsonName := fmt.Sprintf("%s-export-%s.json", p, jobID)
	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export data: %w", err)
	}
	if err := os.WriteFile(filepath.Join(exportDir, jsonName), content, 0644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}

	artifact := jsonName
	if mediaPath != "" {
		if _, err := os.Stat(mediaPath); err == nil {
			zipName := fmt.Sprintf("%s-export-%s.zip", p, jobID)
			if err := media.CreateArchive(exportDir, filepath.Join(exportDir, zipName)); err != nil {
				return "", fmt.Errorf("create archive: %w", err)
			}
			artifact = zipName
		}
	}

	if password != "" {
		sealedName := artifact + ".enc"
		src := filepath.Join(exportDir, artifact)
		if err := crypto.SealFile(src, filepath.Join(exportDir, sealedName), password); err != nil {
			return "", fmt.Errorf("seal artifact: %w", err)
		}
		if err := os.Remove(src); err != nil {
			s.logger.Warn("failed to remove plaintext artifact", "path", src, "error", err)
		}
		artifact = sealedName
	}

	return fmt.Sprintf("/api/exports/%s/%s", jobID, artifact), nil
}

// checkpoint advances the job's progress and step. Progress never moves
// backwards and terminal jobs are left untouched.
func (s *ExportService) checkpoint(jobID domain.JobID, progress int, step string) {
	err := s.jobs.Update(jobID, func(j *domain.Job) {
		if j.Terminal() {
			return
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		j.CurrentStep = step
	})
	if err != nil {
		s.logger.Warn("progress update for unknown job", "job_id", jobID)
	}
}

func (s *ExportService) setTotalRecords(jobID domain.JobID, total int) {
	_ = s.jobs.Update(jobID, func(j *domain.Job) {
		if !j.Terminal() {
			j.TotalRecords = total
		}
	})
}

func (s *ExportService) fail(jobID domain.JobID, cause error) {
	_ = s.jobs.Update(jobID, func(j *domain.Job) {
		if j.Terminal() {
			return
		}
		j.MarkFailed(cause.Error())
	})
	s.logger.Error("export job failed", "job_id", jobID, "error", cause)
}

// attachStatistics pairs the statistics records with their videos by id.
func attachStatistics(videos []platform.YouTubeVideo, statistics []json.RawMessage) {
	byID := make(map[string]json.RawMessage, len(statistics))
	for _, raw := range statistics {
		var record struct {
			ID         string          `json:"id"`
			Statistics json.RawMessage `json:"statistics"`
		}
		if err := json.Unmarshal(raw, &record); err == nil && record.ID != "" {
			byID[record.ID] = record.Statistics
		}
	}
	for i := range videos {
		if stats, ok := byID[videos[i].ID]; ok {
			videos[i].Statistics = stats
		}
	}
}
