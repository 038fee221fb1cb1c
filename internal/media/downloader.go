// Package media downloads extracted media references with bounded
// concurrency and bundles export directories into zip archives.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/digitalrelab/star-export/internal/domain"
)

// ProgressFunc receives running totals after every attempted item.
type ProgressFunc func(domain.DownloadProgress)

// Options controls one download batch.
type Options struct {
	OutputDir   string
	Concurrency int
	MaxRetries  int
	// RetryDelay is the base for the linear backoff between attempts:
	// the wait after attempt n is n*RetryDelay.
	RetryDelay time.Duration
	OnProgress ProgressFunc
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// Downloader fetches media items over HTTP. A single Downloader is
// shared by all export jobs; the in-flight URL set spans batches so the
// same URL is never fetched twice concurrently.
type Downloader struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewDownloader creates a media downloader.
func NewDownloader(timeout time.Duration, userAgent string, logger *slog.Logger) *Downloader {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Downloader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
		active:    make(map[string]struct{}),
	}
}

// DownloadBatch processes items with at most opts.Concurrency downloads
// in flight. Each item is retried up to MaxRetries times with linearly
// increasing delay; permanent failures are recorded in the returned
// stats and never abort the batch. Existing destination files are
// skipped, which makes re-runs idempotent. The batch returns once every
// item has been attempted to completion or exhaustion, or earlier with
// ctx.Err() when the context is cancelled.
func (d *Downloader) DownloadBatch(ctx context.Context, items []domain.MediaItem, opts Options) (*domain.DownloadStats, error) {
	opts.applyDefaults()

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	stats := &domain.DownloadStats{
		Total:  len(items),
		Failed: []string{},
	}

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var statsMu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled mid-batch; remaining items are skipped.
			wg.Wait()
			return stats, err
		}

		wg.Add(1)
		go func(item domain.MediaItem) {
			defer wg.Done()
			defer sem.Release(1)

			err := d.downloadItem(ctx, item, opts)

			statsMu.Lock()
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Warn("media download failed",
						"url", item.URL,
						"error", err,
					)
				}
				stats.Failed = append(stats.Failed, item.URL)
			} else {
				stats.Downloaded++
			}
			progress := domain.DownloadProgress{
				Total:      stats.Total,
				Downloaded: stats.Downloaded,
				Current:    itemFilename(item),
				Failed:     append([]string(nil), stats.Failed...),
			}
			statsMu.Unlock()

			if opts.OnProgress != nil {
				opts.OnProgress(progress)
			}
		}(item)
	}

	wg.Wait()
	return stats, ctx.Err()
}

// itemFilename resolves the name an item is stored under, generating a
// date-prefixed one when the extractor did not supply a filename.
func itemFilename(item domain.MediaItem) string {
	if item.Filename != "" {
		return item.Filename
	}
	var id, timestamp string
	if item.Metadata != nil {
		id = item.Metadata.OriginalID
		timestamp = item.Metadata.Timestamp
	}
	return MediaFilename(item.URL, id, item.Type, timestamp)
}

// downloadItem fetches a single item with retries. Returns nil when the
// file already exists or another download of the same URL is in flight.
func (d *Downloader) downloadItem(ctx context.Context, item domain.MediaItem, opts Options) error {
	if item.URL == "" {
		return domain.ErrNoMediaURL
	}

	if !d.markActive(item.URL) {
		// Another goroutine is already fetching this URL.
		return nil
	}
	defer d.unmarkActive(item.URL)

	typeDir := "images"
	if item.Type == domain.MediaTypeVideo {
		typeDir = "videos"
	}

	dir := filepath.Join(opts.OutputDir, typeDir)
	if item.Metadata != nil && item.Metadata.Platform != "" {
		dir = filepath.Join(dir, item.Metadata.Platform)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create media directory: %w", err)
	}

	filePath := filepath.Join(dir, SanitizeFilename(itemFilename(item)))

	if _, err := os.Stat(filePath); err == nil {
		d.logger.Debug("file already exists, skipping", "path", filePath)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = d.fetchToFile(ctx, item.URL, filePath)
		if lastErr == nil {
			if item.Metadata != nil {
				if err := writeSidecar(filePath, item.Metadata); err != nil {
					d.logger.Warn("failed to write metadata sidecar", "path", filePath, "error", err)
				}
			}
			return nil
		}

		if attempt < opts.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * opts.RetryDelay):
			}
		}
	}

	return fmt.Errorf("download failed after %d attempts: %w", opts.MaxRetries, lastErr)
}

func (d *Downloader) fetchToFile(ctx context.Context, url, filePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	// Write through a temp file so a partial download never passes the
	// exists check on a later run.
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close file: %w", err)
	}

	return os.Rename(tmpPath, filePath)
}

func (d *Downloader) markActive(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.active[url]; ok {
		return false
	}
	d.active[url] = struct{}{}
	return true
}

func (d *Downloader) unmarkActive(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.active, url)
}

// sidecar is the metadata file written next to each downloaded file.
type sidecar struct {
	*domain.MediaMetadata
	DownloadedAt     time.Time `json:"downloadedAt"`
	OriginalFilePath string    `json:"originalFilePath"`
}

func writeSidecar(filePath string, metadata *domain.MediaMetadata) error {
	content, err := json.MarshalIndent(sidecar{
		MediaMetadata:    metadata,
		DownloadedAt:     time.Now(),
		OriginalFilePath: filePath,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filePath+".meta.json", content, 0644)
}
