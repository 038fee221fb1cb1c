package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitalrelab/star-export/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOptions(dir string) Options {
	return Options{
		OutputDir:   dir,
		Concurrency: 3,
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
	}
}

func imageItem(url, filename string) domain.MediaItem {
	return domain.MediaItem{
		URL:      url,
		Type:     domain.MediaTypeImage,
		Filename: filename,
		Metadata: &domain.MediaMetadata{
			OriginalID: "media-1",
			Platform:   "youtube",
			Timestamp:  "2024-01-15T10:00:00Z",
			Caption:    "test caption",
		},
	}
}

func TestDownloader_DownloadBatch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	stats, err := dl.DownloadBatch(context.Background(), []domain.MediaItem{
		imageItem(server.URL+"/a.jpg", "a.jpg"),
		imageItem(server.URL+"/b.jpg", "b.jpg"),
	}, testOptions(dir))
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}

	if stats.Downloaded != 2 {
		t.Errorf("Downloaded = %d, want 2", stats.Downloaded)
	}
	if len(stats.Failed) != 0 {
		t.Errorf("Failed = %v, want empty", stats.Failed)
	}

	// Files land under <outputDir>/images/<platform>/.
	path := filepath.Join(dir, "images", "youtube", "a.jpg")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if string(data) != "image bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestDownloader_DownloadBatch_SidecarMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	_, err := dl.DownloadBatch(context.Background(), []domain.MediaItem{
		imageItem(server.URL+"/a.jpg", "a.jpg"),
	}, testOptions(dir))
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}

	sidecarPath := filepath.Join(dir, "images", "youtube", "a.jpg.meta.json")
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}

	var meta struct {
		OriginalID   string `json:"originalId"`
		Platform     string `json:"platform"`
		Caption      string `json:"caption"`
		DownloadedAt string `json:"downloadedAt"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("sidecar not valid JSON: %v", err)
	}
	if meta.OriginalID != "media-1" || meta.Platform != "youtube" {
		t.Errorf("sidecar metadata = %+v", meta)
	}
	if meta.DownloadedAt == "" {
		t.Error("sidecar should record download timestamp")
	}
}

func TestDownloader_DownloadBatch_IdempotentRerun(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches.Add(1) > 1 {
			t.Error("URL fetched more than once across re-runs")
		}
		w.Write([]byte("image bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())
	items := []domain.MediaItem{imageItem(server.URL+"/a.jpg", "a.jpg")}

	for run := 0; run < 2; run++ {
		stats, err := dl.DownloadBatch(context.Background(), items, testOptions(dir))
		if err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
		if stats.Downloaded != 1 {
			t.Errorf("run %d: Downloaded = %d, want 1", run, stats.Downloaded)
		}
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "images", "youtube"))
	var files int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jpg" {
			files++
		}
	}
	if files != 1 {
		t.Errorf("file count = %d, want exactly 1", files)
	}
}

func TestDownloader_DownloadBatch_RetryBound(t *testing.T) {
	var badAttempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.jpg" {
			badAttempts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	stats, err := dl.DownloadBatch(context.Background(), []domain.MediaItem{
		imageItem(server.URL+"/bad.jpg", "bad.jpg"),
		imageItem(server.URL+"/good.jpg", "good.jpg"),
	}, testOptions(dir))
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}

	// The failing item is attempted exactly MaxRetries times.
	if got := badAttempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	// Its permanent failure does not abort the rest of the batch.
	if stats.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", stats.Downloaded)
	}
	if len(stats.Failed) != 1 || stats.Failed[0] != server.URL+"/bad.jpg" {
		t.Errorf("Failed = %v", stats.Failed)
	}
}

func TestDownloader_DownloadBatch_ConcurrencyBound(t *testing.T) {
	const concurrency = 2

	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	items := make([]domain.MediaItem, 6)
	for i := range items {
		name := string(rune('a'+i)) + ".jpg"
		items[i] = imageItem(server.URL+"/"+name, name)
	}

	opts := testOptions(dir)
	opts.Concurrency = concurrency

	stats, err := dl.DownloadBatch(context.Background(), items, opts)
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}
	if stats.Downloaded != 6 {
		t.Errorf("Downloaded = %d, want 6", stats.Downloaded)
	}
	if got := peak.Load(); got > concurrency {
		t.Errorf("peak in-flight = %d, want <= %d", got, concurrency)
	}
}

func TestDownloader_DownloadBatch_ProgressAfterEveryItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	var mu sync.Mutex
	var calls []domain.DownloadProgress

	opts := testOptions(dir)
	opts.OnProgress = func(p domain.DownloadProgress) {
		mu.Lock()
		calls = append(calls, p)
		mu.Unlock()
	}

	_, err := dl.DownloadBatch(context.Background(), []domain.MediaItem{
		imageItem(server.URL+"/a.jpg", "a.jpg"),
		imageItem(server.URL+"/bad.jpg", "bad.jpg"),
		imageItem(server.URL+"/c.jpg", "c.jpg"),
	}, opts)
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}

	// Progress fires after every item, success or failure.
	if len(calls) != 3 {
		t.Fatalf("progress calls = %d, want 3", len(calls))
	}

	last := calls[len(calls)-1]
	if last.Total != 3 {
		t.Errorf("Total = %d, want 3", last.Total)
	}
	if last.Downloaded != 2 {
		t.Errorf("final Downloaded = %d, want 2", last.Downloaded)
	}
	if len(last.Failed) != 1 {
		t.Errorf("final Failed = %v, want one entry", last.Failed)
	}
}

func TestDownloader_DownloadBatch_Cancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("ok"))
	}))
	defer server.Close()
	defer close(release)

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	items := make([]domain.MediaItem, 4)
	for i := range items {
		name := string(rune('a'+i)) + ".jpg"
		items[i] = imageItem(server.URL+"/"+name, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	opts := testOptions(dir)
	opts.Concurrency = 1

	_, err := dl.DownloadBatch(ctx, items, opts)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDownloader_DownloadBatch_EmptyURL(t *testing.T) {
	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	stats, err := dl.DownloadBatch(context.Background(), []domain.MediaItem{
		{URL: "", Type: domain.MediaTypeImage, Filename: "empty.jpg"},
	}, testOptions(dir))
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}
	if len(stats.Failed) != 1 {
		t.Errorf("Failed = %v, want one entry", stats.Failed)
	}
}

func TestDownloader_DownloadBatch_GeneratedFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dl := NewDownloader(5*time.Second, "test-agent", testLogger())

	// No filename on the item: the downloader derives a date-prefixed
	// one from the URL and metadata.
	item := imageItem(server.URL+"/photos/pic.png", "")

	var current string
	opts := testOptions(dir)
	opts.OnProgress = func(p domain.DownloadProgress) { current = p.Current }

	stats, err := dl.DownloadBatch(context.Background(), []domain.MediaItem{item}, opts)
	if err != nil {
		t.Fatalf("DownloadBatch failed: %v", err)
	}
	if stats.Downloaded != 1 {
		t.Fatalf("Downloaded = %d, want 1", stats.Downloaded)
	}

	want := "2024-01-15_media-1.png"
	path := filepath.Join(dir, "images", "youtube", want)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("generated file missing at %s: %v", path, err)
	}
	if current != want {
		t.Errorf("progress current = %q, want %q", current, want)
	}
}
