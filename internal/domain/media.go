package domain

import "time"

// Platform identifies an external social-media service.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// String returns the string representation of the Platform.
func (p Platform) String() string {
	return string(p)
}

// Supported reports whether the platform has an export implementation.
// GitHub, Twitter and Reddit are placeholders on the frontend only.
func (p Platform) Supported() bool {
	switch p {
	case PlatformYouTube, PlatformFacebook, PlatformInstagram:
		return true
	}
	return false
}

// MediaType distinguishes downloadable media kinds.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// MediaItem is a single downloadable image/video reference extracted
// from fetched platform content. Items are transient: produced by a
// platform client, consumed once by the media downloader.
type MediaItem struct {
	URL      string         `json:"url"`
	Type     MediaType      `json:"type"`
	Filename string         `json:"filename"`
	Metadata *MediaMetadata `json:"metadata,omitempty"`
}

// MediaMetadata carries origin information persisted alongside a
// downloaded file as a sidecar.
type MediaMetadata struct {
	OriginalID string `json:"originalId"`
	Platform   string `json:"platform"`
	Timestamp  string `json:"timestamp,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

// DownloadStats is the transient aggregate for one download batch.
// It is recomputed at the start of every batch and never persisted.
type DownloadStats struct {
	Total      int      `json:"total"`
	Downloaded int      `json:"downloaded"`
	Failed     []string `json:"failed"`
}

// DownloadProgress is reported after every attempted item in a batch.
type DownloadProgress struct {
	Total      int
	Downloaded int
	Current    string
	Failed     []string
}

// ExportMeta is embedded into every export data file.
type ExportMeta struct {
	ExportedAt      time.Time `json:"exportedAt"`
	MediaDownloaded bool      `json:"mediaDownloaded"`
	MediaPath       string    `json:"mediaPath,omitempty"`
}
