// Package platform contains the per-platform API clients used by the
// export pipeline. Each client is constructed with a user's access
// token, paginates with the provider's cursor scheme, and surfaces
// provider error text verbatim so it lands in the job's error field.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/digitalrelab/star-export/internal/domain"
)

// Config controls HTTP behavior shared by all platform clients.
type Config struct {
	// BaseURL overrides the platform default; tests point it at a stub
	// server.
	BaseURL string
	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// YouTubeAPI is the surface the orchestrator needs from YouTube.
type YouTubeAPI interface {
	ChannelInfo(ctx context.Context) (json.RawMessage, error)
	Videos(ctx context.Context, max int) ([]YouTubeVideo, error)
	VideoStatistics(ctx context.Context, videoIDs []string) ([]json.RawMessage, error)
	Playlists(ctx context.Context) ([]json.RawMessage, error)
	Subscriptions(ctx context.Context) ([]json.RawMessage, error)
	ExtractMediaItems(videos []YouTubeVideo) []domain.MediaItem
}

// FacebookAPI is the surface the orchestrator needs from Facebook.
type FacebookAPI interface {
	UserInfo(ctx context.Context) (json.RawMessage, error)
	UserPosts(ctx context.Context, max int) ([]FacebookPost, error)
	UserPages(ctx context.Context) ([]json.RawMessage, error)
	LikedPages(ctx context.Context, max int) ([]json.RawMessage, error)
	Friends(ctx context.Context) ([]json.RawMessage, error)
	Photos(ctx context.Context, max int) ([]FacebookPhoto, error)
	ExtractMediaItems(posts []FacebookPost, photos []FacebookPhoto) []domain.MediaItem
}

// InstagramAPI is the surface the orchestrator needs from Instagram.
type InstagramAPI interface {
	UserInfo(ctx context.Context) (json.RawMessage, error)
	UserMedia(ctx context.Context, max int) ([]InstagramMedia, error)
	Stories(ctx context.Context) ([]InstagramMedia, error)
	TaggedMedia(ctx context.Context, max int) ([]InstagramMedia, error)
	AccountInsights(ctx context.Context) (json.RawMessage, error)
	ExtractMediaItems(media, stories []InstagramMedia) []domain.MediaItem
}

// ClientFactory builds per-token API clients. The orchestrator holds a
// factory so tests can substitute stubs without any HTTP.
type ClientFactory interface {
	YouTube(accessToken string) YouTubeAPI
	Facebook(accessToken string) FacebookAPI
	Instagram(accessToken string) InstagramAPI
}

// Factory is the production ClientFactory backed by resty clients.
type Factory struct {
	cfg Config
}

// NewFactory creates a factory with the given HTTP settings.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// YouTube returns a YouTube Data API client for the token.
func (f *Factory) YouTube(accessToken string) YouTubeAPI {
	return NewYouTubeClient(accessToken, f.cfg)
}

// Facebook returns a Graph API client for the token.
func (f *Factory) Facebook(accessToken string) FacebookAPI {
	return NewFacebookClient(accessToken, f.cfg)
}

// Instagram returns an Instagram Graph client for the token.
func (f *Factory) Instagram(accessToken string) InstagramAPI {
	return NewInstagramClient(accessToken, f.cfg)
}

func newRestyClient(cfg Config) *resty.Client {
	client := resty.New()
	client.SetTimeout(cfg.timeout())
	client.SetHeader("Accept", "application/json")
	return client
}

// apiErrorEnvelope is the error envelope shared by the Google and Meta APIs.
type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

var displayNames = map[domain.Platform]string{
	domain.PlatformYouTube:   "YouTube",
	domain.PlatformFacebook:  "Facebook",
	domain.PlatformInstagram: "Instagram",
}

// apiError wraps an upstream failure in a domain.PlatformError so
// callers can attribute it with errors.As while the job's error field
// keeps the provider's "<Platform> API Error: <detail>" text.
func apiError(p domain.Platform, format string, args ...any) error {
	return domain.NewPlatformError(p, displayNames[p]+" API Error", fmt.Errorf(format, args...))
}

// errorMessage extracts the provider-reported message from an error
// response body, falling back to "Unknown error" when the envelope is
// missing or malformed.
func errorMessage(body []byte) string {
	var parsed apiErrorEnvelope
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return "Unknown error"
}

// graphPage is one page of a Meta Graph API list response.
type graphPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
	} `json:"paging"`
}

func pageSize(pageMax, remaining int) int {
	if remaining < pageMax {
		return remaining
	}
	return pageMax
}
