package platform

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/digitalrelab/star-export/internal/domain"
)

const defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeVideo is one video from the authenticated user's channel.
type YouTubeVideo struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	PublishedAt string            `json:"publishedAt"`
	Thumbnails  YouTubeThumbnails `json:"thumbnails"`
	Statistics  json.RawMessage   `json:"statistics,omitempty"`
}

// YouTubeThumbnails holds the thumbnail variants YouTube serves.
type YouTubeThumbnails struct {
	Default YouTubeThumbnail `json:"default"`
	Medium  YouTubeThumbnail `json:"medium"`
	High    YouTubeThumbnail `json:"high"`
}

// YouTubeThumbnail is a single thumbnail reference.
type YouTubeThumbnail struct {
	URL string `json:"url"`
}

// YouTubeClient talks to the YouTube Data API v3 with a bearer token.
type YouTubeClient struct {
	client  *resty.Client
	baseURL string
}

// NewYouTubeClient creates a client for the given access token.
func NewYouTubeClient(accessToken string, cfg Config) *YouTubeClient {
	client := newRestyClient(cfg)
	client.SetAuthToken(accessToken)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}

	return &YouTubeClient{
		client:  client,
		baseURL: baseURL,
	}
}

func (c *YouTubeClient) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.baseURL + endpoint)
	if err != nil {
		return apiError(domain.PlatformYouTube, "%v", err)
	}
	if resp.IsError() {
		return apiError(domain.PlatformYouTube, "%s", errorMessage(resp.Body()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apiError(domain.PlatformYouTube, "malformed response: %v", err)
	}
	return nil
}

// ChannelInfo fetches the authenticated user's channel record.
func (c *YouTubeClient) ChannelInfo(ctx context.Context) (json.RawMessage, error) {
	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	err := c.get(ctx, "/channels", map[string]string{
		"part": "snippet,statistics",
		"mine": "true",
	}, &page)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, apiError(domain.PlatformYouTube, "no channel for authenticated user")
	}
	return page.Items[0], nil
}

// Videos fetches up to max of the user's videos via the search
// endpoint, following nextPageToken until the cap or the last page.
func (c *YouTubeClient) Videos(ctx context.Context, max int) ([]YouTubeVideo, error) {
	var videos []YouTubeVideo
	pageToken := ""

	for len(videos) < max {
		params := map[string]string{
			"part":       "snippet",
			"forMine":    "true",
			"type":       "video",
			"maxResults": strconv.Itoa(pageSize(50, max-len(videos))),
		}
		if pageToken != "" {
			params["pageToken"] = pageToken
		}

		var page struct {
			Items []struct {
				ID struct {
					VideoID string `json:"videoId"`
				} `json:"id"`
				Snippet struct {
					Title       string            `json:"title"`
					Description string            `json:"description"`
					PublishedAt string            `json:"publishedAt"`
					Thumbnails  YouTubeThumbnails `json:"thumbnails"`
				} `json:"snippet"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.get(ctx, "/search", params, &page); err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}

		for _, item := range page.Items {
			videos = append(videos, YouTubeVideo{
				ID:          item.ID.VideoID,
				Title:       item.Snippet.Title,
				Description: item.Snippet.Description,
				PublishedAt: item.Snippet.PublishedAt,
				Thumbnails:  item.Snippet.Thumbnails,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return videos, nil
}

// VideoStatistics fetches statistics records for the given video ids.
func (c *YouTubeClient) VideoStatistics(ctx context.Context, videoIDs []string) ([]json.RawMessage, error) {
	if len(videoIDs) == 0 {
		return nil, nil
	}

	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	err := c.get(ctx, "/videos", map[string]string{
		"part": "statistics",
		"id":   strings.Join(videoIDs, ","),
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Playlists fetches the user's playlists (single page of up to 50).
func (c *YouTubeClient) Playlists(ctx context.Context) ([]json.RawMessage, error) {
	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	err := c.get(ctx, "/playlists", map[string]string{
		"part":       "snippet,contentDetails",
		"mine":       "true",
		"maxResults": "50",
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Subscriptions fetches all of the user's subscriptions, following
// nextPageToken to the end.
func (c *YouTubeClient) Subscriptions(ctx context.Context) ([]json.RawMessage, error) {
	var subscriptions []json.RawMessage
	pageToken := ""

	for {
		params := map[string]string{
			"part":       "snippet",
			"mine":       "true",
			"maxResults": "50",
		}
		if pageToken != "" {
			params["pageToken"] = pageToken
		}

		var page struct {
			Items         []json.RawMessage `json:"items"`
			NextPageToken string            `json:"nextPageToken"`
		}
		if err := c.get(ctx, "/subscriptions", params, &page); err != nil {
			return nil, err
		}

		subscriptions = append(subscriptions, page.Items...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return subscriptions, nil
}

// ExtractMediaItems derives downloadable thumbnail references from
// already-fetched videos. No network calls are made. The medium
// thumbnail is only included when it differs from the high one.
func (c *YouTubeClient) ExtractMediaItems(videos []YouTubeVideo) []domain.MediaItem {
	var items []domain.MediaItem

	for _, video := range videos {
		if video.Thumbnails.High.URL != "" {
			items = append(items, domain.MediaItem{
				URL:      video.Thumbnails.High.URL,
				Type:     domain.MediaTypeImage,
				Filename: video.ID + "_thumbnail.jpg",
				Metadata: &domain.MediaMetadata{
					OriginalID: video.ID,
					Platform:   domain.PlatformYouTube.String(),
					Timestamp:  video.PublishedAt,
					Caption:    video.Title,
				},
			})
		}

		if video.Thumbnails.Medium.URL != "" && video.Thumbnails.Medium.URL != video.Thumbnails.High.URL {
			items = append(items, domain.MediaItem{
				URL:      video.Thumbnails.Medium.URL,
				Type:     domain.MediaTypeImage,
				Filename: video.ID + "_thumbnail_medium.jpg",
				Metadata: &domain.MediaMetadata{
					OriginalID: video.ID,
					Platform:   domain.PlatformYouTube.String(),
					Timestamp:  video.PublishedAt,
					Caption:    video.Title,
				},
			})
		}
	}

	return items
}
