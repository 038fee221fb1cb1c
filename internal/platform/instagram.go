package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/digitalrelab/star-export/internal/domain"
)

const defaultInstagramBaseURL = "https://graph.instagram.com"

// InstagramMedia is one media post (or story) from the user's account.
// Carousel albums nest their children one level deep.
type InstagramMedia struct {
	ID            string             `json:"id"`
	MediaType     string             `json:"media_type"`
	MediaURL      string             `json:"media_url"`
	Permalink     string             `json:"permalink,omitempty"`
	Caption       string             `json:"caption,omitempty"`
	Timestamp     string             `json:"timestamp"`
	LikeCount     int                `json:"like_count,omitempty"`
	CommentsCount int                `json:"comments_count,omitempty"`
	ThumbnailURL  string             `json:"thumbnail_url,omitempty"`
	Children      *InstagramChildren `json:"children,omitempty"`
}

// InstagramChildren wraps carousel child media.
type InstagramChildren struct {
	Data []InstagramMedia `json:"data"`
}

// InstagramClient talks to the Instagram Graph API.
type InstagramClient struct {
	client      *resty.Client
	baseURL     string
	accessToken string
}

// NewInstagramClient creates a client for the given access token.
func NewInstagramClient(accessToken string, cfg Config) *InstagramClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultInstagramBaseURL
	}

	return &InstagramClient{
		client:      newRestyClient(cfg),
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

func (c *InstagramClient) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", c.accessToken).
		SetQueryParams(params).
		Get(c.baseURL + endpoint)
	if err != nil {
		return apiError(domain.PlatformInstagram, "%v", err)
	}
	if resp.IsError() {
		return apiError(domain.PlatformInstagram, "%s", errorMessage(resp.Body()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apiError(domain.PlatformInstagram, "malformed response: %v", err)
	}
	return nil
}

func (c *InstagramClient) paginateMedia(ctx context.Context, endpoint, fields string, max int) ([]InstagramMedia, error) {
	var media []InstagramMedia
	after := ""

	for len(media) < max {
		params := map[string]string{
			"fields": fields,
			"limit":  strconv.Itoa(pageSize(25, max-len(media))),
		}
		if after != "" {
			params["after"] = after
		}

		var page struct {
			Data   []InstagramMedia `json:"data"`
			Paging struct {
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
			} `json:"paging"`
		}
		if err := c.get(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}

		media = append(media, page.Data...)

		if page.Paging.Cursors.After == "" {
			break
		}
		after = page.Paging.Cursors.After
	}

	return media, nil
}

// UserInfo fetches the authenticated user's account record.
func (c *InstagramClient) UserInfo(ctx context.Context) (json.RawMessage, error) {
	var info json.RawMessage
	err := c.get(ctx, "/me", map[string]string{
		"fields": "id,username,account_type,media_count,followers_count,follows_count",
	}, &info)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// UserMedia fetches up to max of the user's media posts, including
// carousel children.
func (c *InstagramClient) UserMedia(ctx context.Context, max int) ([]InstagramMedia, error) {
	return c.paginateMedia(ctx, "/me/media",
		"id,media_type,media_url,permalink,caption,timestamp,like_count,comments_count,thumbnail_url,children{id,media_type,media_url,thumbnail_url}", max)
}

// Stories fetches the user's active stories.
func (c *InstagramClient) Stories(ctx context.Context) ([]InstagramMedia, error) {
	var page struct {
		Data []InstagramMedia `json:"data"`
	}
	err := c.get(ctx, "/me/stories", map[string]string{
		"fields": "id,media_type,media_url,timestamp,permalink",
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// TaggedMedia fetches up to max media the user is tagged in.
func (c *InstagramClient) TaggedMedia(ctx context.Context, max int) ([]InstagramMedia, error) {
	return c.paginateMedia(ctx, "/me/tags",
		"id,media_type,media_url,permalink,caption,timestamp,like_count,comments_count,thumbnail_url", max)
}

// AccountInsights fetches day-period account insight metrics.
func (c *InstagramClient) AccountInsights(ctx context.Context) (json.RawMessage, error) {
	var insights json.RawMessage
	err := c.get(ctx, "/me/insights", map[string]string{
		"metric": "impressions,reach,profile_views,website_clicks",
		"period": "day",
	}, &insights)
	if err != nil {
		return nil, err
	}
	return insights, nil
}

// ExtractMediaItems derives downloadable references from fetched media
// and stories. Videos contribute both the media URL and the thumbnail;
// carousel children are walked recursively. Story filenames carry a
// "story_" prefix.
func (c *InstagramClient) ExtractMediaItems(media, stories []InstagramMedia) []domain.MediaItem {
	var items []domain.MediaItem

	var walk func(item InstagramMedia, prefix string)
	walk = func(item InstagramMedia, prefix string) {
		extension := "jpg"
		mediaType := domain.MediaTypeImage
		if item.MediaType == "VIDEO" {
			extension = "mp4"
			mediaType = domain.MediaTypeVideo
		}

		if item.MediaURL != "" {
			items = append(items, domain.MediaItem{
				URL:      item.MediaURL,
				Type:     mediaType,
				Filename: fmt.Sprintf("%s%s.%s", prefix, item.ID, extension),
				Metadata: &domain.MediaMetadata{
					OriginalID: item.ID,
					Platform:   domain.PlatformInstagram.String(),
					Timestamp:  item.Timestamp,
					Caption:    item.Caption,
				},
			})
		}

		if item.ThumbnailURL != "" && item.MediaType == "VIDEO" {
			items = append(items, domain.MediaItem{
				URL:      item.ThumbnailURL,
				Type:     domain.MediaTypeImage,
				Filename: fmt.Sprintf("%s%s_thumbnail.jpg", prefix, item.ID),
				Metadata: &domain.MediaMetadata{
					OriginalID: item.ID,
					Platform:   domain.PlatformInstagram.String(),
					Timestamp:  item.Timestamp,
					Caption:    item.Caption,
				},
			})
		}

		if item.Children != nil {
			for _, child := range item.Children.Data {
				walk(child, prefix)
			}
		}
	}

	for _, item := range media {
		walk(item, "")
	}
	for _, story := range stories {
		walk(story, "story_")
	}

	return items
}
