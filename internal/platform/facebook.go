package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/digitalrelab/star-export/internal/domain"
)

const defaultFacebookBaseURL = "https://graph.facebook.com/v18.0"

// FacebookPost is one post from the user's timeline.
type FacebookPost struct {
	ID          string               `json:"id"`
	Message     string               `json:"message,omitempty"`
	Story       string               `json:"story,omitempty"`
	CreatedTime string               `json:"created_time"`
	Type        string               `json:"type,omitempty"`
	Likes       json.RawMessage      `json:"likes,omitempty"`
	Comments    json.RawMessage      `json:"comments,omitempty"`
	Shares      json.RawMessage      `json:"shares,omitempty"`
	Attachments *FacebookAttachments `json:"attachments,omitempty"`
}

// FacebookAttachments wraps a post's attachment list.
type FacebookAttachments struct {
	Data []FacebookAttachment `json:"data"`
}

// FacebookAttachment is a single media attachment on a post.
type FacebookAttachment struct {
	Type  string `json:"type"`
	Media struct {
		Image struct {
			Src string `json:"src"`
		} `json:"image"`
		Source string `json:"source"`
	} `json:"media"`
	Target struct {
		ID string `json:"id"`
	} `json:"target"`
}

// FacebookPhoto is one photo the user uploaded.
type FacebookPhoto struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Source      string          `json:"source,omitempty"`
	CreatedTime string          `json:"created_time"`
	Likes       json.RawMessage `json:"likes,omitempty"`
	Comments    json.RawMessage `json:"comments,omitempty"`
}

// FacebookClient talks to the Facebook Graph API. The access token is
// passed as a query parameter, as the Graph API expects.
type FacebookClient struct {
	client      *resty.Client
	baseURL     string
	accessToken string
}

// NewFacebookClient creates a client for the given access token.
func NewFacebookClient(accessToken string, cfg Config) *FacebookClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFacebookBaseURL
	}

	return &FacebookClient{
		client:      newRestyClient(cfg),
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

func (c *FacebookClient) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", c.accessToken).
		SetQueryParams(params).
		Get(c.baseURL + endpoint)
	if err != nil {
		return apiError(domain.PlatformFacebook, "%v", err)
	}
	if resp.IsError() {
		return apiError(domain.PlatformFacebook, "%s", errorMessage(resp.Body()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apiError(domain.PlatformFacebook, "malformed response: %v", err)
	}
	return nil
}

// paginate follows `after` cursors until max items are collected or the
// provider reports no further pages.
func (c *FacebookClient) paginate(ctx context.Context, endpoint, fields string, max int) ([]json.RawMessage, error) {
	var items []json.RawMessage
	after := ""

	for len(items) < max {
		params := map[string]string{
			"fields": fields,
			"limit":  strconv.Itoa(pageSize(25, max-len(items))),
		}
		if after != "" {
			params["after"] = after
		}

		var page graphPage
		if err := c.get(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}

		items = append(items, page.Data...)

		if page.Paging.Cursors.After == "" {
			break
		}
		after = page.Paging.Cursors.After
	}

	return items, nil
}

// UserInfo fetches the authenticated user's profile.
func (c *FacebookClient) UserInfo(ctx context.Context) (json.RawMessage, error) {
	var info json.RawMessage
	err := c.get(ctx, "/me", map[string]string{
		"fields": "id,name,email,picture",
	}, &info)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// UserPosts fetches up to max of the user's timeline posts.
func (c *FacebookClient) UserPosts(ctx context.Context, max int) ([]FacebookPost, error) {
	raw, err := c.paginate(ctx, "/me/posts",
		"id,message,story,created_time,type,likes.summary(true),comments.summary(true),shares,attachments", max)
	if err != nil {
		return nil, err
	}
	return decodePosts(raw)
}

// UserPages fetches the pages the user manages.
func (c *FacebookClient) UserPages(ctx context.Context) ([]json.RawMessage, error) {
	var page graphPage
	err := c.get(ctx, "/me/accounts", map[string]string{
		"fields": "id,name,category,fan_count,followers_count,link,picture",
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// LikedPages fetches up to max pages the user has liked.
func (c *FacebookClient) LikedPages(ctx context.Context, max int) ([]json.RawMessage, error) {
	return c.paginate(ctx, "/me/likes", "id,name,category,fan_count,link,picture", max)
}

// Friends fetches the user's friend list (app-scoped).
func (c *FacebookClient) Friends(ctx context.Context) ([]json.RawMessage, error) {
	var page graphPage
	err := c.get(ctx, "/me/friends", map[string]string{
		"fields": "id,name,picture",
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// Photos fetches up to max photos the user uploaded.
func (c *FacebookClient) Photos(ctx context.Context, max int) ([]FacebookPhoto, error) {
	raw, err := c.paginate(ctx, "/me/photos/uploaded",
		"id,name,source,created_time,likes.summary(true),comments.summary(true)", max)
	if err != nil {
		return nil, err
	}

	photos := make([]FacebookPhoto, 0, len(raw))
	for _, item := range raw {
		var photo FacebookPhoto
		if err := json.Unmarshal(item, &photo); err != nil {
			return nil, apiError(domain.PlatformFacebook, "malformed photo record: %v", err)
		}
		photos = append(photos, photo)
	}
	return photos, nil
}

func decodePosts(raw []json.RawMessage) ([]FacebookPost, error) {
	posts := make([]FacebookPost, 0, len(raw))
	for _, item := range raw {
		var post FacebookPost
		if err := json.Unmarshal(item, &post); err != nil {
			return nil, apiError(domain.PlatformFacebook, "malformed post record: %v", err)
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// ExtractMediaItems derives downloadable references from fetched posts
// and uploaded photos. Photo attachments and inline videos are taken
// from posts; every uploaded photo with a source URL is included.
func (c *FacebookClient) ExtractMediaItems(posts []FacebookPost, photos []FacebookPhoto) []domain.MediaItem {
	var items []domain.MediaItem

	for _, post := range posts {
		if post.Attachments == nil {
			continue
		}
		caption := post.Message
		if caption == "" {
			caption = post.Story
		}
		for _, attachment := range post.Attachments.Data {
			switch {
			case attachment.Type == "photo" && attachment.Media.Image.Src != "":
				target := attachment.Target.ID
				if target == "" {
					target = "attachment"
				}
				items = append(items, domain.MediaItem{
					URL:      attachment.Media.Image.Src,
					Type:     domain.MediaTypeImage,
					Filename: fmt.Sprintf("post_%s_%s.jpg", post.ID, target),
					Metadata: &domain.MediaMetadata{
						OriginalID: post.ID,
						Platform:   domain.PlatformFacebook.String(),
						Timestamp:  post.CreatedTime,
						Caption:    caption,
					},
				})
			case attachment.Type == "video_inline" && attachment.Media.Source != "":
				target := attachment.Target.ID
				if target == "" {
					target = "video"
				}
				items = append(items, domain.MediaItem{
					URL:      attachment.Media.Source,
					Type:     domain.MediaTypeVideo,
					Filename: fmt.Sprintf("post_%s_%s.mp4", post.ID, target),
					Metadata: &domain.MediaMetadata{
						OriginalID: post.ID,
						Platform:   domain.PlatformFacebook.String(),
						Timestamp:  post.CreatedTime,
						Caption:    caption,
					},
				})
			}
		}
	}

	for _, photo := range photos {
		if photo.Source == "" {
			continue
		}
		items = append(items, domain.MediaItem{
			URL:      photo.Source,
			Type:     domain.MediaTypeImage,
			Filename: fmt.Sprintf("photo_%s.jpg", photo.ID),
			Metadata: &domain.MediaMetadata{
				OriginalID: photo.ID,
				Platform:   domain.PlatformFacebook.String(),
				Timestamp:  photo.CreatedTime,
				Caption:    photo.Name,
			},
		})
	}

	return items
}
