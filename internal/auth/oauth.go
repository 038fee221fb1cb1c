package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/digitalrelab/star-export/internal/config"
	"github.com/digitalrelab/star-export/internal/domain"
	"github.com/digitalrelab/star-export/internal/repository"
)

// Provider names, used as the {provider} segment of the auth routes.
// Instagram rides on Facebook's identity with Instagram scopes.
const (
	ProviderYouTube   = "youtube"
	ProviderFacebook  = "facebook"
	ProviderInstagram = "instagram"
)

// ErrUnknownProvider is returned for provider names without a
// configured OAuth flow.
var ErrUnknownProvider = errors.New("unknown auth provider")

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultGraphUserInfoURL  = "https://graph.facebook.com/v18.0/me"
)

// OAuthService drives the login flows: it builds authorization URLs,
// exchanges callback codes for tokens, fetches the provider profile,
// and upserts the user record.
type OAuthService struct {
	users   *repository.UserRepository
	configs map[string]*oauth2.Config
	client  *resty.Client
	logger  *slog.Logger

	// Overridable in tests.
	googleUserInfoURL string
	graphUserInfoURL  string
}

// NewOAuthService wires the provider configurations.
func NewOAuthService(cfg config.OAuthConfig, users *repository.UserRepository, logger *slog.Logger) *OAuthService {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("Accept", "application/json")

	return &OAuthService{
		users: users,
		configs: map[string]*oauth2.Config{
			ProviderYouTube: {
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleSecret,
				RedirectURL:  cfg.CallbackBaseURL + "/auth/youtube/callback",
				Scopes: []string{
					"profile",
					"email",
					"https://www.googleapis.com/auth/youtube.readonly",
				},
				Endpoint: google.Endpoint,
			},
			ProviderFacebook: {
				ClientID:     cfg.FacebookAppID,
				ClientSecret: cfg.FacebookAppSecret,
				RedirectURL:  cfg.CallbackBaseURL + "/auth/facebook/callback",
				Scopes: []string{
					"email",
					"public_profile",
					"pages_show_list",
					"pages_read_engagement",
					"user_posts",
					"user_photos",
					"user_likes",
					"instagram_basic",
				},
				Endpoint: facebook.Endpoint,
			},
			ProviderInstagram: {
				ClientID:     cfg.FacebookAppID,
				ClientSecret: cfg.FacebookAppSecret,
				RedirectURL:  cfg.CallbackBaseURL + "/auth/instagram/callback",
				Scopes: []string{
					"email",
					"public_profile",
					"instagram_basic",
					"instagram_content_publish",
				},
				Endpoint: facebook.Endpoint,
			},
		},
		client:            client,
		logger:            logger,
		googleUserInfoURL: defaultGoogleUserInfoURL,
		graphUserInfoURL:  defaultGraphUserInfoURL,
	}
}

// LoginURL returns the provider's authorization URL for the flow
// identified by state.
func (s *OAuthService) LoginURL(provider, state string) (string, error) {
	conf, ok := s.configs[provider]
	if !ok {
		return "", ErrUnknownProvider
	}

	var opts []oauth2.AuthCodeOption
	if provider == ProviderYouTube {
		// Offline access so Google also issues a refresh token.
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	return conf.AuthCodeURL(state, opts...), nil
}

// HandleCallback exchanges the authorization code, fetches the
// provider profile, and creates or updates the user record.
func (s *OAuthService) HandleCallback(ctx context.Context, provider, code string) (*domain.User, error) {
	conf, ok := s.configs[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	var params repository.CreateUserParams
	if provider == ProviderYouTube {
		params, err = s.googleProfile(ctx, token.AccessToken)
	} else {
		params, err = s.facebookProfile(ctx, token.AccessToken)
	}
	if err != nil {
		return nil, err
	}
	params.AccessToken = token.AccessToken
	params.RefreshToken = token.RefreshToken

	user := s.users.FindOrCreate(params)
	s.logger.Info("user authenticated", "user_id", user.ID, "provider", provider)
	return user, nil
}

func (s *OAuthService) googleProfile(ctx context.Context, accessToken string) (repository.CreateUserParams, error) {
	var profile struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Get(s.googleUserInfoURL)
	if err != nil {
		return repository.CreateUserParams{}, fmt.Errorf("fetch google profile: %w", err)
	}
	if resp.IsError() {
		return repository.CreateUserParams{}, fmt.Errorf("fetch google profile: HTTP %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &profile); err != nil {
		return repository.CreateUserParams{}, fmt.Errorf("decode google profile: %w", err)
	}

	return repository.CreateUserParams{
		GoogleID: profile.ID,
		Email:    profile.Email,
		Name:     profile.Name,
		Picture:  profile.Picture,
	}, nil
}

func (s *OAuthService) facebookProfile(ctx context.Context, accessToken string) (repository.CreateUserParams, error) {
	var profile struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "id,name,email,picture").
		SetQueryParam("access_token", accessToken).
		Get(s.graphUserInfoURL)
	if err != nil {
		return repository.CreateUserParams{}, fmt.Errorf("fetch facebook profile: %w", err)
	}
	if resp.IsError() {
		return repository.CreateUserParams{}, fmt.Errorf("fetch facebook profile: HTTP %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &profile); err != nil {
		return repository.CreateUserParams{}, fmt.Errorf("decode facebook profile: %w", err)
	}

	return repository.CreateUserParams{
		FacebookID: profile.ID,
		Email:      profile.Email,
		Name:       profile.Name,
		Picture:    profile.Picture.Data.URL,
	}, nil
}
