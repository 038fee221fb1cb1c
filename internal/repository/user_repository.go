package repository

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitalrelab/star-export/internal/domain"
)

// CreateUserParams carries the profile data delivered by an OAuth
// callback.
type CreateUserParams struct {
	GoogleID     string
	FacebookID   string
	Email        string
	Name         string
	Picture      string
	AccessToken  string
	RefreshToken string
}

// UserRepository is the in-memory user directory. Secondary indices
// keyed by provider id guarantee at most one internal user per external
// identity. Not safe for multiple processes; single process only.
type UserRepository struct {
	mu           sync.RWMutex
	users        map[string]*domain.User
	byGoogleID   map[string]string
	byFacebookID map[string]string
}

// NewUserRepository creates an empty user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:        make(map[string]*domain.User),
		byGoogleID:   make(map[string]string),
		byFacebookID: make(map[string]string),
	}
}

// FindOrCreate looks up a user by whichever external provider id is
// present. Re-authentication with a known external id refreshes the
// stored tokens in place rather than creating a duplicate record.
func (r *UserRepository) FindOrCreate(params CreateUserParams) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *domain.User
	if params.GoogleID != "" {
		if id, ok := r.byGoogleID[params.GoogleID]; ok {
			existing = r.users[id]
		}
	} else if params.FacebookID != "" {
		if id, ok := r.byFacebookID[params.FacebookID]; ok {
			existing = r.users[id]
		}
	}

	if existing != nil {
		existing.AccessToken = params.AccessToken
		if params.RefreshToken != "" {
			existing.RefreshToken = params.RefreshToken
		}
		existing.UpdatedAt = time.Now()
		snapshot := *existing
		return &snapshot
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.NewString(),
		GoogleID:     params.GoogleID,
		FacebookID:   params.FacebookID,
		Email:        params.Email,
		Name:         params.Name,
		Picture:      params.Picture,
		AccessToken:  params.AccessToken,
		RefreshToken: params.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.users[user.ID] = user
	if user.GoogleID != "" {
		r.byGoogleID[user.GoogleID] = user.ID
	}
	if user.FacebookID != "" {
		r.byFacebookID[user.FacebookID] = user.ID
	}

	snapshot := *user
	return &snapshot
}

// FindByID returns the user with the given internal id.
func (r *UserRepository) FindByID(id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	snapshot := *user
	return &snapshot, nil
}

// FindByGoogleID returns the user linked to the given Google account.
func (r *UserRepository) FindByGoogleID(googleID string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byGoogleID[googleID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return r.FindByID(id)
}

// FindByFacebookID returns the user linked to the given Facebook account.
func (r *UserRepository) FindByFacebookID(facebookID string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byFacebookID[facebookID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return r.FindByID(id)
}
