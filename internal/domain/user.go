package domain

import "time"

// User maps external OAuth identities to an internal account holding
// the current access/refresh token for that provider.
type User struct {
	ID           string
	GoogleID     string
	FacebookID   string
	Email        string
	Name         string
	Picture      string
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
