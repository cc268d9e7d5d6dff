package model

import "time"

// Credential holds a user's OAuth token pair for the mail provider
type Credential struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"tokenType"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NeedsRefresh reports whether the access token expires within margin of now
func (c *Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-margin))
}
