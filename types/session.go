package types

import "time"

// Session is the backend's representation of the current authenticated user.
type Session struct {
	// AccessToken is the bearer token presented on authenticated requests.
	AccessToken string `json:"access_token"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type"`

	// ExpiresAt is the moment the access token stops being accepted.
	ExpiresAt time.Time `json:"expires_at"`

	// User identifies who the session belongs to.
	User SessionUser `json:"user"`
}

// SessionUser is the subset of the user exposed through a session.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
