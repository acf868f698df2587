package types

import "time"

// User represents an authenticated account in the system.
// Profiles and sessions reference it by ID.
type User struct {
	// ID is the unique identifier of the user, a UUID in text form.
	ID string `json:"id" db:"id"`

	// Email is the address the user signs in with. It is unique.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
