package types

import "time"

// Profile is the persisted record of user-editable display fields.
// There is at most one profile per user and it shares the user's ID.
type Profile struct {
	// ID is the identifier of the user that owns this profile.
	ID string `json:"id" db:"id"`

	// Username is the public display name. Nil until the user sets one.
	Username *string `json:"username" db:"username"`

	// Website is an optional link shown next to the profile.
	Website *string `json:"website" db:"website"`

	// AvatarURL is the storage path of the uploaded avatar image,
	// as returned by the avatar upload endpoint.
	AvatarURL *string `json:"avatar_url" db:"avatar_url"`

	// UpdatedAt is the timestamp carried by the most recent upsert.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProfileUpdate is the upsert record sent when a profile is saved.
// It replaces the stored row wholesale.
type ProfileUpdate struct {
	// ID must match the authenticated user. It may be left empty, in which
	// case the server fills it from the session.
	ID string `json:"id"`

	Username  *string `json:"username"`
	Website   *string `json:"website"`
	AvatarURL *string `json:"avatar_url"`

	// UpdatedAt is stamped by the caller at save time. A zero value is
	// replaced with the server clock.
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile converts the update into the row it will produce.
func (u ProfileUpdate) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Website:   u.Website,
		AvatarURL: u.AvatarURL,
		UpdatedAt: u.UpdatedAt,
	}
}

// StringValue returns the pointed-to string, or "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
