package types

import "time"

// ProfileUpdatedEvent is the event type published after every profile upsert.
const ProfileUpdatedEvent = "profile.updated"

// ProfileEvent is the broker payload describing a change to a profile.
type ProfileEvent struct {
	// Type identifies the event, e.g. ProfileUpdatedEvent.
	Type string `json:"type"`

	// Profile is the row as it was written.
	Profile Profile `json:"profile"`

	// PreviousAvatarURL is the avatar path stored before the write, if any.
	// Consumers use it to clean up replaced avatar objects.
	PreviousAvatarURL *string `json:"previous_avatar_url,omitempty"`

	// OccurredAt is when the write was committed.
	OccurredAt time.Time `json:"occurred_at"`
}
