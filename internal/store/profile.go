package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/profilekit/accounts/types"
)

// ProfileRepository handles persistence for profiles.
type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns the single profile row owned by the given user.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (types.Profile, error) {
	const query = `
		SELECT id, username, website, avatar_url, updated_at
		FROM profiles
		WHERE id = $1`
	var profile types.Profile
	var username, website, avatarURL sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.ID,
		&username,
		&website,
		&avatarURL,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Profile{}, ErrNotFound
		}
		return types.Profile{}, err
	}

	profile.Username = nullStringPtr(username)
	profile.Website = nullStringPtr(website)
	profile.AvatarURL = nullStringPtr(avatarURL)
	return profile, nil
}

// Upsert inserts or replaces the profile keyed by its ID. It also returns the
// avatar path that was stored before the write, if any.
func (r *ProfileRepository) Upsert(ctx context.Context, profile types.Profile) (types.Profile, *string, error) {
	const query = `
		WITH previous AS (
			SELECT avatar_url FROM profiles WHERE id = $1
		)
		INSERT INTO profiles (id, username, website, avatar_url, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
			website = EXCLUDED.website,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = EXCLUDED.updated_at
		RETURNING id, username, website, avatar_url, updated_at, (SELECT avatar_url FROM previous)`
	var saved types.Profile
	var username, website, avatarURL, previous sql.NullString
	err := r.db.QueryRowContext(
		ctx,
		query,
		profile.ID,
		ptrNullString(profile.Username),
		ptrNullString(profile.Website),
		ptrNullString(profile.AvatarURL),
		profile.UpdatedAt,
	).Scan(
		&saved.ID,
		&username,
		&website,
		&avatarURL,
		&saved.UpdatedAt,
		&previous,
	)
	if err != nil {
		return types.Profile{}, nil, mapWriteError(err)
	}

	saved.Username = nullStringPtr(username)
	saved.Website = nullStringPtr(website)
	saved.AvatarURL = nullStringPtr(avatarURL)
	return saved, nullStringPtr(previous), nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
