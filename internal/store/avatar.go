package store

import (
	"context"
	"database/sql"
	"errors"
)

// AvatarRepository records which user uploaded each stored avatar.
type AvatarRepository struct {
	db *sql.DB
}

func NewAvatarRepository(db *sql.DB) *AvatarRepository {
	return &AvatarRepository{db: db}
}

func (r *AvatarRepository) Create(ctx context.Context, path, userID string) error {
	const query = `
		INSERT INTO avatars (path, user_id)
		VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, path, userID); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Owner returns the id of the user who uploaded path.
func (r *AvatarRepository) Owner(ctx context.Context, path string) (string, error) {
	const query = `
		SELECT user_id
		FROM avatars
		WHERE path = $1`
	var userID string
	if err := r.db.QueryRowContext(ctx, query, path).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return userID, nil
}

func (r *AvatarRepository) Delete(ctx context.Context, path string) error {
	const query = `DELETE FROM avatars WHERE path = $1`
	_, err := r.db.ExecContext(ctx, query, path)
	return err
}
