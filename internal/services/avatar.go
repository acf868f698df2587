package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/profilekit/accounts/internal/storage"
	"github.com/profilekit/accounts/internal/store"
)

var (
	ErrUnsupportedAvatar = errors.New("unsupported avatar format")
	ErrEmptyAvatar       = errors.New("empty avatar upload")
	ErrInvalidAvatarPath = errors.New("invalid avatar path")
	ErrAvatarNotOwned    = errors.New("avatar belongs to another user")
)

var avatarPathPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.[a-z0-9]{2,5}$`)

// Avatars are served back to browsers, so only raster formats are accepted.
var allowedAvatarTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// AvatarStorage is the subset of object storage used for avatars.
type AvatarStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// AvatarOwnerRepository records the uploader of each avatar path.
type AvatarOwnerRepository interface {
	Create(ctx context.Context, path, userID string) error
	Owner(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// AvatarService stores avatar images under random, unguessable keys.
type AvatarService struct {
	storage AvatarStorage
	owners  AvatarOwnerRepository
	newKey  func() string
}

func NewAvatarService(s AvatarStorage, owners AvatarOwnerRepository) *AvatarService {
	return &AvatarService{storage: s, owners: owners, newKey: uuid.NewString}
}

// Upload sniffs the image type, stores the bytes on behalf of ownerID and
// returns the path the profile should reference. The client-supplied
// filename is ignored.
func (s *AvatarService) Upload(ctx context.Context, ownerID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAvatar
	}

	mtype := mimetype.Detect(data)
	if !allowedAvatarTypes[mtype.String()] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAvatar, mtype.String())
	}

	path := s.newKey() + mtype.Extension()
	if err := s.storage.Put(ctx, path, bytes.NewReader(data), int64(len(data)), mtype.String()); err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	if err := s.owners.Create(ctx, path, ownerID); err != nil {
		_ = s.storage.Delete(ctx, path)
		return "", fmt.Errorf("record avatar owner: %w", err)
	}
	return path, nil
}

// Owns reports whether userID uploaded the avatar at path.
func (s *AvatarService) Owns(ctx context.Context, userID, path string) (bool, error) {
	owner, err := s.owners.Owner(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("look up avatar owner: %w", err)
	}
	return owner == userID, nil
}

// Open returns the stored avatar. The caller closes the body.
func (s *AvatarService) Open(ctx context.Context, path string) (storage.Object, error) {
	if !ValidAvatarPath(path) {
		return storage.Object{}, ErrInvalidAvatarPath
	}
	return s.storage.Get(ctx, path)
}

// Delete removes an avatar uploaded by ownerID. An avatar that is already
// gone is not an error; one uploaded by someone else is ErrAvatarNotOwned.
func (s *AvatarService) Delete(ctx context.Context, ownerID, path string) error {
	if !ValidAvatarPath(path) {
		return ErrInvalidAvatarPath
	}

	owner, err := s.owners.Owner(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("look up avatar owner: %w", err)
	}
	if owner != ownerID {
		return ErrAvatarNotOwned
	}

	if err := s.storage.Delete(ctx, path); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("delete avatar: %w", err)
	}
	if err := s.owners.Delete(ctx, path); err != nil {
		return fmt.Errorf("forget avatar owner: %w", err)
	}
	return nil
}

// ValidAvatarPath reports whether path has the shape Upload produces.
func ValidAvatarPath(path string) bool {
	return avatarPathPattern.MatchString(path)
}
