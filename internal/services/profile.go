package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/profilekit/accounts/internal/store"
	"github.com/profilekit/accounts/types"
	"go.uber.org/zap"
)

const minUsernameLength = 3

var (
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrForeignProfileID = errors.New("profile id does not match the authenticated user")
	ErrForeignAvatar    = errors.New("avatar was uploaded by another user")
)

// ProfileRepository defines persistence operations for profiles.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (types.Profile, error)
	Upsert(ctx context.Context, profile types.Profile) (types.Profile, *string, error)
}

// ProfileCache is an optional cache in front of the repository. Reads fill
// it with Add, which never replaces an entry; writes replace it with Set.
type ProfileCache interface {
	Get(ctx context.Context, id string) (types.Profile, error)
	Set(ctx context.Context, profile types.Profile) error
	Add(ctx context.Context, profile types.Profile) error
	Delete(ctx context.Context, id string) error
}

// AvatarOwnership reports who uploaded a stored avatar.
type AvatarOwnership interface {
	Owns(ctx context.Context, userID, path string) (bool, error)
}

// ProfileEventPublisher receives an event after every successful upsert.
type ProfileEventPublisher interface {
	PublishProfileUpdated(ctx context.Context, event types.ProfileEvent) error
}

// ProfileOption configures a ProfileService.
type ProfileOption func(*ProfileService)

func WithProfileCache(cache ProfileCache) ProfileOption {
	return func(s *ProfileService) { s.cache = cache }
}

func WithProfileEvents(events ProfileEventPublisher) ProfileOption {
	return func(s *ProfileService) { s.events = events }
}

// WithAvatarOwnership rejects updates pointing at avatars another user uploaded.
func WithAvatarOwnership(avatars AvatarOwnership) ProfileOption {
	return func(s *ProfileService) { s.avatars = avatars }
}

func WithProfileLogger(logger *zap.Logger) ProfileOption {
	return func(s *ProfileService) { s.logger = logger }
}

// ProfileService encapsulates profile use-cases.
type ProfileService struct {
	repo   ProfileRepository
	cache   ProfileCache
	avatars AvatarOwnership
	events  ProfileEventPublisher
	logger  *zap.Logger
	now     func() time.Time
}

func NewProfileService(repo ProfileRepository, opts ...ProfileOption) *ProfileService {
	s := &ProfileService{
		repo:   repo,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the profile owned by userID, or store.ErrNotFound when the
// user has not saved one yet.
func (s *ProfileService) Get(ctx context.Context, userID string) (types.Profile, error) {
	if s.cache != nil {
		if p, err := s.cache.Get(ctx, userID); err == nil {
			return p, nil
		}
	}

	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		return types.Profile{}, err
	}

	// A concurrent Upsert may have cached a newer row since the read above.
	if s.cache != nil {
		if err := s.cache.Add(ctx, p); err != nil {
			s.logger.Warn("profile cache fill failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return p, nil
}

// Upsert writes the update for userID, replacing any existing row.
func (s *ProfileService) Upsert(ctx context.Context, userID string, update types.ProfileUpdate) (types.Profile, error) {
	if update.ID != "" && update.ID != userID {
		return types.Profile{}, ErrForeignProfileID
	}
	update.ID = userID

	normalized, err := normalizeProfileUpdate(update)
	if err != nil {
		return types.Profile{}, err
	}
	if normalized.UpdatedAt.IsZero() {
		normalized.UpdatedAt = s.now()
	}
	if err := s.checkAvatarOwner(ctx, userID, normalized.AvatarURL); err != nil {
		return types.Profile{}, err
	}

	saved, previousAvatar, err := s.repo.Upsert(ctx, normalized.Profile())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.Profile{}, ErrUsernameTaken
		}
		return types.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, saved); err != nil {
			s.logger.Warn("profile cache update failed", zap.String("user_id", userID), zap.Error(err))
			if err := s.cache.Delete(ctx, userID); err != nil {
				s.logger.Warn("profile cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	if s.events != nil {
		event := types.ProfileEvent{
			Type:              types.ProfileUpdatedEvent,
			Profile:           saved,
			PreviousAvatarURL: previousAvatar,
			OccurredAt:        s.now(),
		}
		if err := s.events.PublishProfileUpdated(ctx, event); err != nil {
			s.logger.Warn("profile event publish failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return saved, nil
}

// checkAvatarOwner allows external avatar URLs and stored avatars uploaded
// by userID.
func (s *ProfileService) checkAvatarOwner(ctx context.Context, userID string, avatar *string) error {
	if s.avatars == nil || avatar == nil || !ValidAvatarPath(*avatar) {
		return nil
	}
	owned, err := s.avatars.Owns(ctx, userID, *avatar)
	if err != nil {
		return fmt.Errorf("check avatar owner: %w", err)
	}
	if !owned {
		return ErrForeignAvatar
	}
	return nil
}

// normalizeProfileUpdate trims the text fields, turns blanks into nulls and
// enforces the username and website rules.
func normalizeProfileUpdate(update types.ProfileUpdate) (types.ProfileUpdate, error) {
	update.Username = trimToNil(update.Username)
	update.Website = trimToNil(update.Website)
	update.AvatarURL = trimToNil(update.AvatarURL)

	if update.Username != nil && utf8.RuneCountInString(*update.Username) < minUsernameLength {
		return types.ProfileUpdate{}, fmt.Errorf("%w: username must be at least %d characters", ErrInvalidProfile, minUsernameLength)
	}

	if update.Website != nil {
		u, err := url.Parse(*update.Website)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return types.ProfileUpdate{}, fmt.Errorf("%w: website must be an http(s) URL", ErrInvalidProfile)
		}
	}

	return update, nil
}

func trimToNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
