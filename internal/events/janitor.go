package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/profilekit/accounts/internal/mq"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/types"
	"go.uber.org/zap"
)

// AvatarRemover deletes stored avatars on behalf of their uploader. Deleting
// a missing avatar succeeds; deleting another user's avatar fails with
// services.ErrAvatarNotOwned.
type AvatarRemover interface {
	Delete(ctx context.Context, ownerID, path string) error
}

// AvatarJanitor removes avatar objects that a profile update replaced.
type AvatarJanitor struct {
	avatars AvatarRemover
	logger  *zap.Logger
}

func NewAvatarJanitor(avatars AvatarRemover, logger *zap.Logger) *AvatarJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvatarJanitor{avatars: avatars, logger: logger}
}

// Run consumes profile events until ctx is done or the subscription fails.
func (j *AvatarJanitor) Run(ctx context.Context, m *mq.MQ) error {
	j.logger.Info("avatar janitor started", zap.String("channel", types.ProfileUpdatedEvent))
	return m.Subscribe(ctx, types.ProfileUpdatedEvent, j.Handle)
}

// Handle processes one profile event. Returning an error asks the broker to
// redeliver, so only storage failures are returned.
func (j *AvatarJanitor) Handle(ctx context.Context, msg mq.Message) error {
	var event types.ProfileEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		j.logger.Warn("dropping undecodable profile event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if event.Type != types.ProfileUpdatedEvent {
		return nil
	}

	previous := types.StringValue(event.PreviousAvatarURL)
	if previous == "" || previous == types.StringValue(event.Profile.AvatarURL) {
		return nil
	}
	if !services.ValidAvatarPath(previous) {
		// Not one of ours, e.g. an external URL.
		return nil
	}

	err := j.avatars.Delete(ctx, event.Profile.ID, previous)
	if errors.Is(err, services.ErrAvatarNotOwned) {
		j.logger.Warn("keeping avatar uploaded by another user",
			zap.String("user_id", event.Profile.ID),
			zap.String("path", previous),
		)
		return nil
	}
	if err != nil {
		j.logger.Error("delete replaced avatar failed",
			zap.String("user_id", event.Profile.ID),
			zap.String("path", previous),
			zap.Error(err),
		)
		return err
	}
	j.logger.Info("deleted replaced avatar", zap.String("user_id", event.Profile.ID), zap.String("path", previous))
	return nil
}
