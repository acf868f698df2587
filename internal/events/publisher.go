package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/profilekit/accounts/internal/mq"
	"github.com/profilekit/accounts/types"
)

// Publisher sends profile events to the configured broker. A Publisher
// built from a nil MQ drops every event.
type Publisher struct {
	mq *mq.MQ
}

func NewPublisher(m *mq.MQ) *Publisher {
	return &Publisher{mq: m}
}

// PublishProfileUpdated encodes event as JSON and publishes it on the
// profile.updated channel.
func (p *Publisher) PublishProfileUpdated(ctx context.Context, event types.ProfileEvent) error {
	if p == nil || p.mq == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode profile event: %w", err)
	}

	// Keyed by user so one user's updates are consumed in order.
	attrs := map[string]string{
		"type":             event.Type,
		mq.AttrOrderingKey: event.Profile.ID,
		mq.AttrContentType: mq.ContentTypeJSON,
	}
	if _, err := p.mq.Publish(ctx, types.ProfileUpdatedEvent, data, attrs); err != nil {
		return fmt.Errorf("publish profile event: %w", err)
	}
	return nil
}
