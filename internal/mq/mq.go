package mq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/profilekit/accounts/config"
)

// Well-known attributes understood by every backend.
const (
	// AttrOrderingKey groups messages that must be consumed in publish order.
	// Kafka uses it as the message key and Pub/Sub as the ordering key.
	AttrOrderingKey = "ordering_key"
	// AttrContentType describes Data. Backends default it to ContentTypeJSON.
	AttrContentType = "content_type"

	ContentTypeJSON = "application/json"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open builds the backend selected by cfg.Driver. Driver "none" (or empty)
// returns a nil MQ and no error.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var backend Backend
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		backend = client
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		backend = client
	case "kafka":
		client, err := NewKafkaClient(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown mq driver %q", cfg.Driver)
	}
	return New(backend), nil
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}

func newMessageID() string {
	return uuid.NewString()
}
