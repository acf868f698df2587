package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/profilekit/accounts/config"
	"github.com/segmentio/kafka-go"
)

const (
	headerMessageID      = "message_id"
	kafkaHandlerAttempts = 3
	kafkaRetryDelay      = 500 * time.Millisecond
)

// KafkaClient publishes to and consumes from Kafka topics.
type KafkaClient struct {
	writer  *kafka.Writer
	brokers []string
	groupID string
}

// NewKafkaClient constructs a Kafka client from config.
func NewKafkaClient(cfg config.KafkaConfig) (*KafkaClient, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		return nil, errors.New("kafka group id is required")
	}

	return &KafkaClient{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		brokers: cfg.Brokers,
		groupID: groupID,
	}, nil
}

// Publish writes a message to the named topic. Messages that share an
// ordering key land on the same partition. The generated id travels in the
// message_id header.
func (k *KafkaClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("kafka channel is required")
	}

	messageID := newMessageID()
	headers := make([]kafka.Header, 0, len(attrs)+1)
	headers = append(headers, kafka.Header{Key: headerMessageID, Value: []byte(messageID)})
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	key := attrs[AttrOrderingKey]
	if key == "" {
		key = messageID
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   channel,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return messageID, nil
}

// Subscribe consumes the named topic as part of the configured group.
func (k *KafkaClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("kafka channel is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.brokers,
		Topic:   channel,
		GroupID: k.groupID,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		attrs := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			attrs[h.Key] = string(h.Value)
		}
		message := Message{
			ID:         attrs[headerMessageID],
			Data:       msg.Value,
			Attributes: attrs,
		}
		delete(attrs, headerMessageID)

		// Kafka has no per-message nack. Retry in place, then move on; the
		// commit below also covers a message that exhausted its attempts.
		if err := handleWithRetry(ctx, handler, message, kafkaHandlerAttempts, kafkaRetryDelay); err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

// handleWithRetry calls handler up to attempts times, sleeping
// retryBackoff between tries. It only fails when ctx ends while waiting.
func handleWithRetry(ctx context.Context, handler Handler, msg Message, attempts int, delay time.Duration) error {
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := handler(ctx, msg); err == nil || attempt == attempts {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff(attempt, delay)):
		}
	}
	return nil
}

// retryBackoff grows linearly: delay after the first failure, twice that
// after the second, and so on.
func retryBackoff(attempt int, delay time.Duration) time.Duration {
	return time.Duration(attempt) * delay
}

// Close flushes and closes the writer.
func (k *KafkaClient) Close() error {
	return k.writer.Close()
}
