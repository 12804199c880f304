package bus

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers domain events to the message bus collaborator. At-least-
// once semantics: the outbox relay retries until Publish returns nil.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// StreamPublisher appends events to per-topic Redis streams.
type StreamPublisher struct {
	client *redis.Client
	prefix string
}

// NewStreamPublisher constructs a Redis Streams publisher. Streams are named
// prefix + topic so one topic maps to one ordered stream.
func NewStreamPublisher(client *redis.Client, prefix string) *StreamPublisher {
	if prefix == "" {
		prefix = "events:"
	}
	return &StreamPublisher{client: client, prefix: prefix}
}

// Publish appends the payload to the topic's stream.
func (p *StreamPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.prefix + topic,
		Values: map[string]any{"payload": payload},
	}).Err()
}

// LoggerPublisher is a stub implementation that writes events to the logger.
// Used in dev mode and wherever a real bus is not wired.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher stub.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event published", "topic", topic, "payload", string(payload))
	return nil
}
