package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher defines the interface for publishing events to a stream.
type Publisher interface {
	// Publish adds an event to the specified stream.
	// Returns the message ID assigned by Redis.
	Publish(ctx context.Context, stream string, event GraphEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewPublisher creates a new Publisher backed by Redis Streams.
func NewPublisher(client *redis.Client, logger *logrus.Logger) Publisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish adds an event to the stream using XADD with an auto-generated
// message ID.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event GraphEvent) (string, error) {
	values, err := event.ToMap()
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"stream": stream,
			"type":   event.Type,
		}).WithError(err).Error("publish failed")
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"stream": stream,
		"type":   event.Type,
		"msg_id": messageID,
	}).Debug("published graph event")

	return messageID, nil
}
