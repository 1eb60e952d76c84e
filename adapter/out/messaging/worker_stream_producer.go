// Package messaging provides the Redis Streams adapters for the send queue.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultGroup is the consumer group of the send workers.
	DefaultGroup = "email-senders"

	// defaultMaxLen caps the stream length (approximate trimming).
	defaultMaxLen = 100000

	deadLetterPrefix = "dlq:"
)

// DeadLetterStream returns the DLQ stream name for stream.
func DeadLetterStream(stream string) string {
	return deadLetterPrefix + stream
}

// RedisProducer implements out.MessageProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisProducer creates a new RedisProducer. An empty stream uses
// out.StreamEmailSend.
func NewRedisProducer(client *redis.Client, stream string) *RedisProducer {
	if stream == "" {
		stream = out.StreamEmailSend
	}
	return &RedisProducer{client: client, stream: stream, maxLen: defaultMaxLen}
}

// Stream returns the stream jobs are published to.
func (p *RedisProducer) Stream() string {
	return p.stream
}

// PublishSendJob enqueues one send job.
func (p *RedisProducer) PublishSendJob(ctx context.Context, job *domain.SendJob) error {
	if job == nil {
		return fmt.Errorf("nil send job")
	}
	return p.publish(ctx, p.stream, job)
}

// publish publishes a job to a stream under the "data" field.
func (p *RedisProducer) publish(ctx context.Context, stream string, job any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.MessageProducer
var _ out.MessageProducer = (*RedisProducer)(nil)
