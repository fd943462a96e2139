package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

// StreamFormat is the per-job stream key.
const StreamFormat = "aule:jobs:%s:events"

const defaultMaxLen = 1000

// Publisher appends job events to a Redis stream per job so that other
// processes can follow a run.
type Publisher struct {
	client *redis.Client
	maxLen int64
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher wraps an existing client. maxLen caps each stream
// (approximately); zero means 1000.
func NewPublisher(client *redis.Client, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Publisher{client: client, maxLen: maxLen}
}

// Dial parses a redis:// URL and checks the connection.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func StreamKey(id domain.JobID) string {
	return fmt.Sprintf(StreamFormat, id)
}

func (p *Publisher) Publish(ctx context.Context, event domain.JobEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	values := map[string]interface{}{
		"id":      event.ID,
		"type":    string(event.Type),
		"message": event.Message,
		"ts":      createdAt.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Data) > 0 {
		values["data"] = string(event.Data)
	}

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(event.JobID),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd job %s event: %w", event.JobID, err)
	}
	return nil
}
