package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/siteforge/internal/types"
)

// DefaultKeyPrefix namespaces the event streams.
const DefaultKeyPrefix = "siteforge:audit:events:"

// DefaultRetention is how long a stream lives after its last append.
const DefaultRetention = 24 * time.Hour

// Redis is a Bridge backed by one Redis stream per job, so any process can
// serve a poller.
type Redis struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, retention time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{client: client, prefix: prefix, retention: retention}
}

// NewRedisFromURL connects to redisURL and verifies the connection. Streams
// of finished jobs expire after retention.
func NewRedisFromURL(ctx context.Context, redisURL string, retention time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, "", retention), nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(jobID string) string {
	return r.prefix + jobID
}

// Push implements Bridge.
func (r *Redis) Push(ctx context.Context, jobID string, event types.StageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}

	key := r.key(jobID)
	pipe := r.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"stage": string(event.Stage),
			"event": string(data),
		},
	})
	pipe.Expire(ctx, key, r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish stage event: %w", err)
	}
	return nil
}

// Read implements Bridge.
func (r *Redis) Read(ctx context.Context, jobID string, after int) (*Page, error) {
	msgs, err := r.client.XRange(ctx, r.key(jobID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stage events: %w", err)
	}

	events := make([]types.StageEvent, 0, len(msgs))
	for _, msg := range msgs {
		event, err := decodeMessage(msg.Values)
		if err != nil {
			return nil, fmt.Errorf("stream entry %s: %w", msg.ID, err)
		}
		events = append(events, event)
	}
	return pageAfter(events, after), nil
}

// Cleanup implements Bridge.
func (r *Redis) Cleanup(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}

func decodeMessage(values map[string]interface{}) (types.StageEvent, error) {
	var event types.StageEvent
	raw, ok := values["event"].(string)
	if !ok {
		return event, fmt.Errorf("missing event payload")
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, fmt.Errorf("failed to decode stage event: %w", err)
	}
	return event, nil
}
