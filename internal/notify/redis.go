package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// DefaultRedisChannel is the pub/sub channel alerts are published on.
const DefaultRedisChannel = "fallwatch:alerts"

// RedisClient is the subset of *redis.Client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes each alert as JSON on a Redis channel.
type RedisPublisher struct {
	client  RedisClient
	channel string
}

// DialRedis connects to addr and verifies the server answers a PING.
func DialRedis(ctx context.Context, addr, password string, db int, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	diagf("Connected to redis at %s, publishing on %q", addr, channel)
	return NewRedisPublisher(client, channel), nil
}

// NewRedisPublisher wraps an existing client. An empty channel uses
// DefaultRedisChannel.
func NewRedisPublisher(client RedisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel returns the channel alerts are published on.
func (r *RedisPublisher) Channel() string { return r.channel }

// Deliver publishes the alert. Having no subscribers is not an error.
func (r *RedisPublisher) Deliver(ctx context.Context, a pipeline.Alert) error {
	msg, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	n, err := r.client.Publish(ctx, r.channel, msg).Result()
	if err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", r.channel, err)
	}
	tracef("Published alert %s on %s (%d receivers)", a.ID, r.channel, n)
	return nil
}

// Close closes the underlying client.
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
