package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys shared with other processes consuming the feed.
const (
	stateKey = "tram:state"
	channel  = "tram:vehicles"
)

// RedisMirror duplicates published frames into Redis: the latest payload
// under a state key for late joiners, and a pub/sub channel for live
// consumers in other processes.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror connects to the Redis at the given URL and verifies the
// connection.
func NewRedisMirror(ctx context.Context, url string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisMirror{client: client}, nil
}

// Publish stores the payload as the current state and publishes it on
// the vehicle channel.
func (m *RedisMirror) Publish(ctx context.Context, payload []byte) error {
	if err := m.client.Set(ctx, stateKey, payload, 0).Err(); err != nil {
		return err
	}
	return m.client.Publish(ctx, channel, payload).Err()
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error { return m.client.Close() }
