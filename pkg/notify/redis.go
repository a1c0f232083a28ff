package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes commits on a Redis Pub/Sub channel
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	owned   bool
}

// NewRedisNotifier creates a notifier over client. The client is not closed by Close.
func NewRedisNotifier(client redis.UniversalClient, channel string) (*RedisNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client cannot be nil", ErrInvalidConfiguration)
	}
	if channel == "" {
		return nil, fmt.Errorf("%w: redis channel cannot be empty", ErrInvalidConfiguration)
	}
	return &RedisNotifier{client: client, channel: channel}, nil
}

// DialRedisNotifier creates a notifier with its own connection
func DialRedisNotifier(addr, password string, db int, channel string) (*RedisNotifier, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: redis address cannot be empty", ErrInvalidConfiguration)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	n, err := NewRedisNotifier(client, channel)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	n.owned = true
	return n, nil
}

// Notify implements Notifier
func (n *RedisNotifier) Notify(ctx context.Context, commit Commit) error {
	data, err := commit.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal commit: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", n.channel, err)
	}
	return nil
}

// Close implements Notifier
func (n *RedisNotifier) Close() error {
	if n.owned {
		return n.client.Close()
	}
	return nil
}
