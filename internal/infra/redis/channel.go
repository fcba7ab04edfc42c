package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/resilio/internal/infra/channel"
)

// Channel implements channel.Channel over Redis. Publish stores the payload under the
// key with a TTL and publishes it on a pub/sub channel named after the key, so
// subscribers pattern-match on the key prefix.
type Channel struct {
	client *Client
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]*redis.PubSub
	nextID int
	closed bool
}

var _ channel.Channel = (*Channel)(nil)

// NewChannel creates a channel on an open client. ttl <= 0 keeps stored keys forever.
func NewChannel(client *Client, ttl time.Duration, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		client: client,
		ttl:    ttl,
		logger: logger.With("channel", "redis"),
		subs:   make(map[int]*redis.PubSub),
	}
}

func pattern(prefix string) string {
	return prefix + "*"
}

// Publish stores and announces payload in one round trip.
func (c *Channel) Publish(ctx context.Context, key string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}

	pipe := c.client.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, c.ttl)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Subscribe pattern-subscribes to prefix*. The server is pinged first and the
// subscription is confirmed before Subscribe returns.
func (c *Channel) Subscribe(ctx context.Context, prefix string, fn channel.Handler) (func() error, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, channel.ErrClosed
	}
	c.mu.Unlock()

	// PSUBSCRIBE on a dead connection only fails on first receive; fail fast instead.
	if err := c.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}

	ps := c.client.rdb.PSubscribe(ctx, pattern(prefix))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", prefix, err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = ps
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn(msg.Channel, []byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			err = ps.Close()
			<-done
		})
		return err
	}, nil
}

// Close closes subscriptions. The client is owned by the caller.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	subs := c.subs
	c.subs = make(map[int]*redis.PubSub)
	c.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			c.logger.Warn("Failed to close subscription", "error", err)
		}
	}
	return nil
}
