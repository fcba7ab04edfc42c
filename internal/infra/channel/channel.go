// Package channel abstracts the shared key space instances use to broadcast messages
// to each other. A Channel fans every published key out to all subscribers whose prefix
// matches, including the publisher's own subscription; filtering self-originated
// messages is the caller's job.
//
// Delivery is at-most-once and unordered. A subscriber that is not running when a key
// is published never sees it.
package channel

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned when publishing to or subscribing on a closed channel.
var ErrClosed = errors.New("channel closed")

// Handler receives one published entry.
type Handler func(key string, payload []byte)

// Channel is the publish/subscribe capability.
type Channel interface {
	// Publish writes payload under key.
	Publish(ctx context.Context, key string, payload []byte) error
	// Subscribe calls fn for every new key under prefix until unsubscribe is called.
	Subscribe(ctx context.Context, prefix string, fn Handler) (unsubscribe func() error, err error)
	// Close releases the channel and all of its subscriptions.
	Close() error
}

// Key joins a prefix and a message id.
func Key(prefix, id string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + id
}

// HasPrefix reports whether key was published under prefix.
func HasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
