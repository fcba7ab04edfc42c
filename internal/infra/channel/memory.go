package channel

import (
	"context"
	"sync"
)

type memorySub struct {
	prefix string
	fn     Handler
}

// Memory is an in-process channel. Instances that share one Memory see each other's
// messages, which is how several instances run inside one process or one test.
type Memory struct {
	mu     sync.RWMutex
	subs   map[int]memorySub
	nextID int
	closed bool
}

var _ Channel = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{subs: make(map[int]memorySub)}
}

// Publish delivers payload synchronously to every matching subscriber.
func (m *Memory) Publish(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]Handler, 0, len(m.subs))
	for _, s := range m.subs {
		if HasPrefix(key, s.prefix) {
			targets = append(targets, s.fn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range targets {
		// Each subscriber gets its own copy.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		fn(key, buf)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, prefix string, fn Handler) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextID++
	id := m.nextID
	m.subs[id] = memorySub{prefix: prefix, fn: fn}

	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
		return nil
	}, nil
}

// Subscribers returns the number of active subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[int]memorySub)
	return nil
}
