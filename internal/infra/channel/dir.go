package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const msgSuffix = ".msg"

// Dir is a channel over a shared directory. Each key becomes one file, written to a
// hidden temp name and renamed into place so subscribers never read a partial entry.
// Files older than the TTL are pruned on publish.
type Dir struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]*dirSub
	nextID int
	closed bool
}

var _ Channel = (*Dir)(nil)

// NewDir creates the directory if needed.
func NewDir(path string, ttl time.Duration, logger *slog.Logger) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("channel dir cannot be empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create channel dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{
		path:   path,
		ttl:    ttl,
		logger: logger.With("channel", "dir", "path", path),
		subs:   make(map[int]*dirSub),
	}, nil
}

func fileName(key string) string {
	return url.PathEscape(key) + msgSuffix
}

func keyFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, msgSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, msgSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

// Publish writes payload atomically under key.
func (d *Dir) Publish(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(d.path, ".pending-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.path, fileName(key))); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish entry: %w", err)
	}

	if d.ttl > 0 {
		d.Prune(time.Now().Add(-d.ttl))
	}
	return nil
}

// Prune removes entries last modified before cutoff. It returns how many were removed.
func (d *Dir) Prune(cutoff time.Time) int {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.logger.Warn("Failed to list channel dir", "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.path, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}

type dirSub struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

func (s *dirSub) stop() error {
	var err error
	s.once.Do(func() {
		err = s.watcher.Close()
		<-s.done
	})
	return err
}

// Subscribe watches the directory for new entries under prefix. Entries already present
// when Subscribe is called are not delivered.
func (d *Dir) Subscribe(ctx context.Context, prefix string, fn Handler) (func() error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", d.path, err)
	}

	sub := &dirSub{watcher: watcher, done: make(chan struct{})}
	d.nextID++
	id := d.nextID
	d.subs[id] = sub

	go d.watch(ctx, sub, prefix, fn)

	return func() error {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
		return sub.stop()
	}, nil
}

func (d *Dir) watch(ctx context.Context, sub *dirSub, prefix string, fn Handler) {
	defer close(sub.done)

	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			_ = sub.watcher.Close()
			return

		case event, ok := <-sub.watcher.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			if event.Has(fsnotify.Remove) {
				delete(seen, name)
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			key, ok := keyFromFile(name)
			if !ok || !HasPrefix(key, prefix) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}

			payload, err := os.ReadFile(event.Name)
			if err != nil {
				// Pruned before we got to it.
				continue
			}
			seen[name] = struct{}{}
			fn(key, payload)

		case err, ok := <-sub.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("Channel watch error", "error", err)
		}
	}
}

func (d *Dir) Close() error {
	d.mu.Lock()
	d.closed = true
	subs := d.subs
	d.subs = make(map[int]*dirSub)
	d.mu.Unlock()

	for _, s := range subs {
		_ = s.stop()
	}
	return nil
}
