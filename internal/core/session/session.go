// Package session holds the per-instance state that would otherwise be process globals:
// the instance id, the telemetry forwarding budget, error hooks and teardown functions.
package session

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the lifetime of one running instance.
type Session struct {
	ID         string
	InstanceID string
	StartedAt  time.Time

	Hooks *Hooks

	maxForwarded int64
	forwarded    atomic.Int64
	capWarned    atomic.Bool

	mu      sync.Mutex
	closers []func() error
	closed  bool
	wg      sync.WaitGroup
	log     *slog.Logger
}

// Options configures a new Session.
type Options struct {
	// InstanceID is generated when empty.
	InstanceID string
	// MaxForwarded caps records forwarded to the reporter; <= 0 means unlimited.
	MaxForwarded int
	Logger       *slog.Logger
}

// New creates a session.
func New(opts Options) *Session {
	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Session{
		ID:           uuid.NewString(),
		InstanceID:   instanceID,
		StartedAt:    time.Now(),
		Hooks:        NewHooks(),
		maxForwarded: int64(opts.MaxForwarded),
		log:          log.With("instance", instanceID),
	}
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.log
}

// TryForward reserves one slot of the forwarding budget. It returns false once the cap
// is reached and logs a warning the first time that happens.
func (s *Session) TryForward() bool {
	if s.maxForwarded <= 0 {
		s.forwarded.Add(1)
		return true
	}

	for {
		cur := s.forwarded.Load()
		if cur >= s.maxForwarded {
			if s.capWarned.CompareAndSwap(false, true) {
				s.log.Warn("Error reporting cap reached, further records are dropped",
					"cap", s.maxForwarded)
			}
			return false
		}
		if s.forwarded.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Forwarded returns the number of records forwarded in this session.
func (s *Session) Forwarded() int {
	return int(s.forwarded.Load())
}

// OnClose registers a teardown function. Functions run in reverse order on Close.
func (s *Session) OnClose(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Go runs fn in a goroutine tracked by the session. A panic is recovered and
// dispatched through the hooks instead of crashing the process. Once the session is
// closed fn is dropped and Go returns false.
func (s *Session) Go(name string, fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug("Session closed, dropping goroutine", "goroutine", name)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in %s: %v", name, r)
				s.log.Error("Recovered panic", "goroutine", name, "error", err,
					"stack", string(debug.Stack()))
				s.Hooks.Dispatch(err)
			}
		}()
		fn()
	}()
	return true
}

// Close runs the teardown functions and waits for goroutines started with Go.
// Callers cancel the context those goroutines watch before calling Close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			s.log.Warn("Session teardown step failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.wg.Wait()
	return firstErr
}
