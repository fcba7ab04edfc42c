package session

import "sync"

// Handler receives an error and the previously registered handler. Calling next
// continues the chain; not calling it stops propagation.
type Handler func(err error, next func(error))

type hookEntry struct {
	id int
	fn Handler
}

// Hooks is an ordered chain of error handlers. The most recently registered handler
// runs first.
type Hooks struct {
	mu      sync.RWMutex
	entries []hookEntry
	nextID  int
}

// NewHooks creates an empty chain.
func NewHooks() *Hooks {
	return &Hooks{}
}

// Register adds a handler and returns a function that removes it. The unregister
// function is idempotent.
func (h *Hooks) Register(fn Handler) (unregister func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.entries = append(h.entries, hookEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.entries {
				if e.id == id {
					h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered handlers.
func (h *Hooks) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Dispatch runs the chain for err.
func (h *Hooks) Dispatch(err error) {
	if err == nil {
		return
	}

	h.mu.RLock()
	snapshot := make([]hookEntry, len(h.entries))
	copy(snapshot, h.entries)
	h.mu.RUnlock()

	var call func(i int, err error)
	call = func(i int, err error) {
		if i < 0 {
			return
		}
		snapshot[i].fn(err, func(e error) { call(i-1, e) })
	}
	call(len(snapshot)-1, err)
}
