package domain

import (
	"log/slog"
	"time"
)

// RequestAttempt describes one try of a request inside a retry loop. It is discarded
// once the loop resolves.
type RequestAttempt struct {
	URL       string
	Method    string
	Attempt   int
	StartedAt time.Time
	Outcome   string
	Status    int
	Kind      ErrorKind
}

// LogValue groups the attempt fields for structured logging.
func (a RequestAttempt) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("url", a.URL),
		slog.String("method", a.Method),
		slog.Int("attempt", a.Attempt),
		slog.String("outcome", a.Outcome),
		slog.Duration("elapsed", time.Since(a.StartedAt)),
	}
	if a.Status > 0 {
		attrs = append(attrs, slog.Int("status", a.Status))
	}
	if a.Kind != "" {
		attrs = append(attrs, slog.String("kind", string(a.Kind)))
	}
	return slog.GroupValue(attrs...)
}
