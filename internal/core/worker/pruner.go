package worker

import (
	"context"
	"log/slog"
	"time"
)

// Target is something holding time-stamped data that can be pruned.
type Target interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f TargetFunc) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

// Pruner deletes old data based on a retention period.
type Pruner struct {
	name      string
	retention time.Duration
	target    Target
	log       *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(name string, retention time.Duration, target Target, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		name:      name,
		retention: retention,
		target:    target,
		log:       logger.With("component", "pruner", "target", name),
		now:       time.Now,
	}
}

// Interval is how often Start prunes: a tenth of the retention, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is done. It returns at once when retention
// is disabled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass and returns how many entries were removed.
func (p *Pruner) Prune(ctx context.Context) int {
	cutoff := p.now().Add(-p.retention)

	n, err := p.target.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		p.log.Debug("Pruned old entries", "removed", n, "cutoff", cutoff)
	}
	return n
}
