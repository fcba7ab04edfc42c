package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
)

var (
	// ErrReportNotFound is returned when a stored report doesn't exist
	ErrReportNotFound = errors.New("report not found")
)

// StoredReport is a forwarded error record as persisted by a report store.
type StoredReport struct {
	Record     domain.ErrorRecord
	ReportedAt time.Time
}

// KindCount is the number of stored reports of one kind.
type KindCount struct {
	Kind  domain.ErrorKind
	Count int
}

// ReportRepository handles persistence of forwarded error reports
type ReportRepository interface {
	// Save stores a forwarded record. Saving the same record id twice is a no-op.
	Save(ctx context.Context, rec domain.ErrorRecord) error

	// Get retrieves a report by record id
	Get(ctx context.Context, id string) (*StoredReport, error)

	// Recent returns up to limit reports, newest first
	Recent(ctx context.Context, limit int) ([]StoredReport, error)

	// CountByKind aggregates stored reports by error kind
	CountByKind(ctx context.Context) ([]KindCount, error)

	// DeleteOlderThan removes reports stored before cutoff and returns how many
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
