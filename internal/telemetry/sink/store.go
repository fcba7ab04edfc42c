package sink

import (
	"context"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/storage"
)

// StoreSink persists records through a report repository (postgres or memory).
type StoreSink struct {
	name string
	repo storage.ReportRepository
}

func NewStoreSink(name string, repo storage.ReportRepository) *StoreSink {
	return &StoreSink{name: name, repo: repo}
}

func (s *StoreSink) Name() string { return s.name }

func (s *StoreSink) Send(ctx context.Context, rec domain.ErrorRecord) error {
	return s.repo.Save(ctx, rec)
}
