package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/storage"
)

// ReportStore keeps forwarded reports in process memory.
type ReportStore struct {
	reports map[string]storage.StoredReport
	order   []string
	mu      sync.RWMutex
}

var _ storage.ReportRepository = (*ReportStore)(nil)

func NewReportStore() *ReportStore {
	return &ReportStore{
		reports: make(map[string]storage.StoredReport),
	}
}

func (s *ReportStore) Save(ctx context.Context, rec domain.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[rec.ID]; ok {
		return nil
	}
	s.reports[rec.ID] = storage.StoredReport{Record: rec, ReportedAt: time.Now()}
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *ReportStore) Get(ctx context.Context, id string) (*storage.StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, storage.ErrReportNotFound
	}
	return &r, nil
}

func (s *ReportStore) Recent(ctx context.Context, limit int) ([]storage.StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.StoredReport
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.reports[s.order[i]])
	}
	return out, nil
}

func (s *ReportStore) CountByKind(ctx context.Context) ([]storage.KindCount, error) {
	s.mu.RLock()
	counts := make(map[domain.ErrorKind]int)
	for _, r := range s.reports {
		counts[r.Record.Kind]++
	}
	s.mu.RUnlock()

	out := make([]storage.KindCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, storage.KindCount{Kind: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *ReportStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if s.reports[id].ReportedAt.Before(cutoff) {
			delete(s.reports, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// Len returns the number of stored reports.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
