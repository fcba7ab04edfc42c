package reporter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
)

type fakeSink struct {
	mu    sync.Mutex
	sent  []domain.ErrorRecord
	err   error
	block chan struct{}
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(ctx context.Context, rec domain.ErrorRecord) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, rec)
	return nil
}

func (f *fakeSink) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func record(msg string) domain.ErrorRecord {
	return domain.NewErrorRecord(domain.KindService, domain.SeverityError, msg, "inst", 0, nil)
}

func TestReporter_DeliversAndDrains(t *testing.T) {
	s := &fakeSink{}
	r := New(s, Options{QueueSize: 10})

	for i := 0; i < 5; i++ {
		r.Report(record("boom"))
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if s.Len() != 5 {
		t.Errorf("expected 5 delivered, got %d", s.Len())
	}
	if st := r.Stats(); st.Sent != 5 || st.Failed != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestReporter_FailuresAreSwallowed(t *testing.T) {
	s := &fakeSink{err: errors.New("collector down")}
	r := New(s, Options{})

	r.Report(record("a"))
	r.Report(record("b"))
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if st := r.Stats(); st.Failed != 2 || st.Sent != 0 {
		t.Errorf("expected 2 failures, got %+v", st)
	}
}

func TestReporter_NonBlockingWhenFull(t *testing.T) {
	s := &fakeSink{block: make(chan struct{})}
	r := New(s, Options{QueueSize: 2})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Report(record("flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a full queue")
	}

	close(s.block)
	_ = r.Close(context.Background())

	st := r.Stats()
	if st.Dropped == 0 {
		t.Error("expected some records to be dropped")
	}
	if st.Sent+st.Dropped != 10 {
		t.Errorf("expected sent+dropped == 10, got %+v", st)
	}
}

func TestReporter_ReportAfterClose(t *testing.T) {
	s := &fakeSink{}
	r := New(s, Options{})
	_ = r.Close(context.Background())

	r.Report(record("late"))
	if st := r.Stats(); st.Dropped != 1 {
		t.Errorf("expected late record dropped, got %+v", st)
	}
	// Second close is a no-op.
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestReporter_CloseDeadline(t *testing.T) {
	s := &fakeSink{block: make(chan struct{})}
	r := New(s, Options{QueueSize: 5})
	r.Report(record("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestReporter_RateLimited(t *testing.T) {
	s := &fakeSink{}
	r := New(s, Options{RatePerSecond: 20, Burst: 1, QueueSize: 10})

	start := time.Now()
	for i := 0; i < 4; i++ {
		r.Report(record("x"))
	}
	_ = r.Close(context.Background())

	// Burst of 1 at 20/s: the 3 records after the first wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("expected rate limiting to pace delivery, took %v", elapsed)
	}
	if s.Len() != 4 {
		t.Errorf("expected 4 delivered, got %d", s.Len())
	}
}
