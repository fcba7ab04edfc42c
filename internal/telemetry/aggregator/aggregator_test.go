package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/core/session"
)

type reporterStub struct {
	mu      sync.Mutex
	records []domain.ErrorRecord
}

func (r *reporterStub) Report(rec domain.ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *reporterStub) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type propagatorStub struct {
	mu      sync.Mutex
	records []domain.ErrorRecord
}

func (p *propagatorStub) Propagate(ctx context.Context, rec domain.ErrorRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return true
}

func (p *propagatorStub) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func newTestAggregator(maxForwarded int, rep Reporter) (*Aggregator, *session.Session) {
	sess := session.New(session.Options{InstanceID: "local", MaxForwarded: maxForwarded})
	agg := New(Options{
		MinSeverity:  domain.SeverityWarning,
		GroupSimilar: true,
		SampleEvery:  10,
		Session:      sess,
		Reporter:     rep,
	})
	return agg, sess
}

func serviceError(msg string) domain.ErrorRecord {
	return domain.NewErrorRecord(domain.KindService, domain.SeverityError, msg, "local", 3, nil)
}

func TestRecord_SamplesSimilarErrors(t *testing.T) {
	rep := &reporterStub{}
	agg, _ := newTestAggregator(50, rep)

	for i := 0; i < 12; i++ {
		agg.Record(serviceError("http 503: Service Unavailable"))
	}

	if rep.Len() != 2 {
		t.Errorf("expected 2 forwarded records (1st and 10th), got %d", rep.Len())
	}
	g, ok := agg.Group(domain.GroupKey(domain.KindService, "http 503: Service Unavailable"))
	if !ok {
		t.Fatal("expected group to exist")
	}
	if g.Count != 12 {
		t.Errorf("expected count 12, got %d", g.Count)
	}
	if g.LastSeen.Before(g.FirstSeen) {
		t.Errorf("lastSeen %v before firstSeen %v", g.LastSeen, g.FirstSeen)
	}
}

func TestRecord_GroupingDisabledForwardsAll(t *testing.T) {
	rep := &reporterStub{}
	sess := session.New(session.Options{MaxForwarded: 50})
	agg := New(Options{MinSeverity: domain.SeverityWarning, Session: sess, Reporter: rep})

	for i := 0; i < 5; i++ {
		agg.Record(serviceError("boom"))
	}
	if rep.Len() != 5 {
		t.Errorf("expected 5 forwarded records, got %d", rep.Len())
	}
}

func TestRecord_BelowMinSeverityKeptLocally(t *testing.T) {
	rep := &reporterStub{}
	agg, _ := newTestAggregator(50, rep)

	agg.Record(domain.NewErrorRecord(domain.KindClient, domain.SeverityInfo, "http 404", "local", 0, nil))

	if rep.Len() != 0 {
		t.Errorf("expected nothing forwarded, got %d", rep.Len())
	}
	if len(agg.Groups()) != 1 {
		t.Errorf("expected the record to be counted, got %d groups", len(agg.Groups()))
	}
	if len(agg.Recent()) != 1 {
		t.Errorf("expected the record in recent, got %d", len(agg.Recent()))
	}
}

func TestRecord_SessionCap(t *testing.T) {
	tests := []struct {
		name    string
		cap     int
		records int
	}{
		{"under cap", 50, 20},
		{"at cap", 10, 10},
		{"over cap", 5, 100},
		{"cap of one", 1, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &reporterStub{}
			agg, sess := newTestAggregator(tt.cap, rep)

			for i := 0; i < tt.records; i++ {
				// Distinct groups so every record passes sampling.
				agg.Record(serviceError(fmt.Sprintf("failure %d", i)))
			}

			want := tt.records
			if want > tt.cap {
				want = tt.cap
			}
			if rep.Len() != want {
				t.Errorf("expected %d forwarded, got %d", want, rep.Len())
			}
			if sess.Forwarded() > tt.cap {
				t.Errorf("forwarded %d exceeds cap %d", sess.Forwarded(), tt.cap)
			}
			if len(agg.Groups()) != tt.records {
				t.Errorf("expected %d groups counted locally, got %d", tt.records, len(agg.Groups()))
			}
		})
	}
}

func TestRecord_ConcurrentCap(t *testing.T) {
	rep := &reporterStub{}
	agg, _ := newTestAggregator(50, rep)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Record(serviceError(fmt.Sprintf("failure %d", i)))
		}(i)
	}
	wg.Wait()

	if rep.Len() != 50 {
		t.Errorf("expected exactly 50 forwarded, got %d", rep.Len())
	}
}

func TestRecord_Propagates(t *testing.T) {
	rep := &reporterStub{}
	prop := &propagatorStub{}
	agg, sess := newTestAggregator(50, rep)
	agg.SetPropagator(prop)

	agg.Record(serviceError("boom"))
	agg.Record(serviceError("boom")) // sampled out

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if prop.Len() != 1 {
		t.Errorf("expected 1 propagated record, got %d", prop.Len())
	}
}

func TestRecord_AfterSessionClose(t *testing.T) {
	rep := &reporterStub{}
	prop := &propagatorStub{}
	agg, sess := newTestAggregator(50, rep)
	agg.SetPropagator(prop)

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	agg.Record(serviceError("late"))

	if g, ok := agg.Group(serviceError("late").GroupKey); !ok || g.Count != 1 {
		t.Errorf("expected the record to be counted, got %+v", g)
	}
	if prop.Len() != 0 {
		t.Errorf("expected no propagation after close, got %d", prop.Len())
	}
}

func TestIngest_NeverForwards(t *testing.T) {
	rep := &reporterStub{}
	prop := &propagatorStub{}
	agg, sess := newTestAggregator(50, rep)
	agg.SetPropagator(prop)

	var seen []domain.ErrorRecord
	agg.Subscribe(func(rec domain.ErrorRecord, g domain.ErrorGroup) {
		seen = append(seen, rec)
	})

	peer := domain.NewErrorRecord(domain.KindNetwork, domain.SeverityCritical, "connection refused", "peer-1", 2, nil)
	agg.Ingest(peer)
	_ = sess.Close()

	if rep.Len() != 0 || prop.Len() != 0 {
		t.Errorf("peer record forwarded: reporter=%d propagator=%d", rep.Len(), prop.Len())
	}
	if len(seen) != 1 {
		t.Fatalf("expected listener to see 1 record, got %d", len(seen))
	}
	if !seen[0].Propagated {
		t.Error("expected ingested record to be marked propagated")
	}
	if seen[0].Severity != domain.SeverityCritical {
		t.Errorf("expected severity preserved, got %s", seen[0].Severity)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	agg, _ := newTestAggregator(50, nil)

	calls := 0
	unsubscribe := agg.Subscribe(func(domain.ErrorRecord, domain.ErrorGroup) { calls++ })
	agg.Subscribe(func(domain.ErrorRecord, domain.ErrorGroup) { panic("listener bug") })

	agg.Record(serviceError("a"))
	unsubscribe()
	agg.Record(serviceError("b"))

	if calls != 1 {
		t.Errorf("expected 1 call before unsubscribe, got %d", calls)
	}
}

func TestRecent_Ring(t *testing.T) {
	sess := session.New(session.Options{MaxForwarded: 50})
	agg := New(Options{RecentSize: 3, Session: sess})

	for i := 0; i < 5; i++ {
		agg.Record(serviceError(fmt.Sprintf("m%d", i)))
	}

	recent := agg.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent records, got %d", len(recent))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if recent[i].Message != want {
			t.Errorf("recent[%d]: expected %s, got %s", i, want, recent[i].Message)
		}
	}
}

func TestGroups_MonotonicCount(t *testing.T) {
	agg, _ := newTestAggregator(50, nil)
	key := domain.GroupKey(domain.KindService, "boom")

	last := 0
	for i := 0; i < 25; i++ {
		agg.Record(serviceError("boom"))
		g, _ := agg.Group(key)
		if g.Count < last {
			t.Fatalf("count decreased from %d to %d", last, g.Count)
		}
		last = g.Count
	}
	if last != 25 {
		t.Errorf("expected 25, got %d", last)
	}
}
