package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/rpc/transport"
)

// =============================================================================
// Stubs
// =============================================================================

// scriptedProber answers per target; targets missing from the map are healthy.
type scriptedProber struct {
	mu      sync.Mutex
	results map[string]error
	delay   map[string]time.Duration
}

func (p *scriptedProber) set(target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[target] = err
}

func (p *scriptedProber) Probe(ctx context.Context, target string) error {
	p.mu.Lock()
	err := p.results[target]
	d := p.delay[target]
	p.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &ProbeError{Err: ctx.Err(), TimedOut: true}
		}
	}
	return err
}

func newScripted() *scriptedProber {
	return &scriptedProber{results: map[string]error{}, delay: map[string]time.Duration{}}
}

// =============================================================================
// Monitor
// =============================================================================

func TestCheckHealth_Aggregate(t *testing.T) {
	down := &ProbeError{Reached: true, Status: 503}
	tests := []struct {
		name    string
		failing []string
		want    domain.OverallStatus
	}{
		{"all healthy", nil, domain.OverallHealthy},
		{"one down", []string{"http://b"}, domain.OverallDegraded},
		{"two down", []string{"http://a", "http://c"}, domain.OverallDegraded},
		{"all down", []string{"http://a", "http://b", "http://c"}, domain.OverallUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newScripted()
			for _, f := range tt.failing {
				p.set(f, down)
			}
			m := NewMonitor(map[string]string{"a": "http://a", "b": "http://b", "c": "http://c"},
				Options{HTTP: p})

			report := m.CheckHealth(context.Background())
			if report.Overall != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.Overall)
			}
			if len(report.Endpoints) != 3 {
				t.Errorf("expected 3 endpoint results, got %d", len(report.Endpoints))
			}
		})
	}
}

func TestCheckHealth_NoEndpoints(t *testing.T) {
	m := NewMonitor(nil, Options{})
	if got := m.CheckHealth(context.Background()).Overall; got != domain.OverallHealthy {
		t.Errorf("expected healthy with no endpoints, got %s", got)
	}
}

func TestCheckHealth_SlowEndpointDoesNotBlockOthers(t *testing.T) {
	p := newScripted()
	p.delay["http://slow"] = time.Second

	m := NewMonitor(map[string]string{"api": "http://fast", "cdn": "http://slow"},
		Options{HTTP: p, Timeout: 50 * time.Millisecond})

	start := time.Now()
	report := m.CheckHealth(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("check took %v, expected probe timeout to bound it", elapsed)
	}

	if report.Endpoints["api"].State != domain.EndpointHealthy {
		t.Errorf("expected api healthy, got %s", report.Endpoints["api"].State)
	}
	cdn := report.Endpoints["cdn"]
	if cdn.State != domain.EndpointError || cdn.Kind != domain.KindTimeout {
		t.Errorf("expected cdn error/TIMEOUT, got %s/%s", cdn.State, cdn.Kind)
	}
	if report.Overall != domain.OverallDegraded {
		t.Errorf("expected degraded, got %s", report.Overall)
	}
}

func TestCheckHealth_ClassifiesFailures(t *testing.T) {
	p := newScripted()
	p.set("http://a", &ProbeError{Reached: true, Status: 503})
	p.set("http://b", &ProbeError{Reached: true, Status: 404})
	p.set("http://c", &ProbeError{Err: errors.New("dial tcp: connection refused")})

	m := NewMonitor(map[string]string{"a": "http://a", "b": "http://b", "c": "http://c"}, Options{HTTP: p})
	report := m.CheckHealth(context.Background())

	want := map[string]struct {
		state domain.EndpointState
		kind  domain.ErrorKind
	}{
		"a": {domain.EndpointUnhealthy, domain.KindService},
		"b": {domain.EndpointUnhealthy, domain.KindClient},
		"c": {domain.EndpointError, domain.KindNetwork},
	}
	for name, w := range want {
		got := report.Endpoints[name]
		if got.State != w.state || got.Kind != w.kind {
			t.Errorf("%s: expected %s/%s, got %s/%s", name, w.state, w.kind, got.State, got.Kind)
		}
	}

	offline := NewMonitor(map[string]string{"c": "http://c"},
		Options{HTTP: p, Connectivity: transport.Static(false)})
	if got := offline.CheckHealth(context.Background()).Endpoints["c"].Kind; got != domain.KindOffline {
		t.Errorf("expected OFFLINE while disconnected, got %s", got)
	}
}

func TestCheckHealth_ProberPanic(t *testing.T) {
	p := ProberFunc(func(ctx context.Context, target string) error { panic("bad prober") })
	m := NewMonitor(map[string]string{"a": "http://a"}, Options{HTTP: p})

	report := m.CheckHealth(context.Background())
	if report.Endpoints["a"].State != domain.EndpointError {
		t.Errorf("expected error state, got %s", report.Endpoints["a"].State)
	}
}

func TestCheckHealth_ContextIgnoringCheckIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := ProberFunc(func(ctx context.Context, target string) error {
		<-release
		return nil
	})

	m := NewMonitor(map[string]string{"api": "http://api"},
		Options{HTTP: stuck, Timeout: 50 * time.Millisecond})

	start := time.Now()
	report := m.CheckHealth(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("check took %v, expected the probe timeout to bound it", elapsed)
	}

	api := report.Endpoints["api"]
	if api.State != domain.EndpointError || api.Kind != domain.KindTimeout {
		t.Errorf("expected error/TIMEOUT, got %s/%s", api.State, api.Kind)
	}
	if report.Overall != domain.OverallUnhealthy {
		t.Errorf("expected unhealthy, got %s", report.Overall)
	}
}

func TestCommit_DiscardsOlderPoll(t *testing.T) {
	m := NewMonitor(map[string]string{"api": "http://api"}, Options{HTTP: newScripted()})

	var transitions int
	m.OnTransition(func(domain.OverallStatus, domain.OverallStatus, Report) { transitions++ })

	now := time.Now()
	newer := Report{Overall: domain.OverallHealthy, CheckedAt: now}
	older := Report{Overall: domain.OverallUnhealthy, CheckedAt: now.Add(-time.Second)}

	m.commit(newer)
	m.commit(older)

	if got := m.Status().Overall; got != domain.OverallHealthy {
		t.Errorf("expected newer result to stay, got %s", got)
	}
	if transitions != 1 {
		t.Errorf("expected 1 transition, got %d", transitions)
	}
}

func TestOnTransition_EdgeTriggered(t *testing.T) {
	p := newScripted()
	m := NewMonitor(map[string]string{"api": "http://api", "cdn": "http://cdn"}, Options{HTTP: p})

	type transition struct{ from, to domain.OverallStatus }
	var got []transition
	m.OnTransition(func(from, to domain.OverallStatus, _ Report) {
		got = append(got, transition{from, to})
	})

	ctx := context.Background()
	m.CheckHealth(ctx) // unknown -> healthy
	m.CheckHealth(ctx) // no change

	p.set("http://cdn", &ProbeError{Reached: true, Status: 500})
	m.CheckHealth(ctx) // healthy -> degraded
	m.CheckHealth(ctx) // no change
	m.CheckHealth(ctx) // no change

	p.set("http://cdn", nil)
	m.CheckHealth(ctx) // degraded -> healthy

	want := []transition{
		{domain.OverallUnknown, domain.OverallHealthy},
		{domain.OverallHealthy, domain.OverallDegraded},
		{domain.OverallDegraded, domain.OverallHealthy},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestOnTransition_Unregister(t *testing.T) {
	p := newScripted()
	m := NewMonitor(map[string]string{"api": "http://api"}, Options{HTTP: p})

	calls := 0
	unregister := m.OnTransition(func(domain.OverallStatus, domain.OverallStatus, Report) { calls++ })
	m.CheckHealth(context.Background())
	unregister()

	p.set("http://api", &ProbeError{Reached: true, Status: 500})
	m.CheckHealth(context.Background())

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestStatus_DoesNotProbe(t *testing.T) {
	var probes int
	var mu sync.Mutex
	p := ProberFunc(func(ctx context.Context, target string) error {
		mu.Lock()
		probes++
		mu.Unlock()
		return nil
	})
	m := NewMonitor(map[string]string{"api": "http://api"}, Options{HTTP: p})

	if got := m.Status().Overall; got != domain.OverallUnknown {
		t.Errorf("expected unknown before first poll, got %s", got)
	}
	m.CheckHealth(context.Background())
	for i := 0; i < 5; i++ {
		_ = m.Status()
	}

	mu.Lock()
	defer mu.Unlock()
	if probes != 1 {
		t.Errorf("expected exactly 1 probe, got %d", probes)
	}
}

func TestStartStop(t *testing.T) {
	p := newScripted()
	m := NewMonitor(map[string]string{"api": "http://api"}, Options{HTTP: p, Interval: 20 * time.Millisecond})

	changed := make(chan domain.OverallStatus, 4)
	m.OnTransition(func(_, to domain.OverallStatus, _ Report) { changed <- to })

	m.Start(context.Background())
	select {
	case to := <-changed:
		if to != domain.OverallHealthy {
			t.Errorf("expected healthy, got %s", to)
		}
	case <-time.After(time.Second):
		t.Fatal("first poll did not complete")
	}

	m.Stop()
	m.Stop()
	checked := m.Status().CheckedAt
	time.Sleep(60 * time.Millisecond)
	if !m.Status().CheckedAt.Equal(checked) {
		t.Error("expected no polls after Stop")
	}
}

// =============================================================================
// Probers
// =============================================================================

func TestHTTPProber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewHTTPProber(server.Client())
	tests := []struct {
		path    string
		healthy bool
		status  int
	}{
		{"/json", true, 0},
		{"/empty", true, 0},
		{"/html", false, 200},
		{"/down", false, 503},
	}
	for _, tt := range tests {
		err := p.Probe(context.Background(), server.URL+tt.path)
		if (err == nil) != tt.healthy {
			t.Errorf("%s: expected healthy=%v, got err=%v", tt.path, tt.healthy, err)
			continue
		}
		if err != nil {
			pe := asProbeError(err)
			if !pe.Reached || pe.Status != tt.status {
				t.Errorf("%s: expected reached status %d, got %+v", tt.path, tt.status, pe)
			}
		}
	}
}

func TestGRPCProber(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	hs.SetServingStatus("flows", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("billing", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	p := NewGRPCProber()
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "grpc://" + lis.Addr().String()
	if err := p.Probe(ctx, base+"/flows"); err != nil {
		t.Errorf("expected flows serving, got %v", err)
	}
	if err := p.Probe(ctx, base); err != nil {
		t.Errorf("expected overall server serving, got %v", err)
	}
	if err := p.Probe(ctx, base+"/billing"); err == nil || !asProbeError(err).Reached {
		t.Errorf("expected billing not serving, got %v", err)
	}
}

func TestIsGRPCTarget(t *testing.T) {
	if !IsGRPCTarget("grpc://localhost:9090") || !IsGRPCTarget("grpcs://api:443/svc") {
		t.Error("expected grpc targets")
	}
	if IsGRPCTarget("https://api.local/health") {
		t.Error("https is not a grpc target")
	}
}

// =============================================================================
// Server
// =============================================================================

func TestServer_Endpoints(t *testing.T) {
	p := newScripted()
	p.set("http://a", &ProbeError{Reached: true, Status: 500})
	m := NewMonitor(map[string]string{"a": "http://a"}, Options{HTTP: p})
	m.CheckHealth(context.Background())

	srv := NewServer(m, 0, ServerOptions{
		Peers:     func() any { return []string{"peer-1"} },
		Transport: func() any { return map[string]transport.MonitorStats{"api.local": {Requests: 3, Status: transport.StatusThrottled}} },
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Errorf("expected 503 unhealthy, got %d %v", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/health/detailed")
	if err != nil {
		t.Fatalf("get detailed: %v", err)
	}
	var report Report
	_ = json.NewDecoder(resp.Body).Decode(&report)
	resp.Body.Close()
	if report.Endpoints["a"].Kind != domain.KindService {
		t.Errorf("expected endpoint kind SERVICE, got %+v", report.Endpoints["a"])
	}

	resp, err = http.Get(ts.URL + "/peers")
	if err != nil {
		t.Fatalf("get peers: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected peers 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/transport")
	if err != nil {
		t.Fatalf("get transport: %v", err)
	}
	var hosts map[string]struct {
		Status   string `json:"status"`
		Requests int    `json:"requests"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&hosts)
	resp.Body.Close()
	if h := hosts["api.local"]; h.Requests != 3 || h.Status != "throttled" {
		t.Errorf("expected api.local throttled with 3 requests, got %+v", hosts)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected metrics 200, got %d", resp.StatusCode)
	}
}
