package transport

import (
	"net/http"
	"testing"
	"time"
)

func TestMonitor_Accumulation(t *testing.T) {
	m := NewMonitor()

	m.RecordRequest(100 * time.Millisecond)

	stats := m.Stats()
	if stats.Requests != 1 {
		t.Errorf("Expected 1 request, got %d", stats.Requests)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats = m.Stats()
	if stats.Requests != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.Requests)
	}
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected window average 50ms, got %v", stats.AverageLatency)
	}
}

func TestMonitor_ThrottleStatus(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 6; i++ {
		m.RecordThrottle(http.StatusTooManyRequests, 30*time.Second)
	}
	stats := m.Stats()
	if stats.Status != StatusThrottled {
		t.Errorf("Expected throttled, got %s", stats.Status)
	}
	if stats.RetryAfter <= 0 {
		t.Error("Expected positive retry-after window")
	}

	blocked := NewMonitor()
	blocked.RecordThrottle(http.StatusForbidden, 0)
	if got := blocked.Stats().Status; got != StatusBlocked {
		t.Errorf("Expected blocked, got %s", got)
	}
}

func TestMonitor_DegradedOnErrorRate(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 5; i++ {
		m.RecordRequest(time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		m.RecordFailure()
	}

	if got := m.Stats().Status; got != StatusDegraded {
		t.Errorf("Expected degraded at 50%% error rate, got %s", got)
	}
	if got := m.Stats().ErrorRate; got != 0.5 {
		t.Errorf("Expected error rate 0.5, got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := ParseRetryAfter(tt.value, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
