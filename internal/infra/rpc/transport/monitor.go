package transport

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HostStatus represents the observed state of a remote host.
type HostStatus int

const (
	StatusHealthy   HostStatus = iota // Host is working normally
	StatusDegraded                    // Host is slow or failing often
	StatusThrottled                   // Host is rate limiting
	StatusBlocked                     // Host has blocked this client
)

func (s HostStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s HostStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MonitorStats holds monitoring statistics for a host.
type MonitorStats struct {
	Status           HostStatus    `json:"status"`
	AverageLatency   time.Duration `json:"average_latency"`
	ThrottleCount429 int           `json:"throttle_count_429"`
	ThrottleCount403 int           `json:"throttle_count_403"`
	Requests         int           `json:"requests"`
	Failures         int           `json:"failures"`
	ErrorRate        float64       `json:"error_rate"`
	LastFailureAt    time.Time     `json:"last_failure_at,omitempty"`
	RetryAfter       time.Duration `json:"retry_after"`
}

// Monitor tracks latency and throttling for one host.
type Monitor struct {
	mu sync.RWMutex

	// Response time tracking
	recentLatencies  []time.Duration
	maxLatencyWindow int

	// Error tracking
	requests           int
	failures           int
	status429Count     int
	status403Count     int
	lastThrottleTime   time.Time
	lastFailureTime    time.Time
	retryAfterDuration time.Duration

	// Thresholds
	slowResponseThreshold time.Duration
	degradedThreshold     float64
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:       make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		slowResponseThreshold: 3 * time.Second,
		degradedThreshold:     0.3, // 30% error rate
	}
}

// RecordRequest records a completed exchange with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// RecordFailure records a failed attempt (transport error or non-2xx status).
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	m.lastFailureTime = time.Now()
}

// RecordThrottle records a rate limiting or blocking response.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = time.Now()

	switch statusCode {
	case http.StatusTooManyRequests:
		m.status429Count++
		m.retryAfterDuration = retryAfter
		if m.retryAfterDuration <= 0 {
			m.retryAfterDuration = 60 * time.Second // Default 1min
		}
	case http.StatusForbidden:
		m.status403Count++
		m.retryAfterDuration = 10 * time.Minute // Longer for IP block
	}
}

func (m *Monitor) statusLocked() HostStatus {
	inWindow := time.Since(m.lastThrottleTime) < m.retryAfterDuration

	// Blocked by 403
	if m.status403Count > 0 && inWindow {
		return StatusBlocked
	}

	// Throttled by 429
	if m.status429Count > 5 && inWindow {
		return StatusThrottled
	}

	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}

	total := m.requests + m.failures
	if total >= 10 && float64(m.failures)/float64(total) > m.degradedThreshold {
		return StatusDegraded
	}

	return StatusHealthy
}

// retryAfterLocked returns remaining time before the host said retries are welcome.
func (m *Monitor) retryAfterLocked() time.Duration {
	if m.retryAfterDuration > 0 {
		remaining := m.retryAfterDuration - time.Since(m.lastThrottleTime)
		if remaining > 0 {
			return remaining
		}
	}
	return 0
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}

	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MonitorStats{
		Status:           m.statusLocked(),
		AverageLatency:   m.averageLatencyLocked(),
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
		Requests:         m.requests,
		Failures:         m.failures,
		LastFailureAt:    m.lastFailureTime,
		RetryAfter:       m.retryAfterLocked(),
	}
	if total := m.requests + m.failures; total > 0 {
		stats.ErrorRate = float64(m.failures) / float64(total)
	}
	return stats
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
