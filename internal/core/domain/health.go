package domain

import "time"

// EndpointState is the outcome of one health probe.
type EndpointState string

const (
	EndpointHealthy   EndpointState = "healthy"
	EndpointUnhealthy EndpointState = "unhealthy"
	EndpointError     EndpointState = "error"
)

// OverallStatus aggregates all endpoint states.
type OverallStatus string

const (
	OverallUnknown   OverallStatus = "unknown"
	OverallHealthy   OverallStatus = "healthy"
	OverallDegraded  OverallStatus = "degraded"
	OverallUnhealthy OverallStatus = "unhealthy"
)

// EndpointHealth holds the last probe result for a dependency.
type EndpointHealth struct {
	Name      string        `json:"name"`
	URL       string        `json:"url"`
	State     EndpointState `json:"state"`
	Kind      ErrorKind     `json:"kind,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// AggregateStatus derives the overall status: healthy iff every endpoint is healthy,
// degraded if at least one is, unhealthy otherwise.
func AggregateStatus(endpoints map[string]EndpointHealth) OverallStatus {
	if len(endpoints) == 0 {
		return OverallHealthy
	}

	healthy := 0
	for _, e := range endpoints {
		if e.State == EndpointHealthy {
			healthy++
		}
	}

	switch {
	case healthy == len(endpoints):
		return OverallHealthy
	case healthy > 0:
		return OverallDegraded
	default:
		return OverallUnhealthy
	}
}
