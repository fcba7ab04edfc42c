package domain

import (
	"encoding/json"
	"testing"
)

func TestGroupKey_FirstLineOnly(t *testing.T) {
	a := GroupKey(KindService, "http 503: upstream down\nstack line 1")
	b := GroupKey(KindService, "http 503: upstream down\nstack line 2")
	if a != b {
		t.Errorf("expected same group key, got %q and %q", a, b)
	}

	if GroupKey(KindNetwork, "http 503: upstream down") == a {
		t.Error("expected kind to be part of the group key")
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name   string
		states []EndpointState
		want   OverallStatus
	}{
		{"none", nil, OverallHealthy},
		{"all healthy", []EndpointState{EndpointHealthy, EndpointHealthy}, OverallHealthy},
		{"one error", []EndpointState{EndpointHealthy, EndpointError}, OverallDegraded},
		{"one unhealthy", []EndpointState{EndpointUnhealthy, EndpointHealthy}, OverallDegraded},
		{"none healthy", []EndpointState{EndpointUnhealthy, EndpointError}, OverallUnhealthy},
	}

	for _, tt := range tests {
		endpoints := make(map[string]EndpointHealth)
		for i, s := range tt.states {
			endpoints[string(rune('a'+i))] = EndpointHealth{State: s}
		}
		if got := AggregateStatus(endpoints); got != tt.want {
			t.Errorf("%s: AggregateStatus = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestSeverity_JSONByName(t *testing.T) {
	msg := NewBroadcastMessage(
		NewErrorRecord(KindTimeout, SeverityError, "deadline", "inst-a", 2, nil),
		"inst-a",
		SeverityError,
	)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["severity"] != "error" {
		t.Errorf("expected severity encoded as name, got %v", raw["severity"])
	}

	var decoded BroadcastMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Record.Severity != SeverityError || decoded.Record.RetryCount != 2 {
		t.Errorf("unexpected decoded record: %+v", decoded.Record)
	}
}

func TestParseSeverity(t *testing.T) {
	if s, err := ParseSeverity("WARN"); err != nil || s != SeverityWarning {
		t.Errorf("ParseSeverity(WARN) = %v, %v", s, err)
	}
	if _, err := ParseSeverity("loud"); err == nil {
		t.Error("expected error for unknown severity")
	}
}
