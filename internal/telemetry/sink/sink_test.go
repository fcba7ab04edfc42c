package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/storage/memory"
)

func TestHTTPSink_Send(t *testing.T) {
	var got domain.ErrorRecord
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("expected auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := NewHTTPSink(server.URL, HTTPSinkOptions{Headers: http.Header{"Authorization": []string{"Bearer token"}}})
	defer s.Close()

	rec := domain.NewErrorRecord(domain.KindService, domain.SeverityError, "http 503", "inst", 3, nil)
	if err := s.Send(context.Background(), rec); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ID != rec.ID || got.Severity != domain.SeverityError {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestHTTPSink_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewHTTPSink(server.URL, HTTPSinkOptions{})
	rec := domain.NewErrorRecord(domain.KindService, domain.SeverityError, "x", "inst", 0, nil)
	if err := s.Send(context.Background(), rec); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestLogSink_Send(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	rec := domain.NewErrorRecord(domain.KindNetwork, domain.SeverityCritical, "connection refused", "inst", 1, nil)
	if err := s.Send(context.Background(), rec); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "kind=NETWORK") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestStoreSink_Send(t *testing.T) {
	store := memory.NewReportStore()
	s := NewStoreSink("memory", store)

	rec := domain.NewErrorRecord(domain.KindClient, domain.SeverityWarning, "http 404", "inst", 0, nil)
	if err := s.Send(context.Background(), rec); err != nil {
		t.Fatalf("send: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 stored report, got %d", store.Len())
	}
	if s.Name() != "memory" {
		t.Errorf("unexpected name %q", s.Name())
	}
}
