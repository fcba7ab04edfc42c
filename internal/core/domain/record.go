package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorRecord is a classified failure. It is not modified after creation.
type ErrorRecord struct {
	ID               string            `json:"id"`
	Kind             ErrorKind         `json:"kind"`
	Severity         Severity          `json:"severity"`
	Message          string            `json:"message"`
	OriginInstanceID string            `json:"origin_instance_id"`
	Timestamp        time.Time         `json:"timestamp"`
	RetryCount       int               `json:"retry_count"`
	Context          map[string]string `json:"context,omitempty"`
	GroupKey         string            `json:"group_key"`
	Propagated       bool              `json:"propagated,omitempty"`
}

// NewErrorRecord builds a record with a fresh id and derived group key.
func NewErrorRecord(
	kind ErrorKind,
	severity Severity,
	message, instanceID string,
	retryCount int,
	ctx map[string]string,
) ErrorRecord {
	return ErrorRecord{
		ID:               uuid.NewString(),
		Kind:             kind,
		Severity:         severity,
		Message:          message,
		OriginInstanceID: instanceID,
		Timestamp:        time.Now(),
		RetryCount:       retryCount,
		Context:          ctx,
		GroupKey:         GroupKey(kind, message),
	}
}

// GroupKey derives the grouping signature: kind plus the first line of the message.
func GroupKey(kind ErrorKind, message string) string {
	first := message
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	return string(kind) + ":" + strings.TrimSpace(first)
}

// AsPeer returns a copy marked as received from another instance.
func (r ErrorRecord) AsPeer() ErrorRecord {
	r.Propagated = true
	if r.GroupKey == "" {
		r.GroupKey = GroupKey(r.Kind, r.Message)
	}
	return r
}

// ErrorGroup counts occurrences of records sharing a GroupKey.
type ErrorGroup struct {
	GroupKey  string    `json:"group_key"`
	Kind      ErrorKind `json:"kind"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
