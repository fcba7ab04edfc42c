package domain

import (
	"time"

	"github.com/google/uuid"
)

// BroadcastMessage is the envelope written to the propagation channel.
type BroadcastMessage struct {
	ID               string      `json:"id"`
	Timestamp        time.Time   `json:"timestamp"`
	OriginInstanceID string      `json:"origin_instance_id"`
	Severity         Severity    `json:"severity"`
	Record           ErrorRecord `json:"record"`
}

// NewBroadcastMessage wraps a record for the given origin instance.
func NewBroadcastMessage(rec ErrorRecord, origin string, severity Severity) BroadcastMessage {
	return BroadcastMessage{
		ID:               uuid.NewString(),
		Timestamp:        time.Now(),
		OriginInstanceID: origin,
		Severity:         severity,
		Record:           rec,
	}
}
