// Package sink delivers forwarded error records to their final destination.
package sink

import (
	"context"

	"github.com/vietddude/resilio/internal/core/domain"
)

// Sink receives forwarded records. Send is called from the reporter worker only, so
// implementations need not be safe for concurrent use unless shared elsewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec domain.ErrorRecord) error
}
