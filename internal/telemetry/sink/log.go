package sink

import (
	"context"
	"log/slog"

	"github.com/vietddude/resilio/internal/core/domain"
)

// LogSink writes records to the structured log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With("sink", "log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, rec domain.ErrorRecord) error {
	level := slog.LevelWarn
	if rec.Severity >= domain.SeverityError {
		level = slog.LevelError
	}
	s.log.Log(ctx, level, "Error report",
		"id", rec.ID,
		"kind", rec.Kind,
		"severity", rec.Severity.String(),
		"message", rec.Message,
		"retries", rec.RetryCount,
		"origin", rec.OriginInstanceID,
	)
	return nil
}
