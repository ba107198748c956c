package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes audit records to a structured logger instead of a file.
// Useful when the deployment already ships logs to a central collector.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger. A nil logger uses the
// process default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record emits one structured log entry per request.
func (s *SlogSink) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "audit",
		slog.Time("at", rec.Time),
		slog.String("user", rec.User),
		slog.String("path", rec.Path),
	)
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (s *SlogSink) Close() error {
	return nil
}
