package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"chat-gateway/internal/audit"
	"chat-gateway/internal/observability/metrics"
)

// StageAudit is the configuration name of the audit stage.
const StageAudit = "audit"

// DefaultSinkTimeout bounds a single sink write. The interception decision
// does not depend on log completion, so the bound only has to be tight
// enough that a stalled sink cannot back up the request path.
const DefaultSinkTimeout = 500 * time.Millisecond

// AuditStage records identity, path, and timestamp for every request that
// reaches it. It is side-effecting observation only and never rejects:
// sink failures are counted and logged, not surfaced to the caller.
type AuditStage struct {
	sink    audit.Sink
	timeout time.Duration

	// warnEvery throttles sink-failure warnings so a dead sink under
	// production traffic does not flood the process log.
	warnEvery *rate.Limiter
}

// NewAuditStage creates the stage over the given sink. A non-positive
// timeout falls back to DefaultSinkTimeout.
func NewAuditStage(sink audit.Sink, timeout time.Duration) *AuditStage {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	return &AuditStage{
		sink:      sink,
		timeout:   timeout,
		warnEvery: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Name returns the stage's configuration name.
func (s *AuditStage) Name() string {
	return StageAudit
}

// Check writes one audit record and always forwards, whatever the sink did.
func (s *AuditStage) Check(ctx context.Context, req *Request) Decision {
	user := audit.AnonymousUser
	if req.Identity != nil && req.Identity.Name != "" {
		user = req.Identity.Name
	}

	rec := audit.Record{
		Time: req.ReceivedAt,
		User: user,
		Path: req.Path,
	}

	sinkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sink.Record(sinkCtx, rec); err != nil {
		metrics.RecordAuditSinkFailure()
		if s.warnEvery.Allow() {
			slog.Warn("audit sink write failed",
				slog.String("user", user),
				slog.String("path", req.Path),
				slog.Any("error", err),
			)
		}
	}

	return Forward()
}
