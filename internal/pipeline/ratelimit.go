package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"chat-gateway/internal/observability/metrics"
	"chat-gateway/pkg/ratelimit"
)

// StageRateLimit is the configuration name of the rate limit stage.
const StageRateLimit = "ratelimit"

// RateLimitStage enforces "at most limit POST requests from one client key
// within the trailing window".
//
// Scope is restricted to POST because that is the message-creation verb;
// reads and mutations are governed by the other gates and bypass this stage
// entirely, regardless of volume.
//
// The stage owns the only mutable shared state in the pipeline: the
// sliding-window store. The store's check-and-add is atomic per key, so
// concurrent requests for one key are admitted linearizably and can never
// exceed the limit.
type RateLimitStage struct {
	store  ratelimit.Store
	clock  ratelimit.Clock
	limit  int
	window time.Duration
}

// NewRateLimitStage creates the stage. The config layer guarantees limit > 0
// and window > 0. A nil clock falls back to the system clock.
func NewRateLimitStage(store ratelimit.Store, clock ratelimit.Clock, limit int, window time.Duration) *RateLimitStage {
	if clock == nil {
		clock = &ratelimit.SystemClock{}
	}
	return &RateLimitStage{
		store:  store,
		clock:  clock,
		limit:  limit,
		window: window,
	}
}

// Name returns the stage's configuration name.
func (s *RateLimitStage) Name() string {
	return StageRateLimit
}

// Check admits or rejects a POST based on the client key's sliding window.
// A rejected request consumes no slot. Non-POST requests forward without
// touching state.
func (s *RateLimitStage) Check(ctx context.Context, req *Request) Decision {
	if req.Method != http.MethodPost {
		return Forward()
	}

	key := req.ClientKey
	if key == "" {
		key = UnknownClientKey
	}

	start := time.Now()
	now := s.clock.Now()
	allowed, count, err := s.store.CheckAndAdd(ctx, key, now, now.Add(-s.window), s.limit)
	metrics.ObserveRateLimitCheck(time.Since(start))
	if err != nil {
		// The limiter protects capacity; it must not take the service
		// down with it. Store failures admit the request and are
		// surfaced through logs and metrics instead.
		slog.Warn("rate limit check failed, admitting request",
			slog.String("key", key),
			slog.String("path", req.Path),
			slog.Any("error", err),
		)
		metrics.RecordRateLimitStoreError()
		return Forward()
	}

	if !allowed {
		slog.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.String("path", req.Path),
			slog.Int("count", count),
			slog.Int("limit", s.limit),
			slog.Duration("window", s.window),
		)
		return Reject(StageRateLimit, "rate limit exceeded", http.StatusForbidden)
	}

	return Forward()
}

// Maintain trims expired entries and publishes the active key count. It is
// meant to run on a schedule (cron) to bound memory for churning keys.
func (s *RateLimitStage) Maintain(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.window)
	removed, err := s.store.Cleanup(ctx, cutoff)
	if err != nil {
		return err
	}

	keys, err := s.store.KeyCount(ctx)
	if err != nil {
		return err
	}
	metrics.SetRateLimitActiveKeys(keys)

	if removed > 0 {
		slog.Debug("rate limit store cleanup completed",
			slog.Int("removed_keys", removed),
			slog.Int("active_keys", keys),
		)
	}
	return nil
}
