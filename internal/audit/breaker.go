package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSink wraps a Sink with a circuit breaker so a persistently failing
// destination (e.g. an unreachable database) stops being hammered on every
// request. While the circuit is open, Record fails immediately without
// touching the underlying sink; the pipeline already treats sink errors as
// best-effort, so open-circuit requests simply go unaudited until the
// destination recovers.
type BreakerSink struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// BreakerConfig holds the circuit breaker tuning for a sink.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxRequests is the number of probe requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the circuit.
	FailureThreshold float64

	// MinRequests is the minimum sample size before the ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns conservative defaults for an audit sink.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// NewBreakerSink wraps sink with a circuit breaker built from cfg.
func NewBreakerSink(sink Sink, cfg BreakerConfig) *BreakerSink {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("audit sink circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &BreakerSink{
		sink:    sink,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Record forwards to the wrapped sink through the breaker.
func (s *BreakerSink) Record(ctx context.Context, rec Record) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.sink.Record(ctx, rec)
	})
	return err
}

// Close closes the wrapped sink.
func (s *BreakerSink) Close() error {
	return s.sink.Close()
}

// State returns the breaker's current state, for tests and diagnostics.
func (s *BreakerSink) State() gobreaker.State {
	return s.breaker.State()
}
