// Package ratelimit provides framework-agnostic sliding-window rate limit
// state.
//
// The package tracks request timestamps per client key and answers a single
// question atomically: is one more request from this key admissible within
// the trailing window? It is designed to be reusable across different
// contexts (HTTP, gRPC, CLI, background jobs) and carries no HTTP types.
package ratelimit

import (
	"context"
	"time"
)

// Store defines the interface for sliding-window rate limit state.
//
// Implementations can use in-memory storage, Redis, databases, or other
// backends. All methods must be thread-safe.
//
// Window convention: a timestamp is inside the window only if it is strictly
// after the cutoff. A timestamp exactly at cutoff (now minus the window
// duration) is already expired. All implementations must apply this
// convention uniformly.
type Store interface {
	// CheckAndAdd atomically checks whether a request from key is within
	// the limit and, if so, records it.
	//
	// The check and the append MUST happen under a single lock acquisition
	// for the key. Two concurrent calls for the same key must never both
	// observe a count below the limit when only one admission remains;
	// otherwise the limit can be exceeded under load.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - key: Unique identifier for the rate limit subject (e.g., IP)
	//   - now: Time when the request occurred
	//   - cutoff: Only timestamps strictly after this time count
	//   - limit: Maximum number of requests allowed in the window
	//
	// Returns:
	//   - allowed: true if the request was within the limit and recorded.
	//     A denied request is NOT recorded and consumes no slot.
	//   - count: Requests in the window after the call
	//   - err: Error if the operation fails
	CheckAndAdd(ctx context.Context, key string, now, cutoff time.Time, limit int) (allowed bool, count int, err error)

	// Cleanup removes timestamps at or before cutoff from all keys and
	// drops keys left with no timestamps. It exists so a periodic job can
	// bound memory growth for a churning key population.
	//
	// Returns the number of keys removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)

	// KeyCount returns the number of keys currently tracked.
	//
	// This is useful for monitoring memory usage and alerting on
	// unbounded key growth.
	KeyCount(ctx context.Context) (int, error)
}
