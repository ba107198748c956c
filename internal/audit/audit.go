// Package audit provides append-only sinks for the gateway's request audit
// trail.
//
// Sinks are best-effort collaborators: the pipeline records one entry per
// request and moves on. A sink that fails or stalls must never turn into a
// rejected request, so every write is bounded by the caller's context and
// errors are reported, not propagated.
package audit

import (
	"context"
	"time"
)

// AnonymousUser is the identity recorded for unauthenticated requests.
const AnonymousUser = "anonymous"

// Record is one audit entry: who asked for what, and when.
type Record struct {
	// Time is the request's arrival timestamp.
	Time time.Time

	// User is the resolved identity name, or AnonymousUser.
	User string

	// Path is the request path.
	Path string
}

// Sink is an append-only destination for audit records.
//
// Implementations must be safe for concurrent use. Record should respect
// ctx cancellation so a slow destination cannot stall the request pipeline.
type Sink interface {
	// Record appends one entry.
	Record(ctx context.Context, rec Record) error

	// Close releases any resources held by the sink.
	Close() error
}
