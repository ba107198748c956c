// Package pipeline implements the request-interception pipeline: an ordered
// chain of policy stages, each of which inspects an inbound request
// descriptor and either forwards it to the next stage or short-circuits
// with a rejection.
//
// Stages are independent and hold their own state (the rate limit stage owns
// the sliding-window store, the audit stage owns its sink). The chain itself
// is stateless; it holds only the ordered stage list, which is assembled
// from configuration so deployments can reorder or drop stages without code
// changes.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"chat-gateway/internal/observability/metrics"
)

// Role constants define the user roles recognized by the gateway.
// Roles arrive as JWT claims; the pipeline never grants them.
const (
	// RoleAdmin may perform any operation.
	RoleAdmin = "admin"
	// RoleModerator may perform mutating operations on messages.
	RoleModerator = "moderator"
	// RoleUser is the least-privileged role and the default when a token
	// carries no role claim.
	RoleUser = "user"
)

// Identity describes an authenticated caller. A nil *Identity means the
// request is anonymous.
type Identity struct {
	// Name is the caller's identifier (JWT subject).
	Name string

	// Role is the caller's role claim. Empty means no claim was present.
	Role string
}

// EffectiveRole returns the identity's role, defaulting to RoleUser when the
// role claim is absent. A nil identity has no role at all and returns "".
func (id *Identity) EffectiveRole() string {
	if id == nil {
		return ""
	}
	if id.Role == "" {
		return RoleUser
	}
	return id.Role
}

// Request is the descriptor a stage inspects. It is assembled once by the
// HTTP adapter and is read-only for the duration of one chain traversal;
// stages never mutate it.
type Request struct {
	// Method is the HTTP verb (GET, POST, PUT, PATCH, DELETE, ...).
	Method string

	// Path is the request path.
	Path string

	// ClientKey partitions rate-limit state, normally the originating IP.
	// The adapter sets UnknownClientKey when no address could be resolved.
	ClientKey string

	// Identity is the authenticated caller, or nil for anonymous requests.
	Identity *Identity

	// ReceivedAt is the arrival timestamp.
	ReceivedAt time.Time
}

// UnknownClientKey is the shared bucket for requests whose client address
// could not be resolved. Failing closed into one key keeps such requests
// rate-limited collectively instead of crashing or bypassing the limiter.
const UnknownClientKey = "unknown"

// Decision is the result of a policy stage: either forward to the next
// stage or reject with an HTTP status and a machine-readable reason.
type Decision struct {
	// Allowed is true when the request may continue down the chain.
	Allowed bool

	// Reason is the short rejection reason surfaced to the client.
	// Empty for forward decisions.
	Reason string

	// Status is the HTTP status code for a rejection. Zero for forward
	// decisions.
	Status int

	// Stage names the stage that produced a rejection. Empty for forward
	// decisions.
	Stage string
}

// Forward returns a pass-through decision.
func Forward() Decision {
	return Decision{Allowed: true}
}

// Reject returns a terminating decision attributed to the named stage.
func Reject(stage, reason string, status int) Decision {
	return Decision{Reason: reason, Status: status, Stage: stage}
}

// Stage is one policy unit in the chain. Check must be safe for concurrent
// invocation and must not mutate the request.
type Stage interface {
	// Name identifies the stage in configuration, logs, and metrics.
	Name() string

	// Check inspects the request and decides whether it may continue.
	Check(ctx context.Context, req *Request) Decision
}

// Chain runs stages in order and short-circuits on the first rejection.
type Chain struct {
	stages []Stage
}

// NewChain creates a chain over the given stages. Order is significant:
// stages run exactly in the order supplied.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// Check runs the request through every stage until one rejects. A rejecting
// stage terminates the traversal; later stages are not invoked and observe
// nothing.
func (c *Chain) Check(ctx context.Context, req *Request) Decision {
	for _, st := range c.stages {
		d := st.Check(ctx, req)
		metrics.RecordGateDecision(st.Name(), d.Allowed)
		if !d.Allowed {
			return d
		}
	}
	return Forward()
}

// Stages returns the names of the configured stages in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.Name()
	}
	return names
}

// mutatingMethods are the verbs that modify resources and therefore fall
// under the role gate.
var mutatingMethods = map[string]bool{
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// IsMutating reports whether the method modifies resources (PUT, PATCH,
// DELETE). POST is deliberately excluded here: message creation is governed
// by the rate limit stage, not the role gate.
func IsMutating(method string) bool {
	return mutatingMethods[method]
}
