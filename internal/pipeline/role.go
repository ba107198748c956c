package pipeline

import (
	"context"
	"log/slog"
	"net/http"
)

// StageRole is the configuration name of the role gate.
const StageRole = "role"

// RoleGate restricts mutating operations (PUT, PATCH, DELETE) to identities
// holding an authorized role.
//
// Unauthenticated requests always pass: requiring authentication in the
// first place is the job of the authentication layer in front of the
// downstream application, not of this gate. Authenticated callers with no
// role claim are treated as RoleUser, which is never authorized.
type RoleGate struct {
	authorized map[string]bool
}

// NewRoleGate creates a gate authorizing the given roles for mutating
// methods. The config layer guarantees the set is non-empty.
func NewRoleGate(roles []string) *RoleGate {
	authorized := make(map[string]bool, len(roles))
	for _, r := range roles {
		authorized[r] = true
	}
	return &RoleGate{authorized: authorized}
}

// Name returns the stage's configuration name.
func (g *RoleGate) Name() string {
	return StageRole
}

// Check rejects authenticated mutating requests whose role is not in the
// authorized set. Everything else forwards.
func (g *RoleGate) Check(ctx context.Context, req *Request) Decision {
	if req.Identity == nil || !IsMutating(req.Method) {
		return Forward()
	}

	role := req.Identity.EffectiveRole()
	if g.authorized[role] {
		return Forward()
	}

	slog.Warn("mutating request denied by role gate",
		slog.String("user", req.Identity.Name),
		slog.String("role", role),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
	)
	return Reject(StageRole, "permission denied", http.StatusForbidden)
}
