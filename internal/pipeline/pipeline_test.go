package pipeline

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStage is a recording stage with a fixed decision.
type stubStage struct {
	name     string
	decision Decision
	calls    int
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Check(ctx context.Context, req *Request) Decision {
	s.calls++
	return s.decision
}

func TestChain_ForwardsWhenAllStagesForward(t *testing.T) {
	first := &stubStage{name: "first", decision: Forward()}
	second := &stubStage{name: "second", decision: Forward()}
	chain := NewChain(first, second)

	d := chain.Check(context.Background(), &Request{Method: http.MethodGet, Path: "/messages"})

	assert.True(t, d.Allowed)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChain_ShortCircuitsOnFirstRejection(t *testing.T) {
	first := &stubStage{name: "first", decision: Forward()}
	rejecting := &stubStage{name: "rejecting", decision: Reject("rejecting", "denied", http.StatusForbidden)}
	never := &stubStage{name: "never", decision: Forward()}
	chain := NewChain(first, rejecting, never)

	d := chain.Check(context.Background(), &Request{Method: http.MethodGet, Path: "/messages"})

	require.False(t, d.Allowed)
	assert.Equal(t, "rejecting", d.Stage)
	assert.Equal(t, "denied", d.Reason)
	assert.Equal(t, http.StatusForbidden, d.Status)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, rejecting.calls)
	assert.Equal(t, 0, never.calls, "stages after a rejection must not run")
}

func TestChain_EmptyChainForwards(t *testing.T) {
	chain := NewChain()

	d := chain.Check(context.Background(), &Request{Method: http.MethodGet})

	assert.True(t, d.Allowed)
}

func TestChain_StagesReturnsConfiguredOrder(t *testing.T) {
	chain := NewChain(
		&stubStage{name: "audit", decision: Forward()},
		&stubStage{name: "ratelimit", decision: Forward()},
	)

	assert.Equal(t, []string{"audit", "ratelimit"}, chain.Stages())
}

func TestIsMutating(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{http.MethodPut, true},
		{http.MethodPatch, true},
		{http.MethodDelete, true},
		{http.MethodGet, false},
		{http.MethodHead, false},
		{http.MethodPost, false},
		{http.MethodOptions, false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMutating(tt.method))
		})
	}
}

func TestIdentity_EffectiveRole(t *testing.T) {
	tests := []struct {
		name     string
		identity *Identity
		want     string
	}{
		{
			name:     "nil identity has no role",
			identity: nil,
			want:     "",
		},
		{
			name:     "missing role claim defaults to user",
			identity: &Identity{Name: "alice"},
			want:     RoleUser,
		},
		{
			name:     "explicit role is kept",
			identity: &Identity{Name: "bob", Role: RoleModerator},
			want:     RoleModerator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.identity.EffectiveRole())
		})
	}
}
