package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"chat-gateway/pkg/ratelimit"
)

// StageTimeWindow is the configuration name of the time-of-day gate.
const StageTimeWindow = "timewindow"

// TimeWindowGate restricts all requests to an allowed hour-of-day range.
//
// The allowed interval is [StartHour, EndHour) against the server clock at
// evaluation time, not the request's own timestamp. When StartHour is
// greater than EndHour the interval wraps midnight: [22, 6) allows 22:00
// through 05:59.
//
// Both a "business hours" policy (allow 18-21) and a "blackout" policy
// (allow 6-21, i.e. deny 21:00-05:59) are instances of this gate with
// different bounds.
type TimeWindowGate struct {
	startHour int
	endHour   int
	clock     ratelimit.Clock
}

// NewTimeWindowGate creates a gate allowing hours in [startHour, endHour).
// Bounds must be in 0..23 and distinct; the config layer validates this
// before construction. A nil clock falls back to the system clock.
func NewTimeWindowGate(startHour, endHour int, clock ratelimit.Clock) *TimeWindowGate {
	if clock == nil {
		clock = &ratelimit.SystemClock{}
	}
	return &TimeWindowGate{
		startHour: startHour,
		endHour:   endHour,
		clock:     clock,
	}
}

// Name returns the stage's configuration name.
func (g *TimeWindowGate) Name() string {
	return StageTimeWindow
}

// Check rejects the request when the current server hour falls outside the
// allowed interval. The gate is stateless and holds no per-request data.
func (g *TimeWindowGate) Check(ctx context.Context, req *Request) Decision {
	hour := g.clock.Now().Hour()
	if g.allows(hour) {
		return Forward()
	}
	return Reject(StageTimeWindow, "outside allowed hours", http.StatusForbidden)
}

// allows applies the inclusive-start/exclusive-end range test, handling the
// midnight wraparound case explicitly.
func (g *TimeWindowGate) allows(hour int) bool {
	if g.startHour < g.endHour {
		return hour >= g.startHour && hour < g.endHour
	}
	// Wrapped interval, e.g. [22, 6) = 22:00-23:59 plus 00:00-05:59.
	return hour >= g.startHour || hour < g.endHour
}

// String describes the configured interval, for startup logging.
func (g *TimeWindowGate) String() string {
	return fmt.Sprintf("timewindow[%02d:00-%02d:00)", g.startHour, g.endHour)
}
