package ratelimit

import (
	"context"
	"time"
)

// Identity is the normalized caller record a request is attributed to.
// Any field may be empty; an empty field never matches an exemption.
type Identity struct {
	ID       string
	Username string
	Email    string
	Role     string
}

// Rule names reported in decisions and metrics.
const (
	RulePerMinute = "per_minute"
	RulePerHour   = "per_hour"
	RuleWindow    = "window"
)

type Decision struct {
	Allowed   bool
	Exempt    bool   // identity bypassed all rules
	Rule      string // rule that rejected, empty when allowed
	Limit     int    // threshold of the rejecting rule; per-minute limit when allowed
	Remaining int    // per-minute requests left after this one, -1 when the rule is off
}

type Limiter interface {
	Admit(ctx context.Context, key string, id Identity, p Policy, now time.Time) (Decision, error)
	Close() error
}
