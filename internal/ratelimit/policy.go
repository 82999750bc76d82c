package ratelimit

import (
	"strings"
	"time"
)

// Policy holds the admission thresholds and exemptions. It is built once
// at startup and never mutated afterwards.
//
// A nil threshold disables its rule. The sliding window needs both the
// limit and the window length; a lone half is inert.
type Policy struct {
	RequestsPerMinute *int
	RequestsPerHour   *int

	SlidingWindowLimit   *int
	SlidingWindowMinutes *int

	// Exempt sets. Usernames and emails are stored lowercased and
	// trimmed; ids are matched exactly.
	ExemptUsernames map[string]struct{}
	ExemptEmails    map[string]struct{}
	ExemptUserIDs   map[string]struct{}

	// WeekdaysOnly restricts enforcement to Monday through Friday.
	WeekdaysOnly bool
}

func (p Policy) PerMinuteActive() bool { return p.RequestsPerMinute != nil }
func (p Policy) PerHourActive() bool   { return p.RequestsPerHour != nil }

func (p Policy) WindowActive() bool {
	return p.SlidingWindowLimit != nil && p.SlidingWindowMinutes != nil
}

// Enabled reports whether any rule is active.
func (p Policy) Enabled() bool {
	return p.PerMinuteActive() || p.PerHourActive() || p.WindowActive()
}

// IsExempt reports whether the identity bypasses all rate rules.
// Usernames and emails match case-insensitively, ids exactly. Empty
// fields never match.
func (p Policy) IsExempt(id Identity) bool {
	if u := strings.ToLower(strings.TrimSpace(id.Username)); u != "" {
		if _, ok := p.ExemptUsernames[u]; ok {
			return true
		}
	}
	if e := strings.ToLower(strings.TrimSpace(id.Email)); e != "" {
		if _, ok := p.ExemptEmails[e]; ok {
			return true
		}
	}
	if uid := strings.TrimSpace(id.ID); uid != "" {
		if _, ok := p.ExemptUserIDs[uid]; ok {
			return true
		}
	}
	return false
}

// AppliesTo reports whether enforcement is on for the given instant,
// using the instant's local calendar day.
func (p Policy) AppliesTo(now time.Time) bool {
	if !p.WeekdaysOnly {
		return true
	}
	wd := now.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Window returns the sliding window length, zero when the rule is off.
func (p Policy) Window() time.Duration {
	if !p.WindowActive() {
		return 0
	}
	return time.Duration(*p.SlidingWindowMinutes) * time.Minute
}

// MaxLookback returns the longest span any active rule consults.
// History entries older than this are never counted and can be dropped.
func (p Policy) MaxLookback() time.Duration {
	var lookback time.Duration
	if p.PerMinuteActive() {
		lookback = time.Minute
	}
	if p.PerHourActive() && lookback < time.Hour {
		lookback = time.Hour
	}
	if w := p.Window(); lookback < w {
		lookback = w
	}
	return lookback
}
