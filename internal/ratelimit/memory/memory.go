package memory

import (
	"context"
	"sync"
	"time"

	"admitgate/internal/ratelimit"
)

// history is the per-identity log of admitted-request times. Entries are
// appended in admission order and pruned from the front on the next admit.
type history struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
}

// Limiter keeps a sliding log of admitted requests per identity key.
// State is process-local and lost on restart.
type Limiter struct {
	histories    sync.Map // key -> *history
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type Option func(*Limiter)

// WithIdleTTL sets how long an identity may stay idle before its history
// entry is evicted by Cleanup.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupEvery = d }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		idleTTL:      30 * time.Minute,
		cleanupEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Close() error { return nil }

// Admit decides a single request. Prune, count and the conditional
// append run under the identity's lock, so two concurrent requests from
// the same identity cannot both slip under a threshold. Suspended days,
// exempt identities and a policy with no active rule allow without
// touching history.
//
// A rejected request is not appended: rejection never consumes capacity.
func (l *Limiter) Admit(_ context.Context, key string, id ratelimit.Identity, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	if !p.AppliesTo(now) {
		return ratelimit.Decision{Allowed: true, Remaining: -1}, nil
	}
	if p.IsExempt(id) {
		return ratelimit.Decision{Allowed: true, Exempt: true, Remaining: -1}, nil
	}
	if !p.Enabled() {
		return ratelimit.Decision{Allowed: true, Remaining: -1}, nil
	}

	v, _ := l.histories.LoadOrStore(key, &history{})
	h := v.(*history)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeen = now

	h.prune(now, p.MaxLookback())

	var lastMinute, lastHour int
	for _, ts := range h.stamps {
		age := now.Sub(ts)
		if age < time.Minute {
			lastMinute++
		}
		if age < time.Hour {
			lastHour++
		}
	}

	if p.PerMinuteActive() && lastMinute >= *p.RequestsPerMinute {
		return ratelimit.Decision{Rule: ratelimit.RulePerMinute, Limit: *p.RequestsPerMinute}, nil
	}
	if p.PerHourActive() && lastHour >= *p.RequestsPerHour {
		return ratelimit.Decision{Rule: ratelimit.RulePerHour, Limit: *p.RequestsPerHour}, nil
	}
	if p.WindowActive() {
		// Retention spans the longest active window, which may exceed
		// the sliding window itself; count only entries inside it.
		win := p.Window()
		inWindow := 0
		for _, ts := range h.stamps {
			if now.Sub(ts) < win {
				inWindow++
			}
		}
		if inWindow >= *p.SlidingWindowLimit {
			return ratelimit.Decision{Rule: ratelimit.RuleWindow, Limit: *p.SlidingWindowLimit}, nil
		}
	}

	h.stamps = append(h.stamps, now)

	dec := ratelimit.Decision{Allowed: true, Remaining: -1}
	if p.PerMinuteActive() {
		dec.Limit = *p.RequestsPerMinute
		dec.Remaining = *p.RequestsPerMinute - lastMinute - 1
		if dec.Remaining < 0 {
			dec.Remaining = 0
		}
	}
	return dec, nil
}

// prune drops entries older than the lookback. Entries are stored in
// admission order, so only a prefix can be stale.
func (h *history) prune(now time.Time, lookback time.Duration) {
	i := 0
	for i < len(h.stamps) && now.Sub(h.stamps[i]) >= lookback {
		i++
	}
	if i > 0 {
		h.stamps = append(h.stamps[:0], h.stamps[i:]...)
	}
}

// Cleanup evicts identities that have been idle longer than the TTL.
// An admit racing with eviction may lose its freshly appended stamp;
// that errs on the permissive side and is tolerated.
func (l *Limiter) Cleanup(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	l.histories.Range(func(k, v any) bool {
		h := v.(*history)
		h.mu.Lock()
		idle := h.lastSeen.Before(cutoff)
		h.mu.Unlock()
		if idle {
			l.histories.Delete(k)
		}
		return true
	})
}

// StartJanitor runs Cleanup periodically until the context is done.
func (l *Limiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup(time.Now())
			}
		}
	}()
}
