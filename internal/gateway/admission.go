package gateway

import (
	"net/http"
	"strconv"
	"time"

	"admitgate/internal/identity"
	"admitgate/internal/ratelimit"
	"admitgate/internal/routing"
)

// defaultBucket pools every request that carries no identity id into a
// single shared counter.
const defaultBucket = "default"

// Admission gates requests on the rate-limit policy. Only callers whose
// role equals limitedRole are subject to limiting; every other role
// bypasses the limiter entirely. Rejected requests are answered with
// 429 and are never forwarded downstream.
func Admission(
	lim ratelimit.Limiter,
	policy ratelimit.Policy,
	limitedRole string,
	skipPaths map[string]struct{},
	onRejected func(routeID string),
	onExempt func(routeID string),
	onError func(routeID string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, _ := identity.FromContext(r.Context())
			if id.Role != limitedRole {
				next.ServeHTTP(w, r)
				return
			}

			rt, _ := routing.RouteFrom(r)
			routeID := "unknown"
			if rt != nil && rt.ID != "" {
				routeID = rt.ID
			}

			// per-route policy override, else the global policy
			p := policy
			if rt != nil && rt.Policy != nil {
				p = *rt.Policy
			}

			key := id.ID
			if key == "" {
				key = defaultBucket
			}

			dec, err := lim.Admit(r.Context(), key, id, p, time.Now())
			if err != nil {
				if onError != nil {
					onError(routeID)
				}
				writeJSON(w, http.StatusInternalServerError, "admission_error", "internal admission error")
				return
			}

			if dec.Exempt && onExempt != nil {
				onExempt(routeID)
			}

			// headers for good DX; only meaningful while the per-minute
			// rule is on
			if dec.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			}

			if !dec.Allowed {
				if onRejected != nil {
					onRejected(routeID)
				}
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
