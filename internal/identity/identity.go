package identity

import (
	"context"
	"net/http"
	"strings"

	"admitgate/internal/ratelimit"
)

type ctxKey int

const keyIdentity ctxKey = 0

// Store is a static in-memory identity store: token -> identity record.
type Store struct {
	header  string
	byToken map[string]ratelimit.Identity
}

// NewStatic creates a new static identity store.
// header: HTTP header to read the caller token from (e.g., "X-API-Key")
// byToken: map of token -> identity record
func NewStatic(header string, byToken map[string]ratelimit.Identity) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	return &Store{header: h, byToken: byToken}
}

// WithIdentity injects the identity record into context.
func WithIdentity(ctx context.Context, id ratelimit.Identity) context.Context {
	return context.WithValue(ctx, keyIdentity, id)
}

// FromContext extracts the identity record from context (if present).
func FromContext(ctx context.Context) (ratelimit.Identity, bool) {
	v := ctx.Value(keyIdentity)
	if v == nil {
		return ratelimit.Identity{}, false
	}
	id, ok := v.(ratelimit.Identity)
	return id, ok
}

// Middleware resolves the caller identity and stores it in the request
// context. Resolution never rejects: an unknown or missing token falls
// back to the X-User-* headers (set by a trusted frontend), and failing
// that the request proceeds with an empty identity, which shares the
// default rate bucket downstream.
func (s *Store) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := s.resolve(r)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func (s *Store) resolve(r *http.Request) ratelimit.Identity {
	if token := strings.TrimSpace(r.Header.Get(s.header)); token != "" {
		if id, ok := s.byToken[token]; ok {
			return id
		}
	}
	return ratelimit.Identity{
		ID:       strings.TrimSpace(r.Header.Get("X-User-Id")),
		Username: strings.TrimSpace(r.Header.Get("X-User-Name")),
		Email:    strings.TrimSpace(r.Header.Get("X-User-Email")),
		Role:     strings.TrimSpace(r.Header.Get("X-User-Role")),
	}
}
