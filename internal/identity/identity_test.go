package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"admitgate/internal/ratelimit"
)

func resolveThrough(t *testing.T, s *Store, r *http.Request) ratelimit.Identity {
	t.Helper()
	var got ratelimit.Identity
	h := s.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		got = id
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func TestMiddleware_ResolvesKnownToken(t *testing.T) {
	alice := ratelimit.Identity{ID: "u1", Username: "alice", Email: "alice@example.com", Role: "user"}
	s := NewStatic("X-API-Key", map[string]ratelimit.Identity{"tok-1": alice})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-API-Key", " tok-1 ")

	if got := resolveThrough(t, s, r); got != alice {
		t.Fatalf("expected %+v, got %+v", alice, got)
	}
}

func TestMiddleware_FallsBackToUserHeaders(t *testing.T) {
	s := NewStatic("", nil)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User-Id", "u9")
	r.Header.Set("X-User-Name", "bob")
	r.Header.Set("X-User-Role", "user")

	got := resolveThrough(t, s, r)
	if got.ID != "u9" || got.Username != "bob" || got.Role != "user" {
		t.Fatalf("expected header fallback identity, got %+v", got)
	}
}

func TestMiddleware_UnknownTokenFallsBack(t *testing.T) {
	s := NewStatic("X-API-Key", map[string]ratelimit.Identity{"tok-1": {ID: "u1"}})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-API-Key", "bogus")
	r.Header.Set("X-User-Id", "u2")

	if got := resolveThrough(t, s, r); got.ID != "u2" {
		t.Fatalf("unknown token should fall back to headers, got %+v", got)
	}
}

func TestMiddleware_NeverRejects(t *testing.T) {
	s := NewStatic("X-API-Key", nil)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	got := resolveThrough(t, s, r)
	if (got != ratelimit.Identity{}) {
		t.Fatalf("expected empty identity, got %+v", got)
	}
}
