package config

import (
	"os"
	"path/filepath"
	"testing"

	"admitgate/internal/ratelimit"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  addr: \":9090\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Observability.LogLevel)
	}
	if cfg.Observability.PrometheusPath != "/metrics" {
		t.Errorf("expected default prometheus path, got %q", cfg.Observability.PrometheusPath)
	}
	if cfg.Identity.Header != "X-API-Key" {
		t.Errorf("expected default identity header, got %q", cfg.Identity.Header)
	}
	if cfg.Limits.LimitedRole != "user" {
		t.Errorf("expected default limited role user, got %q", cfg.Limits.LimitedRole)
	}

	l := cfg.Limits
	if l.RequestsPerMinute == nil || *l.RequestsPerMinute != 10 {
		t.Errorf("expected default 10/min, got %v", l.RequestsPerMinute)
	}
	if l.RequestsPerHour == nil || *l.RequestsPerHour != 1000 {
		t.Errorf("expected default 1000/hr, got %v", l.RequestsPerHour)
	}
	if l.SlidingWindowLimit == nil || *l.SlidingWindowLimit != 100 {
		t.Errorf("expected default window limit 100, got %v", l.SlidingWindowLimit)
	}
	if l.SlidingWindowMinutes == nil || *l.SlidingWindowMinutes != 15 {
		t.Errorf("expected default window of 15 minutes, got %v", l.SlidingWindowMinutes)
	}
	if l.WeekdaysOnly == nil || !*l.WeekdaysOnly {
		t.Errorf("expected weekdays_only to default on")
	}
}

func TestLoad_NegativeDisablesRule(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
limits:
  requests_per_minute: 5
  requests_per_hour: -1
  sliding_window_limit: -1
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := cfg.Limits.Policy()
	if !p.PerMinuteActive() {
		t.Errorf("per-minute rule should stay active")
	}
	if p.PerHourActive() {
		t.Errorf("negative per-hour value should disable the rule")
	}
	if p.WindowActive() {
		t.Errorf("negative window limit should disable the rule")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS_PER_MINUTE", "3")
	t.Setenv("RATE_LIMIT_WEEKDAYS_ONLY", "no")
	t.Setenv("RATE_LIMIT_EXEMPT_USERNAMES", " Admin , ,svc-bot ")

	cfg, err := Load(writeConfig(t, `
limits:
  requests_per_minute: 99
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Limits.RequestsPerMinute == nil || *cfg.Limits.RequestsPerMinute != 3 {
		t.Errorf("env should override the file value, got %v", cfg.Limits.RequestsPerMinute)
	}
	if cfg.Limits.WeekdaysOnly == nil || *cfg.Limits.WeekdaysOnly {
		t.Errorf("weekdays_only env override should apply")
	}

	p := cfg.Limits.Policy()
	if !p.IsExempt(ratelimit.Identity{Username: "ADMIN"}) {
		t.Errorf("env exempt list should be normalized and matched case-insensitively")
	}
	if !p.IsExempt(ratelimit.Identity{Username: "svc-bot"}) {
		t.Errorf("second env exempt entry should match")
	}
}

func TestLoad_InvalidEnvNumberIgnored(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS_PER_HOUR", "lots")

	cfg, err := Load(writeConfig(t, `
limits:
  requests_per_hour: 500
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.RequestsPerHour == nil || *cfg.Limits.RequestsPerHour != 500 {
		t.Errorf("unparsable env value should keep the file value, got %v", cfg.Limits.RequestsPerHour)
	}
}

func TestPolicy_WindowNeedsBothHalves(t *testing.T) {
	l := Limits{SlidingWindowLimit: intp(100)}
	if l.Policy().WindowActive() {
		t.Errorf("window limit without a length must be inert")
	}

	l = Limits{SlidingWindowLimit: intp(100), SlidingWindowMinutes: intp(0)}
	if l.Policy().WindowActive() {
		t.Errorf("zero-length window must be inert")
	}

	l = Limits{SlidingWindowLimit: intp(100), SlidingWindowMinutes: intp(15)}
	if !l.Policy().WindowActive() {
		t.Errorf("window with both halves should be active")
	}
}

func TestPolicy_ExemptListsNormalized(t *testing.T) {
	l := Limits{
		ExemptUsernames: []string{" Admin ", ""},
		ExemptEmails:    []string{"Ops@Example.COM"},
		ExemptUserIDs:   []string{" User-42 "},
	}
	p := l.Policy()

	if !p.IsExempt(ratelimit.Identity{Username: "admin"}) {
		t.Errorf("username list should be lowercased and trimmed")
	}
	if !p.IsExempt(ratelimit.Identity{Email: "ops@example.com"}) {
		t.Errorf("email list should be lowercased")
	}
	if !p.IsExempt(ratelimit.Identity{ID: "User-42"}) {
		t.Errorf("id list should be trimmed but not folded")
	}
	if p.IsExempt(ratelimit.Identity{ID: "user-42"}) {
		t.Errorf("id match must stay case-sensitive")
	}
	if p.IsExempt(ratelimit.Identity{}) {
		t.Errorf("empty identity must not match the blank list entry")
	}
}

func TestLoad_RouteOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
routes:
  - id: search
    match:
      path_prefix: /api/search
      methods: [GET]
    upstream:
      url: http://localhost:9100
    limits:
      requests_per_minute: 30
      requests_per_hour: -1
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("expected one route, got %d", len(cfg.Routes))
	}
	rt := cfg.Routes[0]
	if rt.Upstream.TimeoutMS != 3000 {
		t.Errorf("expected default upstream timeout 3000ms, got %d", rt.Upstream.TimeoutMS)
	}
	if rt.Limits == nil {
		t.Fatalf("expected route limits override")
	}
	p := rt.Limits.Policy()
	if p.RequestsPerMinute == nil || *p.RequestsPerMinute != 30 {
		t.Errorf("route per-minute override should survive, got %v", p.RequestsPerMinute)
	}
	if p.PerHourActive() {
		t.Errorf("route per-hour rule should be disabled")
	}
}
