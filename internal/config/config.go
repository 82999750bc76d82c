package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"admitgate/internal/ratelimit"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type User struct {
	Token    string `yaml:"token"`
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
}

type Identity struct {
	Header string `yaml:"header"`
	Users  []User `yaml:"users"`
}

// Limits is the admission policy surface. A nil threshold takes the
// default; a negative value disables that rule outright.
type Limits struct {
	RequestsPerMinute    *int     `yaml:"requests_per_minute"`
	RequestsPerHour      *int     `yaml:"requests_per_hour"`
	SlidingWindowLimit   *int     `yaml:"sliding_window_limit"`
	SlidingWindowMinutes *int     `yaml:"sliding_window_minutes"`
	ExemptUsernames      []string `yaml:"exempt_usernames"`
	ExemptEmails         []string `yaml:"exempt_emails"`
	ExemptUserIDs        []string `yaml:"exempt_user_ids"`
	WeekdaysOnly         *bool    `yaml:"weekdays_only"`
	LimitedRole          string   `yaml:"limited_role"`
}

type Route struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`

	// Limits overrides the global limits for this route when present.
	Limits *Limits `yaml:"limits"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Identity      Identity      `yaml:"identity"`
	Limits        Limits        `yaml:"limits"`
	Routes        []Route       `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 3000
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Identity.Header == "" {
		cfg.Identity.Header = "X-API-Key"
	}

	cfg.Limits.applyEnv()
	cfg.Limits.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills the deployment's default limits. These are a
// policy choice of this gateway, not something the limiter requires.
func (l *Limits) applyDefaults() {
	if l.RequestsPerMinute == nil {
		l.RequestsPerMinute = intp(10)
	}
	if l.RequestsPerHour == nil {
		l.RequestsPerHour = intp(1000)
	}
	if l.SlidingWindowLimit == nil {
		l.SlidingWindowLimit = intp(100)
	}
	if l.SlidingWindowMinutes == nil {
		l.SlidingWindowMinutes = intp(15)
	}
	if l.WeekdaysOnly == nil {
		t := true
		l.WeekdaysOnly = &t
	}
	if l.LimitedRole == "" {
		l.LimitedRole = "user"
	}
}

// applyEnv overrides limits from RATE_LIMIT_* environment variables.
// Unparsable numeric values are ignored in favor of the file value.
func (l *Limits) applyEnv() {
	envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", &l.RequestsPerMinute)
	envInt("RATE_LIMIT_REQUESTS_PER_HOUR", &l.RequestsPerHour)
	envInt("RATE_LIMIT_SLIDING_WINDOW_LIMIT", &l.SlidingWindowLimit)
	envInt("RATE_LIMIT_SLIDING_WINDOW_MINUTES", &l.SlidingWindowMinutes)

	if v, ok := os.LookupEnv("RATE_LIMIT_EXEMPT_USERNAMES"); ok {
		l.ExemptUsernames = splitList(v)
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_EXEMPT_EMAILS"); ok {
		l.ExemptEmails = splitList(v)
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_EXEMPT_USER_IDS"); ok {
		l.ExemptUserIDs = splitList(v)
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_WEEKDAYS_ONLY"); ok {
		b := envBool(v)
		l.WeekdaysOnly = &b
	}
}

func envInt(name string, dst **int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return
	}
	*dst = &n
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Policy builds the immutable admission policy from the resolved limits.
// Exempt usernames and emails are lowercased here, once.
func (l Limits) Policy() ratelimit.Policy {
	p := ratelimit.Policy{
		RequestsPerMinute:  threshold(l.RequestsPerMinute),
		RequestsPerHour:    threshold(l.RequestsPerHour),
		SlidingWindowLimit: threshold(l.SlidingWindowLimit),
		ExemptUsernames:    toSet(l.ExemptUsernames, true),
		ExemptEmails:       toSet(l.ExemptEmails, true),
		ExemptUserIDs:      toSet(l.ExemptUserIDs, false),
		WeekdaysOnly:       l.WeekdaysOnly == nil || *l.WeekdaysOnly,
	}
	// a window needs a positive length; without one the rule is inert
	if l.SlidingWindowMinutes != nil && *l.SlidingWindowMinutes > 0 {
		m := *l.SlidingWindowMinutes
		p.SlidingWindowMinutes = &m
	}
	return p
}

// threshold copies a non-negative limit; nil and negative disable.
func threshold(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	n := *v
	return &n
}

func toSet(vals []string, fold bool) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func intp(n int) *int { return &n }
