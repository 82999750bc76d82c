// Command admitgate-loadtest fires paced synthetic traffic at a running
// gateway and reports how many requests were admitted vs rate limited.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type config struct {
	Target      string
	RPS         float64
	Burst       int
	Concurrency int
	Duration    time.Duration
	Users       int
	Role        string
	Timeout     time.Duration
}

type stats struct {
	admitted  uint64
	rejected  uint64
	errors    uint64
	other     uint64
	mu        sync.Mutex
	latencies []int64
}

func main() {
	cfg := parseConfig()
	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// one synthetic identity per simulated user
	userIDs := make([]string, cfg.Users)
	for i := range userIDs {
		userIDs[i] = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	pacer := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	client := &http.Client{Timeout: cfg.Timeout}

	st := &stats{latencies: make([]int64, 0, cfg.Concurrency*64)}
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				if err := pacer.Wait(ctx); err != nil {
					return
				}
				st.fire(ctx, client, cfg, userIDs[rng.Intn(len(userIDs))])
			}
		}(int64(i + 1))
	}
	wg.Wait()

	printSummary(cfg, st)
}

func parseConfig() config {
	var cfg config
	flag.StringVar(&cfg.Target, "target", "http://localhost:8080/", "gateway URL to hit")
	flag.Float64Var(&cfg.RPS, "rps", 50, "paced requests per second across all workers")
	flag.IntVar(&cfg.Burst, "burst", 1, "pacing burst")
	flag.IntVar(&cfg.Concurrency, "concurrency", 8, "concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&cfg.Users, "users", 5, "distinct synthetic identities")
	flag.StringVar(&cfg.Role, "role", "user", "role header sent with each request")
	flag.DurationVar(&cfg.Timeout, "request-timeout", 2*time.Second, "per-request timeout")
	flag.Parse()
	return cfg
}

func (c config) validate() error {
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}
	if c.RPS <= 0 {
		return fmt.Errorf("rps must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if c.Users <= 0 {
		return fmt.Errorf("users must be positive")
	}
	return nil
}

func (s *stats) fire(ctx context.Context, client *http.Client, cfg config, userID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Target, nil)
	if err != nil {
		atomic.AddUint64(&s.errors, 1)
		return
	}
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("X-User-Role", cfg.Role)

	start := time.Now()
	resp, err := client.Do(req)
	s.record(time.Since(start))
	if err != nil {
		atomic.AddUint64(&s.errors, 1)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		atomic.AddUint64(&s.rejected, 1)
	case resp.StatusCode >= 200 && resp.StatusCode < 500:
		atomic.AddUint64(&s.admitted, 1)
	default:
		atomic.AddUint64(&s.other, 1)
	}
}

func (s *stats) record(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d.Nanoseconds())
	s.mu.Unlock()
}

func printSummary(cfg config, s *stats) {
	admitted := atomic.LoadUint64(&s.admitted)
	rejected := atomic.LoadUint64(&s.rejected)
	errors := atomic.LoadUint64(&s.errors)
	other := atomic.LoadUint64(&s.other)
	total := admitted + rejected + errors + other

	elapsed := cfg.Duration.Seconds()
	fmt.Println("admitgate load test summary")
	fmt.Printf("target: %s rps: %.1f concurrency: %d users: %d duration: %s\n",
		cfg.Target, cfg.RPS, cfg.Concurrency, cfg.Users, cfg.Duration)
	fmt.Printf("requests/sec: %.2f\n", float64(total)/elapsed)
	fmt.Printf("admitted: %d rejected: %d errors: %d other: %d\n", admitted, rejected, errors, other)
	fmt.Printf("latency p50=%s p95=%s p99=%s\n",
		percentileDuration(s.latencies, 0.50),
		percentileDuration(s.latencies, 0.95),
		percentileDuration(s.latencies, 0.99),
	)
}

// percentileDuration computes a duration percentile for samples in nanoseconds.
func percentileDuration(samples []int64, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p <= 0 {
		return time.Duration(sorted[0])
	}
	if p >= 1 {
		return time.Duration(sorted[len(sorted)-1])
	}
	pos := int(float64(len(sorted)-1) * p)
	return time.Duration(sorted[pos])
}
