package main

import (
	"context"
	"flag"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"admitgate/internal/config"
	"admitgate/internal/gateway"
	"admitgate/internal/identity"
	"admitgate/internal/obs"
	"admitgate/internal/proxy"
	"admitgate/internal/ratelimit"
	"admitgate/internal/ratelimit/memory"
	"admitgate/internal/routing"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		l := obs.SetupLogger("info")
		l.Fatal().Err(err).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := obs.NewMetrics(reg)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// identity store
	byToken := map[string]ratelimit.Identity{}
	for _, u := range cfg.Identity.Users {
		if u.Token == "" {
			continue
		}
		byToken[u.Token] = ratelimit.Identity{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
	}
	ids := identity.NewStatic(cfg.Identity.Header, byToken)

	// limiter + policy
	lim := memory.New()
	policy := cfg.Limits.Policy()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	lim.StartJanitor(ctx)

	// routes
	router := routing.New()
	for _, r := range cfg.Routes {
		up, err := url.Parse(r.Upstream.URL)
		if err != nil {
			logger.Fatal().Err(err).Str("route", r.ID).Msg("parse upstream url")
		}
		methods := map[string]struct{}{}
		for _, m := range r.Match.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		rt := &routing.Route{
			ID:      r.ID,
			Methods: methods,
			Prefix:  r.Match.PathPrefix,
			UpURL:   up,
			Timeout: time.Duration(r.Upstream.TimeoutMS) * time.Millisecond,
		}
		if r.Limits != nil {
			p := r.Limits.Policy()
			rt.Policy = &p
		}
		router.Add(rt)
	}

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}

	tr := proxy.NewHTTPTransport()
	upstream := proxy.Handler(tr)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := routing.RouteFrom(r); ok {
			upstream.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	onRejected := func(route string) { metrics.AdmissionRejected.WithLabelValues(route).Inc() }
	onExempt := func(route string) { metrics.AdmissionExempt.WithLabelValues(route).Inc() }
	onError := func(route string) { metrics.LimiterErrors.WithLabelValues(route).Inc() }

	handler := gateway.Chain(
		root,
		obs.Logger(logger),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		ids.Middleware(),
		gateway.RouteMatcher(router, skip),
		metrics.Middleware(skip),
		gateway.Admission(lim, policy, cfg.Limits.LimitedRole, skip, onRejected, onExempt, onError),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	_ = lim.Close()
	logger.Info().Msg("bye")
}
