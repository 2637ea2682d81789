// Command recoguard runs the recommendation aggregation service: it loads
// config, wires the circuit breakers, replica selectors, health checkers,
// rate limiter, and trending cache into the recommendation pipeline, and
// serves the HTTP surface plus an admin Prometheus/health port.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brightlane/recoguard/internal/breaker"
	"github.com/brightlane/recoguard/internal/clock"
	"github.com/brightlane/recoguard/internal/config"
	"github.com/brightlane/recoguard/internal/health"
	"github.com/brightlane/recoguard/internal/httpapi"
	"github.com/brightlane/recoguard/internal/loadbalancer"
	"github.com/brightlane/recoguard/internal/outbound"
	"github.com/brightlane/recoguard/internal/promexport"
	"github.com/brightlane/recoguard/internal/ratelimiter"
	"github.com/brightlane/recoguard/internal/recommend"
	"github.com/brightlane/recoguard/internal/trendingcache"
)

var (
	version   = "dev"
	buildTime = "unknown"
	commit    = "none"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/recoguard.yaml", "path to config file")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("recoguard version=%s commit=%s buildTime=%s\n", version, commit, buildTime)
		os.Exit(0)
	}

	rawLogger, _ := zap.NewProduction()
	log := rawLogger.Sugar()
	defer log.Sync() //nolint:errcheck

	log.Infow("starting recoguard", "version", version, "config", *configPath)

	cfg, watcher, err := config.LoadAndWatch(*configPath, log)
	if err != nil {
		log.Fatalw("failed to load config", "err", err)
	}
	defer watcher.Close()

	app, err := build(cfg, log)
	if err != nil {
		log.Fatalw("failed to build service", "err", err)
	}

	go func() {
		for newCfg := range watcher.Updates() {
			log.Infow("config reloaded, applying changes")
			app.reload(newCfg)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(app.collector)

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	adminMux.HandleFunc("/backends", app.backendsHandler)

	adminSrv := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      adminMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	mainSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("admin server listening", "addr", cfg.Admin.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("admin server failed", "err", err)
		}
	}()

	go func() {
		log.Infow("recoguard listening", "addr", cfg.Server.Addr)
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Infow("shutting down gracefully…")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = adminSrv.Shutdown(ctx)
	if err := mainSrv.Shutdown(ctx); err != nil {
		log.Errorw("graceful shutdown failed", "err", err)
	}
	log.Infow("goodbye")
}

// app bundles the built service: its handler, its Prometheus collector, and
// the balancers and health checkers that /backends and a config reload use.
type app struct {
	handler   http.Handler
	collector *promexport.Collector

	userProfileBalancer loadbalancer.Balancer
	contentBalancer     loadbalancer.Balancer
	trendingBalancer    loadbalancer.Balancer

	userProfileChecker *health.Checker
	contentChecker     *health.Checker
	trendingChecker    *health.Checker

	log *zap.SugaredLogger
}

func build(cfg *config.Config, log *zap.SugaredLogger) (*app, error) {
	clk := clock.Real
	caller := outbound.New(log)

	userProfileBreaker := breaker.New(breakerConfig("user_profile", cfg.Upstreams.UserProfile.CircuitBreaker), clk)
	contentBreaker := breaker.New(breakerConfig("content", cfg.Upstreams.Content.CircuitBreaker), clk)

	userProfileBalancer := loadbalancer.New(cfg.Upstreams.UserProfile.LBAlgorithm, cfg.Upstreams.UserProfile.BaseURLs)
	contentBalancer := loadbalancer.New(cfg.Upstreams.Content.LBAlgorithm, cfg.Upstreams.Content.BaseURLs)
	trendingBalancer := loadbalancer.New(cfg.Upstreams.Trending.LBAlgorithm, cfg.Upstreams.Trending.BaseURLs)

	userProfileChecker := health.New(userProfileBalancer.Replicas(), cfg.Upstreams.UserProfile.HealthPath, log)
	contentChecker := health.New(contentBalancer.Replicas(), cfg.Upstreams.Content.HealthPath, log)
	trendingChecker := health.New(trendingBalancer.Replicas(), cfg.Upstreams.Trending.HealthPath, log)

	cache := trendingcache.New(cfg.TrendingCache)

	pipeline := recommend.New(caller,
		recommend.Upstream{
			Balancer: userProfileBalancer,
			Breaker:  userProfileBreaker,
			Deadline: config.ParseDurationOr(cfg.Upstreams.UserProfile.CallTimeout, 3*time.Second),
			Path:     "/users",
		},
		recommend.Upstream{
			Balancer: contentBalancer,
			Breaker:  contentBreaker,
			Deadline: config.ParseDurationOr(cfg.Upstreams.Content.CallTimeout, 3*time.Second),
			Path:     "/movies",
		},
		recommend.Upstream{
			Balancer: trendingBalancer,
			Deadline: config.ParseDurationOr(cfg.Upstreams.Trending.CallTimeout, 5*time.Second),
			Path:     "/trending",
		},
		cache, log,
	)

	rl, err := ratelimiter.New(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}

	srv := httpapi.New(pipeline, userProfileBreaker, contentBreaker, log)

	collector := promexport.New(map[string]*breaker.Breaker{
		"user_profile": userProfileBreaker,
		"content":      contentBreaker,
	})

	return &app{
		handler:              srv.Handler(rl),
		collector:            collector,
		userProfileBalancer:  userProfileBalancer,
		contentBalancer:      contentBalancer,
		trendingBalancer:     trendingBalancer,
		userProfileChecker:   userProfileChecker,
		contentChecker:       contentChecker,
		trendingChecker:      trendingChecker,
		log:                  log,
	}, nil
}

// reload swaps the set of replicas each health checker watches. Breaker
// thresholds/timeouts taking effect on the next execute is a bootstrap-time
// concern only; a live reload deliberately does not touch breaker counters
// or state.
func (a *app) reload(cfg *config.Config) {
	a.userProfileChecker.Update(loadbalancer.New(cfg.Upstreams.UserProfile.LBAlgorithm, cfg.Upstreams.UserProfile.BaseURLs).Replicas())
	a.contentChecker.Update(loadbalancer.New(cfg.Upstreams.Content.LBAlgorithm, cfg.Upstreams.Content.BaseURLs).Replicas())
	a.trendingChecker.Update(loadbalancer.New(cfg.Upstreams.Trending.LBAlgorithm, cfg.Upstreams.Trending.BaseURLs).Replicas())
}

func (a *app) backendsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "{")
	for i, named := range []struct {
		name string
		bal  loadbalancer.Balancer
	}{
		{"user_profile", a.userProfileBalancer},
		{"content", a.contentBalancer},
		{"trending", a.trendingBalancer},
	} {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, "%q:[", named.name)
		for j, r := range named.bal.Replicas() {
			if j > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"url":%q,"alive":%v}`, r.URL, r.IsAlive())
		}
		fmt.Fprint(w, "]")
	}
	fmt.Fprint(w, "}")
}

func breakerConfig(name string, cb *config.CircuitBreakerConfig) breaker.Config {
	if cb == nil {
		return breaker.Config{Name: name}
	}
	return breaker.Config{
		Name:                        name,
		RequestTimeout:              config.ParseDurationOr(cb.RequestTimeout, 2*time.Second),
		WindowSize:                  cb.WindowSize,
		FailureRateThreshold:        cb.FailureRateThreshold,
		ConsecutiveFailureThreshold: cb.ConsecutiveFailureThreshold,
		OpenStateDuration:           config.ParseDurationOr(cb.OpenStateDuration, 30*time.Second),
		HalfOpenMaxTrials:           cb.HalfOpenMaxTrials,
	}
}
