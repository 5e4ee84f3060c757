package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/logger"
	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/infra"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	log := logger.New(logger.Config{Level: cfg.logLevel, Format: cfg.logFormat, Output: os.Stdout})
	slog.SetDefault(log)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return err
	}

	policy, err := cfg.loadPolicy()
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.needsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics("admission", reg)

	recent := infra.NewMemoryEventSink(1000)
	sinks := infra.MultiSink{
		infra.NewLogSink(log, cfg.eventLogRate, int(cfg.eventLogRate)*2),
		recent,
		metrics,
	}
	stats := infra.MultiStats{metrics}
	deps := admission.Deps{Logger: log, OnEmergency: metrics.SetEmergency}

	switch cfg.store {
	case "redis":
		deps.Store = infra.NewRedisStore(rdb, infra.WithStorePrefix(cfg.redisPrefix+":rl"))
	case "token_bucket":
		deps.Store = infra.NewTokenBucketStore()
	default:
		deps.Store = infra.NewMemoryStore()
	}
	if cfg.sharedBlacklist {
		deps.Shared = infra.NewRedisBlockStore(rdb, cfg.redisPrefix+":bl")
	}
	if cfg.eventsRedis {
		sinks = append(sinks, infra.NewRedisEventSink(rdb,
			infra.WithEventPrefix(cfg.redisPrefix+":events"),
			infra.WithEventMaxLen(cfg.eventsMaxLen),
		))
	}
	if cfg.statsEnabled {
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.redisPrefix+":stats"),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		))
	}
	deps.Events = sinks
	deps.Stats = stats

	adm, err := admission.New(policy, deps)
	if err != nil {
		return err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	// Ordem de fora para dentro: admissão, concorrência, mascaramento, proxy.
	h := http.Handler(proxy)
	if cfg.maskEnabled {
		h = adm.MaskResponses(infra.NewRegexMasker())(h)
	}
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
		EmergencyMax:   cfg.concurrencyEmergencyMax,
		InEmergency:    adm.Analyzer.Emergency,
	})(h)
	h = adm.Middleware()(h)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if cfg.metricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if cfg.adminEnabled {
		r.Mount("/admin", adm.AdminRouter(recent))
	}
	r.Handle("/*", h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adm.Start(ctx)
	defer adm.Stop()

	log.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	log.Info("admission",
		"store", cfg.store,
		"shared_blacklist", cfg.sharedBlacklist,
		"events_redis", cfg.eventsRedis,
		"stats", cfg.statsEnabled,
		"sweep_interval", policy.SweepInterval,
		"trust_xff", policy.TrustXForwardedFor,
	)
	log.Info("concurrency", "max", cfg.concurrencyMax, "emergency_max", cfg.concurrencyEmergencyMax, "acquire_timeout", cfg.concurrencyTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
