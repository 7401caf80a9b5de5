package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .env é opcional
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		bootLogger().Error("config error", "error", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "gateway",
		Level: hclog.LevelFromString(cfg.logLevel),
	})
	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func bootLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Name: "gateway"})
}

func run(cfg config, logger hclog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.cacheBackend == "redis" || cfg.rateStatsEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			return err
		}
	}

	var cache domain.Cache
	if cfg.cacheBackend == "redis" {
		cache = infra.NewRedisCache(rdb, infra.WithCachePrefix(cfg.cachePrefix))
	} else {
		mem := infra.NewMemoryCache()
		mem.StartJanitor(ctx)
		cache = mem
	}

	local := infra.NewLocalTokenBucket()
	local.StartJanitor(ctx)

	limiter, err := application.NewLimiter(cache,
		application.WithLogger(logger.Named("limiter")),
		application.WithStrategy(local),
	)
	if err != nil {
		return err
	}

	specs, err := loadHandles(cfg.handlesFile, cfg.handlesEnv, cfg.defaultHandle)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := limiter.Configure(spec.Name, spec.HandleConfig()); err != nil {
			return err
		}
	}
	limiter.BeforeThrottle(func(handle string, key any, threshold int64, interval time.Duration) {
		logger.Info("throttled", "handle", handle, "key", key, "threshold", threshold, "interval", interval)
	})

	reg := prometheus.NewRegistry()
	var stats infra.MultiStatsStore
	if cfg.metricsEnabled {
		promStats, err := infra.NewPrometheusStatsStore(reg)
		if err != nil {
			return err
		}
		stats = append(stats, promStats)
	}
	if cfg.rateStatsEnabled {
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		))
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/_throttle/handles", handlesHandler(limiter))
	if cfg.metricsEnabled {
		r.Handle(cfg.metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	upstream := http.Handler(proxy)
	if cfg.rateEnabled {
		if _, ok := limiter.Configuration(cfg.rateHandle); !ok {
			return &domain.UnknownHandleError{Handle: cfg.rateHandle}
		}
		upstream = ratelimit.Middleware(ratelimit.Options{
			Limiter:             limiter,
			Handle:              cfg.rateHandle,
			Stats:               stats,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			FailOpen:            cfg.failOpen,
			AddRateLimitHeaders: cfg.addHeaders,
			Logger:              logger,
		})(upstream)
	}
	r.Handle("/*", upstream)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("rate", "enabled", cfg.rateEnabled, "handle", cfg.rateHandle, "handles", limiter.Handles(),
		"cache", cfg.cacheBackend, "key_header", cfg.rateKeyHeader, "trust_xff", cfg.trustXFF, "fail_open", cfg.failOpen)
	logger.Info("rate-stats", "metrics", cfg.metricsEnabled, "redis", cfg.rateStatsEnabled,
		"bucket", cfg.rateStatsBucket, "ttl", cfg.rateStatsTTL, "track_keys", cfg.rateStatsTrackKeys)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handleView struct {
	Strategy        string         `json:"strategy"`
	Threshold       int64          `json:"threshold"`
	IntervalSeconds int64          `json:"interval"`
	BurstRate       int64          `json:"burst_rate,omitempty"`
	Description     string         `json:"description,omitempty"`
	FirstThrottled  bool           `json:"first_throttled,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// handlesHandler lista os handles configurados.
func handlesHandler(l *application.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := make(map[string]handleView)
		for name, cfg := range l.Configurations() {
			strategy := string(cfg.Strategy)
			if strategy == "" {
				strategy = string(domain.StrategyInterval)
			}
			out[name] = handleView{
				Strategy:        strategy,
				Threshold:       cfg.Threshold,
				IntervalSeconds: int64(cfg.Interval / time.Second),
				BurstRate:       cfg.BurstRate,
				Description:     cfg.Description,
				FirstThrottled:  cfg.FirstThrottled,
				Extra:           cfg.Extra,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
