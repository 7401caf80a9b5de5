package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
)

func main() {
	// Exemplo: usando o Limiter diretamente no seu webserver (sem proxy)
	logger := hclog.New(&hclog.LoggerOptions{Name: "example-server", Level: hclog.Debug})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cache := infra.NewMemoryCache()
	cache.StartJanitor(ctx)

	limiter, err := application.NewLimiter(cache, application.WithLogger(logger.Named("limiter")))
	if err != nil {
		logger.Error("limiter", "error", err)
		os.Exit(1)
	}
	must(logger, limiter.Configure("api", domain.HandleConfig{Threshold: 10, Interval: time.Second}))
	must(logger, limiter.Configure("login", domain.HandleConfig{
		Threshold:   3,
		Interval:    time.Minute,
		Description: "Too many login attempts, try again later",
	}))
	must(logger, limiter.Configure("uploads", domain.HandleConfig{
		Strategy:  domain.StrategyLeakyBucket,
		Threshold: 5,
		Interval:  10 * time.Second,
		BurstRate: 10,
	}))

	r := chi.NewRouter()

	// rota inteira limitada por IP (ou X-Api-Key)
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Limiter:             limiter,
			Handle:              "api",
			KeyHeader:           "X-Api-Key", // ou vazio para usar IP
			TrustXForwardedFor:  true,
			AddRateLimitHeaders: true,
			Logger:              logger,
		}))
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
	})

	// limite por usuário dentro do handler
	r.Method(http.MethodPost, "/login", ratelimit.Rescue(func(w http.ResponseWriter, r *http.Request) error {
		user := r.FormValue("user")
		return limiter.Guard(r.Context(), "login", []any{"user", user}, nil, func() error {
			_, err := io.WriteString(w, "welcome "+user+"\n")
			return err
		})
	}, nil))

	// upload de N arquivos consome N do balde
	r.Method(http.MethodPost, "/uploads", ratelimit.Rescue(func(w http.ResponseWriter, r *http.Request) error {
		files := int64(len(r.URL.Query()["file"]))
		if files == 0 {
			files = 1
		}
		ov := &domain.Overrides{Increment: domain.Int64(files)}
		if _, err := limiter.ThrottleOrError(r.Context(), "uploads", ratelimit.DefaultKeyFunc("", false)(r), ov); err != nil {
			return err
		}
		w.WriteHeader(http.StatusAccepted)
		return nil
	}, nil))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func must(logger hclog.Logger, err error) {
	if err != nil {
		logger.Error("configure", "error", err)
		os.Exit(1)
	}
}
