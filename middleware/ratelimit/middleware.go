package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Limiter   *application.Limiter
	Handle    string
	Overrides *domain.Overrides

	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	// ErrorHandler responde às recusas (padrão: DefaultErrorHandler).
	ErrorHandler ErrorHandler
	// FailOpen deixa a request passar quando o cache falha; senão responde 500.
	FailOpen            bool
	AddRateLimitHeaders bool
	Logger              hclog.Logger
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				ip, _, _ := strings.Cut(xff, ",")
				if ip = strings.TrimSpace(ip); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware conta cada request no handle configurado e responde às recusas
// com opts.ErrorHandler.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = DefaultErrorHandler
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	logger := opts.Logger.Named("ratelimit").With("handle", opts.Handle)

	svc := application.Service{
		Limiter:   opts.Limiter,
		Handle:    opts.Handle,
		Overrides: opts.Overrides,
	}
	// com o cache fora do ar toda request falha; loga no máximo 1 a cada 10s
	backendErrLog := &rate.Sometimes{Interval: 10 * time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec, err := svc.Decide(r.Context(), key)
			if err != nil {
				backendErrLog.Do(func() {
					logger.Error("rate limit check failed", "fail_open", opts.FailOpen, "error", err)
				})
				if opts.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Handle:  opts.Handle,
					Key:     key,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				}); err != nil {
					logger.Debug("stats record failed", "error", err)
				}
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				w.Header().Set("X-RateLimit-Count", formatInt(dec.Counter.Value))
				if limit, ok := effectiveLimit(opts); ok {
					w.Header().Set("X-RateLimit-Limit", formatInt(limit))
				}
			}

			if !dec.Allowed {
				logger.Debug("request throttled", "key", key, "retry_after", dec.RetryAfter)
				opts.ErrorHandler(w, r, dec.Limited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// effectiveLimit é o threshold aplicado de fato: o override, se houver, ou o do handle.
func effectiveLimit(opts Options) (int64, bool) {
	if opts.Overrides != nil && opts.Overrides.Threshold != nil {
		return *opts.Overrides.Threshold, true
	}
	if opts.Limiter == nil {
		return 0, false
	}
	cfg, ok := opts.Limiter.Configuration(opts.Handle)
	if !ok {
		return 0, false
	}
	return cfg.Threshold, true
}
