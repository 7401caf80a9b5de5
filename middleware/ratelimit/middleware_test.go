package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"
)

func newLimiter(t *testing.T, cache domain.Cache, handle string, cfg domain.HandleConfig) *application.Limiter {
	t.Helper()
	// instante fixo no início de uma janela de 10s
	now := func() time.Time { return time.Unix(1_000_000, 0) }
	l, err := application.NewLimiter(cache, application.WithClock(now))
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	if err := l.Configure(handle, cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return l
}

func get(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/showTela", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	l := newLimiter(t, infra.NewMemoryCache(), "web", domain.HandleConfig{Threshold: 1, Interval: 10 * time.Second})
	stats := infra.NewMemoryStatsStore()

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Limiter:             l,
		Handle:              "web",
		Stats:               stats,
		AddRateLimitHeaders: true,
	})(next)

	// 1) primeira passa
	w1 := get(h, "10.0.0.1:1234", nil)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Key"); got != "10.0.0.1" {
		t.Fatalf("expected X-RateLimit-Key=10.0.0.1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Count"); got != "1" {
		t.Fatalf("expected X-RateLimit-Count=1, got %q", got)
	}

	// 2) segunda deve bloquear (threshold=1 na mesma janela)
	w2 := get(h, "10.0.0.1:1234", nil)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "10" {
		t.Fatalf("expected Retry-After=10, got %q", got)
	}
	if got := strings.TrimSpace(w2.Body.String()); got != DefaultRateLimitedBody {
		t.Fatalf("expected default body, got %q", got)
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
	if got := stats.ByHandle()["web"]; got != (infra.Counters{Allowed: 1, Denied: 1}) {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	l := newLimiter(t, infra.NewMemoryCache(), "web", domain.HandleConfig{Threshold: 1, Interval: time.Minute})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{Limiter: l, Handle: "web", KeyHeader: "X-Api-Key"})(next)

	// duas chaves diferentes => ambas passam (cada chave tem seu próprio contador)
	if w := get(h, "10.0.0.1:1234", map[string]string{"X-Api-Key": "k1"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for key k1, got %d", w.Code)
	}
	if w := get(h, "10.0.0.1:1234", map[string]string{"X-Api-Key": "k2"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for key k2, got %d", w.Code)
	}
	if w := get(h, "10.0.0.1:1234", map[string]string{"X-Api-Key": "k1"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated key k1, got %d", w.Code)
	}
}

func TestMiddleware_UsesDescriptionAndCustomHandler(t *testing.T) {
	l := newLimiter(t, infra.NewMemoryCache(), "web", domain.HandleConfig{
		Threshold: 0, Interval: time.Minute, Description: "Boom!",
	})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next must not run")
	})

	w := get(Middleware(Options{Limiter: l, Handle: "web"})(next), "10.0.0.1:1", nil)
	if w.Code != http.StatusTooManyRequests || w.Body.String() != "Boom!" {
		t.Fatalf("expected 429 Boom!, got %d %q", w.Code, w.Body.String())
	}

	custom := func(w http.ResponseWriter, _ *http.Request, err *domain.RateLimitedError) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "Oops "+err.Handle)
	}
	w = get(Middleware(Options{Limiter: l, Handle: "web", ErrorHandler: custom})(next), "10.0.0.2:1", nil)
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "Oops web" {
		t.Fatalf("expected custom handler response, got %d %q", w.Code, w.Body.String())
	}
}

type downCache struct{}

var errDown = errors.New("cache down")

func (downCache) Read(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (downCache) Write(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (downCache) Increment(context.Context, string, int64, time.Duration) (int64, bool, error) {
	return 0, false, errDown
}
func (downCache) Decrement(context.Context, string, int64, time.Duration) (int64, bool, error) {
	return 0, false, errDown
}

func TestMiddleware_BackendFailure(t *testing.T) {
	l := newLimiter(t, downCache{}, "web", domain.HandleConfig{Threshold: 1, Interval: time.Minute})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if w := get(Middleware(Options{Limiter: l, Handle: "web"})(next), "10.0.0.1:1", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when failing closed, got %d", w.Code)
	}
	if w := get(Middleware(Options{Limiter: l, Handle: "web", FailOpen: true})(next), "10.0.0.1:1", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 when failing open, got %d", w.Code)
	}
}

func TestMiddleware_NoLimiterPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	w := get(Middleware(Options{AddRateLimitHeaders: true})(next), "10.0.0.1:1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}

func TestMiddleware_LimitHeaderFollowsThresholdOverride(t *testing.T) {
	l := newLimiter(t, infra.NewMemoryCache(), "web", domain.HandleConfig{Threshold: 1, Interval: 10 * time.Second})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	h := Middleware(Options{
		Limiter:             l,
		Handle:              "web",
		Overrides:           &domain.Overrides{Threshold: domain.Int64(3)},
		AddRateLimitHeaders: true,
	})(next)

	for i := 1; i <= 3; i++ {
		w := get(h, "10.0.0.9:1234", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 under override, got %d", i, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Fatalf("expected X-RateLimit-Limit=3, got %q", got)
		}
	}
	if w := get(h, "10.0.0.9:1234", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after override threshold, got %d", w.Code)
	}
}
