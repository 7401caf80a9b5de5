package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"
)

func TestParseHandlesEnv(t *testing.T) {
	specs, err := parseHandlesEnv("login=interval:5:60, api=leaky_bucket:10:1m:20,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 handles, got %d", len(specs))
	}
	if specs[0].Name != "login" || specs[0].Threshold != 5 || time.Duration(specs[0].Interval) != time.Minute {
		t.Fatalf("unexpected login spec: %+v", specs[0])
	}
	if specs[1].Strategy != "leaky_bucket" || specs[1].BurstRate != 20 || time.Duration(specs[1].Interval) != time.Minute {
		t.Fatalf("unexpected api spec: %+v", specs[1])
	}
}

func TestParseHandlesEnv_Malformed(t *testing.T) {
	for _, env := range []string{
		"login",
		"=interval:5:60",
		"login=interval:five:60",
		"login=interval:5:soon",
		"login=leaky_bucket:5:60:many",
		"login=interval:5",
	} {
		if _, err := parseHandlesEnv(env); !errors.Is(err, domain.ErrInvalidConfiguration) {
			t.Fatalf("%q: expected ErrInvalidConfiguration, got %v", env, err)
		}
	}
}

func TestLoadHandles_FileEnvAndDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handles.yaml")
	yamlDoc := `handles:
  - name: login
    threshold: 5
    interval: 60
    description: Too many login attempts
    first_throttled: true
    extra:
      category: auth
  - name: api
    strategy: leaky_bucket
    threshold: 10
    interval: 1m
    burst_rate: 20
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	def := handleSpec{Name: "gateway", Threshold: 100, Interval: interval(time.Minute)}
	specs, err := loadHandles(path, "api=interval:3:10", def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected login, api and default gateway, got %+v", specs)
	}

	byName := map[string]handleSpec{}
	for _, s := range specs {
		byName[s.Name] = s
	}
	login := byName["login"].HandleConfig()
	if login.Interval != time.Minute || !login.FirstThrottled || login.Extra["category"] != "auth" || login.Description == "" {
		t.Fatalf("unexpected login config: %+v", login)
	}
	if api := byName["api"]; api.Strategy != "interval" || api.Threshold != 3 {
		t.Fatalf("expected HANDLES to override file entry, got %+v", api)
	}
	if _, ok := byName["gateway"]; !ok {
		t.Fatalf("expected default handle to be added")
	}

	l, _ := application.NewLimiter(infra.NewMemoryCache())
	for _, s := range specs {
		if err := l.Configure(s.Name, s.HandleConfig()); err != nil {
			t.Fatalf("Configure(%s): %v", s.Name, err)
		}
	}
}

func TestLoadHandles_BadFile(t *testing.T) {
	if _, err := loadHandles(filepath.Join(t.TempDir(), "missing.yaml"), "", handleSpec{}); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("handles:\n  - name: x\n    interval: soon\n"), 0o600)
	if _, err := loadHandles(path, "", handleSpec{}); err == nil {
		t.Fatalf("expected error for bad interval")
	}
}

func TestReadConfig(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:9000")
	t.Setenv("RATE_THRESHOLD", "7")
	t.Setenv("RATE_INTERVAL", "30")
	t.Setenv("CACHE_BACKEND", "memory")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.defaultHandle.Threshold != 7 || time.Duration(cfg.defaultHandle.Interval) != 30*time.Second {
		t.Fatalf("unexpected default handle: %+v", cfg.defaultHandle)
	}

	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	if _, err := readConfig(); err == nil {
		t.Fatalf("expected REDIS_ADDR to be required")
	}

	t.Setenv("UPSTREAM_URL", "")
	if _, err := readConfig(); err == nil {
		t.Fatalf("expected UPSTREAM_URL to be required")
	}
}

func TestHandlesHandler(t *testing.T) {
	l, _ := application.NewLimiter(infra.NewMemoryCache())
	_ = l.Configure("login", domain.HandleConfig{Threshold: 5, Interval: time.Minute, Description: "slow"})

	w := httptest.NewRecorder()
	handlesHandler(l)(w, httptest.NewRequest(http.MethodGet, "/_throttle/handles", nil))

	var got map[string]handleView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v := got["login"]; v.Strategy != "interval" || v.IntervalSeconds != 60 || v.Threshold != 5 {
		t.Fatalf("unexpected view: %+v", v)
	}
}
