package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    string

	rateEnabled   bool
	rateHandle    string
	rateKeyHeader string
	trustXFF      bool
	addHeaders    bool
	failOpen      bool

	handlesFile string
	handlesEnv  string
	// handle padrão quando HANDLES/HANDLES_FILE não definem rateHandle
	defaultHandle handleSpec

	cacheBackend  string
	redisAddr     string
	redisPassword string
	redisDB       int
	cachePrefix   string

	metricsEnabled bool
	metricsPath    string

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateHandle = getenvDefault("RATE_HANDLE", "gateway")
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)
	cfg.failOpen = getenvBoolDefault("RATE_FAIL_OPEN", false)

	cfg.handlesFile = os.Getenv("HANDLES_FILE")
	cfg.handlesEnv = os.Getenv("HANDLES")
	cfg.defaultHandle = handleSpec{
		Name:      cfg.rateHandle,
		Strategy:  getenvDefault("RATE_STRATEGY", string(domain.StrategyInterval)),
		Threshold: int64(getenvIntDefault("RATE_THRESHOLD", 100)),
		Interval:  interval(getenvDurationDefault("RATE_INTERVAL", time.Minute)),
		BurstRate: int64(getenvIntDefault("RATE_BURST", 0)),
	}

	cfg.cacheBackend = strings.ToLower(getenvDefault("CACHE_BACKEND", "memory"))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.cachePrefix = getenvDefault("CACHE_PREFIX", "throttle")

	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", true)
	cfg.metricsPath = getenvDefault("METRICS_PATH", "/metrics")

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "throttle:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	switch cfg.cacheBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return config{}, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", cfg.cacheBackend)
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	return cfg, nil
}

// handleSpec é um handle como aparece no HANDLES_FILE (YAML) ou em HANDLES.
type handleSpec struct {
	Name           string         `yaml:"name"`
	Strategy       string         `yaml:"strategy"`
	Threshold      int64          `yaml:"threshold"`
	Interval       interval       `yaml:"interval"`
	BurstRate      int64          `yaml:"burst_rate"`
	Increment      *int64         `yaml:"increment"`
	Decrement      *int64         `yaml:"decrement"`
	Description    string         `yaml:"description"`
	FirstThrottled bool           `yaml:"first_throttled"`
	Extra          map[string]any `yaml:"extra"`
}

func (h handleSpec) HandleConfig() domain.HandleConfig {
	return domain.HandleConfig{
		Threshold:      h.Threshold,
		Interval:       time.Duration(h.Interval),
		BurstRate:      h.BurstRate,
		Increment:      h.Increment,
		Decrement:      h.Decrement,
		Description:    h.Description,
		Strategy:       domain.StrategyKind(h.Strategy),
		FirstThrottled: h.FirstThrottled,
		Extra:          h.Extra,
	}
}

// interval aceita segundos inteiros (60) ou uma duração Go ("1m").
type interval time.Duration

func (d *interval) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseInterval(node.Value)
	if err != nil {
		return err
	}
	*d = interval(parsed)
	return nil
}

func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, domain.NewConfigError("interval", fmt.Sprintf("%q is not a number of seconds or a duration", s))
	}
	return d, nil
}

type handlesFile struct {
	Handles []handleSpec `yaml:"handles"`
}

// loadHandles junta os handles do arquivo YAML e da variável HANDLES
// (HANDLES vence em caso de nome repetido). Sem nenhum dos dois, usa def.
func loadHandles(path, env string, def handleSpec) ([]handleSpec, error) {
	var specs []handleSpec

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read HANDLES_FILE: %w", err)
		}
		var f handlesFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse HANDLES_FILE %s: %w", path, err)
		}
		specs = append(specs, f.Handles...)
	}

	fromEnv, err := parseHandlesEnv(env)
	if err != nil {
		return nil, err
	}
	specs = append(specs, fromEnv...)

	merged := make([]handleSpec, 0, len(specs))
	index := make(map[string]int, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, domain.NewConfigError("handle", "name is required")
		}
		if i, ok := index[s.Name]; ok {
			merged[i] = s
			continue
		}
		index[s.Name] = len(merged)
		merged = append(merged, s)
	}

	if _, ok := index[def.Name]; !ok && def.Name != "" {
		merged = append(merged, def)
	}
	return merged, nil
}

// parseHandlesEnv lê "name=strategy:threshold:interval[:burst]" separados por vírgula.
func parseHandlesEnv(env string) ([]handleSpec, error) {
	var specs []handleSpec
	for _, entry := range strings.Split(env, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("HANDLES entry %q: %w", entry, domain.NewConfigError("handle", "must be name=strategy:threshold:interval[:burst]"))
		}

		parts := strings.Split(rest, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("HANDLES entry %q: %w", entry, domain.NewConfigError("handle", "must be name=strategy:threshold:interval[:burst]"))
		}

		spec := handleSpec{Name: strings.TrimSpace(name), Strategy: strings.TrimSpace(parts[0])}
		threshold, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("HANDLES entry %q: %w", entry, domain.NewConfigError("threshold", "must be an integer"))
		}
		spec.Threshold = threshold

		d, err := parseInterval(parts[2])
		if err != nil {
			return nil, fmt.Errorf("HANDLES entry %q: %w", entry, err)
		}
		spec.Interval = interval(d)

		if len(parts) == 4 {
			burst, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("HANDLES entry %q: %w", entry, domain.NewConfigError("burst_rate", "must be an integer"))
			}
			spec.BurstRate = burst
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvDurationDefault aceita "30s" ou segundos inteiros.
func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := parseInterval(v)
	if err != nil {
		return def
	}
	return d
}
