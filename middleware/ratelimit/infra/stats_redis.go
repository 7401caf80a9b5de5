package infra

import (
	"context"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava as decisões em hashes do Redis. Cada evento vira um
// conjunto de HINCRBY (ver plan) enviados num único pipeline.
//
// Layout (prefixo padrão "throttle:stats"), campo "allowed" ou "denied":
//
//	<prefix>:total                      cumulativo
//	<prefix>:handle:<handle>            cumulativo
//	<prefix>:series:<bucket>:<stamp>    série temporal, expira em ttl
//	<prefix>:route:<handle>             campo "<method> <path>:<decisão>"
//	<prefix>:key:<handle>:<key>         só com WithStatsTrackKeys, expira em ttl
type RedisStatsStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	bucket statsBucket
	// trackKeys fica desligado por padrão: uma chave nova por cliente.
	trackKeys bool
}

// statsBucket é a granularidade da série temporal.
type statsBucket struct {
	name   string
	layout string
}

var statsBuckets = map[string]statsBucket{
	"minute": {"minute", "200601021504"},
	"hour":   {"hour", "2006010215"},
	"day":    {"day", "20060102"},
	"none":   {},
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithStatsTTL define a expiração das chaves de série e por chave. 0 desliga.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket aceita "minute", "hour", "day" ou "none". Valores
// desconhecidos mantêm o padrão.
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if b, ok := statsBuckets[strings.ToLower(strings.TrimSpace(bucket))]; ok {
			s.bucket = b
		}
	}
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "throttle:stats",
		ttl:    24 * time.Hour,
		bucket: statsBuckets["minute"],
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// statsIncr é um HINCRBY planejado para um evento.
type statsIncr struct {
	key    string
	field  string
	expire bool
}

func (s *RedisStatsStore) plan(ev domain.StatsEvent) []statsIncr {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	out := []statsIncr{{key: s.prefix + ":total", field: decision}}
	if ev.Handle != "" {
		out = append(out, statsIncr{key: s.prefix + ":handle:" + ev.Handle, field: decision})
	}
	if s.bucket.layout != "" {
		out = append(out, statsIncr{
			key:    s.prefix + ":series:" + s.bucket.name + ":" + at.UTC().Format(s.bucket.layout),
			field:  decision,
			expire: true,
		})
	}
	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		out = append(out, statsIncr{key: s.prefix + ":route:" + ev.Handle, field: route + ":" + decision})
	}
	if k := strings.TrimSpace(ev.Key); s.trackKeys && k != "" {
		out = append(out, statsIncr{key: s.prefix + ":key:" + ev.Handle + ":" + k, field: decision, expire: true})
	}
	return out
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, in := range s.plan(ev) {
			pipe.HIncrBy(ctx, in.key, in.field, 1)
			if in.expire && s.ttl > 0 {
				pipe.Expire(ctx, in.key, s.ttl)
			}
		}
		return nil
	})
	return err
}
