package infra

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/keys"

	"golang.org/x/time/rate"
)

// KindLocalTokenBucket identifica a estratégia LocalTokenBucket num HandleConfig.
const KindLocalTokenBucket domain.StrategyKind = "local_token_bucket"

// LocalTokenBucketNamespace separa as chaves desta estratégia das demais.
const LocalTokenBucketNamespace = "throttle/v3/local_token_bucket"

// LocalTokenBucket é uma estratégia de token-bucket (x/time/rate) mantida em
// memória do processo, com um *rate.Limiter por chave e limpeza periódica.
//
// Diferente das estratégias embutidas, ela ignora o domain.Cache recebido:
// o estado não é compartilhado entre instâncias. Serve para limites por nó
// (ex.: proteger o próprio processo) sem ida ao backend.
//
// O balde repõe threshold tokens por interval e guarda até BurstRate tokens
// (threshold quando BurstRate é 0). Counter.Value é o número de tokens em uso.
type LocalTokenBucket struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LocalTokenBucketOption func(*LocalTokenBucket)

// WithIdleTTL define após quanto tempo sem uso uma chave é descartada.
func WithIdleTTL(d time.Duration) LocalTokenBucketOption {
	return func(s *LocalTokenBucket) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LocalTokenBucketOption {
	return func(s *LocalTokenBucket) { s.cleanupEvery = d }
}

func NewLocalTokenBucket(opts ...LocalTokenBucketOption) *LocalTokenBucket {
	s := &LocalTokenBucket{
		entries:      make(map[string]*bucketEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.Strategy = (*LocalTokenBucket)(nil)

func (s *LocalTokenBucket) Kind() domain.StrategyKind { return KindLocalTokenBucket }

func (s *LocalTokenBucket) CacheKey(opts domain.CallOptions) string {
	return keys.Build(LocalTokenBucketNamespace, opts.Handle, opts.Key)
}

func (s *LocalTokenBucket) ZeroCounter() domain.CounterState { return domain.CounterState{} }

func (s *LocalTokenBucket) Counter(_ context.Context, _ domain.Cache, cacheKey string, opts domain.CallOptions) (domain.CounterState, error) {
	s.mu.Lock()
	ent, ok := s.entries[cacheKey]
	s.mu.Unlock()
	if !ok {
		return s.ZeroCounter(), nil
	}
	return used(ent.lim, opts, false), nil
}

// Increment consome amount tokens; sem tokens suficientes nada é consumido
// e OverLimit fica true.
func (s *LocalTokenBucket) Increment(_ context.Context, _ domain.Cache, cacheKey string, amount int64, opts domain.CallOptions) (domain.CounterState, error) {
	lim := s.limiter(cacheKey, opts)
	ok := lim.AllowN(opts.Now, int(amount))
	return used(lim, opts, !ok), nil
}

// Decrement devolve amount tokens ao balde, limitado ao burst.
func (s *LocalTokenBucket) Decrement(_ context.Context, _ domain.Cache, cacheKey string, amount int64, opts domain.CallOptions) (domain.CounterState, error) {
	limit, burst := limitsFor(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := float64(burst)
	if ent, ok := s.entries[cacheKey]; ok {
		tokens = ent.lim.TokensAt(opts.Now)
	}
	target := min(math.Floor(tokens)+float64(amount), float64(burst))

	// rate.Limiter não aceita devolução: recria cheio e consome a diferença.
	lim := rate.NewLimiter(limit, burst)
	lim.AllowN(opts.Now, burst-int(max(target, 0)))
	s.entries[cacheKey] = &bucketEntry{lim: lim, lastSeen: time.Now()}
	return used(lim, opts, false), nil
}

func (s *LocalTokenBucket) Reset(_ context.Context, _ domain.Cache, cacheKey string, _ domain.CallOptions) error {
	s.mu.Lock()
	delete(s.entries, cacheKey)
	s.mu.Unlock()
	return nil
}

func (s *LocalTokenBucket) CompareThreshold(counter domain.CounterState, op domain.Operator, opts domain.CallOptions) bool {
	if counter.OverLimit {
		return true
	}
	_, burst := limitsFor(opts)
	return counter.Present && op.Compare(counter.Value, int64(burst))
}

func (s *LocalTokenBucket) FirstThrottled(domain.CounterState, domain.CallOptions) bool { return false }

func (s *LocalTokenBucket) RetryAfter(counter domain.CounterState, opts domain.CallOptions) time.Duration {
	secs := opts.IntervalSeconds()
	if opts.Threshold <= 0 {
		return time.Duration(secs) * time.Second
	}
	_, burst := limitsFor(opts)
	need := max(opts.IncrementAmount()-(int64(burst)-counter.Value), 1)
	wait := (need*secs + opts.Threshold - 1) / opts.Threshold
	return time.Duration(max(wait, 1)) * time.Second
}

func (s *LocalTokenBucket) ThresholdReached(opts domain.CallOptions, cacheKey string) string {
	_, burst := limitsFor(opts)
	return fmt.Sprintf("%s threshold of %d tries per %ds and burst %d exceeded on this node for key %q, hash %s",
		opts.Handle, opts.Threshold, opts.IntervalSeconds(), burst, opts.Key, cacheKey)
}

func (s *LocalTokenBucket) ValidateOptions(opts domain.CallOptions) error {
	if opts.Threshold < 0 {
		return domain.NewConfigError("threshold", "must be a non-negative integer")
	}
	if opts.Interval <= 0 || opts.Interval%time.Second != 0 {
		return domain.NewConfigError("interval", "must be a positive integer number of seconds")
	}
	if opts.BurstRate != 0 && opts.BurstRate < opts.Threshold {
		return domain.NewConfigError("burst_rate", "must be an integer not less than threshold")
	}
	if opts.Increment != nil && *opts.Increment < 0 {
		return domain.NewConfigError("increment", "must be zero or a positive integer")
	}
	if opts.Decrement != nil && *opts.Decrement < 0 {
		return domain.NewConfigError("decrement", "must be zero or a positive integer")
	}
	if opts.FirstThrottled {
		return domain.NewConfigError("first_throttled", "is not supported by the local token bucket strategy")
	}
	return nil
}

// limiter devolve o *rate.Limiter da chave, criando ou ajustando limite/burst
// quando as opções da chamada mudaram (ex.: overrides).
func (s *LocalTokenBucket) limiter(cacheKey string, opts domain.CallOptions) *rate.Limiter {
	limit, burst := limitsFor(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[cacheKey]; ok {
		ent.lastSeen = time.Now()
		if ent.lim.Limit() != limit {
			ent.lim.SetLimitAt(opts.Now, limit)
		}
		if ent.lim.Burst() != burst {
			ent.lim.SetBurstAt(opts.Now, burst)
		}
		return ent.lim
	}

	lim := rate.NewLimiter(limit, burst)
	s.entries[cacheKey] = &bucketEntry{lim: lim, lastSeen: time.Now()}
	return lim
}

// Len devolve o número de chaves em memória.
func (s *LocalTokenBucket) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *LocalTokenBucket) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *LocalTokenBucket) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}

func limitsFor(opts domain.CallOptions) (rate.Limit, int) {
	burst := opts.BurstRate
	if burst == 0 {
		burst = opts.Threshold
	}
	secs := opts.IntervalSeconds()
	if secs <= 0 {
		return 0, int(burst)
	}
	return rate.Limit(float64(opts.Threshold) / float64(secs)), int(burst)
}

func used(lim *rate.Limiter, opts domain.CallOptions, over bool) domain.CounterState {
	tokens := max(math.Floor(lim.TokensAt(opts.Now)), 0)
	return domain.CounterState{
		Value:     int64(lim.Burst()) - int64(tokens),
		OverLimit: over,
		Present:   true,
	}
}
