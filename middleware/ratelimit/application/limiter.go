package application

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"throttle-gateway/middleware/ratelimit/domain"
)

// BeforeThrottleFunc é chamado toda vez que uma chamada cruza o limite,
// antes do resultado voltar para o chamador.
type BeforeThrottleFunc func(handle string, key any, threshold int64, interval time.Duration)

// Limiter é o contexto explícito do rate limit: registro de handles,
// estratégias, flag de desligado e callback de observabilidade.
//
// É seguro para uso concorrente. O estado dos contadores vive apenas no Cache.
type Limiter struct {
	cache  domain.Cache
	logger hclog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	handles    map[string]domain.HandleConfig
	strategies map[domain.StrategyKind]domain.Strategy

	// disabled vale para a instância inteira: um Disabled em andamento afeta
	// chamadas concorrentes de outras goroutines no mesmo Limiter.
	disabled       atomic.Bool
	beforeThrottle atomic.Pointer[BeforeThrottleFunc]
}

// Option configura o Limiter em NewLimiter.
type Option func(*Limiter)

// WithLogger define o logger (padrão: hclog.NewNullLogger()).
func WithLogger(logger hclog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock troca o relógio usado para janelas e vazamento.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithStrategy registra uma estratégia extra (ou substitui uma embutida)
// pelo seu Kind.
func WithStrategy(s domain.Strategy) Option {
	return func(l *Limiter) {
		if s != nil {
			l.strategies[s.Kind()] = s
		}
	}
}

// NewLimiter cria um Limiter sobre cache. cache é obrigatório.
func NewLimiter(cache domain.Cache, opts ...Option) (*Limiter, error) {
	if cache == nil {
		return nil, errors.New("ratelimit: cache backend is required")
	}
	l := &Limiter{
		cache:   cache,
		logger:  hclog.NewNullLogger(),
		now:     time.Now,
		handles: make(map[string]domain.HandleConfig),
		strategies: map[domain.StrategyKind]domain.Strategy{
			domain.StrategyInterval:    IntervalStrategy{},
			domain.StrategyLeakyBucket: LeakyBucketStrategy{},
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Configure valida e registra (ou substitui) a política de um handle.
// Nada é escrito no cache.
func (l *Limiter) Configure(handle string, cfg domain.HandleConfig) error {
	if handle == "" {
		return domain.NewConfigError("handle", "must not be empty")
	}
	if _, err := BuildOptions(handle, nil, nil, cfg, l.lookup, l.now()); err != nil {
		return err
	}

	l.mu.Lock()
	l.handles[handle] = cloneConfig(cfg)
	l.mu.Unlock()

	l.logger.Debug("handle configured", "handle", handle, "strategy", kindOf(cfg.Strategy),
		"threshold", cfg.Threshold, "interval", cfg.Interval)
	return nil
}

// Configuration devolve uma cópia da política registrada para handle.
func (l *Limiter) Configuration(handle string) (domain.HandleConfig, bool) {
	l.mu.RLock()
	cfg, ok := l.handles[handle]
	l.mu.RUnlock()
	if !ok {
		return domain.HandleConfig{}, false
	}
	return cloneConfig(cfg), true
}

// Configurations devolve uma cópia de todos os handles registrados.
func (l *Limiter) Configurations() map[string]domain.HandleConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]domain.HandleConfig, len(l.handles))
	for name, cfg := range l.handles {
		out[name] = cloneConfig(cfg)
	}
	return out
}

// Handles devolve os nomes registrados em ordem alfabética.
func (l *Limiter) Handles() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.handles))
	for name := range l.handles {
		names = append(names, name)
	}
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}

// call é o que uma operação precisa depois de resolver handle+key+overrides.
type call struct {
	opts     domain.CallOptions
	cacheKey string
	cfg      domain.HandleConfig
}

func (l *Limiter) prepare(handle string, key any, ov *domain.Overrides) (call, error) {
	cfg, ok := l.Configuration(handle)
	if !ok {
		return call{}, &domain.UnknownHandleError{Handle: handle}
	}
	opts, err := BuildOptions(handle, key, ov, cfg, l.lookup, l.now())
	if err != nil {
		return call{}, err
	}
	return call{opts: opts, cacheKey: opts.Strategy.CacheKey(opts), cfg: cfg}, nil
}

func (l *Limiter) lookup(kind domain.StrategyKind) (domain.Strategy, error) {
	l.mu.RLock()
	s, ok := l.strategies[kindOf(kind)]
	l.mu.RUnlock()
	if !ok {
		return nil, domain.NewConfigError("strategy", fmt.Sprintf("%q is not registered", kind))
	}
	return s, nil
}

// Throttle conta a chamada e informa se ela foi recusada. Uma recusa não é
// erro: err só vem de configuração inválida, handle desconhecido ou cache.
func (l *Limiter) Throttle(ctx context.Context, handle string, key any, ov *domain.Overrides) (domain.Result, error) {
	c, err := l.prepare(handle, key, ov)
	if err != nil {
		return domain.Result{}, err
	}
	return l.throttle(ctx, c)
}

func (l *Limiter) throttle(ctx context.Context, c call) (domain.Result, error) {
	s := c.opts.Strategy
	if l.disabled.Load() {
		return domain.Result{Outcome: domain.NotThrottled, Counter: s.ZeroCounter(), CacheKey: c.cacheKey}, nil
	}

	var (
		counter domain.CounterState
		err     error
	)
	if c.opts.Decrement != nil {
		counter, err = s.Decrement(ctx, l.cache, c.cacheKey, *c.opts.Decrement, c.opts)
	} else {
		counter, err = s.Increment(ctx, l.cache, c.cacheKey, c.opts.IncrementAmount(), c.opts)
	}
	if err != nil {
		return domain.Result{}, err
	}

	res := domain.Result{Outcome: domain.NotThrottled, Counter: counter, CacheKey: c.cacheKey}
	if s.CompareThreshold(counter, domain.GreaterThan, c.opts) {
		if fn := l.beforeThrottle.Load(); fn != nil {
			(*fn)(c.opts.Handle, c.opts.RawKey, c.opts.Threshold, c.opts.Interval)
		}
		res.Outcome = domain.Throttled
		if c.opts.FirstThrottled && s.FirstThrottled(counter, c.opts) {
			res.Outcome = domain.FirstThrottled
		}
	}

	l.logger.Debug("throttle", "handle", c.opts.Handle, "key", c.opts.Key,
		"outcome", res.Outcome, "counter", counter.Value)
	l.logger.Trace("throttle cache key", "handle", c.opts.Handle, "cache_key", c.cacheKey)
	return res, nil
}

// ThrottleOrError é Throttle que transforma a recusa em *domain.RateLimitedError.
func (l *Limiter) ThrottleOrError(ctx context.Context, handle string, key any, ov *domain.Overrides) (domain.Result, error) {
	c, err := l.prepare(handle, key, ov)
	if err != nil {
		return domain.Result{}, err
	}
	res, err := l.throttle(ctx, c)
	if err != nil {
		return domain.Result{}, err
	}
	if !res.Throttled() {
		return res, nil
	}
	return res, l.rateLimited(c, res)
}

func (l *Limiter) rateLimited(c call, res domain.Result) *domain.RateLimitedError {
	s := c.opts.Strategy
	return &domain.RateLimitedError{
		Handle:         c.opts.Handle,
		CacheKey:       c.cacheKey,
		RetryAfter:     s.RetryAfter(res.Counter, c.opts),
		Description:    c.opts.Description,
		FirstThrottled: res.Outcome == domain.FirstThrottled,
		Message:        s.ThresholdReached(c.opts, c.cacheKey),
		Config:         c.cfg,
	}
}

// Guard executa fn apenas se a chamada for admitida. Na recusa devolve o
// *domain.RateLimitedError sem executar fn.
func (l *Limiter) Guard(ctx context.Context, handle string, key any, ov *domain.Overrides, fn func() error) error {
	if _, err := l.ThrottleOrError(ctx, handle, key, ov); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	return fn()
}

// Attempt é Throttle com bloco: devolve true (sem executar fn) quando recusado.
func (l *Limiter) Attempt(ctx context.Context, handle string, key any, ov *domain.Overrides, fn func() error) (bool, error) {
	res, err := l.Throttle(ctx, handle, key, ov)
	if err != nil {
		return false, err
	}
	if res.Throttled() {
		return true, nil
	}
	if fn == nil {
		return false, nil
	}
	return false, fn()
}

// Throttled informa, sem contar, se a próxima chamada seria recusada.
func (l *Limiter) Throttled(ctx context.Context, handle string, key any, ov *domain.Overrides) (bool, error) {
	c, err := l.prepare(handle, key, ov)
	if err != nil {
		return false, err
	}
	counter, err := c.opts.Strategy.Counter(ctx, l.cache, c.cacheKey, c.opts)
	if err != nil {
		return false, err
	}
	return c.opts.Strategy.CompareThreshold(counter, domain.AtLeast, c.opts), nil
}

// Reset volta o contador de handle+key ao estado zero.
func (l *Limiter) Reset(ctx context.Context, handle string, key any, ov *domain.Overrides) error {
	c, err := l.prepare(handle, key, ov)
	if err != nil {
		return err
	}
	l.logger.Debug("reset", "handle", handle, "key", c.opts.Key)
	return c.opts.Strategy.Reset(ctx, l.cache, c.cacheKey, c.opts)
}

// Count lê o estado atual de handle+key sem alterá-lo.
func (l *Limiter) Count(ctx context.Context, handle string, key any, ov *domain.Overrides) (domain.CounterState, error) {
	c, err := l.prepare(handle, key, ov)
	if err != nil {
		return domain.CounterState{}, err
	}
	return c.opts.Strategy.Counter(ctx, l.cache, c.cacheKey, c.opts)
}

// Query é um alias de Count.
func (l *Limiter) Query(ctx context.Context, handle string, key any, ov *domain.Overrides) (domain.CounterState, error) {
	return l.Count(ctx, handle, key, ov)
}

// Disabled executa fn com o limiter desligado e restaura o estado anterior
// em qualquer saída de fn, inclusive panic.
func (l *Limiter) Disabled(fn func() error) error {
	prev := l.disabled.Swap(true)
	defer l.disabled.Store(prev)
	if fn == nil {
		return nil
	}
	return fn()
}

// IsDisabled informa se o Limiter está dentro de um bloco Disabled.
func (l *Limiter) IsDisabled() bool { return l.disabled.Load() }

// BeforeThrottle registra o callback de recusa, substituindo o anterior.
// nil remove o callback.
func (l *Limiter) BeforeThrottle(fn BeforeThrottleFunc) {
	if fn == nil {
		l.beforeThrottle.Store(nil)
		return
	}
	l.beforeThrottle.Store(&fn)
}

func kindOf(k domain.StrategyKind) domain.StrategyKind {
	if k == "" {
		return domain.StrategyInterval
	}
	return k
}

func cloneConfig(cfg domain.HandleConfig) domain.HandleConfig {
	out := cfg
	out.Extra = maps.Clone(cfg.Extra)
	if cfg.Increment != nil {
		out.Increment = domain.Int64(*cfg.Increment)
	}
	if cfg.Decrement != nil {
		out.Decrement = domain.Int64(*cfg.Decrement)
	}
	return out
}
