package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/keys"
)

// LeakyBucketStrategy controla rajadas com um balde que vaza
// threshold/interval unidades por segundo e aceita até BurstRate.
//
// Não há timer: o vazamento é reconstruído a cada acesso a partir do tempo
// decorrido desde o último vazamento.
//
// ATENÇÃO: Increment/Decrement fazem leitura e escrita em duas operações no
// cache. Chamadas concorrentes na mesma chave podem ler o mesmo nível e perder
// contagens. Não há trava nem CAS aqui.
type LeakyBucketStrategy struct{}

var _ domain.Strategy = LeakyBucketStrategy{}

// bucket é o formato gravado no cache.
type bucket struct {
	Level        int64 `json:"bucket"`
	LastLeakTime int64 `json:"last_leak_time"`
	OverLimit    bool  `json:"over_limit"`
}

func (LeakyBucketStrategy) Kind() domain.StrategyKind { return domain.StrategyLeakyBucket }

func (LeakyBucketStrategy) CacheKey(opts domain.CallOptions) string {
	return keys.BucketCacheKey(opts.Handle, opts.Key)
}

func (LeakyBucketStrategy) ZeroCounter() domain.CounterState {
	return domain.CounterState{LastLeak: time.Unix(0, 0)}
}

// Counter devolve o balde já com o vazamento aplicado, sem gravar nada.
func (s LeakyBucketStrategy) Counter(ctx context.Context, cache domain.Cache, cacheKey string, opts domain.CallOptions) (domain.CounterState, error) {
	b, found, err := s.read(ctx, cache, cacheKey)
	if err != nil {
		return domain.CounterState{}, err
	}
	if !found {
		return s.ZeroCounter(), nil
	}
	b, leaked := leak(b, opts)
	if leaked {
		b.OverLimit = false
	}
	return b.state(true), nil
}

// Increment vaza e tenta somar amount. Se passar de BurstRate a soma é
// descartada e OverLimit fica true. O balde vazado é gravado mesmo na recusa.
func (s LeakyBucketStrategy) Increment(ctx context.Context, cache domain.Cache, cacheKey string, amount int64, opts domain.CallOptions) (domain.CounterState, error) {
	b, _, err := s.read(ctx, cache, cacheKey)
	if err != nil {
		return domain.CounterState{}, err
	}
	b, _ = leak(b, opts)

	over := opts.BurstRate-b.Level < amount
	if !over {
		b.Level += amount
	}
	b.OverLimit = over

	if err := s.write(ctx, cache, cacheKey, b, opts); err != nil {
		return domain.CounterState{}, err
	}
	return b.state(true), nil
}

// Decrement vaza e subtrai amount, com piso em 0. Nunca recusa.
func (s LeakyBucketStrategy) Decrement(ctx context.Context, cache domain.Cache, cacheKey string, amount int64, opts domain.CallOptions) (domain.CounterState, error) {
	b, _, err := s.read(ctx, cache, cacheKey)
	if err != nil {
		return domain.CounterState{}, err
	}
	b, _ = leak(b, opts)
	b.Level = max(b.Level-amount, 0)
	b.OverLimit = false

	if err := s.write(ctx, cache, cacheKey, b, opts); err != nil {
		return domain.CounterState{}, err
	}
	return b.state(true), nil
}

func (s LeakyBucketStrategy) Reset(ctx context.Context, cache domain.Cache, cacheKey string, opts domain.CallOptions) error {
	return s.write(ctx, cache, cacheKey, bucket{}, opts)
}

// CompareThreshold decide Throttle só pelo OverLimit calculado no Increment, de
// modo que um Decrement nunca é rejeitado. Consultas (AtLeast) comparam o nível
// com BurstRate.
func (LeakyBucketStrategy) CompareThreshold(counter domain.CounterState, op domain.Operator, opts domain.CallOptions) bool {
	if counter.OverLimit {
		return true
	}
	if op == domain.GreaterThan {
		return false
	}
	return counter.Present && op.Compare(counter.Value, opts.BurstRate)
}

func (LeakyBucketStrategy) FirstThrottled(domain.CounterState, domain.CallOptions) bool { return false }

// RetryAfter estima em segundos inteiros quanto falta vazar para caber a próxima soma.
func (LeakyBucketStrategy) RetryAfter(counter domain.CounterState, opts domain.CallOptions) time.Duration {
	secs := opts.IntervalSeconds()
	if opts.Threshold <= 0 {
		return time.Duration(secs) * time.Second
	}

	need := max(counter.Value+opts.IncrementAmount()-opts.BurstRate, 1)
	wait := (need*secs + opts.Threshold - 1) / opts.Threshold
	if !counter.LastLeak.IsZero() {
		if elapsed := opts.Now.Unix() - counter.LastLeak.Unix(); elapsed > 0 {
			wait -= elapsed
		}
	}
	return time.Duration(max(wait, 1)) * time.Second
}

func (LeakyBucketStrategy) ThresholdReached(opts domain.CallOptions, cacheKey string) string {
	return fmt.Sprintf("%s threshold of %d tries per %ds and burst rate %d tries exceeded for key %q, hash %s",
		opts.Handle, opts.Threshold, opts.IntervalSeconds(), opts.BurstRate, opts.Key, cacheKey)
}

func (LeakyBucketStrategy) ValidateOptions(opts domain.CallOptions) error {
	if err := (IntervalStrategy{}).ValidateOptions(opts); err != nil {
		return err
	}
	if opts.BurstRate < opts.Threshold {
		return domain.NewConfigError("burst_rate", "must be an integer not less than threshold")
	}
	if opts.FirstThrottled {
		return domain.NewConfigError("first_throttled", "is not supported by the leaky bucket strategy")
	}
	return nil
}

func (LeakyBucketStrategy) read(ctx context.Context, cache domain.Cache, cacheKey string) (bucket, bool, error) {
	raw, found, err := cache.Read(ctx, cacheKey)
	if err != nil {
		return bucket{}, false, err
	}
	if !found {
		return bucket{}, false, nil
	}
	var b bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return bucket{}, false, fmt.Errorf("%w: bucket %s: %v", domain.ErrCacheValue, cacheKey, err)
	}
	return b, true, nil
}

func (LeakyBucketStrategy) write(ctx context.Context, cache domain.Cache, cacheKey string, b bucket, opts domain.CallOptions) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return cache.Write(ctx, cacheKey, raw, drainTTL(opts))
}

func (b bucket) state(present bool) domain.CounterState {
	return domain.CounterState{
		Value:     b.Level,
		LastLeak:  time.Unix(b.LastLeakTime, 0),
		OverLimit: b.OverLimit,
		Present:   present,
	}
}

// leak aplica floor(elapsed * threshold / interval) ao nível.
// O instante do último vazamento só avança quando ao menos 1 unidade vazou,
// senão chamadas frequentes nunca deixariam o balde vazar.
func leak(b bucket, opts domain.CallOptions) (bucket, bool) {
	secs := opts.IntervalSeconds()
	if secs <= 0 || opts.Threshold <= 0 {
		return b, false
	}
	now := opts.Now.Unix()
	elapsed := now - b.LastLeakTime
	if elapsed <= 0 {
		return b, false
	}

	// esvaziou por completo; evita overflow com last_leak_time muito antigo
	if elapsed/secs > b.Level/opts.Threshold {
		b.Level = 0
		b.LastLeakTime = now
		return b, true
	}

	leaked := elapsed * opts.Threshold / secs
	if leaked == 0 {
		return b, false
	}
	b.Level = max(b.Level-leaked, 0)
	b.LastLeakTime = now
	return b, true
}

// drainTTL é o tempo para um balde cheio esvaziar, mais um intervalo de folga.
// Passado isso o balde equivale ao estado zero e pode expirar no cache.
func drainTTL(opts domain.CallOptions) time.Duration {
	secs := opts.IntervalSeconds()
	if opts.Threshold <= 0 || secs <= 0 {
		return 0
	}
	return time.Duration((opts.BurstRate/opts.Threshold+2)*secs) * time.Second
}
