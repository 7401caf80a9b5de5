package application

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/keys"
)

// IntervalStrategy é o contador de janela fixa.
//
// O estado é um inteiro por janela; a janela faz parte da chave de cache, então
// o contador "expira" sozinho quando o intervalo vira.
type IntervalStrategy struct{}

var _ domain.Strategy = IntervalStrategy{}

func (IntervalStrategy) Kind() domain.StrategyKind { return domain.StrategyInterval }

func (IntervalStrategy) CacheKey(opts domain.CallOptions) string {
	return keys.IntervalCacheKey(opts.Handle, opts.Key, opts.Interval, opts.Now)
}

func (IntervalStrategy) ZeroCounter() domain.CounterState { return domain.CounterState{} }

func (s IntervalStrategy) Counter(ctx context.Context, cache domain.Cache, cacheKey string, _ domain.CallOptions) (domain.CounterState, error) {
	raw, found, err := cache.Read(ctx, cacheKey)
	if err != nil {
		return domain.CounterState{}, err
	}
	if !found {
		return s.ZeroCounter(), nil
	}
	n, err := parseCount(cacheKey, raw)
	if err != nil {
		return domain.CounterState{}, err
	}
	return domain.CounterState{Value: n, Present: true}, nil
}

// Increment soma amount de forma atômica. Se a chave ainda não existe ela é
// criada com amount; esse caminho tem corrida entre primeiros escritores
// concorrentes (um pode sobrescrever o outro).
func (IntervalStrategy) Increment(ctx context.Context, cache domain.Cache, cacheKey string, amount int64, opts domain.CallOptions) (domain.CounterState, error) {
	n, found, err := cache.Increment(ctx, cacheKey, amount, opts.Interval)
	if err != nil {
		return domain.CounterState{}, err
	}
	if !found {
		if err := cache.Write(ctx, cacheKey, formatCount(amount), opts.Interval); err != nil {
			return domain.CounterState{}, err
		}
		n = amount
	}
	return domain.CounterState{Value: n, Present: true}, nil
}

// Decrement subtrai amount. Numa chave existente o valor pode ficar negativo;
// numa chave ausente o contador nasce em 0.
func (IntervalStrategy) Decrement(ctx context.Context, cache domain.Cache, cacheKey string, amount int64, opts domain.CallOptions) (domain.CounterState, error) {
	n, found, err := cache.Decrement(ctx, cacheKey, amount, opts.Interval)
	if err != nil {
		return domain.CounterState{}, err
	}
	if !found {
		if err := cache.Write(ctx, cacheKey, formatCount(0), opts.Interval); err != nil {
			return domain.CounterState{}, err
		}
		n = 0
	}
	return domain.CounterState{Value: n, Present: true}, nil
}

func (IntervalStrategy) Reset(ctx context.Context, cache domain.Cache, cacheKey string, opts domain.CallOptions) error {
	return cache.Write(ctx, cacheKey, formatCount(0), opts.Interval)
}

// CompareThreshold nunca bloqueia sem dado no cache.
func (IntervalStrategy) CompareThreshold(counter domain.CounterState, op domain.Operator, opts domain.CallOptions) bool {
	if !counter.Present {
		return false
	}
	return op.Compare(counter.Value, opts.Threshold)
}

func (IntervalStrategy) FirstThrottled(counter domain.CounterState, opts domain.CallOptions) bool {
	return counter.Value-opts.IncrementAmount() <= opts.Threshold
}

// RetryAfter é o tempo até a virada da janela atual.
func (IntervalStrategy) RetryAfter(_ domain.CounterState, opts domain.CallOptions) time.Duration {
	secs := opts.IntervalSeconds()
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs-opts.Now.Unix()%secs) * time.Second
}

func (IntervalStrategy) ThresholdReached(opts domain.CallOptions, cacheKey string) string {
	return fmt.Sprintf("%s threshold of %d tries per %ds exceeded for key %q, hash %s",
		opts.Handle, opts.Threshold, opts.IntervalSeconds(), opts.Key, cacheKey)
}

func (IntervalStrategy) ValidateOptions(opts domain.CallOptions) error {
	if err := validateThreshold(opts.Threshold); err != nil {
		return err
	}
	if err := validateInterval(opts.Interval); err != nil {
		return err
	}
	return validateAmounts(opts)
}

func formatCount(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func parseCount(cacheKey string, raw []byte) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: counter %s: %q", domain.ErrCacheValue, cacheKey, raw)
	}
	return n, nil
}
