package application

import (
	"fmt"
	"maps"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/keys"
)

// StrategyLookup resolve um StrategyKind para a implementação registrada.
type StrategyLookup func(kind domain.StrategyKind) (domain.Strategy, error)

// BuiltinStrategy resolve apenas as duas estratégias embutidas.
func BuiltinStrategy(kind domain.StrategyKind) (domain.Strategy, error) {
	switch kind {
	case "", domain.StrategyInterval:
		return IntervalStrategy{}, nil
	case domain.StrategyLeakyBucket:
		return LeakyBucketStrategy{}, nil
	}
	return nil, domain.NewConfigError("strategy", fmt.Sprintf("%q is not registered", kind))
}

// BuildOptions monta as CallOptions de uma chamada: parte de uma cópia da
// HandleConfig, aplica os Overrides (o chamador vence), normaliza a chave,
// escolhe a estratégia e valida tudo antes de qualquer acesso ao cache.
//
// cfg nunca é alterado.
func BuildOptions(handle string, key any, ov *domain.Overrides, cfg domain.HandleConfig, lookup StrategyLookup, now time.Time) (domain.CallOptions, error) {
	if lookup == nil {
		lookup = BuiltinStrategy
	}

	opts := domain.CallOptions{
		Handle:         handle,
		RawKey:         key,
		Key:            keys.Normalize(key),
		Threshold:      cfg.Threshold,
		Interval:       cfg.Interval,
		BurstRate:      cfg.BurstRate,
		Increment:      cfg.Increment,
		Decrement:      cfg.Decrement,
		Description:    cfg.Description,
		FirstThrottled: cfg.FirstThrottled,
		Extra:          maps.Clone(cfg.Extra),
		Now:            now,
	}
	kind := cfg.Strategy

	if ov != nil {
		if ov.Threshold != nil {
			opts.Threshold = *ov.Threshold
		}
		if ov.Interval != nil {
			opts.Interval = *ov.Interval
		}
		if ov.BurstRate != nil {
			opts.BurstRate = *ov.BurstRate
		}
		if ov.Increment != nil {
			opts.Increment = ov.Increment
		}
		if ov.Decrement != nil {
			opts.Decrement = ov.Decrement
		}
		if ov.Description != nil {
			opts.Description = *ov.Description
		}
		if ov.FirstThrottled != nil {
			opts.FirstThrottled = *ov.FirstThrottled
		}
		if ov.Strategy != nil {
			kind = *ov.Strategy
		}
		if len(ov.Extra) > 0 {
			if opts.Extra == nil {
				opts.Extra = make(map[string]any, len(ov.Extra))
			}
			maps.Copy(opts.Extra, ov.Extra)
		}
	}

	strategy, err := lookup(kind)
	if err != nil {
		return domain.CallOptions{}, err
	}
	opts.Strategy = strategy

	if err := strategy.ValidateOptions(opts); err != nil {
		return domain.CallOptions{}, err
	}
	return opts, nil
}

func validateThreshold(threshold int64) error {
	if threshold < 0 {
		return domain.NewConfigError("threshold", "must be a non-negative integer")
	}
	return nil
}

func validateInterval(interval time.Duration) error {
	if interval <= 0 || interval%time.Second != 0 {
		return domain.NewConfigError("interval", "must be a positive integer number of seconds")
	}
	return nil
}

func validateAmounts(opts domain.CallOptions) error {
	if opts.Increment != nil && *opts.Increment < 0 {
		return domain.NewConfigError("increment", "must be zero or a positive integer")
	}
	if opts.Decrement != nil && *opts.Decrement < 0 {
		return domain.NewConfigError("decrement", "must be zero or a positive integer")
	}
	return nil
}
