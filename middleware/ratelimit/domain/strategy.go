package domain

import (
	"context"
	"time"
)

// Operator é o operador de comparação entre contador e limite.
type Operator int

const (
	// GreaterThan é usado em Throttle: só bloqueia quando o limite foi excedido.
	GreaterThan Operator = iota
	// AtLeast é usado em Throttled: informa se a próxima chamada bloquearia.
	AtLeast
)

// Compare aplica o operador entre a e b.
func (o Operator) Compare(a, b int64) bool {
	if o == AtLeast {
		return a >= b
	}
	return a > b
}

func (o Operator) String() string {
	if o == AtLeast {
		return ">="
	}
	return ">"
}

// CounterState é a foto do estado guardado no cache para um handle+key.
//
// Na janela fixa só Value é usado. No leaky bucket Value é o nível do balde,
// LastLeak o último instante em que houve vazamento e OverLimit indica se a
// última tentativa foi recusada.
type CounterState struct {
	Value     int64
	LastLeak  time.Time
	OverLimit bool
	// Present é false quando não havia nada no cache para a chave.
	Present bool
}

// Outcome é o resultado de uma tentativa de Throttle.
type Outcome int

const (
	NotThrottled Outcome = iota
	Throttled
	// FirstThrottled é a primeira chamada que cruza o limite (modo FirstThrottled).
	FirstThrottled
)

func (o Outcome) String() string {
	switch o {
	case Throttled:
		return "throttled"
	case FirstThrottled:
		return "first_throttled"
	default:
		return "not_throttled"
	}
}

// Result é o retorno de Throttle.
type Result struct {
	Outcome  Outcome
	Counter  CounterState
	CacheKey string
}

// Throttled informa se a chamada foi recusada (inclui FirstThrottled).
func (r Result) Throttled() bool { return r.Outcome != NotThrottled }

// CallOptions é a mescla efêmera da HandleConfig com os Overrides de uma chamada.
// É montada do zero a cada chamada e nunca compartilhada.
type CallOptions struct {
	Handle string
	// Key é a chave já normalizada; RawKey é o valor recebido do chamador.
	Key            string
	RawKey         any
	Threshold      int64
	Interval       time.Duration
	BurstRate      int64
	Increment      *int64
	Decrement      *int64
	Description    string
	FirstThrottled bool
	Extra          map[string]any
	Strategy       Strategy
	// Now é fixado uma vez por chamada para que chave e vazamento usem o mesmo instante.
	Now time.Time
}

// IncrementAmount é o quanto a chamada soma (1 quando não informado).
func (o CallOptions) IncrementAmount() int64 {
	if o.Increment != nil {
		return *o.Increment
	}
	return 1
}

// IntervalSeconds devolve o intervalo em segundos inteiros.
func (o CallOptions) IntervalSeconds() int64 {
	return int64(o.Interval / time.Second)
}

// Strategy é o algoritmo de contagem. Implementações não guardam estado:
// tudo vive no Cache recebido a cada operação.
type Strategy interface {
	Kind() StrategyKind
	// CacheKey monta a chave de cache para as opções resolvidas.
	CacheKey(opts CallOptions) string
	Counter(ctx context.Context, cache Cache, cacheKey string, opts CallOptions) (CounterState, error)
	Increment(ctx context.Context, cache Cache, cacheKey string, amount int64, opts CallOptions) (CounterState, error)
	Decrement(ctx context.Context, cache Cache, cacheKey string, amount int64, opts CallOptions) (CounterState, error)
	Reset(ctx context.Context, cache Cache, cacheKey string, opts CallOptions) error
	CompareThreshold(counter CounterState, op Operator, opts CallOptions) bool
	FirstThrottled(counter CounterState, opts CallOptions) bool
	// RetryAfter estima quanto esperar até uma nova tentativa ser admitida.
	RetryAfter(counter CounterState, opts CallOptions) time.Duration
	ThresholdReached(opts CallOptions, cacheKey string) string
	ValidateOptions(opts CallOptions) error
	ZeroCounter() CounterState
}
