package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// StrategyKind identifica a família de algoritmo de um handle.
type StrategyKind string

const (
	// StrategyInterval é a janela fixa (padrão quando nada é informado).
	StrategyInterval StrategyKind = "interval"
	// StrategyLeakyBucket é o balde furado com controle de rajada.
	StrategyLeakyBucket StrategyKind = "leaky_bucket"
)

// HandleConfig é a política registrada para um handle via Configure.
//
// Depois de registrada não é alterada: registrar de novo substitui o valor.
// Increment/Decrement são ponteiros porque "ausente" e "zero" têm significados
// diferentes (a presença de Decrement troca a operação da chamada).
type HandleConfig struct {
	Threshold int64
	// Interval precisa ser um número inteiro e positivo de segundos.
	Interval    time.Duration
	BurstRate   int64
	Increment   *int64
	Decrement   *int64
	Description string
	Strategy    StrategyKind
	// FirstThrottled marca com Outcome FirstThrottled a chamada que cruza o limite.
	FirstThrottled bool
	// Extra guarda campos livres (ex.: "category") para consulta posterior.
	Extra map[string]any
}

// Overrides são ajustes por chamada sobre a HandleConfig registrada.
// Campos nil mantêm o valor do handle.
type Overrides struct {
	Threshold      *int64
	Interval       *time.Duration
	BurstRate      *int64
	Increment      *int64
	Decrement      *int64
	Description    *string
	Strategy       *StrategyKind
	FirstThrottled *bool
	Extra          map[string]any
}

// Int64 devolve um ponteiro para v (açúcar para montar HandleConfig/Overrides).
func Int64(v int64) *int64 { return &v }

// Duration devolve um ponteiro para d.
func Duration(d time.Duration) *time.Duration { return &d }

// String devolve um ponteiro para s.
func String(s string) *string { return &s }

// Bool devolve um ponteiro para b.
func Bool(b bool) *bool { return &b }

// Kind devolve um ponteiro para k.
func Kind(k StrategyKind) *StrategyKind { return &k }

// Decision é o resultado "agnóstico de HTTP" consumido pelos adapters.
type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Limited carrega o erro completo quando a decisão foi de bloqueio.
	Limited *RateLimitedError
	Counter CounterState
}
