package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration cobre threshold/interval/burst/increment inválidos.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrUnknownHandle é devolvido quando a chamada usa um handle não registrado.
	ErrUnknownHandle = errors.New("no such handle configured")
	// ErrRateLimited é o resultado esperado de uma recusa (não é bug).
	ErrRateLimited = errors.New("rate limited")
	// ErrCacheValue indica um valor no cache que não pôde ser interpretado.
	ErrCacheValue = errors.New("malformed cache value")
)

// ConfigError descreve qual campo da configuração está inválido.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// NewConfigError cria um ConfigError para o campo informado.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// UnknownHandleError carrega o nome do handle inexistente.
type UnknownHandleError struct {
	Handle string
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownHandle.Error(), e.Handle)
}

func (e *UnknownHandleError) Unwrap() error { return ErrUnknownHandle }

// RateLimitedError é criado uma vez por tentativa recusada e traz o
// necessário para montar uma resposta (ex.: 429 + Retry-After).
type RateLimitedError struct {
	Handle   string
	CacheKey string
	// RetryAfter é sempre um número inteiro de segundos.
	RetryAfter     time.Duration
	Description    string
	FirstThrottled bool
	Message        string
	// Config é a configuração registrada do handle recusado.
	Config HandleConfig
}

func (e *RateLimitedError) Error() string { return e.Message }

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds devolve RetryAfter em segundos inteiros.
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	return int64(e.RetryAfter / time.Second)
}

// IsRateLimited informa se err é (ou embrulha) uma recusa.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// AsRateLimited extrai o RateLimitedError de err, se houver.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
