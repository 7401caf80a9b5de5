package ratelimit

import (
	"io"
	"net/http"

	"throttle-gateway/middleware/ratelimit/domain"
)

// DefaultRateLimitedBody é o corpo usado quando o handle não tem Description.
const DefaultRateLimitedBody = "This action has been rate limited"

// ErrorHandler escreve a resposta de uma chamada recusada.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err *domain.RateLimitedError)

// DefaultErrorHandler responde 429 em text/plain com Retry-After em segundos
// e a Description do handle como corpo.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err *domain.RateLimitedError) {
	body := DefaultRateLimitedBody
	if err != nil && err.Description != "" {
		body = err.Description
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", formatInt(int64(len(body))))
	if err != nil {
		h.Set("Retry-After", formatInt(err.RetryAfterSeconds()))
	}
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, body)
}

// HandlerFunc é um handler que pode devolver erro (ex.: o de Limiter.Guard).
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Rescue adapta fn para http.Handler: um *domain.RateLimitedError devolvido
// por fn vira a resposta de onLimited (padrão: DefaultErrorHandler); outros
// erros viram 500.
//
// fn não deve ter escrito nada na resposta antes de devolver o erro.
func Rescue(fn HandlerFunc, onLimited ErrorHandler) http.Handler {
	if onLimited == nil {
		onLimited = DefaultErrorHandler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		if rl, ok := domain.AsRateLimited(err); ok {
			onLimited(w, r, rl)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	})
}
