package application

import (
	"context"

	"throttle-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit para um handle.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Limiter   *Limiter
	Handle    string
	Overrides *domain.Overrides
}

// Decide conta a chamada de key no handle do serviço.
//
// Uma recusa vira Decision{Allowed:false}; err fica reservado para falhas de
// configuração e do cache, que o adapter decide se bloqueiam ou não.
func (s Service) Decide(ctx context.Context, key any) (domain.Decision, error) {
	if s.Limiter == nil || s.Handle == "" {
		return domain.Decision{Allowed: true}, nil
	}

	res, err := s.Limiter.ThrottleOrError(ctx, s.Handle, key, s.Overrides)
	if rl, ok := domain.AsRateLimited(err); ok {
		return domain.Decision{Allowed: false, RetryAfter: rl.RetryAfter, Limited: rl, Counter: res.Counter}, nil
	}
	if err != nil {
		return domain.Decision{}, err
	}
	return domain.Decision{Allowed: true, Counter: res.Counter}, nil
}
