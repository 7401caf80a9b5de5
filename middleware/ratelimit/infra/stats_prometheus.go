package infra

import (
	"context"
	"errors"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe as decisões como o contador
// throttle_decisions_total{handle,method,decision}.
//
// Key e Path ficam de fora dos labels por cardinalidade.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

// NewPrometheusStatsStore registra o contador em reg. Se já houver um
// coletor igual registrado (ex.: duas instâncias no mesmo processo), ele é
// reaproveitado.
func NewPrometheusStatsStore(reg prometheus.Registerer) (*PrometheusStatsStore, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "throttle_decisions_total",
		Help: "Rate limit decisions by handle, method and outcome.",
	}, []string{"handle", "method", "decision"})

	if err := reg.Register(decisions); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		decisions = existing
	}
	return &PrometheusStatsStore{decisions: decisions}, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	s.decisions.WithLabelValues(ev.Handle, ev.Method, decision).Inc()
	return nil
}

// MultiStatsStore repassa o evento para todos os stores e junta os erros.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
