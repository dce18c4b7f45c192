package observability

import (
	"context"
	"errors"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the calltrace collectors.
type Metrics struct {
	updates     *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	interrupted *prometheus.CounterVec
	backfill    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltrace_updates_total",
				Help: "Total number of run state updates emitted, by state kind",
			},
			[]string{"state"},
		),
		subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "calltrace_subscribers",
				Help: "Number of active observers per thread",
			},
			[]string{"thread"},
		),
		interrupted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltrace_subscriptions_interrupted_total",
				Help: "Observer streams that ended abnormally, by reason",
			},
			[]string{"reason"},
		),
		backfill: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "calltrace_backfill_updates_total",
				Help: "Total number of updates sent as backfill when a node is opened",
			},
		),
	}
	reg.MustRegister(m.updates, m.subscribers, m.interrupted, m.backfill)
	return m
}

// Hooks returns trace hooks that record into m.
func (m *Metrics) Hooks() domain.TraceHooks {
	return domain.TraceHooks{
		OnUpdate: func(_ context.Context, u domain.Update) {
			m.updates.WithLabelValues(u.State.Kind().String()).Inc()
		},
		OnBackfill: func(_ context.Context, _ *domain.SubscriptionEvent, n int) {
			m.backfill.Add(float64(n))
		},
		OnSubscribe: func(_ context.Context, e *domain.SubscriptionEvent) {
			m.subscribers.WithLabelValues(e.Thread).Inc()
		},
		OnUnsubscribe: func(_ context.Context, e *domain.SubscriptionEvent) {
			m.subscribers.WithLabelValues(e.Thread).Dec()
			if reason := interruptReason(e.Err); reason != "" {
				m.interrupted.WithLabelValues(reason).Inc()
			}
		},
	}
}

func interruptReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrStreamInterrupted):
		return "interrupted"
	case errors.Is(err, domain.ErrTracerClosed):
		return "closed"
	default:
		return "error"
	}
}
