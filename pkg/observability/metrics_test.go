package observability

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Updates(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	th := trace.NewThread(trace.WithHooks(metrics.Hooks()))
	th.Push(domain.Call("f"))
	th.PopSuccess()
	th.Push(domain.Nested(0, domain.BlockPredicate))
	th.PopPredicateSuccess(true)

	expected := `
# HELP calltrace_updates_total Total number of run state updates emitted, by state kind
# TYPE calltrace_updates_total counter
calltrace_updates_total{state="predicate_successful"} 1
calltrace_updates_total{state="running"} 2
calltrace_updates_total{state="successful"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "calltrace_updates_total"))
}

func TestMetrics_Subscriptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	hooks := metrics.Hooks()
	ctx := context.Background()

	ev := &domain.SubscriptionEvent{Thread: "main", SubscriptionID: "a"}
	hooks.OnSubscribe(ctx, ev)
	hooks.OnSubscribe(ctx, &domain.SubscriptionEvent{Thread: "main", SubscriptionID: "b"})
	hooks.OnBackfill(ctx, ev, 3)

	hooks.OnUnsubscribe(ctx, &domain.SubscriptionEvent{
		Thread:         "main",
		SubscriptionID: "a",
		Err:            fmt.Errorf("%w: observer fell behind", domain.ErrStreamInterrupted),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.subscribers.WithLabelValues("main")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.backfill))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.interrupted.WithLabelValues("interrupted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.interrupted.WithLabelValues("closed")))
}
