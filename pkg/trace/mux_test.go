package trace_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type muxHarness struct {
	mux    *trace.Multiplexer
	opened chan int
	errc   chan error
	cancel context.CancelFunc
}

func startMux(t *testing.T, th *trace.Thread, opts ...trace.Option) *muxHarness {
	t.Helper()

	h := &muxHarness{
		opened: make(chan int, 16),
		errc:   make(chan error, 1),
	}
	hooks := domain.TraceHooks{
		OnBackfill: func(_ context.Context, _ *domain.SubscriptionEvent, n int) {
			h.opened <- n
		},
	}
	h.mux = trace.NewMultiplexer(th, append(opts, trace.WithHooks(hooks))...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.errc <- h.mux.Run(ctx) }()
	return h
}

// open sends node and waits until the multiplexer has delivered its backfill.
func (h *muxHarness) open(t *testing.T, opens chan<- domain.CallStack, node domain.CallStack) int {
	t.Helper()
	opens <- node
	select {
	case n := <-h.opened:
		return n
	case <-time.After(waitTimeout):
		t.Fatalf("open of %q was not processed", node)
		return 0
	}
}

func next(t *testing.T, sub *trace.Subscription) domain.Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription ended early: %v", sub.Err())
		return u
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an update")
		return domain.Update{}
	}
}

// drain reads until the subscription ends and returns what was left.
func drain(t *testing.T, sub *trace.Subscription) []domain.Update {
	t.Helper()
	var rest []domain.Update
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				return rest
			}
			rest = append(rest, u)
		case <-time.After(waitTimeout):
			t.Fatal("subscription did not end")
			return rest
		}
	}
}

func TestMultiplexer_FiltersByOpenNode(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)
	ctx := context.Background()

	opensA := make(chan domain.CallStack)
	subA, err := h.mux.Subscribe(ctx, opensA)
	require.NoError(t, err)
	h.open(t, opensA, domain.Root())

	opensB := make(chan domain.CallStack)
	subB, err := h.mux.Subscribe(ctx, opensB)
	require.NoError(t, err)
	h.open(t, opensB, stack(domain.Call("main")))

	assert.Equal(t, 2, h.mux.Subscribers())

	th.Push(domain.Call("main"))
	th.Push(domain.Statement(0))
	th.Push(domain.Call("f"))
	th.PopSuccess()
	th.PopSuccess()
	th.PopSuccess()

	main := stack(domain.Call("main"))
	f := stack(domain.Call("main"), domain.Statement(0), domain.Call("f"))

	assert.Equal(t, domain.Update{Seq: 1, Stack: main, State: domain.Running}, next(t, subA))
	assert.Equal(t, domain.Update{Seq: 4, Stack: main, State: domain.Successful}, next(t, subA))
	assert.Equal(t, domain.Update{Seq: 2, Stack: f, State: domain.Running}, next(t, subB))
	assert.Equal(t, domain.Update{Seq: 3, Stack: f, State: domain.Successful}, next(t, subB))

	close(opensA)
	close(opensB)
	assert.Empty(t, drain(t, subA))
	assert.Empty(t, drain(t, subB))
	assert.NoError(t, subA.Err())
	assert.NoError(t, subB.Err())

	assert.Eventually(t, func() bool { return h.mux.Subscribers() == 0 }, waitTimeout, 10*time.Millisecond)
}

func TestMultiplexer_BackfillThenLive(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)

	th.Push(domain.Call("main"))
	th.Push(domain.Statement(0))
	th.Push(domain.Call("a"))
	th.PopSuccess()
	th.PopSuccess()
	th.Push(domain.Statement(1))
	th.Push(domain.Call("b"))

	opens := make(chan domain.CallStack, 1)
	sub, err := h.mux.Subscribe(context.Background(), opens)
	require.NoError(t, err)
	n := h.open(t, opens, stack(domain.Call("main")))
	require.Equal(t, 2, n)

	a := stack(domain.Call("main"), domain.Statement(0), domain.Call("a"))
	b := stack(domain.Call("main"), domain.Statement(1), domain.Call("b"))

	assert.Equal(t, domain.Update{Seq: 4, Stack: b, State: domain.Running}, next(t, sub))
	assert.Equal(t, domain.Update{Seq: 4, Stack: a, State: domain.Successful}, next(t, sub))

	// Updates already covered by the backfill are not replayed.
	th.PopFailed()
	assert.Equal(t, domain.Update{Seq: 5, Stack: b, State: domain.Failed}, next(t, sub))
}

func TestMultiplexer_LateOpenSeesEveryChild(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)

	th.Push(domain.Call("main"))
	for i := uint(0); i < 3; i++ {
		th.Push(domain.Statement(i))
		th.Push(domain.Call("child"))
		th.PopSuccess()
		th.PopSuccess()
	}

	opens := make(chan domain.CallStack, 1)
	sub, err := h.mux.Subscribe(context.Background(), opens)
	require.NoError(t, err)
	require.Equal(t, 3, h.open(t, opens, stack(domain.Call("main"))))

	got := map[string]domain.RunState{}
	for i := 0; i < 3; i++ {
		u := next(t, sub)
		got[u.Stack.String()] = u.State
	}
	assert.Equal(t, map[string]domain.RunState{
		"call:main/stmt:0/call:child": domain.Successful,
		"call:main/stmt:1/call:child": domain.Successful,
		"call:main/stmt:2/call:child": domain.Successful,
	}, got)
}

func TestMultiplexer_ReopenSendsBackfillAgain(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)

	th.Push(domain.Call("f"))
	th.PopSuccess()

	opens := make(chan domain.CallStack, 1)
	sub, err := h.mux.Subscribe(context.Background(), opens)
	require.NoError(t, err)

	assert.Equal(t, 1, h.open(t, opens, domain.Root()))
	assert.Equal(t, 1, h.open(t, opens, domain.Root()))
	assert.Equal(t, next(t, sub), next(t, sub))
}

func TestMultiplexer_SlowObserverIsInterrupted(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th, trace.WithClientBuffer(1))

	opens := make(chan domain.CallStack, 1)
	sub, err := h.mux.Subscribe(context.Background(), opens)
	require.NoError(t, err)
	h.open(t, opens, domain.Root())

	th.Push(domain.Call("f"))
	th.PopSuccess()

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("slow observer was not terminated")
	}

	rest := drain(t, sub)
	require.Len(t, rest, 1)
	assert.Equal(t, domain.Running, rest[0].State)
	assert.ErrorIs(t, sub.Err(), domain.ErrStreamInterrupted)
}

func TestMultiplexer_ContextCancelEndsSubscription(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.mux.Subscribe(ctx, make(chan domain.CallStack))
	require.NoError(t, err)

	cancel()
	assert.Empty(t, drain(t, sub))
	assert.NoError(t, sub.Err())
}

func TestMultiplexer_ThreadCloseEndsRun(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)

	sub, err := h.mux.Subscribe(context.Background(), make(chan domain.CallStack))
	require.NoError(t, err)

	th.Close()

	select {
	case err := <-h.errc:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	drain(t, sub)
	assert.ErrorIs(t, sub.Err(), domain.ErrTracerClosed)

	_, err = h.mux.Subscribe(context.Background(), make(chan domain.CallStack))
	assert.ErrorIs(t, err, domain.ErrTracerClosed)
}

func TestMultiplexer_RunOnce(t *testing.T) {
	th := trace.NewThread()
	h := startMux(t, th)

	// Subscribe only succeeds once Run is serving.
	_, err := h.mux.Subscribe(context.Background(), make(chan domain.CallStack))
	require.NoError(t, err)

	assert.Error(t, h.mux.Run(context.Background()))

	h.cancel()
	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	<-h.mux.Done()
}
