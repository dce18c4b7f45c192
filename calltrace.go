package calltrace

import (
	"context"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/driver"
	"github.com/aretw0/calltrace/pkg/program"
	"github.com/aretw0/calltrace/pkg/trace"
)

// Tracker is the high-level entry point for the library: one thread's run
// state together with a running multiplexer for its observers.
// It implements ports.Tracer and ports.RunStateReader.
type Tracker struct {
	thread *trace.Thread
	mux    *trace.Multiplexer
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Tracker and starts serving observers. Call Close to stop.
func New(opts ...trace.Option) *Tracker {
	th := trace.NewThread(opts...)
	ctx, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		thread: th,
		mux:    trace.NewMultiplexer(th, opts...),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		// Run only fails when called twice or when ctx is cancelled by Close.
		_ = t.mux.Run(ctx)
	}()
	return t
}

// Thread exposes the underlying run state.
func (t *Tracker) Thread() *trace.Thread {
	return t.thread
}

// Push enters frame.
func (t *Tracker) Push(frame domain.StackFrame) { t.thread.Push(frame) }

// PopSuccess finishes the current frame as Successful.
func (t *Tracker) PopSuccess() { t.thread.PopSuccess() }

// PopFailed finishes the current frame as Failed.
func (t *Tracker) PopFailed() { t.thread.PopFailed() }

// PopPredicateSuccess finishes the current predicate with its result.
func (t *Tracker) PopPredicateSuccess(result bool) {
	t.thread.PopPredicateSuccess(result)
}

// RunState answers a point query. Unknown stacks are NotRun.
func (t *Tracker) RunState(stack domain.CallStack) domain.RunState {
	return t.thread.RunState(stack)
}

// Snapshot copies the live stack and the stored history.
func (t *Tracker) Snapshot() domain.Snapshot {
	return t.thread.Snapshot()
}

// Subscribe attaches an observer. See trace.Multiplexer.Subscribe.
func (t *Tracker) Subscribe(ctx context.Context, opens <-chan domain.CallStack) (*trace.Subscription, error) {
	return t.mux.Subscribe(ctx, opens)
}

// Execute runs lib's main function with t as the tracer.
func (t *Tracker) Execute(ctx context.Context, lib *program.Library, opts ...driver.Option) error {
	return driver.New(lib, opts...).Run(ctx, t)
}

// Close ends every observer stream with domain.ErrTracerClosed and waits for
// the multiplexer to stop. The run state stays queryable.
func (t *Tracker) Close() {
	t.thread.Close()
	t.cancel()
	<-t.done
}
