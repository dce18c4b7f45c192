package ports

import (
	"context"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Tracer is driven by a single producer following push/pop discipline:
// every Push is matched by exactly one Pop*, in LIFO order, and nodes finish
// in ascending stack order. Violations are fatal.
type Tracer interface {
	Push(frame domain.StackFrame)
	PopSuccess()
	PopFailed()
	// PopPredicateSuccess finishes a predicate block with its boolean result.
	PopPredicateSuccess(result bool)
}

// RunStateReader answers queries about one thread. Safe for concurrent use.
type RunStateReader interface {
	// RunState never fails: stacks the thread knows nothing about are NotRun.
	RunState(stack domain.CallStack) domain.RunState
	Snapshot() domain.Snapshot
}

// TracedThread is a thread seen from both sides.
type TracedThread interface {
	Tracer
	RunStateReader
}

// UpdatePublisher forwards updates of a named thread to an external consumer.
type UpdatePublisher interface {
	Publish(ctx context.Context, thread string, u domain.Update) error
}
