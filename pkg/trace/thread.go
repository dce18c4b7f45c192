package trace

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Thread is the run state of one logical thread of execution: the live call
// stack and the append-only history of finished nodes.
//
// A single producer advances it with Push and the Pop* methods; any number of
// readers query it concurrently. A Thread is shared by pointer and lives as
// long as its longest holder.
type Thread struct {
	mu       sync.RWMutex
	current  domain.CallStack
	history  []domain.Entry
	// children holds every finished node under its parent's key, compacted
	// or not, in execution order.
	children map[string][]domain.Entry
	last     *domain.CallStack
	seq      uint64

	feed       *Feed
	name       string
	hooks      domain.TraceHooks
	logger     *slog.Logger
	compaction bool
}

// NewThread creates an empty thread run state.
func NewThread(opts ...Option) *Thread {
	cfg := newConfig(opts)
	return &Thread{
		children:   make(map[string][]domain.Entry),
		feed:       newFeed(cfg.feedCapacity),
		name:       cfg.name,
		hooks:      cfg.hooks,
		logger:     cfg.logger,
		compaction: cfg.compaction,
	}
}

// Name is the label given with WithName.
func (t *Thread) Name() string {
	return t.name
}

// Feed is the raw update stream.
func (t *Thread) Feed() *Feed {
	return t.feed
}

// Close detaches every feed listener with domain.ErrTracerClosed.
// The thread stays queryable.
func (t *Thread) Close() {
	t.feed.close()
}

// Push enters frame. Entering a node emits a Running update.
func (t *Thread) Push(frame domain.StackFrame) {
	t.mu.Lock()
	t.current = t.current.Push(frame)
	var (
		u       domain.Update
		emitted bool
	)
	if t.current.IsNode() {
		u = t.emit(t.current, domain.Running)
		emitted = true
	}
	t.mu.Unlock()

	if emitted && t.hooks.OnUpdate != nil {
		t.hooks.OnUpdate(context.Background(), u)
	}
}

// PopSuccess finishes the current frame as Successful.
func (t *Thread) PopSuccess() {
	t.pop(domain.Successful)
}

// PopFailed finishes the current frame as Failed.
func (t *Thread) PopFailed() {
	t.pop(domain.Failed)
}

// PopPredicateSuccess finishes the current predicate with its result.
func (t *Thread) PopPredicateSuccess(result bool) {
	t.pop(domain.PredicateSuccessful(result))
}

// pop panics when the push/pop discipline is broken: the producer is at fault
// and the trace cannot be trusted any more.
func (t *Thread) pop(state domain.RunState) {
	u, emitted, err := t.finish(state)
	if err != nil {
		t.logger.Error("Trace invariant violated", "err", err)
		panic(err)
	}
	if emitted && t.hooks.OnUpdate != nil {
		t.hooks.OnUpdate(context.Background(), u)
	}
}

func (t *Thread) finish(state domain.RunState) (domain.Update, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.current
	if current.IsEmpty() {
		return domain.Update{}, false, fmt.Errorf("%w (finishing as %s)", domain.ErrEmptyStack, state)
	}
	if t.last != nil && !t.last.Less(current) {
		return domain.Update{}, false, fmt.Errorf("%w: %q after %q", domain.ErrOutOfOrder, current, *t.last)
	}

	t.current = current.Pop()
	if !current.IsNode() {
		return domain.Update{}, false, nil
	}

	entry := domain.Entry{Stack: current, State: state}
	if t.informative(state) {
		t.history = append(t.history, entry)
	}
	if parent, ok := current.Parent(); ok {
		t.children[parent.Key()] = append(t.children[parent.Key()], entry)
	}
	t.last = &current
	return t.emit(current, state), true, nil
}

// informative reports whether an entry with state carries information its
// predecessor does not. Must be called with t.mu held.
func (t *Thread) informative(state domain.RunState) bool {
	if !t.compaction || len(t.history) == 0 {
		return true
	}
	prev := t.history[len(t.history)-1].State
	// The entry after a false predicate closes the skipped region.
	if prev.SkipsChildren() {
		return true
	}
	return prev != state
}

// emit must be called with t.mu held for writing.
func (t *Thread) emit(stack domain.CallStack, state domain.RunState) domain.Update {
	t.seq++
	u := domain.Update{Seq: t.seq, Stack: stack, State: state}
	t.feed.publish(u)
	return u
}

// RunState answers a point query. It never fails: unknown stacks are NotRun.
func (t *Thread) RunState(stack domain.CallStack) domain.RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current.StartsWith(stack) {
		return domain.Running
	}

	i, found := t.search(stack)
	if found {
		return t.history[i].State
	}
	if i == 0 {
		return domain.NotRun
	}

	prev := t.history[i-1].State
	if prev.SkipsChildren() {
		return domain.NotRun
	}
	return prev
}

// search must be called with t.mu held.
func (t *Thread) search(stack domain.CallStack) (int, bool) {
	return slices.BinarySearchFunc(t.history, stack, func(e domain.Entry, target domain.CallStack) int {
		return e.Stack.Compare(target)
	})
}

// Current returns the live call stack.
func (t *Thread) Current() domain.CallStack {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Seq is the sequence number of the last emitted update.
func (t *Thread) Seq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seq
}

// Snapshot copies the live stack and the stored history.
func (t *Thread) Snapshot() domain.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.Snapshot{
		Seq:     t.seq,
		Current: t.current,
		History: slices.Clone(t.history),
	}
}

// Backfill returns the already-known state below node, and the sequence
// number the result reflects:
//   - every running node between the live stack and node (exclusive),
//   - every finished direct child of node, including compacted ones.
func (t *Thread) Backfill(node domain.CallStack) ([]domain.Update, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var updates []domain.Update

	if t.current.StartsWith(node) {
		running := t.current.NearestNode()
		for running.Len() > node.Len() {
			updates = append(updates, domain.Update{Seq: t.seq, Stack: running, State: domain.Running})
			running, _ = running.Parent()
		}
	}

	for _, entry := range t.children[node.Key()] {
		updates = append(updates, domain.Update{Seq: t.seq, Stack: entry.Stack, State: entry.State})
	}

	return updates, t.seq
}
