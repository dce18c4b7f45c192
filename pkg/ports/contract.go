package ports

import (
	"testing"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTracerContract runs a suite of tests to verify that a TracedThread
// implementation adheres to the run-state semantics. newThread must return a
// fresh, empty thread on every call.
func RunTracerContract(t *testing.T, newThread func() TracedThread) {
	t.Run("Running then Successful", func(t *testing.T) {
		th := newThread()
		f1 := domain.NewCallStack(domain.Call("f1"))

		th.Push(domain.Call("f1"))
		assert.Equal(t, domain.Running, th.RunState(f1))

		th.PopSuccess()
		assert.Equal(t, domain.Successful, th.RunState(f1))
		assert.Equal(t, domain.NotRun, th.RunState(f1.Push(domain.Statement(0)).Push(domain.Call("f2"))))
	})

	t.Run("False predicate skips body", func(t *testing.T) {
		th := newThread()

		th.Push(domain.Statement(0))
		th.Push(domain.Nested(0, domain.BlockPredicate))
		th.PopPredicateSuccess(false)
		th.PopSuccess()

		body := domain.NewCallStack(domain.Statement(0), domain.Nested(0, domain.BlockBody), domain.Statement(0), domain.Call("g"))
		assert.Equal(t, domain.NotRun, th.RunState(body))
	})

	t.Run("Prefix of current is Running", func(t *testing.T) {
		th := newThread()

		th.Push(domain.Call("main"))
		th.Push(domain.Statement(2))
		th.Push(domain.Call("f"))

		assert.Equal(t, domain.Running, th.RunState(domain.Root()))
		assert.Equal(t, domain.Running, th.RunState(domain.NewCallStack(domain.Call("main"))))
		assert.Equal(t, domain.Running, th.RunState(domain.NewCallStack(domain.Call("main"), domain.Statement(2))))

		th.PopSuccess()
		th.PopSuccess()
		th.PopSuccess()
	})

	t.Run("History is strictly ordered", func(t *testing.T) {
		th := newThread()

		th.Push(domain.Call("main"))
		for i := uint(0); i < 4; i++ {
			th.Push(domain.Statement(i))
			th.Push(domain.Call("f"))
			if i%2 == 0 {
				th.PopSuccess()
				th.PopSuccess()
			} else {
				th.PopFailed()
				th.PopFailed()
			}
		}
		th.PopFailed()

		history := th.Snapshot().History
		require.NotEmpty(t, history)
		for i := 1; i < len(history); i++ {
			assert.True(t, history[i-1].Stack.Less(history[i].Stack), "%s before %s", history[i-1].Stack, history[i].Stack)
		}
	})

	t.Run("Pop on empty stack is fatal", func(t *testing.T) {
		th := newThread()
		assert.Panics(t, th.PopSuccess)
	})
}
