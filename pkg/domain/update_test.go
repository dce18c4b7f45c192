package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_Nodes(t *testing.T) {
	main := NewCallStack(Call("main"))
	pred := main.Push(Statement(0)).Push(Nested(0, BlockPredicate))
	cond := pred.Push(Call("cond"))
	later := main.Push(Statement(1)).Push(Call("later"))

	snap := Snapshot{
		Seq:     5,
		Current: later.Push(Statement(0)),
		History: []Entry{
			{Stack: cond, State: Successful},
			{Stack: pred, State: PredicateSuccessful(false)},
		},
	}

	assert.Equal(t, []Entry{
		{Stack: main, State: Running},
		{Stack: pred, State: PredicateSuccessful(false)},
		{Stack: cond, State: Successful},
		{Stack: later, State: Running},
	}, snap.Nodes())
}
