package program

import (
	"slices"
	"time"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Library is a set of functions with an entry point.
type Library struct {
	Main      domain.FunctionID
	Functions map[domain.FunctionID]*Function
}

// Lookup returns the function with the given id.
func (l *Library) Lookup(id domain.FunctionID) (*Function, bool) {
	fn, ok := l.Functions[id]
	return fn, ok
}

// Names returns the function ids in sorted order.
func (l *Library) Names() []domain.FunctionID {
	names := make([]domain.FunctionID, 0, len(l.Functions))
	for id := range l.Functions {
		names = append(names, id)
	}
	slices.Sort(names)
	return names
}

// Function is either interpreted (Body) or native. A native function does not
// run statements: it sleeps for Delay, then returns Result or fails.
type Function struct {
	ID     domain.FunctionID
	Body   []Statement
	Native bool
	Result *bool
	Fail   bool
	Delay  time.Duration
}

// ReturnValue is the value a native function returns on success.
func (f *Function) ReturnValue() bool {
	if f.Result == nil {
		return true
	}
	return *f.Result
}

// Statement is one of Pass, Call or If.
type Statement interface {
	isStatement()
}

// Pass does nothing.
type Pass struct{}

// Call invokes Function after evaluating Args left to right.
type Call struct {
	Function domain.FunctionID
	Args     []Call
}

// If runs the body of the first branch whose condition returns true, or Else.
type If struct {
	Branches []Branch
	Else     []Statement
}

type Branch struct {
	Condition Call
	Body      []Statement
}

func (Pass) isStatement() {}
func (Call) isStatement() {}
func (If) isStatement()   {}
