package driver_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/driver"
	"github.com/aretw0/calltrace/pkg/program"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs every tracer call.
type recorder struct {
	ops []string
}

func (r *recorder) Push(f domain.StackFrame) { r.ops = append(r.ops, "push "+f.String()) }
func (r *recorder) PopSuccess()              { r.ops = append(r.ops, "pop successful") }
func (r *recorder) PopFailed()               { r.ops = append(r.ops, "pop failed") }

func (r *recorder) PopPredicateSuccess(ok bool) {
	if ok {
		r.ops = append(r.ops, "pop true")
	} else {
		r.ops = append(r.ops, "pop false")
	}
}

func mustParse(t *testing.T, doc string) *program.Library {
	t.Helper()
	lib, err := program.Parse([]byte(doc), program.FormatYAML)
	require.NoError(t, err)
	return lib
}

func parse(t *testing.T, s string) domain.CallStack {
	t.Helper()
	cs, err := domain.ParseCallStack(s)
	require.NoError(t, err)
	return cs
}

func TestDriver_FrameSequence(t *testing.T) {
	lib := mustParse(t, `
main: main
functions:
  main:
    body:
      - call: f
        args:
          - call: g
      - if:
          - when: {call: nope}
            then: [{pass: true}]
          - when: {call: g}
            then: [{pass: true}]
  f: {native: true}
  g: {native: true}
  nope: {native: true, result: false}
`)

	rec := &recorder{}
	require.NoError(t, driver.New(lib).Run(context.Background(), rec))

	assert.Equal(t, []string{
		"push call:main",
		"push stmt:0",
		"push arg:0",
		"push call:g",
		"pop successful",
		"pop successful",
		"push call:f",
		"pop successful",
		"pop successful",
		"push stmt:1",
		"push pred:0",
		"push call:nope",
		"pop successful",
		"pop false",
		"push pred:1",
		"push call:g",
		"pop successful",
		"pop true",
		"push body:1",
		"push stmt:0",
		"pop successful",
		"pop successful",
		"pop successful",
		"pop successful",
	}, rec.ops)
}

func TestDriver_RunStates(t *testing.T) {
	lib := mustParse(t, `
main: main
functions:
  main:
    body:
      - call: greet
        args:
          - call: name
      - if:
          - when: {call: ready}
            then:
              - call: launch
        else:
          - pass: true
  greet:
    body:
      - pass: true
  name: {native: true}
  ready: {native: true, result: false}
  launch: {native: true}
`)

	th := trace.NewThread()
	require.NoError(t, driver.New(lib).Run(context.Background(), th))

	assert.True(t, th.Current().IsEmpty())
	assert.Equal(t, domain.Successful, th.RunState(parse(t, "call:main")))
	assert.Equal(t, domain.Successful, th.RunState(parse(t, "call:main/stmt:0/arg:0/call:name")))
	assert.Equal(t, domain.Successful, th.RunState(parse(t, "call:main/stmt:0/call:greet")))
	assert.Equal(t, domain.Successful, th.RunState(parse(t, "call:main/stmt:1/pred:0/call:ready")))
	assert.Equal(t, domain.PredicateSuccessful(false), th.RunState(parse(t, "call:main/stmt:1/pred:0")))
	assert.Equal(t, domain.NotRun, th.RunState(parse(t, "call:main/stmt:1/body:0/stmt:0/call:launch")))
}

func TestDriver_FailurePropagates(t *testing.T) {
	lib := mustParse(t, `
main: main
functions:
  main:
    body:
      - call: step
      - call: never
  step:
    body:
      - call: boom
  boom: {native: true, fail: true}
  never: {native: true}
`)

	th := trace.NewThread()
	err := driver.New(lib).Run(context.Background(), th)
	require.ErrorIs(t, err, driver.ErrFunctionFailed)

	assert.True(t, th.Current().IsEmpty())
	assert.Equal(t, domain.Failed, th.RunState(parse(t, "call:main/stmt:0/call:step/stmt:0/call:boom")))
	assert.Equal(t, domain.Failed, th.RunState(parse(t, "call:main/stmt:0/call:step")))
	assert.Equal(t, domain.Failed, th.RunState(parse(t, "call:main")))

	var calls []string
	for _, e := range th.Snapshot().History {
		calls = append(calls, e.Stack.String())
	}
	assert.NotContains(t, calls, "call:main/stmt:1/call:never")
}

func TestDriver_CancelUnwinds(t *testing.T) {
	lib := mustParse(t, `
main: main
functions:
  main:
    body:
      - call: slow
  slow: {native: true, delay: 1h}
`)

	th := trace.NewThread()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- driver.New(lib).Run(ctx, th) }()

	slow := parse(t, "call:main/stmt:0/call:slow")
	assert.Eventually(t, func() bool { return th.RunState(slow) == domain.Running }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
	assert.True(t, th.Current().IsEmpty())
	assert.Equal(t, domain.Failed, th.RunState(slow))
}
