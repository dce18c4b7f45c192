package tui

import (
	"testing"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func sampleSnapshot() domain.Snapshot {
	th := trace.NewThread()
	th.Push(domain.Call("main"))
	th.Push(domain.Statement(0))
	th.Push(domain.Nested(0, domain.BlockPredicate))
	th.Push(domain.Call("ready"))
	th.PopSuccess()
	th.PopPredicateSuccess(true)
	th.Push(domain.Nested(0, domain.BlockBody))
	th.Push(domain.Statement(0))
	th.Push(domain.Call("launch"))
	th.PopFailed()
	th.PopFailed()
	th.PopFailed()
	th.PopSuccess()
	th.Push(domain.Statement(1))
	th.Push(domain.Call("report"))
	return th.Snapshot()
}

func TestRenderTree(t *testing.T) {
	got := RenderTree(termenv.Ascii, sampleSnapshot())

	want := "call:main running\n" +
		"  stmt:0/pred:0 predicate_successful(true)\n" +
		"    call:ready successful\n" +
		"  stmt:0/body:0/stmt:0/call:launch failed\n" +
		"  stmt:1/call:report running\n"
	assert.Equal(t, want, got)
}

func TestUpdateLine(t *testing.T) {
	u := domain.Update{Seq: 3, Stack: domain.NewCallStack(domain.Call("f")), State: domain.Failed}
	assert.Equal(t, "#3    call:f failed", UpdateLine(termenv.Ascii, u))
	assert.Equal(t, "#1    / running", UpdateLine(termenv.Ascii, domain.Update{Seq: 1, State: domain.Running}))
}

func TestReport(t *testing.T) {
	md := Report("demo", sampleSnapshot())

	assert.Contains(t, md, "# demo")
	assert.Contains(t, md, "| failed | 1 |")
	assert.Contains(t, md, "| running | 2 |")
	assert.Contains(t, md, "| `call:main/stmt:0/pred:0/call:ready` | successful |")
}
