package domain

import (
	"encoding/json"
	"fmt"
)

// RunStateKind is the variant tag of a RunState.
type RunStateKind uint8

const (
	KindNotRun RunStateKind = iota
	KindRunning
	KindSuccessful
	KindPredicateSuccessful
	KindFailed
)

func (k RunStateKind) String() string {
	switch k {
	case KindNotRun:
		return "not_run"
	case KindRunning:
		return "running"
	case KindSuccessful:
		return "successful"
	case KindPredicateSuccessful:
		return "predicate_successful"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("RunStateKind(%d)", uint8(k))
	}
}

// RunState is the execution outcome of a node at a point in time.
// RunState values are comparable with ==.
type RunState struct {
	kind   RunStateKind
	result bool
}

var (
	NotRun     = RunState{kind: KindNotRun}
	Running    = RunState{kind: KindRunning}
	Successful = RunState{kind: KindSuccessful}
	Failed     = RunState{kind: KindFailed}
)

// PredicateSuccessful is the outcome of a branch predicate. A false result
// marks the start of a region whose guarded nodes did not run.
func PredicateSuccessful(result bool) RunState {
	return RunState{kind: KindPredicateSuccessful, result: result}
}

func (r RunState) Kind() RunStateKind { return r.kind }

// Result is the predicate value. Only meaningful for KindPredicateSuccessful.
func (r RunState) Result() bool { return r.result }

// SkipsChildren reports whether r is PredicateSuccessful(false).
func (r RunState) SkipsChildren() bool {
	return r.kind == KindPredicateSuccessful && !r.result
}

// IsTerminal reports whether r is a final outcome.
func (r RunState) IsTerminal() bool {
	switch r.kind {
	case KindSuccessful, KindPredicateSuccessful, KindFailed:
		return true
	default:
		return false
	}
}

func (r RunState) String() string {
	if r.kind == KindPredicateSuccessful {
		return fmt.Sprintf("predicate_successful(%t)", r.result)
	}
	return r.kind.String()
}

type runStateJSON struct {
	Kind   string `json:"kind"`
	Result *bool  `json:"result,omitempty"`
}

func (r RunState) MarshalJSON() ([]byte, error) {
	out := runStateJSON{Kind: r.kind.String()}
	if r.kind == KindPredicateSuccessful {
		out.Result = &r.result
	}
	return json.Marshal(out)
}

func (r *RunState) UnmarshalJSON(data []byte) error {
	var in runStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	switch in.Kind {
	case "not_run":
		*r = NotRun
	case "running":
		*r = Running
	case "successful":
		*r = Successful
	case "failed":
		*r = Failed
	case "predicate_successful":
		if in.Result == nil {
			return fmt.Errorf("predicate_successful without result")
		}
		*r = PredicateSuccessful(*in.Result)
	default:
		return fmt.Errorf("unknown run state %q", in.Kind)
	}
	return nil
}
