package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/calltrace/pkg/domain"
)

var stateClasses = []struct {
	name  string
	style string
}{
	{"running", "fill:#fef9c3,stroke:#ca8a04,stroke-width:3px,color:#000"},
	{"successful", "fill:#dcfce7,stroke:#16a34a,color:#000"},
	{"failed", "fill:#fee2e2,stroke:#dc2626,color:#000"},
	{"pred_true", "fill:#e0f2fe,stroke:#0284c7,color:#000"},
	{"pred_false", "fill:#f3f4f6,stroke:#9ca3af,stroke-dasharray:4,color:#000"},
}

func className(s domain.RunState) string {
	switch s.Kind() {
	case domain.KindRunning:
		return "running"
	case domain.KindSuccessful:
		return "successful"
	case domain.KindFailed:
		return "failed"
	case domain.KindPredicateSuccessful:
		if s.Result() {
			return "pred_true"
		}
		return "pred_false"
	default:
		return ""
	}
}

// GenerateMermaid produces a Mermaid flowchart of a thread's execution tree.
// It applies semantic styling:
// - Root: ((Circle))
// - Call: [Rectangle]
// - Predicate: {Rhombus}
// Edges carry the statement, argument and body frames between a node and its
// parent, and every node is classed by its run state.
func GenerateMermaid(snap domain.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    n0((\"root\"))\n")

	ids := map[string]string{domain.Root().Key(): "n0"}
	var classes []string

	for i, e := range snap.Nodes() {
		id := fmt.Sprintf("n%d", i+1)
		ids[e.Stack.Key()] = id

		top, _ := e.Stack.Top()
		if top.Kind() == domain.FrameCall {
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", id, escape(string(top.Function())))
		} else {
			fmt.Fprintf(&sb, "    %s{\"%s\"}\n", id, top.String())
		}

		// Compacted entries are missing: attach to the nearest drawn ancestor.
		parent, _ := e.Stack.Parent()
		for _, ok := ids[parent.Key()]; !ok; _, ok = ids[parent.Key()] {
			parent, _ = parent.Parent()
		}

		frames := e.Stack.Frames()[parent.Len() : e.Stack.Len()-1]
		if len(frames) == 0 {
			fmt.Fprintf(&sb, "    %s --> %s\n", ids[parent.Key()], id)
		} else {
			labels := make([]string, len(frames))
			for j, f := range frames {
				labels[j] = f.String()
			}
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", ids[parent.Key()], strings.Join(labels, "/"), id)
		}

		if c := className(e.State); c != "" {
			classes = append(classes, fmt.Sprintf("    class %s %s;\n", id, c))
		}
	}

	sb.WriteString("\n    %% Run State Styles\n")
	for _, c := range stateClasses {
		fmt.Fprintf(&sb, "    classDef %s %s;\n", c.name, c.style)
	}
	for _, c := range classes {
		sb.WriteString(c)
	}
	return sb.String()
}

// escape replaces double quotes, which end a Mermaid label.
func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
