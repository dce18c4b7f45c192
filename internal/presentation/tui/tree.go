package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/muesli/termenv"
)

var stateColors = map[domain.RunStateKind]string{
	domain.KindNotRun:              "#6b7280",
	domain.KindRunning:             "#eab308",
	domain.KindSuccessful:          "#22c55e",
	domain.KindFailed:              "#ef4444",
	domain.KindPredicateSuccessful: "#38bdf8",
}

func styleState(p termenv.Profile, s domain.RunState) termenv.Style {
	color := stateColors[s.Kind()]
	if s.Kind() == domain.KindPredicateSuccessful && !s.Result() {
		color = "#9ca3af"
	}
	return p.String(s.String()).Foreground(p.Color(color))
}

// UpdateLine formats one update for a live log.
func UpdateLine(p termenv.Profile, u domain.Update) string {
	return fmt.Sprintf("#%-4d %s %s", u.Seq, displayStack(u.Stack), styleState(p, u.State))
}

func displayStack(s domain.CallStack) string {
	if s.IsEmpty() {
		return "/"
	}
	return s.String()
}

func depth(s domain.CallStack) int {
	d := 0
	for parent, ok := s.Parent(); ok && !parent.IsEmpty(); parent, ok = parent.Parent() {
		d++
	}
	return d
}

// RenderTree draws the known nodes of a thread as an indented tree, each
// labelled with the frames leading to it from its parent. Entries dropped by
// history compaction are not shown.
func RenderTree(p termenv.Profile, snap domain.Snapshot) string {
	var sb strings.Builder
	for _, e := range snap.Nodes() {
		parent, _ := e.Stack.Parent()
		frames := e.Stack.Frames()[parent.Len():]

		labels := make([]string, len(frames))
		for i, f := range frames {
			labels[i] = f.String()
		}

		fmt.Fprintf(&sb, "%s%s %s\n",
			strings.Repeat("  ", depth(e.Stack)),
			strings.Join(labels, "/"),
			styleState(p, e.State))
	}
	return sb.String()
}

// Report builds a markdown summary of a finished thread.
func Report(title string, snap domain.Snapshot) string {
	entries := snap.Nodes()

	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.State.String()]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "%d updates, %d nodes recorded.\n\n", snap.Seq, len(entries))

	sb.WriteString("| State | Nodes |\n|---|---|\n")
	for _, k := range kinds {
		fmt.Fprintf(&sb, "| %s | %d |\n", k, counts[k])
	}

	sb.WriteString("\n## Nodes\n\n| Stack | State |\n|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "| `%s` | %s |\n", displayStack(e.Stack), e.State)
	}
	return sb.String()
}
