package domain

import "slices"

// Entry is one record of the append-only history: a finished node and its outcome.
type Entry struct {
	Stack CallStack `json:"stack"`
	State RunState  `json:"state"`
}

// Update is one event on the raw update stream, or one backfilled child state.
type Update struct {
	// Seq is the per-thread emission number. Backfilled updates carry the
	// sequence number of the snapshot they were read from.
	Seq   uint64    `json:"seq"`
	Stack CallStack `json:"stack"`
	State RunState  `json:"state"`
}

// Snapshot is a consistent copy of a thread's state.
type Snapshot struct {
	Seq     uint64    `json:"seq"`
	Current CallStack `json:"current"`
	History []Entry   `json:"history"`
}

// Nodes lists every known node of s in pre-order (parents before children):
// the running nodes of the live stack and the stored history entries.
func (s Snapshot) Nodes() []Entry {
	all := slices.Clone(s.History)
	for running := s.Current.NearestNode(); !running.IsEmpty(); running, _ = running.Parent() {
		all = append(all, Entry{Stack: running, State: Running})
	}

	slices.SortFunc(all, func(a, b Entry) int {
		return preorder(a.Stack, b.Stack)
	})
	return all
}

// preorder is the display order of stacks: frame by frame, ancestors first.
func preorder(a, b CallStack) int {
	for i := 0; i < min(len(a.frames), len(b.frames)); i++ {
		if c := a.frames[i].Compare(b.frames[i]); c != 0 {
			return c
		}
	}
	return len(a.frames) - len(b.frames)
}
