package domain

import (
	"encoding/json"
	"slices"
	"strings"
)

// CallStack is the path from the root of the execution tree to a position in it.
//
// CallStack values are immutable once shared: every method that extends or
// shortens a stack returns a new one.
type CallStack struct {
	frames []StackFrame
}

// NewCallStack builds a stack from root to tip.
func NewCallStack(frames ...StackFrame) CallStack {
	return stackOf(slices.Clone(frames))
}

// stackOf keeps the root canonical (nil frames) so that stacks compare equal
// under reflection as well as under Equal.
func stackOf(frames []StackFrame) CallStack {
	if len(frames) == 0 {
		return CallStack{}
	}
	return CallStack{frames: slices.Clip(frames)}
}

// Root is the empty stack.
func Root() CallStack {
	return CallStack{}
}

// Len is the number of frames.
func (s CallStack) Len() int { return len(s.frames) }

// IsEmpty reports whether s is the root.
func (s CallStack) IsEmpty() bool { return len(s.frames) == 0 }

// Frames returns a copy of the frames, root first.
func (s CallStack) Frames() []StackFrame { return slices.Clone(s.frames) }

// Top returns the last frame, if any.
func (s CallStack) Top() (StackFrame, bool) {
	if len(s.frames) == 0 {
		return StackFrame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Equal is structural equality.
func (s CallStack) Equal(o CallStack) bool {
	return slices.Equal(s.frames, o.frames)
}

// Compare compares frame by frame. When one stack is a strict prefix of the
// other, the shorter (ancestor) stack is the greater one, so a finished node
// always sorts after everything that finished inside it.
func (s CallStack) Compare(o CallStack) int {
	for i := 0; i < len(s.frames) && i < len(o.frames); i++ {
		if c := s.frames[i].Compare(o.frames[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(s.frames) > len(o.frames):
		return -1
	case len(s.frames) < len(o.frames):
		return 1
	default:
		return 0
	}
}

// Less reports whether s sorts strictly before o.
func (s CallStack) Less(o CallStack) bool {
	return s.Compare(o) < 0
}

// StartsWith reports whether prefix is a structural prefix of s (or equal to it).
func (s CallStack) StartsWith(prefix CallStack) bool {
	if len(prefix.frames) > len(s.frames) {
		return false
	}
	return slices.Equal(s.frames[:len(prefix.frames)], prefix.frames)
}

// IsNode reports whether s is a trace node: the root, a call, or a branch
// predicate. Statement, argument and body frames are structural waypoints.
func (s CallStack) IsNode() bool {
	top, ok := s.Top()
	if !ok {
		return true
	}
	switch top.Kind() {
	case FrameCall:
		return true
	case FrameNestedBlock:
		return top.Block() == BlockPredicate
	default:
		return false
	}
}

// Parent returns the nearest enclosing node. The root has no parent.
func (s CallStack) Parent() (CallStack, bool) {
	if len(s.frames) == 0 {
		return CallStack{}, false
	}
	parent := CallStack{frames: s.frames[:len(s.frames)-1]}
	for !parent.IsNode() {
		parent.frames = parent.frames[:len(parent.frames)-1]
	}
	return stackOf(parent.frames), true
}

// NearestNode returns s if it is a node, otherwise its parent.
func (s CallStack) NearestNode() CallStack {
	if s.IsNode() {
		return s
	}
	parent, _ := s.Parent()
	return parent
}

// Push returns a new stack with frame appended. The receiver is unchanged.
func (s CallStack) Push(frame StackFrame) CallStack {
	frames := make([]StackFrame, len(s.frames), len(s.frames)+1)
	copy(frames, s.frames)
	return CallStack{frames: append(frames, frame)}
}

// Pop returns a new stack without the last frame. Popping the root yields the root.
func (s CallStack) Pop() CallStack {
	if len(s.frames) == 0 {
		return s
	}
	return stackOf(s.frames[:len(s.frames)-1])
}

// Key is a canonical string usable as a map key.
func (s CallStack) Key() string {
	return s.String()
}

// String returns frames joined by "/", e.g. "stmt:0/call:main/pred:1".
// The root is the empty string.
func (s CallStack) String() string {
	parts := make([]string, len(s.frames))
	for i, f := range s.frames {
		parts[i] = f.String()
	}
	return strings.Join(parts, "/")
}

// ParseCallStack parses the text form produced by CallStack.String.
// Both "" and "/" denote the root.
func ParseCallStack(text string) (CallStack, error) {
	text = strings.Trim(strings.TrimSpace(text), "/")
	if text == "" {
		return Root(), nil
	}

	parts := strings.Split(text, "/")
	frames := make([]StackFrame, 0, len(parts))
	for _, part := range parts {
		f, err := ParseFrame(part)
		if err != nil {
			return CallStack{}, err
		}
		frames = append(frames, f)
	}
	return CallStack{frames: frames}, nil
}

func (s CallStack) MarshalJSON() ([]byte, error) {
	if s.frames == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.frames)
}

func (s *CallStack) UnmarshalJSON(data []byte) error {
	var frames []StackFrame
	if err := json.Unmarshal(data, &frames); err != nil {
		return err
	}
	*s = stackOf(frames)
	return nil
}
