package domain

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FunctionID identifies a function in the traced program.
// It is opaque to the tracker; only equality and ordering are used.
type FunctionID string

// FrameKind is the variant tag of a StackFrame.
// The numeric order of the kinds is part of the ordering contract:
// later-executing frames at the same level must compare greater.
type FrameKind uint8

const (
	FrameStatement FrameKind = iota
	FrameArgument
	FrameCall
	FrameNestedBlock
)

func (k FrameKind) String() string {
	switch k {
	case FrameStatement:
		return "statement"
	case FrameArgument:
		return "argument"
	case FrameCall:
		return "call"
	case FrameNestedBlock:
		return "nested_block"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// NestedBlock distinguishes the predicate of a conditional branch from its body.
type NestedBlock uint8

const (
	BlockPredicate NestedBlock = iota
	BlockBody
)

func (b NestedBlock) String() string {
	if b == BlockBody {
		return "body"
	}
	return "predicate"
}

// StackFrame is one level of nesting in the execution tree.
// Use the constructors; the zero value is Statement(0).
type StackFrame struct {
	kind     FrameKind
	index    uint
	function FunctionID
	block    NestedBlock
}

// Statement is the Nth statement in a block.
func Statement(index uint) StackFrame {
	return StackFrame{kind: FrameStatement, index: index}
}

// Argument is the Nth argument expression of a call.
func Argument(index uint) StackFrame {
	return StackFrame{kind: FrameArgument, index: index}
}

// Call is the entry into a function.
func Call(id FunctionID) StackFrame {
	return StackFrame{kind: FrameCall, function: id}
}

// Nested is the predicate or body of the Nth conditional branch in a block.
func Nested(index uint, block NestedBlock) StackFrame {
	return StackFrame{kind: FrameNestedBlock, index: index, block: block}
}

// Kind returns the variant tag.
func (f StackFrame) Kind() FrameKind { return f.kind }

// Index is the payload of Statement, Argument and NestedBlock frames.
func (f StackFrame) Index() uint { return f.index }

// Function is the payload of Call frames.
func (f StackFrame) Function() FunctionID { return f.function }

// Block is the discriminant of NestedBlock frames.
func (f StackFrame) Block() NestedBlock { return f.block }

// Compare orders frames by variant first, then by payload.
func (f StackFrame) Compare(o StackFrame) int {
	if c := cmp.Compare(f.kind, o.kind); c != 0 {
		return c
	}
	switch f.kind {
	case FrameCall:
		return cmp.Compare(f.function, o.function)
	case FrameNestedBlock:
		if c := cmp.Compare(f.index, o.index); c != 0 {
			return c
		}
		return cmp.Compare(f.block, o.block)
	default:
		return cmp.Compare(f.index, o.index)
	}
}

// String returns the text form used in URLs and on the command line.
func (f StackFrame) String() string {
	switch f.kind {
	case FrameArgument:
		return "arg:" + strconv.FormatUint(uint64(f.index), 10)
	case FrameCall:
		return "call:" + string(f.function)
	case FrameNestedBlock:
		if f.block == BlockBody {
			return "body:" + strconv.FormatUint(uint64(f.index), 10)
		}
		return "pred:" + strconv.FormatUint(uint64(f.index), 10)
	default:
		return "stmt:" + strconv.FormatUint(uint64(f.index), 10)
	}
}

// ParseFrame parses the text form produced by StackFrame.String.
func ParseFrame(s string) (StackFrame, error) {
	tag, payload, ok := strings.Cut(s, ":")
	if !ok || payload == "" {
		return StackFrame{}, fmt.Errorf("%w: frame %q", ErrInvalidStack, s)
	}

	if tag == "call" {
		return Call(FunctionID(payload)), nil
	}

	index, err := strconv.ParseUint(payload, 10, 0)
	if err != nil {
		return StackFrame{}, fmt.Errorf("%w: frame %q: %v", ErrInvalidStack, s, err)
	}

	switch tag {
	case "stmt":
		return Statement(uint(index)), nil
	case "arg":
		return Argument(uint(index)), nil
	case "pred":
		return Nested(uint(index), BlockPredicate), nil
	case "body":
		return Nested(uint(index), BlockBody), nil
	default:
		return StackFrame{}, fmt.Errorf("%w: unknown frame tag %q", ErrInvalidStack, tag)
	}
}

type frameJSON struct {
	Kind     string     `json:"kind"`
	Index    *uint      `json:"index,omitempty"`
	Function FunctionID `json:"function,omitempty"`
	Block    string     `json:"block,omitempty"`
}

func (f StackFrame) MarshalJSON() ([]byte, error) {
	out := frameJSON{Kind: f.kind.String()}
	switch f.kind {
	case FrameCall:
		out.Function = f.function
	case FrameNestedBlock:
		out.Index = &f.index
		out.Block = f.block.String()
	default:
		out.Index = &f.index
	}
	return json.Marshal(out)
}

func (f *StackFrame) UnmarshalJSON(data []byte) error {
	var in frameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	index := uint(0)
	if in.Index != nil {
		index = *in.Index
	}

	switch in.Kind {
	case "statement":
		*f = Statement(index)
	case "argument":
		*f = Argument(index)
	case "call":
		if in.Function == "" {
			return fmt.Errorf("%w: call frame without function", ErrInvalidStack)
		}
		*f = Call(in.Function)
	case "nested_block":
		switch in.Block {
		case "predicate":
			*f = Nested(index, BlockPredicate)
		case "body":
			*f = Nested(index, BlockBody)
		default:
			return fmt.Errorf("%w: unknown block %q", ErrInvalidStack, in.Block)
		}
	default:
		return fmt.Errorf("%w: unknown frame kind %q", ErrInvalidStack, in.Kind)
	}
	return nil
}
