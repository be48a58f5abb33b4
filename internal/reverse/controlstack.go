package reverse

import "github.com/tetratelabs/wasmgrad/internal/wasm"

// frameKind distinguishes the three structured control constructs a
// function body can nest (spec §4.D); call_indirect and the exception/table
// proposals are rejected upstream by the validator, so this is exhaustive.
type frameKind int

const (
	frameBlock frameKind = iota
	frameLoop
	frameIf
)

// controlFrame tracks one nesting level of structured control flow while
// the forward scan walks a function body. blockIndex identifies which
// basicBlock in functionInfo.blocks this frame's body instructions are
// being appended to; spec §4.E splits a new basic block at every branch
// target, so entering or exiting a frame generally means moving to a new
// or enclosing block.
type controlFrame struct {
	kind frameKind

	// stackHeightAtEntry is the operand-stack height (spec's
	// operand_stack_height) when this frame was entered, used to restore
	// the height on `else`.
	stackHeightAtEntry int

	// blockType describes the frame's declared param/result arity, needed
	// to know how many values an exiting branch leaves on the stack.
	blockType wasm.FunctionType

	// headBlock is the basic block entered when control flow reaches this
	// frame's start (the loop's own head, for `loop`; unused for block/if).
	headBlock int

	// hasElse records whether an `if` frame has seen its `else` opcode;
	// handleEnd does not consult it and synthesizes no else arm.
	hasElse bool
}

// controlStack mirrors spec §4.D's control_stack: a simple LIFO of frames,
// innermost last, used both to resolve branch-depth labels and to know how
// operand-stack height must be restored at `else`/`end`.
type controlStack struct {
	frames []controlFrame
}

func (c *controlStack) push(f controlFrame) { c.frames = append(c.frames, f) }

func (c *controlStack) pop() controlFrame {
	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	return f
}

func (c *controlStack) top() *controlFrame { return &c.frames[len(c.frames)-1] }

func (c *controlStack) depth() int { return len(c.frames) }

// at returns the frame `depth` levels up from the innermost (0 = innermost),
// matching a Wasm branch's label depth immediate.
func (c *controlStack) at(depth uint32) *controlFrame {
	return &c.frames[len(c.frames)-1-int(depth)]
}
