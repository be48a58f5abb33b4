package reverse

import "github.com/tetratelabs/wasmgrad/internal/wasm"

// basicBlock accumulates one basic block's worth of emitted code for both
// passes. The forward pass's bytes are simple append-only, executed in
// source order like any ordinary function body. The backward pass uses the
// double-reverse trick: each source instruction's backward emission is kept
// as its own chunk, appended to bwdChunks in forward-scan order, then
// reversed when the block is finalized — within a block, the last
// instruction executed forward is the first whose adjoint runs backward.
// The containing function then reverses the *blocks* themselves too (via
// the dispatch loop's basic-block index ordering), so the backward pass as
// a whole replays the forward pass's data and control flow in exact
// reverse.
type basicBlock struct {
	index int

	forward []byte

	bwdChunks [][]byte

	// stackHeightAtEntry/stackHeightAtExit record the operand stack depth
	// (spec's operand_stack_height) at the block's boundaries.
	stackHeightAtEntry int
	stackHeightAtExit  int

	// entryFloats/exitFloats are the float-typed subsequence of the operand
	// stack at this block's boundaries, in stack order. The builder moves
	// these between the stack-locals region and the real Wasm operand stack
	// at each block's backward entry/exit, since the dispatch loop re-enters
	// blocks out of their original structured nesting.
	entryFloats []wasm.ValueType
	exitFloats  []wasm.ValueType

	// terminator records how control leaves this block in the forward
	// pass. The builder does not read it: dispatch uses only the block
	// indices popped off the control-flow tape.
	terminator terminatorKind
	brDepth    wasm.Index   // for termBr/termBrIf
	brTable    []wasm.Index // for termBrTable
	brDefault  wasm.Index
}

type terminatorKind int

const (
	termFallthrough terminatorKind = iota
	termBr
	termBrIf
	termBrTable
	termReturn
	termUnreachable
)

// appendBackward records one instruction's backward emission as its own
// chunk; see the type doc for why chunks (not raw bytes) are kept here.
func (b *basicBlock) appendBackward(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.bwdChunks = append(b.bwdChunks, chunk)
}

// finalizeBackward concatenates this block's backward chunks in reverse
// scan order, completing the first half of the double-reverse trick.
func (b *basicBlock) finalizeBackward() []byte {
	var out []byte
	for i := len(b.bwdChunks) - 1; i >= 0; i-- {
		out = append(out, b.bwdChunks[i]...)
	}
	return out
}
