package reverse

import (
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// buildForwardBody concatenates the function's basic blocks in their
// natural scan order. The forward pass keeps the original control-flow
// skeleton (its block/loop/if/br opcodes were copied through unchanged by
// the instruction transformer); what's new here is purely additive: each
// basic block already begins with its own "record my index" prologue,
// inserted by the transformer when it opened the block.
func buildForwardBody(fi *functionInfo) []byte {
	var body []byte
	for _, b := range fi.blocks {
		body = append(body, b.forward...)
	}
	return body
}

// buildBackwardBody synthesizes the reverse-function builder's dispatch
// loop (spec §4.E): a `loop` wrapping N nested `block`s (N = number of
// basic blocks), with a `br_table` in the innermost block keyed by the
// basic-block index most recently popped off the control-flow tape.
//
// Basic block 0 is always the function's entry block in forward scan
// order, so it's always the first index pushed onto the tape and therefore
// the last one popped during backward replay, regardless of which other
// blocks a given execution actually visited. Its code must be the one
// genuine "falls out of the dispatch loop into the epilogue, no loop-back"
// case: every other block's code, wherever it is reached from, must
// unconditionally loop back for another dispatch rather than fall through
// into whatever code happens to sit next in program order.
//
// A `br_table` label is a branch depth, and depth 0 always lands right
// after the innermost generated block (the one holding the br_table
// itself) closes — i.e. at the very first code position in program order.
// Since block 0 must be the *last* code position instead (nothing after it
// to loop back into), the dispatch value is mapped to depth (N-1-v) rather
// than depth v directly, and the per-block code is laid out in the matching
// reversed order: position i in program order holds block (N-1-i)'s code.
func buildBackwardBody(fi *functionInfo) []byte {
	n := len(fi.blocks)
	if n == 0 {
		return nil
	}

	labels := make([]wasm.Index, n)
	for v := range labels {
		labels[v] = wasm.Index(n - 1 - v)
	}

	var body []byte
	body = wasm.Loop(body)
	body = append(body, wasm.BlockTypeEmpty)
	for i := n - 1; i >= 1; i-- {
		body = wasm.Block(body)
		body = append(body, wasm.BlockTypeEmpty)
	}

	// Innermost block: pop the recorded index, dispatch.
	body = wasm.Block(body)
	body = append(body, wasm.BlockTypeEmpty)
	body = wasm.Call(body, HelperIndex("tape_i32_bwd"))
	body = wasm.BrTable(body, labels, labels[0])
	body = wasm.End(body) // closes the innermost wrapper

	for i := 0; i < n; i++ {
		b := fi.blocks[n-1-i]
		// Load this block's recorded exit values off the stack-locals region
		// onto the real operand stack before replaying its backward chunks,
		// then store whatever it hands to its predecessor back into the
		// stack-locals region afterward — the dispatch loop re-enters blocks
		// out of their structured nesting, so the real Wasm stack can't carry
		// these values the way ordinary nested control flow would.
		body = emitLoadFloats(body, b.exitFloats, fi.bwdStackF32Base, fi.bwdStackF64Base)
		body = append(body, b.finalizeBackward()...)
		body = emitStoreFloats(body, b.entryFloats, fi.bwdStackF32Base, fi.bwdStackF64Base)
		if i == n-1 {
			// This position now holds block 0: no loop-back, falls out of
			// the `loop` itself into the epilogue.
			continue
		}
		// Depth 0 here is the loop (we've just closed the next wrapper's
		// `end` already for i>0; for i==0 we are still inside every
		// enclosing block, so "br $dispatch" must skip exactly n-1-i block
		// ends plus land on the loop). Every block end closes one level, so
		// the loop is at depth (n-1-i) counted from here.
		body = wasm.Br(body, wasm.Index(n-1-i))
		if i < n-1 {
			body = wasm.End(body) // closes the next wrapper
		}
	}

	body = wasm.End(body) // closes loop
	return body
}

// emitLoadFloats pushes seq (a block's recorded live-float sequence, bottom
// to top) from the stack-locals region onto the real operand stack, in order.
func emitLoadFloats(body []byte, seq []wasm.ValueType, f32Base, f64Base wasm.Index) []byte {
	var f32n, f64n wasm.Index
	for _, t := range seq {
		if t == wasm.ValueTypeF32 {
			body = wasm.LocalGet(body, f32Base+f32n)
			f32n++
		} else {
			body = wasm.LocalGet(body, f64Base+f64n)
			f64n++
		}
	}
	return body
}

// emitStoreFloats pops seq (bottom to top) off the real operand stack back
// into the stack-locals region, highest element first since `local.set`
// consumes from the top down.
func emitStoreFloats(body []byte, seq []wasm.ValueType, f32Base, f64Base wasm.Index) []byte {
	var f32n, f64n wasm.Index
	for _, t := range seq {
		if t == wasm.ValueTypeF32 {
			f32n++
		} else {
			f64n++
		}
	}
	for i := len(seq) - 1; i >= 0; i-- {
		if seq[i] == wasm.ValueTypeF32 {
			f32n--
			body = wasm.LocalSet(body, f32Base+f32n)
		} else {
			f64n--
			body = wasm.LocalSet(body, f64Base+f64n)
		}
	}
	return body
}
