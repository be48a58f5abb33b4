package reverse

import "github.com/tetratelabs/wasmgrad/internal/wasm"

// functionInfo holds the per-function state the transformer accumulates
// while scanning one original function's body (spec §4.D), feeding the
// reverse-function builder (spec §4.E) once the scan is complete.
type functionInfo struct {
	index wasm.Index // original (pre-doubling) function index

	fwdType wasm.FunctionType // identical to the original type
	bwdType wasm.FunctionType // fwdType.BackwardType()

	locals *wasm.LocalMap // maps original param+local indices to backward slots

	// fwdScratch/bwdScratch are extra locals appended after the original
	// params/locals in each respective function, used as working space by
	// the instruction transformer (e.g. to tee a value before both using
	// it and pushing it to a tape, or to duplicate/negate an adjoint for
	// f32.add/f32.sub).
	fwdScratchI32, fwdScratchF32, fwdScratchF64 wasm.Index
	bwdScratchI32, bwdScratchF32, bwdScratchF64 wasm.Index

	// bwdStackF32Base/bwdStackF64Base address the stack-locals region (spec
	// §4.E): per-type locals that ferry float operand-stack values living
	// across a basic-block boundary, since the backward dispatch loop
	// re-enters blocks out of their original structured nesting and can't
	// rely on the real Wasm operand stack to carry them the way the forward
	// pass's ordinary nested control flow does. Sized to maxStackF32/F64,
	// the largest number of live floats of each type ever seen at any block
	// boundary; assigned once scanning finishes (allocateStackLocals).
	bwdStackF32Base, bwdStackF64Base wasm.Index
	maxStackF32, maxStackF64         wasm.Index

	blocks []*basicBlock

	// operandTypes mirrors spec's operand_stack: the value type of each
	// value currently logically on the forward operand stack, used to
	// derive the live float sequence carried across each basic-block
	// boundary (liveFloatSequence) and the stack height at `else`.
	operandTypes []wasm.ValueType

	control controlStack
}

func newFunctionInfo(index wasm.Index, ft wasm.FunctionType, locals *wasm.LocalMap) *functionInfo {
	fi := &functionInfo{
		index:   index,
		fwdType: ft,
		bwdType: ft.BackwardType(),
		locals:  locals,
	}
	fwdLocalCount := locals.CountKeys() // params plus declared locals
	fi.fwdScratchI32 = fwdLocalCount
	fi.fwdScratchF32 = fwdLocalCount + 1
	fi.fwdScratchF64 = fwdLocalCount + 2

	// bwdLocalCount+0 is the basic-block dispatch scratch reserved by
	// bwdLocalTypes; the three fixed scratch locals follow it.
	bwdLocalCount := wasm.Index(len(fi.bwdType.Params)) + locals.CountVals()
	fi.bwdScratchI32 = bwdLocalCount + 1
	fi.bwdScratchF32 = bwdLocalCount + 2
	fi.bwdScratchF64 = bwdLocalCount + 3

	fi.newBlock()
	return fi
}

// liveFloatSequence returns the float-typed subset of the current operand
// stack, in stack order (bottom to top) — the sequence of adjoint values
// that must be carried across a basic-block boundary at this point. Plain
// integers carry no adjoint and the backward pass never needs their primal
// value (it replays from the tape), so they are simply dropped here.
func (fi *functionInfo) liveFloatSequence() []wasm.ValueType {
	var out []wasm.ValueType
	for _, t := range fi.operandTypes {
		if wasm.IsFloat(t) {
			out = append(out, t)
		}
	}
	return out
}

func (fi *functionInfo) bumpStackMax(seq []wasm.ValueType) {
	var f32, f64 wasm.Index
	for _, t := range seq {
		if t == wasm.ValueTypeF32 {
			f32++
		} else {
			f64++
		}
	}
	if f32 > fi.maxStackF32 {
		fi.maxStackF32 = f32
	}
	if f64 > fi.maxStackF64 {
		fi.maxStackF64 = f64
	}
}

// closeBlock records the current block's exit snapshot — the live float
// sequence at this point in the forward scan, i.e. what the block hands off
// to whatever runs after it.
func (fi *functionInfo) closeBlock() {
	b := fi.current()
	b.stackHeightAtExit = fi.height()
	b.exitFloats = fi.liveFloatSequence()
	fi.bumpStackMax(b.exitFloats)
}

// startBlock opens a new basic block with the given entry float sequence
// (the values it receives from whatever ran before it).
func (fi *functionInfo) startBlock(entryFloats []wasm.ValueType) *basicBlock {
	b := &basicBlock{index: len(fi.blocks), stackHeightAtEntry: fi.height(), entryFloats: entryFloats}
	fi.blocks = append(fi.blocks, b)
	fi.bumpStackMax(entryFloats)
	return b
}

// newBlock closes the current block (if any) using the live operand state
// at the moment of the call, then opens a new block with that same state as
// its entry — the common case where nothing changes operand-stack shape
// between one block ending and the next beginning (block/loop/if entry,
// end, br/br_if/br_table). handleElse is the one split point where entry
// and the prior block's exit genuinely differ, so it calls closeBlock and
// startBlock directly instead.
func (fi *functionInfo) newBlock() *basicBlock {
	if len(fi.blocks) > 0 {
		fi.closeBlock()
	}
	return fi.startBlock(fi.liveFloatSequence())
}

// allocateStackLocals fixes the stack-locals region's base indices once
// scanning is complete and maxStackF32/maxStackF64 are final.
func (fi *functionInfo) allocateStackLocals() {
	fi.bwdStackF32Base = fi.bwdScratchF64 + 1
	fi.bwdStackF64Base = fi.bwdStackF32Base + fi.maxStackF32
}

func (fi *functionInfo) bwdScratchTmp(w ValWidth) wasm.Index {
	if w == Width32 {
		return fi.bwdScratchF32
	}
	return fi.bwdScratchF64
}

func (fi *functionInfo) current() *basicBlock { return fi.blocks[len(fi.blocks)-1] }

func (fi *functionInfo) push(t wasm.ValueType) { fi.operandTypes = append(fi.operandTypes, t) }

func (fi *functionInfo) pop() wasm.ValueType {
	t := fi.operandTypes[len(fi.operandTypes)-1]
	fi.operandTypes = fi.operandTypes[:len(fi.operandTypes)-1]
	return t
}

func (fi *functionInfo) height() int { return len(fi.operandTypes) }

// fwdLocalTypes returns the declared local types to append after params in
// the forward function: the original declared locals, then the three fixed
// scratch locals.
func (fi *functionInfo) fwdLocalTypes(declared []wasm.ValueType) []wasm.ValueType {
	out := make([]wasm.ValueType, 0, len(declared)+3)
	out = append(out, declared...)
	out = append(out, wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeF64)
	return out
}

// bwdLocalTypes returns the declared local types for the backward function:
// one backward slot per float original local (spec §3's LocalMap), the
// basic-block dispatch scratch, the three fixed scratch locals, then the
// stack-locals region (maxStackF32 f32 slots followed by maxStackF64 f64
// slots) that ferries operand-stack floats across block boundaries. Must be
// called after allocateStackLocals so maxStackF32/F64 are final.
func (fi *functionInfo) bwdLocalTypes() []wasm.ValueType {
	out := make([]wasm.ValueType, 0)
	fi.locals.Vals(func(count wasm.Index, ty wasm.ValueType) {
		for i := wasm.Index(0); i < count; i++ {
			out = append(out, ty)
		}
	})
	out = append(out, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeF64)
	for i := wasm.Index(0); i < fi.maxStackF32; i++ {
		out = append(out, wasm.ValueTypeF32)
	}
	for i := wasm.Index(0); i < fi.maxStackF64; i++ {
		out = append(out, wasm.ValueTypeF64)
	}
	return out
}
