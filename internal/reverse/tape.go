// Package reverse implements the reverse-mode transformation: the per-function
// transformer (spec §4.D), the reverse-function builder (spec §4.E), and the
// tape runtime library (spec §4.B) that ships with every output module.
package reverse

import (
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// Tape alignment classes, in the fixed order spec §3 assigns them: the
// reserved memory/global index of tape t is exactly t itself.
const (
	TapeAlign1 = iota // 1-byte tags, e.g. the min/max winner flag.
	TapeAlign4        // i32 and f32.
	TapeAlign8        // f64.
	TapeCount
)

var tapeWidth = [TapeCount]uint32{1, 4, 8}
var tapeAlignLog2 = [TapeCount]uint32{0, 2, 3}

// HelperFuncs enumerates the fixed tape runtime library in the exact order
// their indices are assigned (spec §4.B): these come before every user
// function, so HelperIndex(name) is a compile-time constant relative to the
// module's import count.
var HelperFuncs = []string{
	"tape_i32", "tape_i32_bwd",
	"f32_sqrt_fwd", "f32_sqrt_bwd", "f64_sqrt_fwd", "f64_sqrt_bwd",
	"f32_mul_fwd", "f32_mul_bwd", "f64_mul_fwd", "f64_mul_bwd",
	"f32_div_fwd", "f32_div_bwd", "f64_div_fwd", "f64_div_bwd",
	"f32_min_fwd", "f32_min_bwd", "f64_min_fwd", "f64_min_bwd",
	"f32_max_fwd", "f32_max_bwd", "f64_max_fwd", "f64_max_bwd",
	"f32_abs_fwd", "f32_abs_bwd", "f64_abs_fwd", "f64_abs_bwd",
}

// HelperCount is spec §3's HELPER_COUNT: the fixed helper table is always
// emitted in full so that indices are stable across modules.
const HelperCount = 26

func init() {
	if len(HelperFuncs) != HelperCount {
		panic("HelperFuncs/HelperCount out of sync")
	}
}

// HelperIndex returns the output function index of the named helper.
func HelperIndex(name string) wasm.Index {
	for i, n := range HelperFuncs {
		if n == name {
			return wasm.Index(i)
		}
	}
	panic("unknown helper " + name)
}

var (
	idxTapeI32    = HelperIndex("tape_i32")
	idxTapeI32Bwd = HelperIndex("tape_i32_bwd")
)

// helperType returns the wasm type (params, results) for each fixed helper,
// per the table in spec §4.B.
func helperType(name string, width ValWidth) wasm.FunctionType {
	t := width.ValueType()
	switch {
	case name == "tape_i32":
		return wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}}
	case name == "tape_i32_bwd":
		return wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	case hasSuffix(name, "_sqrt_fwd"), hasSuffix(name, "_abs_fwd"):
		return wasm.FunctionType{Params: []wasm.ValueType{t}, Results: []wasm.ValueType{t}}
	case hasSuffix(name, "_sqrt_bwd"), hasSuffix(name, "_abs_bwd"):
		return wasm.FunctionType{Params: []wasm.ValueType{t}, Results: []wasm.ValueType{t}}
	case hasSuffix(name, "_mul_fwd"), hasSuffix(name, "_div_fwd"), hasSuffix(name, "_min_fwd"), hasSuffix(name, "_max_fwd"):
		return wasm.FunctionType{Params: []wasm.ValueType{t, t}, Results: []wasm.ValueType{t}}
	case hasSuffix(name, "_mul_bwd"), hasSuffix(name, "_div_bwd"), hasSuffix(name, "_min_bwd"), hasSuffix(name, "_max_bwd"):
		return wasm.FunctionType{Params: []wasm.ValueType{t}, Results: []wasm.ValueType{t, t}}
	}
	panic("unhandled helper " + name)
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

// ValWidth distinguishes f32 from f64 helper variants.
type ValWidth int

const (
	Width32 ValWidth = iota
	Width64
)

func (w ValWidth) ValueType() wasm.ValueType {
	if w == Width32 {
		return wasm.ValueTypeF32
	}
	return wasm.ValueTypeF64
}

func (w ValWidth) storeOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Store
	}
	return wasm.OpcodeF64Store
}

func (w ValWidth) loadOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Load
	}
	return wasm.OpcodeF64Load
}

func (w ValWidth) addOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Add
	}
	return wasm.OpcodeF64Add
}

func (w ValWidth) negOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Neg
	}
	return wasm.OpcodeF64Neg
}

func (w ValWidth) mulOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Mul
	}
	return wasm.OpcodeF64Mul
}

func (w ValWidth) divOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Div
	}
	return wasm.OpcodeF64Div
}

func (w ValWidth) sqrtOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Sqrt
	}
	return wasm.OpcodeF64Sqrt
}

func (w ValWidth) eqOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Eq
	}
	return wasm.OpcodeF64Eq
}

func (w ValWidth) tapeClass() int {
	if w == Width32 {
		return TapeAlign4
	}
	return TapeAlign8
}

// localSlots is the fixed {i32,f32,f64} scratch local layout every tape
// helper uses; params occupy indices [0,len(params)) and scratch locals
// follow.
type localSlots struct {
	i32, f32, f64 wasm.Index
}

func scratchLocalsFor(paramCount int) (slots localSlots, declTypes []wasm.ValueType) {
	base := wasm.Index(paramCount)
	slots = localSlots{i32: base, f32: base + 1, f64: base + 2}
	declTypes = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeF64}
	return
}

// emitGrowthCheck appends the tape growth algorithm from spec §4.B: given
// the byte width b about to be pushed onto tape class `class`, grow its
// memory by whole pages if the new top would exceed the current byte
// capacity, trapping on an unsuccessful grow.
//
//	pages_needed = ((ptr + b + 65535) >> 16) - current_pages
//	if pages_needed > 0 { if memory.grow(pages_needed) == -1 { unreachable } }
//
// ptr must already be the value of the tape's pointer global; this helper
// consumes nothing from the operand stack and leaves it unchanged (it reads
// the global itself rather than requiring the caller to have it on stack).
func emitGrowthCheck(body []byte, class int, scratchI32 wasm.Index) []byte {
	memIdx := wasm.Index(class)
	ptrGlobal := wasm.Index(class)
	b := int32(tapeWidth[class])

	body = wasm.GlobalGet(body, ptrGlobal)
	body = wasm.I32Const(body, b)
	body = wasm.Op(body, wasm.OpcodeI32Add)
	body = wasm.I32Const(body, 65535)
	body = wasm.Op(body, wasm.OpcodeI32Add)
	body = wasm.I32Const(body, 16)
	body = wasm.Op(body, wasm.OpcodeI32ShrU)
	body = wasm.MemoryOp(body, wasm.OpcodeMemorySize, memIdx)
	body = wasm.Op(body, wasm.OpcodeI32Sub)
	body = wasm.LocalTee(body, scratchI32)
	body = wasm.I32Const(body, 0)
	body = wasm.Op(body, wasm.OpcodeI32GtS)
	body = wasm.If(body)
	body = append(body, wasm.BlockTypeEmpty)
	body = wasm.LocalGet(body, scratchI32)
	body = wasm.MemoryOp(body, wasm.OpcodeMemoryGrow, memIdx)
	body = wasm.I32Const(body, -1)
	body = wasm.Op(body, wasm.OpcodeI32Eq)
	body = wasm.If(body)
	body = append(body, wasm.BlockTypeEmpty)
	body = wasm.Op(body, wasm.OpcodeUnreachable)
	body = wasm.End(body)
	body = wasm.End(body)
	return body
}

// emitPush appends: grow tape `class` if needed, store the value currently
// held in scratch local `valueLocal` (of width matching class) at the
// current tape pointer, then advance the pointer by the tape's fixed width.
// storeOp is the exact store instruction to use (f32.store/f64.store for
// floats, i32.store8 for a 1-byte tag, i32.store for an i32).
func emitPush(body []byte, class int, scratchI32, valueLocal wasm.Index, storeOp wasm.Opcode) []byte {
	memIdx := wasm.Index(class)
	ptrGlobal := wasm.Index(class)
	width := int32(tapeWidth[class])
	alignLog2 := tapeAlignLog2[class]

	body = emitGrowthCheck(body, class, scratchI32)

	body = wasm.GlobalGet(body, ptrGlobal) // addr
	body = wasm.LocalGet(body, valueLocal) // value
	body = wasm.Store(body, storeOp, alignLog2, memIdx)

	body = wasm.GlobalGet(body, ptrGlobal)
	body = wasm.I32Const(body, width)
	body = wasm.Op(body, wasm.OpcodeI32Add)
	body = wasm.GlobalSet(body, ptrGlobal)
	return body
}

// emitPop appends: rewind the tape pointer by the tape's fixed width, then
// load a value of the given width from the new pointer, leaving it on the
// operand stack. loadOp mirrors emitPush's storeOp choice.
func emitPop(body []byte, class int, loadOp wasm.Opcode) []byte {
	ptrGlobal := wasm.Index(class)
	memIdx := wasm.Index(class)
	width := int32(tapeWidth[class])
	alignLog2 := tapeAlignLog2[class]

	body = wasm.GlobalGet(body, ptrGlobal)
	body = wasm.I32Const(body, width)
	body = wasm.Op(body, wasm.OpcodeI32Sub)
	body = wasm.GlobalSet(body, ptrGlobal)

	body = wasm.GlobalGet(body, ptrGlobal)
	body = wasm.Load(body, loadOp, alignLog2, memIdx)
	return body
}
