package reverse

import (
	"math"

	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// BuildHelperTypes returns the function types for the fixed tape runtime
// library, in HelperFuncs order, ready to be merged into the output module's
// type section ahead of every user function's forward/backward pair.
func BuildHelperTypes() []wasm.FunctionType {
	types := make([]wasm.FunctionType, HelperCount)
	for i, name := range HelperFuncs {
		w := Width32
		if len(name) >= 3 && name[:3] == "f64" {
			w = Width64
		}
		types[i] = helperType(name, w)
	}
	return types
}

// BuildHelperCodes returns the function bodies for the fixed tape runtime
// library, in HelperFuncs order, matching BuildHelperTypes.
func BuildHelperCodes() []wasm.Code {
	codes := make([]wasm.Code, HelperCount)
	codes[idxTapeI32] = buildTapeI32Fwd()
	codes[idxTapeI32Bwd] = buildTapeI32Bwd()
	for _, w := range []ValWidth{Width32, Width64} {
		codes[HelperIndex(wname(w, "sqrt_fwd"))] = buildSqrtFwd(w)
		codes[HelperIndex(wname(w, "sqrt_bwd"))] = buildSqrtBwd(w)
		codes[HelperIndex(wname(w, "mul_fwd"))] = buildMulFwd(w)
		codes[HelperIndex(wname(w, "mul_bwd"))] = buildMulBwd(w)
		codes[HelperIndex(wname(w, "div_fwd"))] = buildDivFwd(w)
		codes[HelperIndex(wname(w, "div_bwd"))] = buildDivBwd(w)
		codes[HelperIndex(wname(w, "min_fwd"))] = buildMinMaxFwd(w, false)
		codes[HelperIndex(wname(w, "min_bwd"))] = buildMinMaxBwd(w)
		codes[HelperIndex(wname(w, "max_fwd"))] = buildMinMaxFwd(w, true)
		codes[HelperIndex(wname(w, "max_bwd"))] = buildMinMaxBwd(w)
		codes[HelperIndex(wname(w, "abs_fwd"))] = buildAbsFwd(w)
		codes[HelperIndex(wname(w, "abs_bwd"))] = buildAbsBwd(w)
	}
	return codes
}

func wname(w ValWidth, suffix string) string {
	if w == Width32 {
		return "f32_" + suffix
	}
	return "f64_" + suffix
}

// buildTapeI32Fwd: tape_i32(v i32). Pushes v onto the i32/f32 tape class.
// local 1 is the growth-check scratch.
func buildTapeI32Fwd() wasm.Code {
	var body []byte
	body = emitPush(body, TapeAlign4, 1, 0, wasm.OpcodeI32Store)
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}
}

// buildTapeI32Bwd: tape_i32_bwd() -> i32. Pops and returns the top i32.
func buildTapeI32Bwd() wasm.Code {
	var body []byte
	body = emitPop(body, TapeAlign4, wasm.OpcodeI32Load)
	body = wasm.End(body)
	return wasm.Code{Body: body}
}

// buildSqrtFwd: sqrt_fwd(x) -> r = sqrt(x); tape <- r (backward recomputes
// the derivative 1/(2r) from the result alone, so only r needs recording).
// Locals: 0=x (param), 1=growth scratch i32, 2=r.
func buildSqrtFwd(w ValWidth) wasm.Code {
	class := w.tapeClass()
	rLocal := wasm.Index(2)
	var body []byte
	body = wasm.LocalGet(body, 0)
	body = wasm.Op(body, w.sqrtOp())
	body = wasm.LocalSet(body, rLocal)
	body = emitPush(body, class, 1, rLocal, w.storeOp())
	body = wasm.LocalGet(body, rLocal)
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32, w.ValueType()}, Body: body}
}

// buildSqrtBwd: sqrt_bwd(adj) -> adj / (2*r), r popped from tape.
// Locals: 0=adj (param), 1=r.
func buildSqrtBwd(w ValWidth) wasm.Code {
	class := w.tapeClass()
	rLocal := wasm.Index(1)
	var body []byte
	body = emitPop(body, class, w.loadOp())
	body = wasm.LocalSet(body, rLocal)
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, rLocal)
	body = constTwo(body, w)
	body = wasm.Op(body, w.mulOp())
	body = wasm.Op(body, w.divOp())
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{w.ValueType()}, Body: body}
}

func constTwo(body []byte, w ValWidth) []byte {
	if w == Width32 {
		return wasm.F32Const(body, float32Bits(2))
	}
	return wasm.F64Const(body, float64Bits(2))
}

func float32Bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float64Bits(f float64) uint64 {
	return math.Float64bits(f)
}

// buildMulFwd: mul_fwd(a,b) -> a*b; tape <- a, then b (so backward pops b
// then a, restoring source order).
// Locals: 0=a,1=b (params), 2=growth scratch i32.
func buildMulFwd(w ValWidth) wasm.Code {
	class := w.tapeClass()
	var body []byte
	body = emitPush(body, class, 2, 0, w.storeOp())
	body = emitPush(body, class, 2, 1, w.storeOp())
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, 1)
	body = wasm.Op(body, w.mulOp())
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}
}

// buildMulBwd: mul_bwd(adj) -> (da, db) = (adj*b, adj*a).
// Locals: 0=adj (param), 1=b, 2=a.
func buildMulBwd(w ValWidth) wasm.Code {
	class := w.tapeClass()
	bLocal, aLocal := wasm.Index(1), wasm.Index(2)
	var body []byte
	body = emitPop(body, class, w.loadOp())
	body = wasm.LocalSet(body, bLocal)
	body = emitPop(body, class, w.loadOp())
	body = wasm.LocalSet(body, aLocal)
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, bLocal)
	body = wasm.Op(body, w.mulOp())
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, aLocal)
	body = wasm.Op(body, w.mulOp())
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{w.ValueType(), w.ValueType()}, Body: body}
}

// buildDivFwd: div_fwd(a,b) -> a/b; tape <- a, then b.
func buildDivFwd(w ValWidth) wasm.Code {
	class := w.tapeClass()
	var body []byte
	body = emitPush(body, class, 2, 0, w.storeOp())
	body = emitPush(body, class, 2, 1, w.storeOp())
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, 1)
	body = wasm.Op(body, w.divOp())
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}
}

// buildDivBwd: div_bwd(adj) -> (da, db) = (adj/b, -adj*a/(b*b)).
// Locals: 0=adj (param), 1=b, 2=a.
func buildDivBwd(w ValWidth) wasm.Code {
	class := w.tapeClass()
	bLocal, aLocal := wasm.Index(1), wasm.Index(2)
	var body []byte
	body = emitPop(body, class, w.loadOp())
	body = wasm.LocalSet(body, bLocal)
	body = emitPop(body, class, w.loadOp())
	body = wasm.LocalSet(body, aLocal)

	// da = adj / b
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, bLocal)
	body = wasm.Op(body, w.divOp())

	// db = -(adj * a) / (b * b)
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, aLocal)
	body = wasm.Op(body, w.mulOp())
	body = wasm.Op(body, w.negOp())
	body = wasm.LocalGet(body, bLocal)
	body = wasm.LocalGet(body, bLocal)
	body = wasm.Op(body, w.mulOp())
	body = wasm.Op(body, w.divOp())

	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{w.ValueType(), w.ValueType()}, Body: body}
}

// buildMinMaxFwd: {min,max}_fwd(a,b) -> result; tape (align1) <- 1-byte tag,
// 0 if a was selected, 1 if b was selected. Locals: 0=a,1=b (params),
// 2=growth scratch i32, 3=tag i32.
func buildMinMaxFwd(w ValWidth, isMax bool) wasm.Code {
	tagLocal := wasm.Index(3)
	var body []byte

	// tag = a <cmp> b ? 0 : 1, where <cmp> is a>=b for max, a<=b for min
	// (ties favor a, matching Wasm's own min/max tie semantics on
	// non-NaN equal operands).
	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, 1)
	if isMax {
		body = wasm.Op(body, geOp(w))
	} else {
		body = wasm.Op(body, leOp(w))
	}
	body = wasm.Op(body, wasm.OpcodeI32Eqz)
	body = wasm.LocalSet(body, tagLocal)

	body = emitPush(body, TapeAlign1, 2, tagLocal, wasm.OpcodeI32Store8)

	body = wasm.LocalGet(body, 0)
	body = wasm.LocalGet(body, 1)
	if isMax {
		body = wasm.Op(body, w.opMax())
	} else {
		body = wasm.Op(body, w.opMin())
	}
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Body: body}
}

// buildMinMaxBwd: {min,max}_bwd(adj) -> (da, db), routing all of adj to
// whichever operand the forward pass tagged as the winner.
// Locals: 0=adj (param), 1=tag i32.
func buildMinMaxBwd(w ValWidth) wasm.Code {
	tagLocal := wasm.Index(1)
	zero := constZeroBytes(w)
	var body []byte
	body = emitPop(body, TapeAlign1, wasm.OpcodeI32Load8U)
	body = wasm.LocalSet(body, tagLocal)

	// da = tag == 0 ? adj : 0
	body = wasm.LocalGet(body, tagLocal)
	body = wasm.Op(body, wasm.OpcodeI32Eqz)
	body = wasm.If(body)
	body = append(body, w.ValueType())
	body = wasm.LocalGet(body, 0)
	body = wasm.Else(body)
	body = append(body, zero...)
	body = wasm.End(body)

	// db = tag == 1 ? adj : 0
	body = wasm.LocalGet(body, tagLocal)
	body = wasm.I32Const(body, 0)
	body = wasm.Op(body, wasm.OpcodeI32Ne)
	body = wasm.If(body)
	body = append(body, w.ValueType())
	body = wasm.LocalGet(body, 0)
	body = wasm.Else(body)
	body = append(body, zero...)
	body = wasm.End(body)

	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}
}

// buildAbsFwd: abs_fwd(x) -> |x|; tape (align1) <- sign tag (0 if x>=0).
// Locals: 0=x (param), 1=growth scratch i32, 2=tag i32.
func buildAbsFwd(w ValWidth) wasm.Code {
	tagLocal := wasm.Index(2)
	var body []byte
	body = wasm.LocalGet(body, 0)
	body = constZero(body, w)
	body = wasm.Op(body, ltOp(w))
	body = wasm.LocalSet(body, tagLocal)
	body = emitPush(body, TapeAlign1, 1, tagLocal, wasm.OpcodeI32Store8)
	body = wasm.LocalGet(body, 0)
	body = wasm.Op(body, w.absOp())
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Body: body}
}

// buildAbsBwd: abs_bwd(adj) -> tag ? -adj : adj.
// Locals: 0=adj (param), 1=tag i32.
func buildAbsBwd(w ValWidth) wasm.Code {
	tagLocal := wasm.Index(1)
	var body []byte
	body = emitPop(body, TapeAlign1, wasm.OpcodeI32Load8U)
	body = wasm.LocalSet(body, tagLocal)
	body = wasm.LocalGet(body, tagLocal)
	body = wasm.If(body)
	body = append(body, w.ValueType())
	body = wasm.LocalGet(body, 0)
	body = wasm.Op(body, w.negOp())
	body = wasm.Else(body)
	body = wasm.LocalGet(body, 0)
	body = wasm.End(body)
	body = wasm.End(body)
	return wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}
}

func constZero(body []byte, w ValWidth) []byte {
	if w == Width32 {
		return wasm.F32Const(body, 0)
	}
	return wasm.F64Const(body, 0)
}

func constZeroBytes(w ValWidth) []byte {
	return constZero(nil, w)
}

func geOp(w ValWidth) wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Ge
	}
	return wasm.OpcodeF64Ge
}

func leOp(w ValWidth) wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Le
	}
	return wasm.OpcodeF64Le
}

func ltOp(w ValWidth) wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Lt
	}
	return wasm.OpcodeF64Lt
}

func (w ValWidth) opMin() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Min
	}
	return wasm.OpcodeF64Min
}

func (w ValWidth) opMax() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Max
	}
	return wasm.OpcodeF64Max
}

func (w ValWidth) absOp() wasm.Opcode {
	if w == Width32 {
		return wasm.OpcodeF32Abs
	}
	return wasm.OpcodeF64Abs
}
