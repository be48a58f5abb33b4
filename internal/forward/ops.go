package forward

import (
	"math"

	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

func (t *transformer) emitLocalGet(idx wasm.Index) []byte {
	s := t.slots[idx]
	t.push(s.ty)
	b := wasm.LocalGet(nil, s.value)
	if s.hasTangent {
		b = wasm.LocalGet(b, s.tangent)
	}
	return b
}

func (t *transformer) emitLocalSet(idx wasm.Index, isTee bool) []byte {
	s := t.slots[idx]
	t.pop()
	var b []byte
	if s.hasTangent {
		b = wasm.LocalSet(b, s.tangent) // tangent was pushed last
		b = wasm.LocalSet(b, s.value)
	} else {
		b = wasm.LocalSet(b, s.value)
	}
	if isTee {
		t.push(s.ty)
		b = append(b, wasm.LocalGet(nil, s.value)...)
		if s.hasTangent {
			b = append(b, wasm.LocalGet(nil, s.tangent)...)
		}
	}
	return b
}

// emitMemOp re-targets a load/store against the value memory (and, for
// float operand types, replays it against the tangent memory too). Stack
// shape on entry matches the source encoding: loads consume [addr] and
// stores consume [addr, value] (float stores: [addr, value, tangent]).
// Since the address is needed twice for a float op, it is stashed in a
// scratch local the first time it's evaluated.
func (t *transformer) emitMemOp(c *cursor, op wasm.Opcode) ([]byte, error) {
	alignLog2, origMemIdx, offset, err := c.readMemArg()
	if err != nil {
		return nil, err
	}
	value, tangent := t.memIdx(origMemIdx)
	isStore := op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32
	isFloatOp := op == wasm.OpcodeF32Load || op == wasm.OpcodeF64Load || op == wasm.OpcodeF32Store || op == wasm.OpcodeF64Store

	var b []byte
	if isStore {
		if !isFloatOp {
			t.pop()
			t.pop()
			b = append(b, op)
			b = wasm.MemArg(b, alignLog2, value, offset)
			return b, nil
		}
		// Stack: addr, value, tangent. Stash tangent and value, recover
		// addr via a scratch local since it's consumed by both stores.
		t.pop()
		t.pop()
		b = wasm.LocalSet(b, t.scratchF64tangentTmp(op))
		b = wasm.LocalSet(b, t.scratchValueTmp(op))
		b = wasm.LocalTee(b, t.scratchI32)
		b = wasm.LocalGet(b, t.scratchValueTmp(op))
		b = append(b, op)
		b = wasm.MemArg(b, alignLog2, value, offset)
		b = wasm.LocalGet(b, t.scratchI32)
		b = wasm.LocalGet(b, t.scratchF64tangentTmp(op))
		b = append(b, op)
		b = wasm.MemArg(b, alignLog2, tangent, offset)
		return b, nil
	}

	t.pop() // address
	resTy := loadResultType(op)
	t.push(resTy)
	if !isFloatOp {
		b = append(b, op)
		b = wasm.MemArg(b, alignLog2, value, offset)
		return b, nil
	}
	b = wasm.LocalTee(b, t.scratchI32)
	b = append(b, op)
	b = wasm.MemArg(b, alignLog2, value, offset)
	b = wasm.LocalGet(b, t.scratchI32)
	b = append(b, op)
	b = wasm.MemArg(b, alignLog2, tangent, offset)
	return b, nil
}

// scratchValueTmp/scratchF64tangentTmp pick the width-matched scratch local
// for a float store's value/tangent operand (the address always goes
// through the shared i32 scratch).
func (t *transformer) scratchValueTmp(op wasm.Opcode) wasm.Index {
	if op == wasm.OpcodeF32Store {
		return t.scratchF32
	}
	return t.scratchF64
}

func (t *transformer) scratchF64tangentTmp(op wasm.Opcode) wasm.Index {
	if op == wasm.OpcodeF32Store {
		return t.scratchF32 + 1
	}
	return t.scratchF64 + 1
}

func loadResultType(op wasm.Opcode) wasm.ValueType {
	switch op {
	case wasm.OpcodeF32Load:
		return wasm.ValueTypeF32
	case wasm.OpcodeF64Load:
		return wasm.ValueTypeF64
	case wasm.OpcodeI64Load, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U, wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		return wasm.ValueTypeI64
	default:
		return wasm.ValueTypeI32
	}
}

func isFloatBinary(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div, wasm.OpcodeF32Min, wasm.OpcodeF32Max,
		wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div, wasm.OpcodeF64Min, wasm.OpcodeF64Max:
		return true
	}
	return false
}

func isFloatUnary(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeF32Neg, wasm.OpcodeF32Sqrt, wasm.OpcodeF32Abs,
		wasm.OpcodeF64Neg, wasm.OpcodeF64Sqrt, wasm.OpcodeF64Abs:
		return true
	}
	return false
}

// emitFloatBinary computes both the primal op and, via the product/quotient
// rule, the paired tangent, using scratch locals to hold the four incoming
// operands (a, ta, b, tb) since each is needed more than once.
func (t *transformer) emitFloatBinary(op wasm.Opcode) ([]byte, error) {
	w := widthOf(op)
	t.pop()
	t.pop()
	t.push(w)

	aV, aT, bV, bT := scratch4(t, w)
	var b []byte
	// Incoming stack order: a, ta, b, tb (tb on top).
	b = wasm.LocalSet(b, bT)
	b = wasm.LocalSet(b, bV)
	b = wasm.LocalSet(b, aT)
	b = wasm.LocalSet(b, aV)

	switch op {
	case wasm.OpcodeF32Add, wasm.OpcodeF64Add:
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, op)
		b = wasm.LocalGet(b, aT)
		b = wasm.LocalGet(b, bT)
		b = wasm.Op(b, addOpOf(w))
	case wasm.OpcodeF32Sub, wasm.OpcodeF64Sub:
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, op)
		b = wasm.LocalGet(b, aT)
		b = wasm.LocalGet(b, bT)
		b = wasm.Op(b, subOpOf(w))
	case wasm.OpcodeF32Mul, wasm.OpcodeF64Mul:
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, op)
		// tangent = ta*b + a*tb
		b = wasm.LocalGet(b, aT)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, mulOpOf(w))
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bT)
		b = wasm.Op(b, mulOpOf(w))
		b = wasm.Op(b, addOpOf(w))
	case wasm.OpcodeF32Div, wasm.OpcodeF64Div:
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, op)
		// tangent = (ta*b - a*tb) / (b*b)
		b = wasm.LocalGet(b, aT)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, mulOpOf(w))
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bT)
		b = wasm.Op(b, mulOpOf(w))
		b = wasm.Op(b, subOpOf(w))
		b = wasm.LocalGet(b, bV)
		b = wasm.LocalGet(b, bV)
		b = wasm.Op(b, mulOpOf(w))
		b = wasm.Op(b, divOpOf(w))
	case wasm.OpcodeF32Min, wasm.OpcodeF64Min, wasm.OpcodeF32Max, wasm.OpcodeF64Max:
		// tangent follows whichever operand the native min/max selects;
		// ties route to a, matching package reverse's convention.
		isMax := op == wasm.OpcodeF32Max || op == wasm.OpcodeF64Max
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bV)
		if isMax {
			b = wasm.Op(b, nativeMinMaxOp(w, true))
		} else {
			b = wasm.Op(b, nativeMinMaxOp(w, false))
		}
		b = wasm.LocalGet(b, aV)
		b = wasm.LocalGet(b, bV)
		if isMax {
			b = wasm.Op(b, geOpOf(w))
		} else {
			b = wasm.Op(b, leOpOf(w))
		}
		b = wasm.If(b)
		b = wasm.BlockType(b, false, w, true, 0, false)
		b = wasm.LocalGet(b, aT)
		b = wasm.Else(b)
		b = wasm.LocalGet(b, bT)
		b = wasm.End(b)
	}
	return b, nil
}

func (t *transformer) emitFloatUnary(op wasm.Opcode) ([]byte, error) {
	w := widthOf(op)
	t.pop()
	t.push(w)

	var b []byte
	switch op {
	case wasm.OpcodeF32Neg, wasm.OpcodeF64Neg:
		b = wasm.Op(b, op)
		b = wasm.Op(b, negOpOf(w))
	case wasm.OpcodeF32Sqrt, wasm.OpcodeF64Sqrt:
		// r = sqrt(x); tr = tx / (2*r). Stack holds x,tx: save both first.
		xT, xV := scratch2(t, w)
		b = wasm.LocalSet(b, xT)
		b = wasm.LocalSet(b, xV)
		b = wasm.LocalGet(b, xV)
		b = wasm.Op(b, op)
		rLocal := xV // reuse xV's slot to hold the result
		b = wasm.LocalTee(b, rLocal)
		b = wasm.LocalGet(b, xT)
		b = wasm.LocalGet(b, rLocal)
		b = constTwoOf(b, w)
		b = wasm.Op(b, mulOpOf(w))
		b = wasm.Op(b, divOpOf(w))
	case wasm.OpcodeF32Abs, wasm.OpcodeF64Abs:
		xT, xV := scratch2(t, w)
		b = wasm.LocalSet(b, xT)
		b = wasm.LocalSet(b, xV)
		b = wasm.LocalGet(b, xV)
		b = wasm.Op(b, op)
		b = wasm.LocalGet(b, xV)
		b = constZeroOf(b, w)
		b = wasm.Op(b, ltOpOf(w))
		b = wasm.If(b)
		b = wasm.BlockType(b, false, w, true, 0, false)
		b = wasm.LocalGet(b, xT)
		b = wasm.Op(b, negOpOf(w))
		b = wasm.Else(b)
		b = wasm.LocalGet(b, xT)
		b = wasm.End(b)
	}
	return b, nil
}

func (t *transformer) emitPassthrough(op wasm.Opcode) ([]byte, error) {
	if isConversionOp(op) {
		return t.emitConversion(op)
	}
	arity := 2
	switch {
	case op == wasm.OpcodeI32Eqz || op == wasm.OpcodeI64Eqz:
		arity = 1
	case op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI32Popcnt, op >= wasm.OpcodeI64Clz && op <= wasm.OpcodeI64Popcnt:
		arity = 1
	}
	for i := 0; i < arity; i++ {
		t.pop()
	}
	t.push(passthroughResultType(op))
	return wasm.Op(nil, op), nil
}

// emitConversion handles int<->float and float<->float conversions. An
// integer operand never carries a tangent. A float-to-float conversion
// (demote/promote) is linear, so its tangent converts the same way the
// value does; every other float-producing conversion (int-to-float,
// reinterpret) has no differentiable input and gets a zero tangent.
func (t *transformer) emitConversion(op wasm.Opcode) ([]byte, error) {
	srcIsFloat := isFloatConversionSource(op)
	dstTy := conversionResultType(op)

	t.pop()
	t.push(dstTy)

	var b []byte
	if !srcIsFloat {
		b = wasm.Op(b, op)
		if wasm.IsFloat(dstTy) {
			b = constZeroOf(b, dstTy)
		}
		return b, nil
	}

	w := srcWidthOf(op)
	xT, xV := scratch2(t, w)
	b = wasm.LocalSet(b, xT)
	b = wasm.LocalSet(b, xV)
	b = wasm.LocalGet(b, xV)
	b = wasm.Op(b, op)

	if wasm.IsFloat(dstTy) && isFloatToFloatConversion(op) {
		b = wasm.LocalGet(b, xT)
		b = wasm.Op(b, op) // demote/promote the tangent the same way
	} else if wasm.IsFloat(dstTy) {
		b = constZeroOf(b, dstTy)
	}
	return b, nil
}

func isFloatConversionSource(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
		wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U, wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U,
		wasm.OpcodeF32DemoteF64, wasm.OpcodeF64PromoteF32,
		wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64:
		return true
	}
	return false
}

func isFloatToFloatConversion(op wasm.Opcode) bool {
	return op == wasm.OpcodeF32DemoteF64 || op == wasm.OpcodeF64PromoteF32
}

func srcWidthOf(op wasm.Opcode) wasm.ValueType {
	switch op {
	case wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U,
		wasm.OpcodeF64PromoteF32, wasm.OpcodeI32ReinterpretF32:
		return wasm.ValueTypeF32
	default:
		return wasm.ValueTypeF64
	}
}

func conversionResultType(op wasm.Opcode) wasm.ValueType {
	switch op {
	case wasm.OpcodeI32WrapI64, wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
		wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S:
		return wasm.ValueTypeI32
	case wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U, wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U,
		wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend16S, wasm.OpcodeI64Extend32S:
		return wasm.ValueTypeI64
	case wasm.OpcodeF32ConvertI32S, wasm.OpcodeF32ConvertI32U, wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U,
		wasm.OpcodeF32DemoteF64, wasm.OpcodeF32ReinterpretI32:
		return wasm.ValueTypeF32
	default:
		return wasm.ValueTypeF64
	}
}

func isConversionOp(op wasm.Opcode) bool {
	return (op >= wasm.OpcodeI32WrapI64 && op <= wasm.OpcodeF64PromoteF32) ||
		(op >= wasm.OpcodeI32ReinterpretF32 && op <= wasm.OpcodeF64ReinterpretI64) ||
		(op >= wasm.OpcodeI32Extend8S && op <= wasm.OpcodeI64Extend32S)
}

func passthroughResultType(op wasm.Opcode) wasm.ValueType {
	switch {
	case op >= wasm.OpcodeF32Eq && op <= wasm.OpcodeF64Ge:
		return wasm.ValueTypeI32
	case op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI32Rotr, op == wasm.OpcodeI32Eqz:
		return wasm.ValueTypeI32
	case op >= wasm.OpcodeI64Clz && op <= wasm.OpcodeI64Rotr:
		return wasm.ValueTypeI64
	case op == wasm.OpcodeI64Eqz:
		return wasm.ValueTypeI32
	default:
		return wasm.ValueTypeI32
	}
}

func widthOf(op wasm.Opcode) wasm.ValueType {
	if op >= wasm.OpcodeF32Abs && op <= wasm.OpcodeF32Copysign {
		return wasm.ValueTypeF32
	}
	return wasm.ValueTypeF64
}

func scratch4(t *transformer, w wasm.ValueType) (aV, aT, bV, bT wasm.Index) {
	if w == wasm.ValueTypeF32 {
		return t.scratchF32, t.scratchF32 + 1, t.scratchF32 + 2, t.scratchF32 + 3
	}
	return t.scratchF64, t.scratchF64 + 1, t.scratchF64 + 2, t.scratchF64 + 3
}

func scratch2(t *transformer, w wasm.ValueType) (a, b wasm.Index) {
	if w == wasm.ValueTypeF32 {
		return t.scratchF32, t.scratchF32 + 1
	}
	return t.scratchF64, t.scratchF64 + 1
}

func addOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Add
	}
	return wasm.OpcodeF64Add
}
func subOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Sub
	}
	return wasm.OpcodeF64Sub
}
func mulOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Mul
	}
	return wasm.OpcodeF64Mul
}
func divOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Div
	}
	return wasm.OpcodeF64Div
}
func negOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Neg
	}
	return wasm.OpcodeF64Neg
}
func geOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Ge
	}
	return wasm.OpcodeF64Ge
}
func leOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Le
	}
	return wasm.OpcodeF64Le
}
func ltOpOf(w wasm.ValueType) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Lt
	}
	return wasm.OpcodeF64Lt
}
func nativeMinMaxOp(w wasm.ValueType, isMax bool) wasm.Opcode {
	if w == wasm.ValueTypeF32 {
		if isMax {
			return wasm.OpcodeF32Max
		}
		return wasm.OpcodeF32Min
	}
	if isMax {
		return wasm.OpcodeF64Max
	}
	return wasm.OpcodeF64Min
}
func constZeroOf(b []byte, w wasm.ValueType) []byte {
	if w == wasm.ValueTypeF32 {
		return wasm.F32Const(b, 0)
	}
	return wasm.F64Const(b, 0)
}
func constTwoOf(b []byte, w wasm.ValueType) []byte {
	if w == wasm.ValueTypeF32 {
		return wasm.F32Const(b, math.Float32bits(2))
	}
	return wasm.F64Const(b, math.Float64bits(2))
}
