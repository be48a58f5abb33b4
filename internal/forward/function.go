package forward

import (
	"fmt"

	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// memIndexer maps an original memory index to its (value, tangent) pair.
type memIndexer func(orig wasm.Index) (value, tangent wasm.Index)

// slot is one original local's (or param's) output local index(es): every
// local gets a value slot; float locals also get a tangent slot.
type slot struct {
	ty         wasm.ValueType
	value      wasm.Index
	tangent    wasm.Index
	hasTangent bool
}

// transformer rewrites one function body in place, instruction by
// instruction, interleaving a tangent computation alongside each primal
// operation (single pass — no tape, no basic-block splitting).
type transformer struct {
	ft             wasm.FunctionType
	declaredLocals []wasm.ValueType
	memIdx         memIndexer

	slots []slot // indexed by original local index (params then declared locals)

	// operand stack of *value* types only; a float value's tangent always
	// accompanies it one output-stack-slot below (interleaved push order),
	// so no separate tangent-type stack bookkeeping is needed.
	stack []wasm.ValueType

	// scratchF32/scratchF64 each anchor a 4-wide block (aV,aT,bV,bT for a
	// binary op; a 2-wide sub-slice covers unary ops and float mem stores).
	scratchI32, scratchF32, scratchF64 wasm.Index
}

func newTransformer(ft wasm.FunctionType, declaredLocals []wasm.ValueType, memIdx memIndexer, importFuncCount int) *transformer {
	t := &transformer{ft: ft, declaredLocals: declaredLocals, memIdx: memIdx}
	t.buildSlots()
	return t
}

func (t *transformer) buildSlots() {
	all := append(append([]wasm.ValueType{}, t.ft.Params...), t.declaredLocals...)
	next := wasm.Index(0)
	for _, ty := range all {
		s := slot{ty: ty, value: next}
		next++
		if wasm.IsFloat(ty) {
			s.tangent = next
			s.hasTangent = true
			next++
		}
		t.slots = append(t.slots, s)
	}
	t.scratchI32 = next
	t.scratchF32 = next + 1
	t.scratchF64 = next + 1 + 4
}

// localDeclTypes returns this function's full output local declaration list:
// params are already accounted for by the caller (only declared locals and
// scratch slots are newly declared here); see transform's use.
func (t *transformer) localDeclTypes() []wasm.ValueType {
	var out []wasm.ValueType
	for _, s := range t.slots[len(t.ft.Params):] {
		out = append(out, s.ty)
		if s.hasTangent {
			out = append(out, s.ty)
		}
	}
	out = append(out, wasm.ValueTypeI32)
	for i := 0; i < 4; i++ {
		out = append(out, wasm.ValueTypeF32)
	}
	for i := 0; i < 4; i++ {
		out = append(out, wasm.ValueTypeF64)
	}
	return out
}

func (t *transformer) transform(body []byte) (wasm.Code, error) {
	c := newCursor(body)
	var out []byte
	for {
		op, err := c.readByte()
		if err != nil {
			return wasm.Code{}, fmt.Errorf("reading opcode: %w", err)
		}
		if op == wasm.OpcodeEnd && c.remaining() == 0 {
			out = wasm.End(out)
			break
		}
		chunk, err := t.step(c, op)
		if err != nil {
			return wasm.Code{}, err
		}
		out = append(out, chunk...)
	}
	return wasm.Code{LocalTypes: t.localDeclTypes(), Body: out}, nil
}

func (t *transformer) step(c *cursor, op wasm.Opcode) ([]byte, error) {
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		bt, err := c.readBlockTypeRaw()
		if err != nil {
			return nil, err
		}
		var b []byte
		if op == wasm.OpcodeIf {
			t.pop()
		}
		b = wasm.Op(b, op)
		b = append(b, bt...)
		return b, nil

	case wasm.OpcodeElse, wasm.OpcodeEnd:
		return wasm.Op(nil, op), nil

	case wasm.OpcodeBr:
		depth, err := c.readU32()
		if err != nil {
			return nil, err
		}
		return wasm.Br(nil, depth), nil

	case wasm.OpcodeBrIf:
		depth, err := c.readU32()
		if err != nil {
			return nil, err
		}
		t.pop()
		return wasm.BrIf(nil, depth), nil

	case wasm.OpcodeBrTable:
		labels, def, err := c.readBrTable()
		if err != nil {
			return nil, err
		}
		t.pop()
		return wasm.BrTable(nil, labels, def), nil

	case wasm.OpcodeReturn, wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeDrop:
		if op == wasm.OpcodeDrop {
			ty := t.pop()
			b := wasm.Drop(nil)
			if wasm.IsFloat(ty) {
				b = wasm.Drop(b) // also drop the paired tangent value
			}
			return b, nil
		}
		return wasm.Op(nil, op), nil

	case wasm.OpcodeCall:
		idx, err := c.readU32()
		if err != nil {
			return nil, err
		}
		return wasm.Call(nil, idx), nil

	case wasm.OpcodeCallIndirect:
		return nil, fmt.Errorf("call_indirect is not supported")

	case wasm.OpcodeLocalGet:
		idx, err := c.readU32()
		if err != nil {
			return nil, err
		}
		return t.emitLocalGet(idx), nil

	case wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		idx, err := c.readU32()
		if err != nil {
			return nil, err
		}
		return t.emitLocalSet(idx, op == wasm.OpcodeLocalTee), nil

	case wasm.OpcodeGlobalGet:
		idx, err := c.readU32()
		if err != nil {
			return nil, err
		}
		t.push(wasm.ValueTypeI32)
		return wasm.GlobalGet(nil, idx), nil

	case wasm.OpcodeGlobalSet:
		idx, err := c.readU32()
		if err != nil {
			return nil, err
		}
		t.pop()
		return wasm.GlobalSet(nil, idx), nil

	case wasm.OpcodeI32Const:
		v, err := c.readI32()
		if err != nil {
			return nil, err
		}
		t.push(wasm.ValueTypeI32)
		return wasm.I32Const(nil, v), nil

	case wasm.OpcodeI64Const:
		v, err := c.readI64()
		if err != nil {
			return nil, err
		}
		t.push(wasm.ValueTypeI64)
		return wasm.I64Const(nil, v), nil

	case wasm.OpcodeF32Const:
		v, err := c.readF32Bits()
		if err != nil {
			return nil, err
		}
		t.push(wasm.ValueTypeF32)
		b := wasm.F32Const(nil, v)
		b = wasm.F32Const(b, 0) // tangent of a literal is always zero
		return b, nil

	case wasm.OpcodeF64Const:
		v, err := c.readF64Bits()
		if err != nil {
			return nil, err
		}
		t.push(wasm.ValueTypeF64)
		b := wasm.F64Const(nil, v)
		b = wasm.F64Const(b, 0)
		return b, nil

	default:
		if op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32 {
			return t.emitMemOp(c, op)
		}
		if isFloatBinary(op) {
			return t.emitFloatBinary(op)
		}
		if isFloatUnary(op) {
			return t.emitFloatUnary(op)
		}
		return t.emitPassthrough(op)
	}
}

func (t *transformer) push(ty wasm.ValueType) { t.stack = append(t.stack, ty) }

func (t *transformer) pop() wasm.ValueType {
	ty := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return ty
}
