// Package wasm holds the value-type taxonomy, module data structures, and
// opcode table shared by the decoder, the encoder, and the forward/reverse
// transformers. It intentionally mirrors only the subset of the WebAssembly
// 1.0 binary format (plus the multi-value and multi-memory proposals) that
// this module needs to read and re-emit; it is not a general-purpose Wasm
// toolkit.
package wasm

import "fmt"

// Index is any index into a module-level index space: types, functions,
// locals, memories, globals.
type Index = uint32

// ValueType is a numeric type used in the WebAssembly 1.0 binary format. Its
// byte encodings match the spec so a ValueType can be written directly into
// a type section without translation.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c

	// Recognized only so the validator adapter can reject them explicitly.
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the Wasm text format name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	default:
		return "unknown"
	}
}

// IsFloat reports whether t is f32 or f64: the only types that carry a
// tangent (forward mode) or an adjoint (reverse mode).
func IsFloat(t ValueType) bool {
	return t == ValueTypeF32 || t == ValueTypeF64
}

// IsInteger reports whether t is i32 or i64.
func IsInteger(t ValueType) bool {
	return t == ValueTypeI32 || t == ValueTypeI64
}

// FunctionType is a flattened (params, results) pair addressable by a
// typeidx. The function-type table described in spec §3 is just a
// []FunctionType: append-only, looked up by index.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// String renders a FunctionType the way the teacher's wazero does, as a
// compact signature key; useful for name generation and debugging.
func (t *FunctionType) String() string {
	ps := valueTypesKey(t.Params)
	rs := valueTypesKey(t.Results)
	return fmt.Sprintf("%s_%s", ps, rs)
}

func valueTypesKey(vs []ValueType) string {
	if len(vs) == 0 {
		return "null"
	}
	buf := make([]byte, 0, 3*len(vs))
	for _, v := range vs {
		buf = append(buf, ValueTypeName(v)...)
	}
	return string(buf)
}

// withoutIntegers returns the subset of vs that are float types, preserving
// order. This implements spec §3's "results with integers removed" / "params
// with integers removed" rule used to build a backward FunctionType from a
// forward one.
func withoutIntegers(vs []ValueType) []ValueType {
	out := make([]ValueType, 0, len(vs))
	for _, v := range vs {
		if IsFloat(v) {
			out = append(out, v)
		}
	}
	return out
}

// BackwardType derives the backward-pass FunctionType for a forward
// FunctionType per spec §3: backward params are the forward results with
// integers removed, backward results are the forward params with integers
// removed.
func (t *FunctionType) BackwardType() FunctionType {
	return FunctionType{
		Params:  withoutIntegers(t.Results),
		Results: withoutIntegers(t.Params),
	}
}
