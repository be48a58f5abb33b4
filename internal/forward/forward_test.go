package forward

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

func TestTangentType_DoublesOnlyFloats(t *testing.T) {
	in := wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeI32},
		Results: []wasm.ValueType{wasm.ValueTypeF64},
	}
	out := tangentType(in)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32, wasm.ValueTypeI32}, out.Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF64, wasm.ValueTypeF64}, out.Results)
}

// TestTransform_SquareFunction builds a tiny module by hand — one function
// computing x*x — and checks the forward-mode output's type signature and
// that it emits a tangent-carrying body without error.
func TestTransform_SquareFunction(t *testing.T) {
	src := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeF32}, Results: []wasm.ValueType{wasm.ValueTypeF32}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "square", Type: wasm.ExternTypeFunc, Index: 0}},
		CodeSection: []wasm.Code{{
			Body: mustBody(
				wasm.LocalGet(nil, 0),
				wasm.LocalGet(nil, 0),
				wasm.Op(nil, wasm.OpcodeF32Mul),
				wasm.Op(nil, wasm.OpcodeEnd),
			),
		}},
	}

	out, err := Transform(src)
	require.NoError(t, err)
	require.Len(t, out.TypeSection, 1)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}, out.TypeSection[0].Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}, out.TypeSection[0].Results)
	require.Len(t, out.CodeSection, 1)
	require.NotEmpty(t, out.CodeSection[0].Body)
	require.Equal(t, out.ExportSection, src.ExportSection)
}

func mustBody(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
