package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

func TestEncodeCode(t *testing.T) {
	addLocalZeroLocalOne := []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}
	tests := []struct {
		name     string
		input    *wasm.Code
		expected []byte
	}{
		{
			name:     "smallest function body",
			input:    &wasm.Code{Body: []byte{wasm.OpcodeEnd}},
			expected: []byte{0x02, 0x00, wasm.OpcodeEnd},
		},
		{
			name:  "locals and instructions",
			input: &wasm.Code{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Body: addLocalZeroLocalOne},
			expected: append([]byte{
				0x09,
				0x01,
				0x02, wasm.ValueTypeI32,
			}, addLocalZeroLocalOne...),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, encodeCode(tc.input))
		})
	}
}

// buildSquareModule builds the minimal module from spec.md's worked example:
// (func (export "square") (param f64) (result f64) (f64.mul (local.get 0) (local.get 0)))
func buildSquareModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeF64},
			Results: []wasm.ValueType{wasm.ValueTypeF64},
		}},
		FunctionSection: []wasm.Index{0},
		ExportSection: []wasm.Export{
			{Name: "square", Type: wasm.ExternTypeFunc, Index: 0},
		},
		CodeSection: []wasm.Code{{
			Body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeF64Mul,
				wasm.OpcodeEnd,
			},
		}},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := buildSquareModule()
	raw := Encode(want)

	got, err := Decode(raw, &wasm.ValidatingValidator{})
	require.NoError(t, err)
	require.Equal(t, want.TypeSection, got.TypeSection)
	require.Equal(t, want.FunctionSection, got.FunctionSection)
	require.Equal(t, want.ExportSection, got.ExportSection)
	require.Equal(t, want.CodeSection, got.CodeSection)
}

func TestDecode_RejectsSIMD(t *testing.T) {
	m := buildSquareModule()
	m.CodeSection[0].Body = []byte{wasm.OpcodeVecPrefix, 0x00, wasm.OpcodeEnd}
	raw := Encode(m)
	_, err := Decode(raw, &wasm.ValidatingValidator{})
	require.Error(t, err)
}

func TestDecode_TrustSkipsSemanticChecks(t *testing.T) {
	m := buildSquareModule()
	m.GlobalSection = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true},
		Init: wasm.ConstExpr{Type: wasm.ValueTypeI32, Bits: 0},
	}}
	raw := Encode(m)

	_, err := Decode(raw, &wasm.ValidatingValidator{})
	require.Error(t, err, "mutable globals are rejected by the validating validator")

	_, err = Decode(raw, wasm.TrustValidator{})
	require.NoError(t, err, "the trust validator never rejects")
}
