package wasmgrad

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
	"github.com/tetratelabs/wasmgrad/internal/wasm/binary"
)

// squareModule builds a minimal module exporting one function,
// square(x f32) f32 { return x*x }, encoded straight to Wasm bytes.
func squareModule(t *testing.T) []byte {
	t.Helper()
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeF32}, Results: []wasm.ValueType{wasm.ValueTypeF32}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "square", Type: wasm.ExternTypeFunc, Index: 0}},
		CodeSection: []wasm.Code{{Body: concat(
			wasm.LocalGet(nil, 0),
			wasm.LocalGet(nil, 0),
			wasm.Op(nil, wasm.OpcodeF32Mul),
			wasm.Op(nil, wasm.OpcodeEnd),
		)}},
	}
	return binary.Encode(m)
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestTransform_ForwardMode_RoundTrips(t *testing.T) {
	input := squareModule(t)
	out, err := Transform(input, ModeForward, WithValidation(false))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	decoded, err := binary.Decode(out, wasm.TrustValidator{})
	require.NoError(t, err)
	require.Len(t, decoded.TypeSection, 1)
	// square's single f32 param/result each gain a tangent slot.
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}, decoded.TypeSection[0].Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}, decoded.TypeSection[0].Results)
}

func TestTransform_ReverseMode_RoundTrips(t *testing.T) {
	input := squareModule(t)
	out, err := Transform(input, ModeReverse, WithValidation(false))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	decoded, err := binary.Decode(out, wasm.TrustValidator{})
	require.NoError(t, err)
	// Every defined function doubles into a forward/backward pair, on top
	// of the fixed tape helper library.
	require.Greater(t, len(decoded.FunctionSection), 0)
	require.Len(t, decoded.CodeSection, len(decoded.FunctionSection))

	var sawForward, sawBackward bool
	for _, exp := range decoded.ExportSection {
		if exp.Name == "square" {
			sawForward = true
		}
		if exp.Name == "square_bwd" {
			sawBackward = true
		}
	}
	require.True(t, sawForward)
	require.True(t, sawBackward)
}

func TestTransform_UnknownMode(t *testing.T) {
	input := squareModule(t)
	_, err := Transform(input, Mode(99))
	require.Error(t, err)
}
