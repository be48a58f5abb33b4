package reverse

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

func TestHelperIndex_MatchesDeclarationOrder(t *testing.T) {
	require.Equal(t, HelperCount, len(HelperFuncs))
	for i, name := range HelperFuncs {
		require.EqualValues(t, i, HelperIndex(name), name)
	}
}

func TestBuildHelperTypesAndCodes_OneEach(t *testing.T) {
	types := BuildHelperTypes()
	codes := BuildHelperCodes()
	require.Equal(t, HelperCount, len(types))
	require.Equal(t, HelperCount, len(codes))
	for _, c := range codes {
		require.NotEmpty(t, c.Body)
	}
}

func TestHelperType_TapeI32Shapes(t *testing.T) {
	fwd := helperType("tape_i32", Width32)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32}, fwd.Params)
	require.Empty(t, fwd.Results)

	bwd := helperType("tape_i32_bwd", Width32)
	require.Empty(t, bwd.Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32}, bwd.Results)
}

func TestHelperType_MulFwdBwdShapes(t *testing.T) {
	fwd := helperType("f32_mul_fwd", Width32)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}, fwd.Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32}, fwd.Results)

	bwd := helperType("f32_mul_bwd", Width32)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32}, bwd.Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}, bwd.Results)
}
