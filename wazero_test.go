package wasmgrad

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
	"github.com/tetratelabs/wasmgrad/internal/wasm/binary"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// instantiate compiles and instantiates a transformed module's bytes under
// wazero, returning the live instance and its context; the runtime is
// closed through t.Cleanup. Every case here
// needs no host imports: ModeForward/ModeReverse output is a closed module
// once helpers and tape memories are assembled in.
func instantiate(t *testing.T, bin []byte) (api.Module, context.Context) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })
	mod, err := r.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(""))
	require.NoError(t, err)
	return mod, ctx
}

func f32(v float32) uint64 { return api.EncodeF32(v) }
func f64(v float64) uint64 { return api.EncodeF64(v) }

// binaryFloatModule builds a single-function module (a op b), exported as
// "f", computing one float binary opcode over two params of the given width.
func binaryFloatModule(t *testing.T, ty wasm.ValueType, op wasm.Opcode) []byte {
	t.Helper()
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{ty, ty}, Results: []wasm.ValueType{ty}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "f", Type: wasm.ExternTypeFunc, Index: 0}},
		CodeSection: []wasm.Code{{Body: concat(
			wasm.LocalGet(nil, 0),
			wasm.LocalGet(nil, 1),
			wasm.Op(nil, op),
			wasm.Op(nil, wasm.OpcodeEnd),
		)}},
	}
	return binary.Encode(m)
}

// TestReverseMode_Square checks primal output and the gradient of x*x at a
// handful of points: d/dx(x^2) = 2x.
func TestReverseMode_Square(t *testing.T) {
	input := squareModule(t)
	out, err := Transform(input, ModeReverse, WithValidation(false))
	require.NoError(t, err)

	mod, ctx := instantiate(t, out)
	fwd := mod.ExportedFunction("square")
	bwd := mod.ExportedFunction("square_bwd")
	require.NotNil(t, fwd)
	require.NotNil(t, bwd)

	for _, x := range []float32{3, -2, 0.5} {
		res, err := fwd.Call(ctx, f32(x))
		require.NoError(t, err)
		require.InDelta(t, x*x, api.DecodeF32(res[0]), 1e-4)

		grad, err := bwd.Call(ctx, f32(1))
		require.NoError(t, err)
		require.InDelta(t, 2*x, api.DecodeF32(grad[0]), 1e-4)
	}
}

// TestReverseMode_FloatBinaryOps exercises add, sub, mul, div, min and
// max's backward emission end to end, checking both the primal value and the analytic
// gradient against each operand.
func TestReverseMode_FloatBinaryOps(t *testing.T) {
	cases := []struct {
		name    string
		op      wasm.Opcode
		a, b    float32
		wantVal float32
		wantDa  float32
		wantDb  float32
	}{
		{"sub", wasm.OpcodeF32Sub, 5, 2, 3, 1, -1},
		{"div", wasm.OpcodeF32Div, 6, 3, 2, 1.0 / 3, -6.0 / 9},
		{"max_a_wins", wasm.OpcodeF32Max, 5, 2, 5, 1, 0},
		{"max_b_wins", wasm.OpcodeF32Max, 2, 5, 5, 0, 1},
		{"min_a_wins", wasm.OpcodeF32Min, 2, 5, 2, 1, 0},
		{"mul", wasm.OpcodeF32Mul, 3, 4, 12, 4, 3},
		{"add", wasm.OpcodeF32Add, 3, 4, 7, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := binaryFloatModule(t, wasm.ValueTypeF32, tc.op)
			out, err := Transform(input, ModeReverse, WithValidation(false))
			require.NoError(t, err)

			mod, ctx := instantiate(t, out)
			fwd := mod.ExportedFunction("f")
			bwd := mod.ExportedFunction("f_bwd")

			res, err := fwd.Call(ctx, f32(tc.a), f32(tc.b))
			require.NoError(t, err)
			require.InDelta(t, tc.wantVal, api.DecodeF32(res[0]), 1e-4)

			grad, err := bwd.Call(ctx, f32(1))
			require.NoError(t, err)
			require.Len(t, grad, 2)
			require.InDelta(t, tc.wantDa, api.DecodeF32(grad[0]), 1e-4)
			require.InDelta(t, tc.wantDb, api.DecodeF32(grad[1]), 1e-4)
		})
	}
}

// TestReverseMode_IfElse checks gradient correctness through a basic
// select-style if/else, for both branches.
func TestReverseMode_IfElse(t *testing.T) {
	// f(cond, a, b) = cond != 0 ? a*a : b*b
	m := &wasm.Module{
		TypeSection: []wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeF32},
			Results: []wasm.ValueType{wasm.ValueTypeF32},
		}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "f", Type: wasm.ExternTypeFunc, Index: 0}},
		CodeSection: []wasm.Code{{
			Body: concat(
				wasm.LocalGet(nil, 0),
				wasm.If(nil),
				wasm.BlockType(nil, false, wasm.ValueTypeF32, true, 0, false),
				wasm.LocalGet(nil, 1),
				wasm.LocalGet(nil, 1),
				wasm.Op(nil, wasm.OpcodeF32Mul),
				wasm.Else(nil),
				wasm.LocalGet(nil, 2),
				wasm.LocalGet(nil, 2),
				wasm.Op(nil, wasm.OpcodeF32Mul),
				wasm.Op(nil, wasm.OpcodeEnd),
				wasm.Op(nil, wasm.OpcodeEnd),
			),
		}},
	}
	input := binary.Encode(m)
	out, err := Transform(input, ModeReverse, WithValidation(false))
	require.NoError(t, err)

	mod, ctx := instantiate(t, out)
	fwd := mod.ExportedFunction("f")
	bwd := mod.ExportedFunction("f_bwd")
	require.NotNil(t, fwd)
	require.NotNil(t, bwd)

	// then-arm: cond != 0, result = a*a, da = 2a, db = 0
	res, err := fwd.Call(ctx, uint64(1), f32(3), f32(10))
	require.NoError(t, err)
	require.InDelta(t, 9, api.DecodeF32(res[0]), 1e-4)
	grad, err := bwd.Call(ctx, f32(1))
	require.NoError(t, err)
	require.InDelta(t, 6, api.DecodeF32(grad[0]), 1e-4)
	require.InDelta(t, 0, api.DecodeF32(grad[1]), 1e-4)

	// else-arm: cond == 0, result = b*b, da = 0, db = 2b
	res, err = fwd.Call(ctx, uint64(0), f32(3), f32(10))
	require.NoError(t, err)
	require.InDelta(t, 100, api.DecodeF32(res[0]), 1e-4)
	grad, err = bwd.Call(ctx, f32(1))
	require.NoError(t, err)
	require.InDelta(t, 0, api.DecodeF32(grad[0]), 1e-4)
	require.InDelta(t, 20, api.DecodeF32(grad[1]), 1e-4)
}

// TestForwardMode_Square checks tangent-mode output against the analytic
// derivative, using the doubled (value, tangent) calling convention.
func TestForwardMode_Square(t *testing.T) {
	input := squareModule(t)
	out, err := Transform(input, ModeForward, WithValidation(false))
	require.NoError(t, err)

	mod, ctx := instantiate(t, out)
	fn := mod.ExportedFunction("square")
	require.NotNil(t, fn)

	// (value, tangent) pairs per float param; seed dx=1 to read d/dx directly.
	res, err := fn.Call(ctx, f32(3), f32(1))
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.InDelta(t, 9, api.DecodeF32(res[0]), 1e-4)
	require.InDelta(t, 6, api.DecodeF32(res[1]), 1e-4)
}

func TestReverseMode_Float64Width(t *testing.T) {
	input := binaryFloatModule(t, wasm.ValueTypeF64, wasm.OpcodeF64Mul)
	out, err := Transform(input, ModeReverse, WithValidation(false))
	require.NoError(t, err)

	mod, ctx := instantiate(t, out)
	fwd := mod.ExportedFunction("f")
	bwd := mod.ExportedFunction("f_bwd")

	res, err := fwd.Call(ctx, f64(3), f64(4))
	require.NoError(t, err)
	require.InDelta(t, 12, math.Float64frombits(res[0]), 1e-9)

	grad, err := bwd.Call(ctx, f64(1))
	require.NoError(t, err)
	require.InDelta(t, 4, math.Float64frombits(grad[0]), 1e-9)
	require.InDelta(t, 3, math.Float64frombits(grad[1]), 1e-9)
}
