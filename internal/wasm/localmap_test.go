package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalMap_IntegerLocalsVanish(t *testing.T) {
	m := NewLocalMap(ReverseBackwardLocalCounts)
	m.Push(2, ValueTypeI32) // locals 0,1: no backward counterpart
	m.Push(3, ValueTypeF64) // locals 2,3,4: backward 0,1,2
	m.Push(1, ValueTypeF32) // local 5: backward 3

	require.EqualValues(t, 6, m.CountKeys())
	require.EqualValues(t, 4, m.CountVals())
	require.EqualValues(t, 4, m.BackwardCount())

	for _, idx := range []Index{0, 1} {
		ty, _, ok := m.Get(idx)
		require.False(t, ok, idx)
		require.Equal(t, ValueTypeI32, ty)
	}

	cases := []struct {
		idx     Index
		wantTy  ValueType
		wantVal Index
	}{
		{2, ValueTypeF64, 0},
		{3, ValueTypeF64, 1},
		{4, ValueTypeF64, 2},
		{5, ValueTypeF32, 3},
	}
	for _, c := range cases {
		ty, v, ok := m.Get(c.idx)
		require.True(t, ok, c.idx)
		require.Equal(t, c.wantTy, ty, c.idx)
		require.Equal(t, c.wantVal, v, c.idx)
	}
}

func TestLocalMap_Iteration(t *testing.T) {
	m := NewLocalMap(ReverseBackwardLocalCounts)
	m.Push(2, ValueTypeI32)
	m.Push(1, ValueTypeF64)

	var keyRuns [][2]interface{}
	m.Keys(func(count Index, ty ValueType) {
		keyRuns = append(keyRuns, [2]interface{}{count, ty})
	})
	require.Equal(t, [][2]interface{}{{Index(2), ValueTypeI32}, {Index(1), ValueTypeF64}}, keyRuns)

	var valRuns [][2]interface{}
	m.Vals(func(count Index, ty ValueType) {
		valRuns = append(valRuns, [2]interface{}{count, ty})
	})
	require.Equal(t, [][2]interface{}{{Index(1), ValueTypeF64}}, valRuns)
}

func TestFunctionType_BackwardType(t *testing.T) {
	ft := FunctionType{
		Params:  []ValueType{ValueTypeF64, ValueTypeI32, ValueTypeF64},
		Results: []ValueType{ValueTypeF32},
	}
	bwd := ft.BackwardType()
	require.Equal(t, []ValueType{ValueTypeF32}, bwd.Params)
	require.Equal(t, []ValueType{ValueTypeF64, ValueTypeF64}, bwd.Results)
}

func TestFunctionType_String(t *testing.T) {
	require.Equal(t, "null_null", (&FunctionType{}).String())
	require.Equal(t, "i32_i64", (&FunctionType{
		Params:  []ValueType{ValueTypeI32},
		Results: []ValueType{ValueTypeI64},
	}).String())
}
