// Package forward implements forward-mode automatic differentiation: the
// simpler peer of package reverse. Every float-typed param, result, and
// local gains a paired tangent slot; each function becomes a single pass
// that propagates primal values and their tangents together, with no tape
// and no control-flow reversal.
package forward

import (
	"fmt"

	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// Transform rewrites src into its forward-mode (tangent-propagating)
// counterpart: one output function per input function, each with doubled
// float params/results/locals.
func Transform(src *wasm.Module) (*wasm.Module, error) {
	if src.HasStart {
		return nil, fmt.Errorf("start section is not supported")
	}
	if src.HasTable {
		return nil, fmt.Errorf("table section is not supported")
	}
	if src.HasElement {
		return nil, fmt.Errorf("element section is not supported")
	}

	out := &wasm.Module{}

	for _, t := range src.TypeSection {
		out.TypeSection = append(out.TypeSection, tangentType(t))
	}

	for _, m := range src.MemorySection {
		out.MemorySection = append(out.MemorySection, m, m) // value memory, tangent memory
	}
	memIdx := func(orig wasm.Index) (value, tangent wasm.Index) {
		return 2 * orig, 2*orig + 1
	}

	importFuncCount := src.ImportFuncCount()
	for _, imp := range src.ImportSection {
		switch imp.Type {
		case wasm.ExternTypeFunc:
			out.ImportSection = append(out.ImportSection, wasm.Import{
				Module: imp.Module, Name: imp.Name, Type: wasm.ExternTypeFunc, DescFunc: imp.DescFunc,
			})
		case wasm.ExternTypeMemory:
			out.ImportSection = append(out.ImportSection, imp, imp)
		case wasm.ExternTypeGlobal:
			out.ImportSection = append(out.ImportSection, imp)
		}
	}

	out.GlobalSection = append(out.GlobalSection, src.GlobalSection...)

	allTypes := src.AllFunctionTypes()
	for _, typeIdx := range src.FunctionSection {
		out.FunctionSection = append(out.FunctionSection, typeIdx)
	}

	for k, code := range src.CodeSection {
		origIdx := importFuncCount + wasm.Index(k)
		ft := allTypes[origIdx]
		tr := newTransformer(*ft, code.LocalTypes, memIdx, int(importFuncCount))
		newCode, err := tr.transform(code.Body)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", k, err)
		}
		out.CodeSection = append(out.CodeSection, newCode)
	}

	for _, exp := range src.ExportSection {
		out.ExportSection = append(out.ExportSection, exp)
	}

	for _, d := range src.DataSection {
		value, _ := memIdx(d.MemoryIndex)
		out.DataSection = append(out.DataSection, wasm.Data{MemoryIndex: value, Offset: d.Offset, Init: d.Init})
	}

	return out, nil
}

// tangentType doubles every float param/result with a trailing tangent
// slot of the same type, leaving integers untouched.
func tangentType(t wasm.FunctionType) wasm.FunctionType {
	return wasm.FunctionType{Params: withTangents(t.Params), Results: withTangents(t.Results)}
}

func withTangents(vals []wasm.ValueType) []wasm.ValueType {
	out := make([]wasm.ValueType, 0, len(vals)*2)
	for _, v := range vals {
		out = append(out, v)
		if wasm.IsFloat(v) {
			out = append(out, v)
		}
	}
	return out
}
