// Package assemble builds the final output module (spec §4.F): it merges
// the fixed tape runtime library, the doubled type/memory/function index
// spaces, and each original function's forward/backward pair produced by
// package reverse into one encodable wasm.Module.
package assemble

import (
	"fmt"

	"github.com/tetratelabs/wasmgrad/internal/reverse"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// Error mirrors the top-level package's error kinds closely enough for
// internal use; the public Transform entry point wraps these into the
// exported Error type (spec §7).
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func unsupported(format string, args ...any) error {
	return &Error{Kind: "UnsupportedFeature", Message: fmt.Sprintf(format, args...)}
}

func missingImport(format string, args ...any) error {
	return &Error{Kind: "MissingImport", Message: fmt.Sprintf(format, args...)}
}

// ImportBackward lets a caller (via config options) name the backward
// counterpart of an imported function: module/name of the host function
// that computes the adjoint, since the transformer cannot synthesize a
// backward pass for a function whose body it never saw (spec §4.F).
type ImportBackward struct {
	Module, Name     string
	BackwardModule   string
	BackwardName     string
}

// ExportBackward similarly names what the backward pass of an exported
// function should be (re)exported as; if absent, the backward form is
// exported as name+"_bwd".
type ExportBackward struct {
	Name         string
	BackwardName string
}

// Options controls assembly; it is the internal mirror of the top-level
// package's unexported config (kept separate so this package has no dependency on the
// top-level package, matching the teacher's internal/-package-has-no-
// upward-import convention).
type Options struct {
	EmitNames     bool
	ImportBackwd  []ImportBackward
	ExportBackwd  []ExportBackward
}

// Assemble transforms src into the reverse-mode output module.
func Assemble(src *wasm.Module, opts Options) (*wasm.Module, error) {
	if src.HasStart {
		return nil, unsupported("start section is not supported")
	}
	if src.HasTable {
		return nil, unsupported("table section is not supported")
	}
	if src.HasElement {
		return nil, unsupported("element section is not supported")
	}

	out := &wasm.Module{}

	typeTable := wasm.BuildReverseTypeTable(src.TypeSection)
	helperTypes := reverse.BuildHelperTypes()
	out.TypeSection = append(append([]wasm.FunctionType{}, helperTypes...), typeTable.Types...)
	// helperTypes occupy type indices [0, HelperCount); the doubled source
	// types are shifted by that same amount so a forward/backward pair's
	// *type* index still differs by exactly 1 (2i/2i+1 offset by a
	// constant), matching spec §3's invariant up to the fixed helper
	// preamble.
	typeIdxBase := wasm.Index(len(helperTypes))

	memCount := int(src.MemoryCount())
	memIdx := func(orig wasm.Index) (primal, adjoint wasm.Index) {
		base := reverse.TapeCount + 2*orig
		return base, base + 1
	}

	allTypes := src.AllFunctionTypes()
	importFuncCount := int(src.ImportFuncCount())

	callIdx := func(orig wasm.Index) (fwd, bwd wasm.Index) {
		base := wasm.Index(reverse.HelperCount) + 2*orig
		return base, base + 1
	}
	typeIdx := func(orig wasm.Index) (fwd, bwd wasm.Index) {
		return typeIdxBase + wasm.ForwardIndex(orig), typeIdxBase + wasm.BackwardIndex(orig)
	}
	importGlobalCount := src.ImportGlobalCount()
	globalIdx := func(orig wasm.Index) wasm.Index {
		if orig < importGlobalCount {
			return orig // imported globals keep their index unchanged
		}
		return wasm.Index(reverse.TapeCount) + orig
	}

	if err := assembleMemories(out, src, memCount); err != nil {
		return nil, err
	}
	assembleGlobals(out, src)

	if err := assembleImports(out, src, opts, typeIdx, importFuncCount); err != nil {
		return nil, err
	}

	definedCount := len(src.FunctionSection)
	out.FunctionSection = append(out.FunctionSection, helperFunctionIndices()...)
	for k := 0; k < definedCount; k++ {
		origTypeIdx := src.FunctionSection[k]
		fwdT, bwdT := typeIdx(origTypeIdx)
		out.FunctionSection = append(out.FunctionSection, fwdT, bwdT)
	}

	out.CodeSection = append(out.CodeSection, reverse.BuildHelperCodes()...)
	for k := 0; k < definedCount; k++ {
		ft := allTypes[importFuncCount+k]
		code := src.CodeSection[k]
		tr := reverse.NewFunctionTransformer(wasm.Index(importFuncCount+k), *ft, code.LocalTypes, memIdx, callIdx, typeIdx, globalIdx)
		fwdCode, bwdCode, err := tr.Transform(code.Body)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", k, err)
		}
		out.CodeSection = append(out.CodeSection, fwdCode, bwdCode)
	}

	if err := assembleExports(out, src, opts, callIdx, importFuncCount); err != nil {
		return nil, err
	}

	assembleData(out, src, memIdx)

	return out, nil
}

func helperFunctionIndices() []wasm.Index {
	out := make([]wasm.Index, reverse.HelperCount)
	for i := range out {
		out[i] = wasm.Index(i) // helper N uses type index N (1:1, built that way above)
	}
	return out
}

func assembleMemories(out, src *wasm.Module, memCount int) error {
	out.MemorySection = append(out.MemorySection,
		wasm.Memory{Min: 0},
		wasm.Memory{Min: 0},
		wasm.Memory{Min: 0},
	)
	for _, m := range src.MemorySection {
		out.MemorySection = append(out.MemorySection, m, m)
	}
	return nil
}

func assembleGlobals(out, src *wasm.Module) {
	for t := 0; t < reverse.TapeCount; t++ {
		out.GlobalSection = append(out.GlobalSection, wasm.Global{
			Type: wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true},
			Init: wasm.ConstExpr{Type: wasm.ValueTypeI32, Bits: 0},
		})
	}
	out.GlobalSection = append(out.GlobalSection, src.GlobalSection...)
}

func assembleImports(out, src *wasm.Module, opts Options, typeIdx func(wasm.Index) (wasm.Index, wasm.Index), importFuncCount int) error {
	lookup := make(map[string]ImportBackward)
	for _, ib := range opts.ImportBackwd {
		lookup[ib.Module+"\x00"+ib.Name] = ib
	}

	for _, imp := range src.ImportSection {
		switch imp.Type {
		case wasm.ExternTypeFunc:
			fwdT, _ := typeIdx(imp.DescFunc)
			out.ImportSection = append(out.ImportSection, wasm.Import{
				Module: imp.Module, Name: imp.Name, Type: wasm.ExternTypeFunc, DescFunc: fwdT,
			})
			ib, ok := lookup[imp.Module+"\x00"+imp.Name]
			if !ok {
				return missingImport("no backward mapping given for imported function %s.%s", imp.Module, imp.Name)
			}
			_, bwdT := typeIdx(imp.DescFunc)
			out.ImportSection = append(out.ImportSection, wasm.Import{
				Module: ib.BackwardModule, Name: ib.BackwardName, Type: wasm.ExternTypeFunc, DescFunc: bwdT,
			})
		case wasm.ExternTypeMemory:
			out.ImportSection = append(out.ImportSection, imp, imp)
		case wasm.ExternTypeGlobal:
			out.ImportSection = append(out.ImportSection, imp)
		}
	}
	return nil
}

func assembleExports(out, src *wasm.Module, opts Options, callIdx func(wasm.Index) (wasm.Index, wasm.Index), importFuncCount int) error {
	bwdNameFor := make(map[string]string)
	for _, eb := range opts.ExportBackwd {
		bwdNameFor[eb.Name] = eb.BackwardName
	}

	for _, exp := range src.ExportSection {
		if exp.Type != wasm.ExternTypeFunc {
			continue
		}
		fwd, bwd := callIdx(exp.Index)
		out.ExportSection = append(out.ExportSection, wasm.Export{Name: exp.Name, Type: wasm.ExternTypeFunc, Index: fwd})
		bwdName := exp.Name + "_bwd"
		if n, ok := bwdNameFor[exp.Name]; ok {
			bwdName = n
		}
		out.ExportSection = append(out.ExportSection, wasm.Export{Name: bwdName, Type: wasm.ExternTypeFunc, Index: bwd})
	}
	return nil
}

// assembleData copies each original data segment into its primal memory
// mirror only, never the adjoint (spec's testable property: the adjoint
// memories start, and stay, independent state — there is no source-level
// notion of "initial gradient data").
func assembleData(out, src *wasm.Module, memIdx func(wasm.Index) (wasm.Index, wasm.Index)) {
	for _, d := range src.DataSection {
		primal, _ := memIdx(d.MemoryIndex)
		out.DataSection = append(out.DataSection, wasm.Data{MemoryIndex: primal, Offset: d.Offset, Init: d.Init})
	}
}
