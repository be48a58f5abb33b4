package wasm

// SectionID identifies a Wasm binary section, in the canonical order they
// must appear (except Custom, which may repeat anywhere).
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// ExternType classifies an import or export.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a module-defined global with its constant initializer already
// evaluated to a raw 64-bit payload (spec §6: "non-empty init expressions
// beyond numeric constants" are rejected during validation, so by the time a
// Global reaches the transformer its Init is always a bare constant).
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// ConstExpr is an evaluated constant initializer: a single numeric constant,
// stored as its raw bit pattern regardless of type.
type ConstExpr struct {
	Type ValueType
	Bits uint64
}

// Memory describes a linear memory's page-count limits.
type Memory struct {
	Min uint32
	Max uint32
	// IsMaxEncoded distinguishes "no max" from "max == min" on re-encode.
	IsMaxEncoded bool
}

// Import describes a single imported entity. Exactly one of the Desc* fields
// is meaningful, selected by Type.
type Import struct {
	Module, Name string
	Type         ExternType
	DescFunc     Index // typeidx, when Type == ExternTypeFunc
	DescMemory   Memory
	DescGlobal   GlobalType
}

// Export mirrors an Import but for the export section.
type Export struct {
	Name  string
	Type  ExternType
	Index Index
}

// Code is one entry of the code section: the function's local declarations
// (beyond its parameters) and its instruction bytes, not including the
// leading size prefix emitted by the encoder.
type Code struct {
	LocalTypes []ValueType
	Body       []byte
}

// NameSection is the optional best-effort debugging aid described in spec
// §6 (names: bool). The decoder populates the module-name and function-name
// subsections; local names are not read.
type NameSection struct {
	ModuleName   string
	FunctionNames []NameAssoc
	LocalNames    map[Index][]NameAssoc
}

// NameAssoc pairs an index with a name, the unit the name subsections are
// built from in the Wasm binary format.
type NameAssoc struct {
	Index Index
	Name  string
}

// Module is the decoded form of a Wasm binary module: one slice per
// section, in section order. A Module produced by this repo's decoder is
// always in this normalized shape regardless of whether custom sections
// were interleaved in the source bytes.
type Module struct {
	TypeSection     []FunctionType
	ImportSection   []Import
	FunctionSection []Index // typeidx per defined (non-imported) function
	MemorySection   []Memory
	GlobalSection   []Global
	ExportSection   []Export
	CodeSection     []Code
	// StartSection, TableSection and ElementSection are recorded only as
	// flags, which the reverse assembler and the forward transformer reject
	// (spec §4.F): a start function could
	// run before the tape is initialized, and tables are out of scope
	// without call_indirect support.
	HasStart       bool
	HasTable       bool
	HasElement     bool
	DataSection    []Data

	NameSection *NameSection
}

// Data is a module-level data segment, copied verbatim into the
// corresponding primal memory's initial contents (spec §4.F).
type Data struct {
	MemoryIndex Index
	Offset      uint32
	Init        []byte
}

// ImportFuncCount returns how many imported functions this module declares;
// these occupy a prefix of both the forward and backward function index
// spaces (spec §3, "Function index map").
func (m *Module) ImportFuncCount() Index {
	var n Index
	for i := range m.ImportSection {
		if m.ImportSection[i].Type == ExternTypeFunc {
			n++
		}
	}
	return n
}

// ImportMemoryCount returns how many imported memories this module declares.
func (m *Module) ImportMemoryCount() Index {
	var n Index
	for i := range m.ImportSection {
		if m.ImportSection[i].Type == ExternTypeMemory {
			n++
		}
	}
	return n
}

// ImportGlobalCount returns how many imported globals this module declares.
func (m *Module) ImportGlobalCount() Index {
	var n Index
	for i := range m.ImportSection {
		if m.ImportSection[i].Type == ExternTypeGlobal {
			n++
		}
	}
	return n
}

// AllFunctionTypes returns, for every function (imported then defined) in
// index order, the *FunctionType it was declared with.
func (m *Module) AllFunctionTypes() []*FunctionType {
	out := make([]*FunctionType, 0, len(m.ImportSection)+len(m.FunctionSection))
	for i := range m.ImportSection {
		imp := &m.ImportSection[i]
		if imp.Type == ExternTypeFunc {
			out = append(out, &m.TypeSection[imp.DescFunc])
		}
	}
	for _, typeIdx := range m.FunctionSection {
		out = append(out, &m.TypeSection[typeIdx])
	}
	return out
}

// MemoryCount is the number of original linear memories: imported plus
// module-defined.
func (m *Module) MemoryCount() Index {
	return m.ImportMemoryCount() + Index(len(m.MemorySection))
}
