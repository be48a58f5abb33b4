package binary

import (
	"bytes"

	"github.com/tetratelabs/wasmgrad/internal/leb128"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// Encode serializes m into a Wasm binary module, writing sections in
// canonical order: types, imports, functions, memories, globals, exports,
// code, data, then the optional custom name section (spec §4.F).
func Encode(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(magic)

	encodeSection(buf, wasm.SectionIDType, encodeTypeSection(m))
	if len(m.ImportSection) > 0 {
		encodeSection(buf, wasm.SectionIDImport, encodeImportSection(m))
	}
	if len(m.FunctionSection) > 0 {
		encodeSection(buf, wasm.SectionIDFunction, encodeFunctionSection(m))
	}
	if len(m.MemorySection) > 0 {
		encodeSection(buf, wasm.SectionIDMemory, encodeMemorySection(m))
	}
	if len(m.GlobalSection) > 0 {
		encodeSection(buf, wasm.SectionIDGlobal, encodeGlobalSection(m))
	}
	if len(m.ExportSection) > 0 {
		encodeSection(buf, wasm.SectionIDExport, encodeExportSection(m))
	}
	if len(m.CodeSection) > 0 {
		encodeSection(buf, wasm.SectionIDCode, encodeCodeSectionBody(m))
	}
	if len(m.DataSection) > 0 {
		encodeSection(buf, wasm.SectionIDData, encodeDataSection(m))
	}
	if m.NameSection != nil {
		encodeSection(buf, wasm.SectionIDCustom, encodeNameSection(m.NameSection))
	}
	return buf.Bytes()
}

func encodeSection(buf *bytes.Buffer, id wasm.SectionID, body []byte) {
	buf.WriteByte(id)
	buf.Write(leb128.EncodeUint32(uint32(len(body))))
	buf.Write(body)
}

func encodeName(buf *bytes.Buffer, s string) {
	buf.Write(leb128.EncodeUint32(uint32(len(s))))
	buf.WriteString(s)
}

func encodeVecHeader(buf *bytes.Buffer, n int) {
	buf.Write(leb128.EncodeUint32(uint32(n)))
}

func encodeFunctionType(buf *bytes.Buffer, t *wasm.FunctionType) {
	buf.WriteByte(0x60)
	encodeVecHeader(buf, len(t.Params))
	buf.Write(t.Params)
	encodeVecHeader(buf, len(t.Results))
	buf.Write(t.Results)
}

func encodeTypeSection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.TypeSection))
	for i := range m.TypeSection {
		encodeFunctionType(buf, &m.TypeSection[i])
	}
	return buf.Bytes()
}

func encodeLimits(buf *bytes.Buffer, mem wasm.Memory) {
	if mem.IsMaxEncoded {
		buf.WriteByte(1)
		buf.Write(leb128.EncodeUint32(mem.Min))
		buf.Write(leb128.EncodeUint32(mem.Max))
	} else {
		buf.WriteByte(0)
		buf.Write(leb128.EncodeUint32(mem.Min))
	}
}

func encodeGlobalType(buf *bytes.Buffer, gt wasm.GlobalType) {
	buf.WriteByte(gt.ValType)
	if gt.Mutable {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func encodeImportSection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.ImportSection))
	for i := range m.ImportSection {
		imp := &m.ImportSection[i]
		encodeName(buf, imp.Module)
		encodeName(buf, imp.Name)
		buf.WriteByte(imp.Type)
		switch imp.Type {
		case wasm.ExternTypeFunc:
			buf.Write(leb128.EncodeUint32(imp.DescFunc))
		case wasm.ExternTypeMemory:
			encodeLimits(buf, imp.DescMemory)
		case wasm.ExternTypeGlobal:
			encodeGlobalType(buf, imp.DescGlobal)
		}
	}
	return buf.Bytes()
}

func encodeFunctionSection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.FunctionSection))
	for _, idx := range m.FunctionSection {
		buf.Write(leb128.EncodeUint32(idx))
	}
	return buf.Bytes()
}

func encodeMemorySection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.MemorySection))
	for _, mem := range m.MemorySection {
		encodeLimits(buf, mem)
	}
	return buf.Bytes()
}

func encodeConstExpr(buf *bytes.Buffer, ce wasm.ConstExpr) {
	switch ce.Type {
	case wasm.ValueTypeI32:
		buf.WriteByte(wasm.OpcodeI32Const)
		buf.Write(leb128.EncodeInt32(int32(uint32(ce.Bits))))
	case wasm.ValueTypeI64:
		buf.WriteByte(wasm.OpcodeI64Const)
		buf.Write(leb128.EncodeInt64(int64(ce.Bits)))
	case wasm.ValueTypeF32:
		buf.WriteByte(wasm.OpcodeF32Const)
		writeLE32(buf, uint32(ce.Bits))
	case wasm.ValueTypeF64:
		buf.WriteByte(wasm.OpcodeF64Const)
		writeLE64(buf, ce.Bits)
	}
	buf.WriteByte(wasm.OpcodeEnd)
}

func encodeGlobalSection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.GlobalSection))
	for _, g := range m.GlobalSection {
		encodeGlobalType(buf, g.Type)
		encodeConstExpr(buf, g.Init)
	}
	return buf.Bytes()
}

func encodeExportSection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.ExportSection))
	for _, e := range m.ExportSection {
		encodeName(buf, e.Name)
		buf.WriteByte(e.Type)
		buf.Write(leb128.EncodeUint32(e.Index))
	}
	return buf.Bytes()
}

// encodeCode encodes a single Code entry including its size prefix, as the
// teacher's own binary.encodeCode does: locals first (run-length encoded by
// type), then the raw body bytes.
func encodeCode(c *wasm.Code) []byte {
	inner := bytes.NewBuffer(nil)

	type run struct {
		ty    wasm.ValueType
		count uint32
	}
	var runs []run
	for _, t := range c.LocalTypes {
		if len(runs) > 0 && runs[len(runs)-1].ty == t {
			runs[len(runs)-1].count++
		} else {
			runs = append(runs, run{ty: t, count: 1})
		}
	}
	encodeVecHeader(inner, len(runs))
	for _, rn := range runs {
		inner.Write(leb128.EncodeUint32(rn.count))
		inner.WriteByte(rn.ty)
	}
	inner.Write(c.Body)

	out := bytes.NewBuffer(nil)
	out.Write(leb128.EncodeUint32(uint32(inner.Len())))
	out.Write(inner.Bytes())
	return out.Bytes()
}

func encodeCodeSectionBody(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.CodeSection))
	for i := range m.CodeSection {
		buf.Write(encodeCode(&m.CodeSection[i]))
	}
	return buf.Bytes()
}

func encodeDataSection(m *wasm.Module) []byte {
	buf := bytes.NewBuffer(nil)
	encodeVecHeader(buf, len(m.DataSection))
	for _, d := range m.DataSection {
		buf.Write(leb128.EncodeUint32(d.MemoryIndex))
		encodeConstExpr(buf, wasm.ConstExpr{Type: wasm.ValueTypeI32, Bits: uint64(d.Offset)})
		encodeVecHeader(buf, len(d.Init))
		buf.Write(d.Init)
	}
	return buf.Bytes()
}

func encodeNameSection(ns *wasm.NameSection) []byte {
	buf := bytes.NewBuffer(nil)
	encodeName(buf, "name")
	if ns.ModuleName != "" {
		sub := bytes.NewBuffer(nil)
		encodeName(sub, ns.ModuleName)
		buf.WriteByte(0)
		buf.Write(leb128.EncodeUint32(uint32(sub.Len())))
		buf.Write(sub.Bytes())
	}
	if len(ns.FunctionNames) > 0 {
		sub := bytes.NewBuffer(nil)
		encodeVecHeader(sub, len(ns.FunctionNames))
		for _, a := range ns.FunctionNames {
			sub.Write(leb128.EncodeUint32(a.Index))
			encodeName(sub, a.Name)
		}
		buf.WriteByte(1)
		buf.Write(leb128.EncodeUint32(uint32(sub.Len())))
		buf.Write(sub.Bytes())
	}
	return buf.Bytes()
}

func writeLE32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

func writeLE64(buf *bytes.Buffer, v uint64) {
	for i := 0; i < 8; i++ {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}
