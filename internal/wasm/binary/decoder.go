// Package binary implements the streaming Wasm binary format decoder and
// encoder used by the transformer: input modules are parsed once into an
// in-memory wasm.Module, and output modules are serialized back from one.
package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wasmgrad/internal/leb128"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// DecodeError wraps a byte offset onto any error surfaced while decoding, so
// callers can report "offset %d: %s" (spec §7).
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("offset %d: %s", e.Offset, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses raw Wasm bytes into a wasm.Module, calling v's hooks as each
// section is recognized (spec §4.C). Sections are read in the order they
// appear in the input; the custom name section, if present, is parsed on a
// best-effort basis and never rejects decoding.
func Decode(raw []byte, v wasm.Validator) (*wasm.Module, error) {
	if len(raw) < 8 {
		return nil, &DecodeError{0, fmt.Errorf("data is too short to contain a Wasm header")}
	}
	if err := v.Payload(raw[:8]); err != nil {
		return nil, &DecodeError{0, err}
	}
	if !bytes.Equal(raw[:8], magic) {
		return nil, &DecodeError{0, fmt.Errorf("invalid magic number or version")}
	}

	m := &wasm.Module{}
	r := bytes.NewReader(raw[8:])
	base := 8
	var lastID int = -1
	for r.Len() > 0 {
		offset := base + int(int64(len(raw)-8)-int64(r.Len()))
		id, err := r.ReadByte()
		if err != nil {
			return nil, &DecodeError{offset, err}
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, &DecodeError{offset, err}
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, &DecodeError{offset, err}
		}
		bodyOffset := offset + (len(raw) - 8 - r.Len()) - int(size)

		if id == wasm.SectionIDCustom {
			if err := decodeCustomSection(m, body); err != nil {
				return nil, &DecodeError{bodyOffset, err}
			}
			continue
		}
		if int(id) <= lastID {
			return nil, &DecodeError{offset, fmt.Errorf("section %d out of order", id)}
		}
		lastID = int(id)

		br := bytes.NewReader(body)
		var derr error
		switch id {
		case wasm.SectionIDType:
			derr = decodeTypeSection(m, br, v)
		case wasm.SectionIDImport:
			derr = decodeImportSection(m, br)
		case wasm.SectionIDFunction:
			derr = decodeFunctionSection(m, br, v)
		case wasm.SectionIDTable:
			m.HasTable = len(body) > 0
			derr = nil
		case wasm.SectionIDMemory:
			derr = decodeMemorySection(m, br, v)
		case wasm.SectionIDGlobal:
			derr = decodeGlobalSection(m, br, v)
		case wasm.SectionIDExport:
			derr = decodeExportSection(m, br, v)
		case wasm.SectionIDStart:
			m.HasStart = true
		case wasm.SectionIDElement:
			m.HasElement = len(body) > 0
		case wasm.SectionIDCode:
			derr = decodeCodeSection(m, br, v)
		case wasm.SectionIDData:
			derr = decodeDataSection(m, br)
		default:
			derr = fmt.Errorf("unknown section id %d", id)
		}
		if derr != nil {
			return nil, &DecodeError{bodyOffset, derr}
		}
	}
	if err := v.Finish(base + len(raw) - 8); err != nil {
		return nil, &DecodeError{base + len(raw) - 8, err}
	}
	return m, nil
}

func decodeVec[T any](r *bytes.Reader, one func(*bytes.Reader) (T, error)) ([]T, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := one(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeName(r *bytes.Reader) (string, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeValueType(r *bytes.Reader) (wasm.ValueType, error) {
	b, err := r.ReadByte()
	return b, err
}

func decodeFunctionType(r *bytes.Reader) (wasm.FunctionType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return wasm.FunctionType{}, err
	}
	if form != 0x60 {
		return wasm.FunctionType{}, fmt.Errorf("invalid function type form 0x%x", form)
	}
	params, err := decodeVec(r, decodeValueType)
	if err != nil {
		return wasm.FunctionType{}, err
	}
	results, err := decodeVec(r, decodeValueType)
	if err != nil {
		return wasm.FunctionType{}, err
	}
	return wasm.FunctionType{Params: params, Results: results}, nil
}

func decodeTypeSection(m *wasm.Module, r *bytes.Reader, v wasm.Validator) error {
	types, err := decodeVec(r, decodeFunctionType)
	if err != nil {
		return err
	}
	m.TypeSection = types
	return v.TypeSection(m.TypeSection)
}

func decodeLimits(r *bytes.Reader) (min, max uint32, hasMax bool, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return
	}
	min, _, err = leb128.DecodeUint32(r)
	if err != nil {
		return
	}
	if flag == 1 {
		max, _, err = leb128.DecodeUint32(r)
		hasMax = true
	}
	return
}

func decodeGlobalType(r *bytes.Reader) (wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return wasm.GlobalType{}, err
	}
	mutFlag, err := r.ReadByte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	return wasm.GlobalType{ValType: vt, Mutable: mutFlag == 1}, nil
}

func decodeImportSection(m *wasm.Module, r *bytes.Reader) error {
	imports, err := decodeVec(r, func(r *bytes.Reader) (wasm.Import, error) {
		mod, err := decodeName(r)
		if err != nil {
			return wasm.Import{}, err
		}
		name, err := decodeName(r)
		if err != nil {
			return wasm.Import{}, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return wasm.Import{}, err
		}
		imp := wasm.Import{Module: mod, Name: name, Type: kind}
		switch kind {
		case wasm.ExternTypeFunc:
			imp.DescFunc, _, err = leb128.DecodeUint32(r)
		case wasm.ExternTypeMemory:
			min, max, hasMax, derr := decodeLimits(r)
			err = derr
			imp.DescMemory = wasm.Memory{Min: min, Max: max, IsMaxEncoded: hasMax}
		case wasm.ExternTypeGlobal:
			imp.DescGlobal, err = decodeGlobalType(r)
		case wasm.ExternTypeTable:
			_, err = r.ReadByte() // reftype
			if err == nil {
				_, _, _, err = decodeLimits(r)
			}
		default:
			err = fmt.Errorf("invalid import kind 0x%x", kind)
		}
		return imp, err
	})
	if err != nil {
		return err
	}
	m.ImportSection = imports
	return nil
}

func decodeFunctionSection(m *wasm.Module, r *bytes.Reader, v wasm.Validator) error {
	idxs, err := decodeVec(r, func(r *bytes.Reader) (wasm.Index, error) {
		idx, _, err := leb128.DecodeUint32(r)
		return idx, err
	})
	if err != nil {
		return err
	}
	m.FunctionSection = idxs
	return v.FunctionSection(m.FunctionSection, len(m.TypeSection))
}

func decodeMemorySection(m *wasm.Module, r *bytes.Reader, v wasm.Validator) error {
	mems, err := decodeVec(r, func(r *bytes.Reader) (wasm.Memory, error) {
		min, max, hasMax, err := decodeLimits(r)
		return wasm.Memory{Min: min, Max: max, IsMaxEncoded: hasMax}, err
	})
	if err != nil {
		return err
	}
	m.MemorySection = mems
	return v.MemorySection(m.MemorySection)
}

// decodeConstExpr reads a constant expression restricted to a single numeric
// const instruction followed by `end` (spec §6: anything else is
// UnsupportedFeature).
func decodeConstExpr(r *bytes.Reader) (wasm.ConstExpr, error) {
	op, err := r.ReadByte()
	if err != nil {
		return wasm.ConstExpr{}, err
	}
	var ce wasm.ConstExpr
	switch op {
	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return ce, err
		}
		ce = wasm.ConstExpr{Type: wasm.ValueTypeI32, Bits: uint64(uint32(v))}
	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return ce, err
		}
		ce = wasm.ConstExpr{Type: wasm.ValueTypeI64, Bits: uint64(v)}
	case wasm.OpcodeF32Const:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return ce, err
		}
		ce = wasm.ConstExpr{Type: wasm.ValueTypeF32, Bits: uint64(leU32(b[:]))}
	case wasm.OpcodeF64Const:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return ce, err
		}
		ce = wasm.ConstExpr{Type: wasm.ValueTypeF64, Bits: leU64(b[:])}
	default:
		return ce, fmt.Errorf("unsupported init expression opcode 0x%x", op)
	}
	end, err := r.ReadByte()
	if err != nil {
		return ce, err
	}
	if end != wasm.OpcodeEnd {
		return ce, fmt.Errorf("unsupported init expression: expected single constant")
	}
	return ce, nil
}

func decodeGlobalSection(m *wasm.Module, r *bytes.Reader, v wasm.Validator) error {
	globals, err := decodeVec(r, func(r *bytes.Reader) (wasm.Global, error) {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return wasm.Global{}, err
		}
		init, err := decodeConstExpr(r)
		return wasm.Global{Type: gt, Init: init}, err
	})
	if err != nil {
		return err
	}
	m.GlobalSection = globals
	return v.GlobalSection(m.GlobalSection)
}

func decodeExportSection(m *wasm.Module, r *bytes.Reader, v wasm.Validator) error {
	exports, err := decodeVec(r, func(r *bytes.Reader) (wasm.Export, error) {
		name, err := decodeName(r)
		if err != nil {
			return wasm.Export{}, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return wasm.Export{}, err
		}
		idx, _, err := leb128.DecodeUint32(r)
		return wasm.Export{Name: name, Type: kind, Index: idx}, err
	})
	if err != nil {
		return err
	}
	m.ExportSection = exports
	return v.ExportSection(exports,
		m.ImportFuncCount()+wasm.Index(len(m.FunctionSection)),
		m.ImportMemoryCount()+wasm.Index(len(m.MemorySection)),
		m.ImportGlobalCount()+wasm.Index(len(m.GlobalSection)))
}

func decodeCodeSection(m *wasm.Module, r *bytes.Reader, v wasm.Validator) error {
	funcCount, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	funcTypes := m.AllFunctionTypes()
	importCount := int(m.ImportFuncCount())
	codes := make([]wasm.Code, 0, funcCount)
	for i := uint32(0); i < funcCount; i++ {
		bodySize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		bodyBytes := make([]byte, bodySize)
		if _, err := io.ReadFull(r, bodyBytes); err != nil {
			return err
		}
		br := bytes.NewReader(bodyBytes)

		funcIdx := wasm.Index(importCount) + i
		sig := funcTypes[int(funcIdx)]
		if err := v.CodeSectionEntry(funcIdx, sig); err != nil {
			return err
		}

		localBlockCount, _, err := leb128.DecodeUint32(br)
		if err != nil {
			return err
		}
		var localTypes []wasm.ValueType
		for b := uint32(0); b < localBlockCount; b++ {
			count, _, err := leb128.DecodeUint32(br)
			if err != nil {
				return err
			}
			ty, err := decodeValueType(br)
			if err != nil {
				return err
			}
			for c := uint32(0); c < count; c++ {
				localTypes = append(localTypes, ty)
			}
		}
		if err := v.DefineLocals(funcIdx, localTypes); err != nil {
			return err
		}

		body := bodyBytes[len(bodyBytes)-br.Len():]
		if err := scanOps(body, v); err != nil {
			return err
		}

		codes = append(codes, wasm.Code{LocalTypes: localTypes, Body: body})
	}
	m.CodeSection = codes
	return nil
}

// scanOps walks body once, calling v.Op at every opcode boundary, just
// enough to let the validator reject unsupported instructions without the
// decoder itself needing full operand-stack bookkeeping (that lives in the
// per-function transformer, spec §4.D, which re-walks the body anyway).
func scanOps(body []byte, v wasm.Validator) error {
	r := bytes.NewReader(body)
	offset := 0
	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		if err := v.Op(offset, op); err != nil {
			return err
		}
		if err := skipImmediate(r, op); err != nil {
			return err
		}
		offset = len(body) - r.Len()
	}
	return nil
}

// skipImmediate advances r past op's immediate operand(s), if any, without
// interpreting them; this is purely for the decoder's single validating
// pass, the per-function transformer does the real decode.
func skipImmediate(r *bytes.Reader, op wasm.Opcode) error {
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		_, _, err := leb128.DecodeInt33AsInt64(r)
		return err
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall, wasm.OpcodeLocalGet, wasm.OpcodeLocalSet,
		wasm.OpcodeLocalTee, wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet, wasm.OpcodeMemoryGrow, wasm.OpcodeMemorySize:
		_, _, err := leb128.DecodeUint32(r)
		return err
	case wasm.OpcodeCallIndirect:
		if _, _, err := leb128.DecodeUint32(r); err != nil {
			return err
		}
		_, _, err := leb128.DecodeUint32(r)
		return err
	case wasm.OpcodeBrTable:
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i <= n; i++ {
			if _, _, err := leb128.DecodeUint32(r); err != nil {
				return err
			}
		}
		return nil
	case wasm.OpcodeI32Const:
		_, _, err := leb128.DecodeInt32(r)
		return err
	case wasm.OpcodeI64Const:
		_, _, err := leb128.DecodeInt64(r)
		return err
	case wasm.OpcodeF32Const:
		_, err := r.Seek(4, io.SeekCurrent)
		return err
	case wasm.OpcodeF64Const:
		_, err := r.Seek(8, io.SeekCurrent)
		return err
	case wasm.OpcodeTypedSelect:
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		_, err = r.Seek(int64(n), io.SeekCurrent)
		return err
	case wasm.OpcodeMiscPrefix:
		if _, _, err := leb128.DecodeUint32(r); err != nil {
			return err
		}
		return nil
	case wasm.OpcodeVecPrefix:
		return fmt.Errorf("SIMD is not supported")
	default:
		if op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32 {
			flags, _, err := leb128.DecodeUint32(r) // align (+ multi-memory flag)
			if err != nil {
				return err
			}
			if flags&wasm.MemArgMultiMemoryFlag != 0 {
				if _, _, err := leb128.DecodeUint32(r); err != nil { // memidx
					return err
				}
			}
			_, _, err = leb128.DecodeUint32(r) // offset
			return err
		}
		return nil
	}
}

func decodeDataSection(m *wasm.Module, r *bytes.Reader) error {
	data, err := decodeVec(r, func(r *bytes.Reader) (wasm.Data, error) {
		memIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Data{}, err
		}
		offExpr, err := decodeConstExpr(r)
		if err != nil {
			return wasm.Data{}, err
		}
		if offExpr.Type != wasm.ValueTypeI32 {
			return wasm.Data{}, fmt.Errorf("data segment offset must be i32")
		}
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Data{}, err
		}
		init := make([]byte, n)
		if _, err := io.ReadFull(r, init); err != nil {
			return wasm.Data{}, err
		}
		return wasm.Data{MemoryIndex: memIdx, Offset: uint32(offExpr.Bits), Init: init}, nil
	})
	if err != nil {
		return err
	}
	m.DataSection = data
	return nil
}

func decodeCustomSection(m *wasm.Module, body []byte) error {
	r := bytes.NewReader(body)
	name, err := decodeName(r)
	if err != nil || name != "name" {
		return nil // ignore unrecognized/malformed custom sections, best-effort.
	}
	ns := &wasm.NameSection{LocalNames: map[wasm.Index][]wasm.NameAssoc{}}
	for r.Len() > 0 {
		subID, err := r.ReadByte()
		if err != nil {
			break
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			break
		}
		sub := make([]byte, size)
		if _, err := io.ReadFull(r, sub); err != nil {
			break
		}
		sr := bytes.NewReader(sub)
		switch subID {
		case 0:
			if n, err := decodeName(sr); err == nil {
				ns.ModuleName = n
			}
		case 1:
			assocs, err := decodeVec(sr, decodeNameAssoc)
			if err == nil {
				ns.FunctionNames = assocs
			}
		}
	}
	m.NameSection = ns
	return nil
}

func decodeNameAssoc(r *bytes.Reader) (wasm.NameAssoc, error) {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.NameAssoc{}, err
	}
	name, err := decodeName(r)
	return wasm.NameAssoc{Index: idx, Name: name}, err
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
