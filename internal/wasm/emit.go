package wasm

import "github.com/tetratelabs/wasmgrad/internal/leb128"

// Emit appends Wasm instruction bytes to dst using the same mnemonic-style
// helpers the teacher's instruction encoders use, just targeting Wasm bytes
// instead of native machine code. Every helper returns the grown slice so
// call sites can chain: body = LocalGet(body, 0).

// Op appends a bare, immediate-less opcode.
func Op(dst []byte, op Opcode) []byte {
	return append(dst, op)
}

func u32Imm(dst []byte, op Opcode, v uint32) []byte {
	dst = append(dst, op)
	return append(dst, leb128.EncodeUint32(v)...)
}

func LocalGet(dst []byte, idx Index) []byte  { return u32Imm(dst, OpcodeLocalGet, idx) }
func LocalSet(dst []byte, idx Index) []byte  { return u32Imm(dst, OpcodeLocalSet, idx) }
func LocalTee(dst []byte, idx Index) []byte  { return u32Imm(dst, OpcodeLocalTee, idx) }
func GlobalGet(dst []byte, idx Index) []byte { return u32Imm(dst, OpcodeGlobalGet, idx) }
func GlobalSet(dst []byte, idx Index) []byte { return u32Imm(dst, OpcodeGlobalSet, idx) }
func Call(dst []byte, idx Index) []byte      { return u32Imm(dst, OpcodeCall, idx) }
func Br(dst []byte, depth Index) []byte      { return u32Imm(dst, OpcodeBr, depth) }
func BrIf(dst []byte, depth Index) []byte    { return u32Imm(dst, OpcodeBrIf, depth) }

func I32Const(dst []byte, v int32) []byte {
	dst = append(dst, OpcodeI32Const)
	return append(dst, leb128.EncodeInt32(v)...)
}

func I64Const(dst []byte, v int64) []byte {
	dst = append(dst, OpcodeI64Const)
	return append(dst, leb128.EncodeInt64(v)...)
}

func F32Const(dst []byte, bits uint32) []byte {
	dst = append(dst, OpcodeF32Const)
	return append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func F64Const(dst []byte, bits uint64) []byte {
	dst = append(dst, OpcodeF64Const)
	for i := 0; i < 8; i++ {
		dst = append(dst, byte(bits>>(8*i)))
	}
	return dst
}

// MemArgMultiMemoryFlag is the multi-memory proposal's bit in the memarg
// flags field signaling that an explicit memory index follows the flags
// byte (https://github.com/WebAssembly/multi-memory): memarg ::= flags:u32
// (memidx:u32)? offset:u32, flags = log2(align) | (hasMemIdx << 6).
const MemArgMultiMemoryFlag = 0x40

// MemArg appends a (align, memidx, offset) memory immediate, using the
// multi-memory encoding whenever memIdx != 0 (memory index 0 never needs
// the explicit index, keeping single-memory modules byte-identical to
// plain Wasm 1.0).
func MemArg(dst []byte, alignLog2, memIdx, offset uint32) []byte {
	flags := alignLog2
	if memIdx != 0 {
		flags |= MemArgMultiMemoryFlag
	}
	dst = append(dst, leb128.EncodeUint32(flags)...)
	if memIdx != 0 {
		dst = append(dst, leb128.EncodeUint32(memIdx)...)
	}
	return append(dst, leb128.EncodeUint32(offset)...)
}

// MemoryOp appends memory.size or memory.grow against an explicit memory
// index (both carry a single memidx immediate, not a full memarg).
func MemoryOp(dst []byte, op Opcode, memIdx uint32) []byte {
	return u32Imm(dst, op, memIdx)
}

func Load(dst []byte, op Opcode, alignLog2, memIdx uint32) []byte {
	dst = append(dst, op)
	return MemArg(dst, alignLog2, memIdx, 0)
}

func Store(dst []byte, op Opcode, alignLog2, memIdx uint32) []byte {
	dst = append(dst, op)
	return MemArg(dst, alignLog2, memIdx, 0)
}

// BlockType appends a block-type immediate: BlockTypeEmpty, a single value
// type, or a type index encoded as a signed 33-bit LEB128 (the forward type
// index of a duplicated function type, per spec §3/§4.D).
func BlockType(dst []byte, empty bool, single ValueType, hasSingle bool, typeIdx Index, hasTypeIdx bool) []byte {
	switch {
	case hasTypeIdx:
		return append(dst, leb128.EncodeInt64(int64(typeIdx))...)
	case hasSingle:
		return append(dst, single)
	default:
		_ = empty
		return append(dst, BlockTypeEmpty)
	}
}

func Block(dst []byte) []byte { return append(dst, OpcodeBlock) }
func Loop(dst []byte) []byte  { return append(dst, OpcodeLoop) }
func If(dst []byte) []byte    { return append(dst, OpcodeIf) }
func Else(dst []byte) []byte  { return append(dst, OpcodeElse) }
func End(dst []byte) []byte   { return append(dst, OpcodeEnd) }
func Drop(dst []byte) []byte  { return append(dst, OpcodeDrop) }

func BrTable(dst []byte, labels []Index, def Index) []byte {
	dst = append(dst, OpcodeBrTable)
	dst = append(dst, leb128.EncodeUint32(uint32(len(labels)))...)
	for _, l := range labels {
		dst = append(dst, leb128.EncodeUint32(l)...)
	}
	return append(dst, leb128.EncodeUint32(def)...)
}
