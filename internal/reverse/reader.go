package reverse

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wasmgrad/internal/leb128"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// cursor walks a decoded function body's raw instruction bytes, mirroring
// the read helpers the teacher's own frontend lowering pass
// (wazevo/frontend/lower.go) uses over its own bytes.Reader, just emitting
// a forward+backward instruction pair per opcode instead of a single
// lowered IR op.
type cursor struct {
	r      *bytes.Reader
	offset int // byte offset of the function body's start, for error messages
}

func newCursor(body []byte, bodyOffset int) *cursor {
	return &cursor{r: bytes.NewReader(body), offset: bodyOffset}
}

func (c *cursor) readByte() (byte, error) { return c.r.ReadByte() }

func (c *cursor) peekOp() (wasm.Opcode, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		return 0, err
	}
	_ = c.r.UnreadByte()
	return b, nil
}

func (c *cursor) readU32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(c.r)
	return v, err
}

func (c *cursor) readI32() (int32, error) {
	v, _, err := leb128.DecodeInt32(c.r)
	return v, err
}

func (c *cursor) readI64() (int64, error) {
	v, _, err := leb128.DecodeInt64(c.r)
	return v, err
}

func (c *cursor) readF32Bits() (uint32, error) {
	var b [4]byte
	if _, err := c.r.Read(b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (c *cursor) readF64Bits() (uint64, error) {
	var b [8]byte
	if _, err := c.r.Read(b[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// memArgInfo is the decoded form of a memarg immediate: alignment (as
// log2), the multi-memory-proposal memory index (0 if not carried
// explicitly), and the byte offset.
type memArgInfo struct {
	AlignLog2 uint32
	MemIdx    uint32
	Offset    uint32
}

func (c *cursor) readMemArg() (memArgInfo, error) {
	flags, err := c.readU32()
	if err != nil {
		return memArgInfo{}, err
	}
	var mi memArgInfo
	mi.AlignLog2 = flags &^ wasm.MemArgMultiMemoryFlag
	if flags&wasm.MemArgMultiMemoryFlag != 0 {
		mi.MemIdx, err = c.readU32()
		if err != nil {
			return memArgInfo{}, err
		}
	}
	mi.Offset, err = c.readU32()
	return mi, err
}

// blockTypeRaw is the decoded but module-context-free form of a block type
// immediate (spec §3 / Wasm core §5.5.8): empty, a bare single value type,
// or a type-section index. The caller resolves the index case against the
// (forward) type table, since the raw encoding alone can't distinguish "no
// result" shapes from an index without that context.
type blockTypeRaw struct {
	empty      bool
	single     wasm.ValueType
	hasSingle  bool
	typeIdx    wasm.Index
	hasTypeIdx bool
}

func (c *cursor) readBlockType() (blockTypeRaw, error) {
	v, _, err := leb128.DecodeInt33AsInt64(c.r)
	if err != nil {
		return blockTypeRaw{}, err
	}
	switch {
	case v == -64: // 0x40 as a signed LEB128 sentinel
		return blockTypeRaw{empty: true}, nil
	case v < 0:
		vt, ok := valtypeFromBlockSentinel(v)
		if !ok {
			return blockTypeRaw{}, fmt.Errorf("invalid block type sentinel %d", v)
		}
		return blockTypeRaw{single: vt, hasSingle: true}, nil
	default:
		return blockTypeRaw{typeIdx: wasm.Index(v), hasTypeIdx: true}, nil
	}
}

func valtypeFromBlockSentinel(v int64) (wasm.ValueType, bool) {
	switch v {
	case -1:
		return wasm.ValueTypeI32, true
	case -2:
		return wasm.ValueTypeI64, true
	case -3:
		return wasm.ValueTypeF32, true
	case -4:
		return wasm.ValueTypeF64, true
	}
	return 0, false
}
