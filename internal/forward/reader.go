package forward

import (
	"bytes"

	"github.com/tetratelabs/wasmgrad/internal/leb128"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// cursor is forward mode's own instruction-stream reader; kept separate
// from package reverse's (unexported, same shape) rather than shared,
// matching each package's self-contained-transformer structure.
type cursor struct {
	r *bytes.Reader
}

func newCursor(body []byte) *cursor { return &cursor{r: bytes.NewReader(body)} }

func (c *cursor) remaining() int { return c.r.Len() }

func (c *cursor) readByte() (byte, error) { return c.r.ReadByte() }

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

// readBlockTypeRaw re-encodes the block type immediate verbatim: forward
// mode never needs to resolve an indexed block type against the type
// table, since it doesn't fork functions the way reverse mode does.
func (c *cursor) readBlockTypeRaw() ([]byte, error) {
	v, _, err := leb128.DecodeInt33AsInt64(c.r)
	if err != nil {
		return nil, err
	}
	return leb128.EncodeInt64(v), nil
}

func (c *cursor) readMemArg() (alignLog2, memIdx, offset uint32, err error) {
	flags, e := c.readU32()
	if e != nil {
		return 0, 0, 0, e
	}
	alignLog2 = flags &^ wasm.MemArgMultiMemoryFlag
	if flags&wasm.MemArgMultiMemoryFlag != 0 {
		memIdx, err = c.readU32()
		if err != nil {
			return 0, 0, 0, err
		}
	}
	offset, err = c.readU32()
	return
}

func (c *cursor) readBrTable() (labels []wasm.Index, def wasm.Index, err error) {
	count, err := c.readU32()
	if err != nil {
		return nil, 0, err
	}
	for i := uint32(0); i < count; i++ {
		l, err := c.readU32()
		if err != nil {
			return nil, 0, err
		}
		labels = append(labels, l)
	}
	def, err = c.readU32()
	return labels, def, err
}
