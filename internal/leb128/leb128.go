// Package leb128 implements LEB128 variable-length integer encoding as used
// throughout the WebAssembly binary format: unsigned for indices and
// immediates, signed for constants and block types.
package leb128

import (
	"fmt"
	"io"
	"math/bits"
)

const (
	maxVarintLen32 = 5
	maxVarintLen33 = 5
	maxVarintLen64 = 10
)

// EncodeInt32 encodes v as a signed LEB128 byte sequence.
func EncodeInt32(v int32) []byte {
	return encodeSigned(int64(v), 32)
}

// EncodeInt64 encodes v as a signed LEB128 byte sequence.
func EncodeInt64(v int64) []byte {
	return encodeSigned(v, 64)
}

// EncodeUint32 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint64(v uint64) []byte {
	ret := make([]byte, 0, maxVarintLen64)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		ret = append(ret, b)
		if v == 0 {
			return ret
		}
	}
}

func encodeSigned(v int64, size int) []byte {
	ret := make([]byte, 0, maxVarintLen64)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			ret = append(ret, b)
			return ret
		}
		ret = append(ret, b|0x80)
	}
}

// LoadUint32 decodes an unsigned LEB128 value from the head of buf, returning
// the decoded value and the number of bytes consumed.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	v, n, err := loadUnsigned(buf, 32)
	return uint32(v), n, err
}

// LoadUint64 decodes an unsigned LEB128 value from the head of buf.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return loadUnsigned(buf, 64)
}

// LoadInt32 decodes a signed LEB128 value from the head of buf.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	v, n, err := loadSigned(buf, 32)
	return int32(v), n, err
}

// LoadInt64 decodes a signed LEB128 value from the head of buf.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return loadSigned(buf, 64)
}

func loadUnsigned(buf []byte, size int) (ret uint64, bytesRead uint64, err error) {
	maxLen := (size + 6) / 7
	var shift uint
	for i := 0; ; i++ {
		if i == maxLen {
			err = fmt.Errorf("overflows a %d-bit integer", size)
			return
		}
		if i >= len(buf) {
			err = io.ErrUnexpectedEOF
			return
		}
		b := buf[i]
		if i == maxLen-1 {
			// The last permissible byte must not carry bits beyond size.
			valid := byte((1 << uint(size-7*(maxLen-1))) - 1)
			if b&0x80 != 0 || b&^valid != 0 {
				err = fmt.Errorf("overflows a %d-bit integer", size)
				return
			}
		}
		ret |= uint64(b&0x7f) << shift
		bytesRead++
		if b&0x80 == 0 {
			return
		}
		shift += 7
	}
}

func loadSigned(buf []byte, size int) (ret int64, bytesRead uint64, err error) {
	maxLen := (size + 6) / 7
	var shift uint
	var b byte
	i := 0
	for {
		if i == maxLen {
			err = fmt.Errorf("overflows a %d-bit integer", size)
			return
		}
		if i >= len(buf) {
			err = io.ErrUnexpectedEOF
			return
		}
		b = buf[i]
		ret |= int64(b&0x7f) << shift
		shift += 7
		bytesRead++
		i++
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		ret |= -int64(1) << shift
	}
	if bits.Len64(uint64(ret^(ret>>63))) > size {
		err = fmt.Errorf("overflows a %d-bit integer", size)
	}
	return
}

// DecodeInt33AsInt64 decodes a signed 33-bit LEB128 value (as used by Wasm
// block types, which distinguish an empty block type from a type index by
// sign) from r, widened to int64.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	const size = 33
	var shift uint
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			break
		}
		if shift >= maxVarintLen33*7 {
			err = fmt.Errorf("overflows a %d-bit integer", size)
			return
		}
	}
	if shift < size && b&0x40 != 0 {
		ret |= -int64(1) << shift
	}
	return
}

// DecodeUint32 decodes an unsigned LEB128 value from r.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	v, n, err := decodeUnsignedReader(r, 32)
	return uint32(v), n, err
}

// DecodeUint64 decodes an unsigned LEB128 value from r.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	return decodeUnsignedReader(r, 64)
}

// DecodeInt32 decodes a signed LEB128 value from r.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	v, n, err := decodeSignedReader(r, 32)
	return int32(v), n, err
}

// DecodeInt64 decodes a signed LEB128 value from r.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeSignedReader(r, 64)
}

func decodeUnsignedReader(r io.ByteReader, size int) (ret uint64, bytesRead uint64, err error) {
	maxLen := (size + 6) / 7
	var shift uint
	for i := 0; ; i++ {
		if i == maxLen {
			err = fmt.Errorf("overflows a %d-bit integer", size)
			return
		}
		var b byte
		b, err = r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		ret |= uint64(b&0x7f) << shift
		bytesRead++
		if b&0x80 == 0 {
			return
		}
		shift += 7
	}
}

func decodeSignedReader(r io.ByteReader, size int) (ret int64, bytesRead uint64, err error) {
	maxLen := (size + 6) / 7
	var shift uint
	var b byte
	i := 0
	for {
		if i == maxLen {
			err = fmt.Errorf("overflows a %d-bit integer", size)
			return
		}
		b, err = r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		bytesRead++
		i++
		if b&0x80 == 0 {
			break
		}
	}
	if shift < uint(size) && b&0x40 != 0 {
		ret |= -int64(1) << shift
	}
	return
}
