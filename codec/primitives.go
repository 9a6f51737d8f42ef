package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTrailingBytes is returned by Decode in CheckLength mode when the
// buffer was not fully consumed (spec §4.1).
var ErrTrailingBytes = errors.New("codec: trailing bytes after decode")

// ErrUnsupportedVariant is returned when a variant tag falls outside
// the set this decode call accepts (spec §4.1).
var ErrUnsupportedVariant = errors.New("codec: unsupported variant")

// ErrUnknownType is returned when a type name resolves to neither a
// primitive nor a schema-defined struct or variant.
var ErrUnknownType = errors.New("codec: unknown type")

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("codec: unexpected end of buffer reading byte")
	}

	b := d.buf[d.pos]
	d.pos++

	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, fmt.Errorf("codec: unexpected end of buffer reading %d bytes, have %d", n, d.remaining())
	}

	out := d.buf[d.pos : d.pos+n]
	d.pos += n

	return out, nil
}

// readVaruint32 decodes a LEB128 unsigned varint, the length-prefix
// encoding used throughout the protocol for array/string/bytes
// lengths and variant tags.
func (d *decoder) readVaruint32() (uint32, error) {
	var (
		result uint32
		shift  uint
	)

	for {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}

		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}

		shift += 7
		if shift >= 35 {
			return 0, fmt.Errorf("codec: varuint32 overflow")
		}
	}

	return result, nil
}

func (d *decoder) readVarint32() (int32, error) {
	u, err := d.readVaruint32()
	if err != nil {
		return 0, err
	}

	if u&1 != 0 {
		return int32(^(u >> 1)), nil
	}

	return int32(u >> 1), nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readVaruint32()
	if err != nil {
		return "", err
	}

	raw, err := d.readBytes(int(n))
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

func (d *decoder) readBlob() ([]byte, error) {
	n, err := d.readVaruint32()
	if err != nil {
		return nil, err
	}

	raw, err := d.readBytes(int(n))
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), raw...), nil
}

func (d *decoder) readBool() (bool, error) {
	b, err := d.readByte()
	if err != nil {
		return false, err
	}

	return b != 0, nil
}

func (d *decoder) readUint16() (uint16, error) {
	raw, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(raw), nil
}

func (d *decoder) readUint32() (uint32, error) {
	raw, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(raw), nil
}

func (d *decoder) readUint64() (uint64, error) {
	raw, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(raw), nil
}

func (d *decoder) readFloat64() (float64, error) {
	u, err := d.readUint64()
	if err != nil {
		return 0, err
	}

	return math.Float64frombits(u), nil
}

type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{}
}

func (e *encoder) bytes() []byte {
	return e.buf
}

func (e *encoder) writeByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) writeRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) writeVaruint32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7

		if v != 0 {
			b |= 0x80
		}

		e.writeByte(b)

		if v == 0 {
			break
		}
	}
}

func (e *encoder) writeString(s string) {
	e.writeVaruint32(uint32(len(s)))
	e.writeRaw([]byte(s))
}

func (e *encoder) writeBlob(b []byte) {
	e.writeVaruint32(uint32(len(b)))
	e.writeRaw(b)
}

func (e *encoder) writeBool(b bool) {
	if b {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
}

func (e *encoder) writeUint16(v uint16) {
	var raw [2]byte
	binary.LittleEndian.PutUint16(raw[:], v)
	e.writeRaw(raw[:])
}

func (e *encoder) writeUint32(v uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	e.writeRaw(raw[:])
}

func (e *encoder) writeUint64(v uint64) {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], v)
	e.writeRaw(raw[:])
}
