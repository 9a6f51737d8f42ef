package codec

import (
	"fmt"
	"strings"
)

type primitiveDecoder func(*decoder) (any, error)

type primitiveEncoder func(*encoder, any) error

// primitiveDecoders covers the scalar leaf types a State-History ABI
// is built from. Blob-shaped cryptographic types (public_key,
// signature) are intentionally left as raw byte blobs: this module
// never verifies them (spec §1 Non-goals), it only threads them
// through to the signature map.
var primitiveDecoders = map[string]primitiveDecoder{
	"bool": func(d *decoder) (any, error) { return d.readBool() },
	"int8": func(d *decoder) (any, error) {
		b, err := d.readByte()
		return int8(b), err
	},
	"uint8": func(d *decoder) (any, error) {
		b, err := d.readByte()
		return b, err
	},
	"int16": func(d *decoder) (any, error) {
		v, err := d.readUint16()
		return int16(v), err
	},
	"uint16": func(d *decoder) (any, error) { return d.readUint16() },
	"int32": func(d *decoder) (any, error) {
		v, err := d.readUint32()
		return int32(v), err
	},
	"uint32":             func(d *decoder) (any, error) { return d.readUint32() },
	"varuint32":          func(d *decoder) (any, error) { return d.readVaruint32() },
	"varint32":           func(d *decoder) (any, error) { return d.readVarint32() },
	"int64":              func(d *decoder) (any, error) { v, err := d.readUint64(); return int64(v), err },
	"uint64":             func(d *decoder) (any, error) { return d.readUint64() },
	"float64":            func(d *decoder) (any, error) { return d.readFloat64() },
	"string":             func(d *decoder) (any, error) { return d.readString() },
	"bytes":              func(d *decoder) (any, error) { return d.readBlob() },
	"name":               func(d *decoder) (any, error) { v, err := d.readUint64(); return DecodeName(v), err },
	"checksum160":        fixedBlob(20),
	"checksum256":        fixedBlob(32),
	"checksum512":        fixedBlob(64),
	"public_key":         func(d *decoder) (any, error) { return d.readBlob() },
	"signature":          func(d *decoder) (any, error) { return d.readBlob() },
	"time_point":         func(d *decoder) (any, error) { return d.readUint64() },
	"time_point_sec":     func(d *decoder) (any, error) { return d.readUint32() },
	"block_timestamp_type": func(d *decoder) (any, error) { return d.readUint32() },
	"symbol":             func(d *decoder) (any, error) { return d.readUint64() },
	"symbol_code":        func(d *decoder) (any, error) { return d.readUint64() },
	"asset": func(d *decoder) (any, error) {
		amount, err := d.readUint64()
		if err != nil {
			return nil, err
		}

		symbol, err := d.readUint64()

		return map[string]any{"amount": int64(amount), "symbol": symbol}, err
	},
}

var primitiveEncoders = map[string]primitiveEncoder{
	"bool": func(e *encoder, v any) error { e.writeBool(v.(bool)); return nil },
	"uint8": func(e *encoder, v any) error {
		b, ok := toByte(v)
		if !ok {
			return fmt.Errorf("codec: uint8 expects byte-like value, got %T", v)
		}

		e.writeByte(b)

		return nil
	},
	"uint16": func(e *encoder, v any) error {
		n, ok := toUint64(v)
		if !ok {
			return fmt.Errorf("codec: uint16 expects integer value, got %T", v)
		}

		e.writeUint16(uint16(n))

		return nil
	},
	"uint32": func(e *encoder, v any) error {
		n, ok := toUint64(v)
		if !ok {
			return fmt.Errorf("codec: uint32 expects integer value, got %T", v)
		}

		e.writeUint32(uint32(n))

		return nil
	},
	"varuint32": func(e *encoder, v any) error {
		n, ok := toUint64(v)
		if !ok {
			return fmt.Errorf("codec: varuint32 expects integer value, got %T", v)
		}

		e.writeVaruint32(uint32(n))

		return nil
	},
	"uint64": func(e *encoder, v any) error {
		n, ok := toUint64(v)
		if !ok {
			return fmt.Errorf("codec: uint64 expects integer value, got %T", v)
		}

		e.writeUint64(n)

		return nil
	},
	"string": func(e *encoder, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("codec: string expects string value, got %T", v)
		}

		e.writeString(s)

		return nil
	},
	"bytes": func(e *encoder, v any) error {
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("codec: bytes expects []byte value, got %T", v)
		}

		e.writeBlob(b)

		return nil
	},
	"name": func(e *encoder, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("codec: name expects string value, got %T", v)
		}

		e.writeUint64(EncodeName(s))

		return nil
	},
	"checksum160": fixedBlobEncoder(20),
	"checksum256": fixedBlobEncoder(32),
	"checksum512": fixedBlobEncoder(64),
}

func fixedBlob(n int) primitiveDecoder {
	return func(d *decoder) (any, error) {
		raw, err := d.readBytes(n)
		if err != nil {
			return nil, err
		}

		return append([]byte(nil), raw...), nil
	}
}

func fixedBlobEncoder(n int) primitiveEncoder {
	return func(e *encoder, v any) error {
		b, ok := v.([]byte)
		if !ok || len(b) != n {
			return fmt.Errorf("codec: expected %d-byte blob, got %T (len %d)", n, v, len(b))
		}

		e.writeRaw(b)

		return nil
	}
}

func toByte(v any) (byte, bool) {
	switch t := v.(type) {
	case byte:
		return t, true
	case int:
		return byte(t), true
	}

	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, true
	case uint32:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case int:
		return uint64(t), true
	case int64:
		return uint64(t), true
	}

	return 0, false
}

const nameCharset = ".12345abcdefghijklmnopqrstuvwxyz"

// DecodeName renders a packed 64-bit account/action name using the
// standard base32-over-13-characters encoding.
func DecodeName(packed uint64) string {
	var sb strings.Builder

	value := packed

	for i := 0; i <= 12; i++ {
		var charIndex uint64

		if i == 0 {
			charIndex = value & 0x0f
		} else {
			charIndex = value & 0x1f
		}

		sb.WriteByte(nameCharset[charIndex])

		if i == 0 {
			value >>= 4
		} else {
			value >>= 5
		}
	}

	s := sb.String()

	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}

	return strings.TrimRight(string(runes), ".")
}

// EncodeName is the inverse of DecodeName: it packs a (possibly
// trimmed) account/action name string back into its 64-bit wire form.
// DecodeName builds its 13-character result by extracting characters
// c0..c12 from the packed value in order, then reverses the whole
// string and trims trailing dots; EncodeName right-pads the input back
// to 13 characters and indexes it in reverse to recover c0..c12 before
// re-packing.
func EncodeName(name string) uint64 {
	padded := name
	if len(padded) < 13 {
		padded += strings.Repeat(".", 13-len(padded))
	} else if len(padded) > 13 {
		padded = padded[:13]
	}

	var value uint64

	shift := uint(0)

	for i := 0; i <= 12; i++ {
		pos := strings.IndexByte(nameCharset, padded[12-i])

		idx := uint64(0)
		if pos >= 0 {
			idx = uint64(pos)
		}

		if i == 0 {
			value |= idx & 0x0f
			shift = 4
		} else {
			value |= (idx & 0x1f) << shift
			shift += 5
		}
	}

	return value
}
