// Package codec encodes and decodes tagged-union binary payloads
// against a runtime-loaded Schema (spec §4.1). Decoded values are
// generic: a struct becomes a map[string]any (with base-type fields
// decoded first), an array becomes []any, an optional becomes either
// nil or the unwrapped value, and a variant becomes a Variant.
package codec

import (
	"fmt"
	"strings"
)

// Variant is the decoded form of a tagged-union value: which of the
// union's member types matched, and that member's decoded value.
type Variant struct {
	Type  string
	Value any
}

// Mode selects whether Decode requires the input to be fully
// consumed.
type Mode int

const (
	// ModeAllowTrailing does not check that the buffer was fully
	// consumed.
	ModeAllowTrailing Mode = iota
	// ModeCheckLength requires the buffer to be fully consumed,
	// failing with ErrTrailingBytes otherwise. Used on all top-level
	// decodes per spec §4.1.
	ModeCheckLength
)

// Codec decodes and encodes values against a single, immutable
// Schema. It is owned by the ShipClient session that loaded the
// schema and must be discarded on disconnect.
type Codec struct {
	schema *Schema
}

func New(schema *Schema) *Codec {
	return &Codec{schema: schema}
}

// Decode decodes a single top-level value of typeName from raw.
func (c *Codec) Decode(typeName string, raw []byte, mode Mode) (any, error) {
	dec := newDecoder(raw)

	val, err := c.decodeValue(dec, typeName)
	if err != nil {
		return nil, err
	}

	if mode == ModeCheckLength && dec.remaining() != 0 {
		return nil, fmt.Errorf("%w: type %q left %d bytes unconsumed", ErrTrailingBytes, typeName, dec.remaining())
	}

	return val, nil
}

// Encode encodes value as typeName. value must have the shape Decode
// would have produced: map[string]any for structs, []any for arrays,
// nil or the inner value for optionals, Variant for variants.
func (c *Codec) Encode(typeName string, value any) ([]byte, error) {
	enc := newEncoder()

	if err := c.encodeValue(enc, typeName, value); err != nil {
		return nil, err
	}

	return enc.bytes(), nil
}

func (c *Codec) decodeValue(dec *decoder, typeName string) (any, error) {
	switch {
	case strings.HasSuffix(typeName, "[]"):
		return c.decodeArray(dec, strings.TrimSuffix(typeName, "[]"))
	case strings.HasSuffix(typeName, "?"):
		return c.decodeOptional(dec, strings.TrimSuffix(typeName, "?"))
	case strings.HasSuffix(typeName, "$"):
		return c.decodeValue(dec, strings.TrimSuffix(typeName, "$"))
	}

	if dec2, ok := primitiveDecoders[typeName]; ok {
		return dec2(dec)
	}

	if def, ok := c.schema.Structs[typeName]; ok {
		return c.decodeStruct(dec, def)
	}

	if def, ok := c.schema.Variants[typeName]; ok {
		return c.decodeVariant(dec, def)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
}

func (c *Codec) decodeArray(dec *decoder, elemType string) ([]any, error) {
	n, err := dec.readVaruint32()
	if err != nil {
		return nil, fmt.Errorf("codec: array length of %q[]: %w", elemType, err)
	}

	out := make([]any, 0, n)

	for i := uint32(0); i < n; i++ {
		v, err := c.decodeValue(dec, elemType)
		if err != nil {
			return nil, fmt.Errorf("codec: array element %d of %q[]: %w", i, elemType, err)
		}

		out = append(out, v)
	}

	return out, nil
}

func (c *Codec) decodeOptional(dec *decoder, innerType string) (any, error) {
	present, err := dec.readBool()
	if err != nil {
		return nil, fmt.Errorf("codec: optional presence flag for %q?: %w", innerType, err)
	}

	if !present {
		return nil, nil
	}

	return c.decodeValue(dec, innerType)
}

func (c *Codec) decodeStruct(dec *decoder, def StructDef) (map[string]any, error) {
	out := map[string]any{}

	if def.Base != "" {
		base, err := c.decodeValue(dec, def.Base)
		if err != nil {
			return nil, fmt.Errorf("codec: base %q of struct %q: %w", def.Base, def.Name, err)
		}

		if baseFields, ok := base.(map[string]any); ok {
			for k, v := range baseFields {
				out[k] = v
			}
		}
	}

	for _, field := range def.Fields {
		v, err := c.decodeValue(dec, field.Type)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q.%s (%s): %w", def.Name, field.Name, field.Type, err)
		}

		out[field.Name] = v
	}

	return out, nil
}

func (c *Codec) decodeVariant(dec *decoder, def VariantDef) (Variant, error) {
	tag, err := dec.readVaruint32()
	if err != nil {
		return Variant{}, fmt.Errorf("codec: variant %q tag: %w", def.Name, err)
	}

	if int(tag) >= len(def.Types) {
		return Variant{}, fmt.Errorf("%w: %q tag %d (of %d known types)", ErrUnsupportedVariant, def.Name, tag, len(def.Types))
	}

	memberType := def.Types[tag]

	val, err := c.decodeValue(dec, memberType)
	if err != nil {
		return Variant{}, fmt.Errorf("codec: variant %q member %q: %w", def.Name, memberType, err)
	}

	return Variant{Type: memberType, Value: val}, nil
}

func (c *Codec) encodeValue(enc *encoder, typeName string, value any) error {
	switch {
	case strings.HasSuffix(typeName, "[]"):
		return c.encodeArray(enc, strings.TrimSuffix(typeName, "[]"), value)
	case strings.HasSuffix(typeName, "?"):
		return c.encodeOptional(enc, strings.TrimSuffix(typeName, "?"), value)
	case strings.HasSuffix(typeName, "$"):
		return c.encodeValue(enc, strings.TrimSuffix(typeName, "$"), value)
	}

	if enc2, ok := primitiveEncoders[typeName]; ok {
		return enc2(enc, value)
	}

	if def, ok := c.schema.Structs[typeName]; ok {
		return c.encodeStruct(enc, def, value)
	}

	if def, ok := c.schema.Variants[typeName]; ok {
		return c.encodeVariant(enc, def, value)
	}

	return fmt.Errorf("%w: %q", ErrUnknownType, typeName)
}

func (c *Codec) encodeArray(enc *encoder, elemType string, value any) error {
	arr, ok := value.([]any)
	if !ok {
		return fmt.Errorf("codec: expected []any for %q[], got %T", elemType, value)
	}

	enc.writeVaruint32(uint32(len(arr)))

	for i, v := range arr {
		if err := c.encodeValue(enc, elemType, v); err != nil {
			return fmt.Errorf("codec: array element %d of %q[]: %w", i, elemType, err)
		}
	}

	return nil
}

func (c *Codec) encodeOptional(enc *encoder, innerType string, value any) error {
	if value == nil {
		enc.writeBool(false)

		return nil
	}

	enc.writeBool(true)

	return c.encodeValue(enc, innerType, value)
}

func (c *Codec) encodeStruct(enc *encoder, def StructDef, value any) error {
	fields, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("codec: expected map[string]any for struct %q, got %T", def.Name, value)
	}

	if def.Base != "" {
		if err := c.encodeValue(enc, def.Base, fields); err != nil {
			return fmt.Errorf("codec: base %q of struct %q: %w", def.Base, def.Name, err)
		}
	}

	for _, field := range def.Fields {
		if err := c.encodeValue(enc, field.Type, fields[field.Name]); err != nil {
			return fmt.Errorf("codec: field %q.%s (%s): %w", def.Name, field.Name, field.Type, err)
		}
	}

	return nil
}

func (c *Codec) encodeVariant(enc *encoder, def VariantDef, value any) error {
	variant, ok := value.(Variant)
	if !ok {
		return fmt.Errorf("codec: expected Variant for %q, got %T", def.Name, value)
	}

	tag := -1

	for i, t := range def.Types {
		if t == variant.Type {
			tag = i

			break
		}
	}

	if tag < 0 {
		return fmt.Errorf("%w: %q has no member %q", ErrUnsupportedVariant, def.Name, variant.Type)
	}

	enc.writeVaruint32(uint32(tag))

	return c.encodeValue(enc, variant.Type, variant.Value)
}
