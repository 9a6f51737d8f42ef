package codec

import "fmt"

// FieldDef is one named, typed field of a StructDef.
type FieldDef struct {
	Name string
	Type string
}

// StructDef is a tagged-union-free composite type: an optional base
// type whose fields are decoded first, followed by this type's own
// fields, in order.
type StructDef struct {
	Name   string
	Base   string
	Fields []FieldDef
}

// VariantDef is a tagged union: the wire tag is a varuint32 index
// into Types.
type VariantDef struct {
	Name  string
	Types []string
}

// Schema is the runtime type dictionary loaded from the node at
// session start (spec §3 "Schema"). It is immutable after Load and
// is owned exclusively by the ShipClient session that loaded it;
// nothing outside that session should retain a pointer to it past
// disconnect.
type Schema struct {
	Structs  map[string]StructDef
	Variants map[string]VariantDef
}

// NewSchema builds an empty schema, useful for tests that only need a
// handful of hand-built type definitions rather than a full ABI.
func NewSchema() *Schema {
	return &Schema{
		Structs:  map[string]StructDef{},
		Variants: map[string]VariantDef{},
	}
}

func (s *Schema) AddStruct(def StructDef) *Schema {
	s.Structs[def.Name] = def

	return s
}

func (s *Schema) AddVariant(def VariantDef) *Schema {
	s.Variants[def.Name] = def

	return s
}

// Load parses the binary type dictionary the node sends as the first
// websocket frame of a session. The wire format is a flat,
// self-describing table: a varuint32 struct count followed by that
// many {name, base, field count, [name,type]*} records, then a
// varuint32 variant count followed by that many {name, type count,
// [type]*} records. String table entries use the same
// length-prefixed string encoding as every other string value in the
// protocol (see readString).
func Load(raw []byte) (*Schema, error) {
	dec := newDecoder(raw)
	schema := NewSchema()

	structCount, err := dec.readVaruint32()
	if err != nil {
		return nil, fmt.Errorf("codec: reading struct count: %w", err)
	}

	for i := uint32(0); i < structCount; i++ {
		def, err := readStructDef(dec)
		if err != nil {
			return nil, fmt.Errorf("codec: reading struct %d: %w", i, err)
		}

		schema.AddStruct(def)
	}

	variantCount, err := dec.readVaruint32()
	if err != nil {
		return nil, fmt.Errorf("codec: reading variant count: %w", err)
	}

	for i := uint32(0); i < variantCount; i++ {
		def, err := readVariantDef(dec)
		if err != nil {
			return nil, fmt.Errorf("codec: reading variant %d: %w", i, err)
		}

		schema.AddVariant(def)
	}

	return schema, nil
}

func readStructDef(dec *decoder) (StructDef, error) {
	name, err := dec.readString()
	if err != nil {
		return StructDef{}, err
	}

	base, err := dec.readString()
	if err != nil {
		return StructDef{}, err
	}

	fieldCount, err := dec.readVaruint32()
	if err != nil {
		return StructDef{}, err
	}

	fields := make([]FieldDef, 0, fieldCount)

	for i := uint32(0); i < fieldCount; i++ {
		fname, err := dec.readString()
		if err != nil {
			return StructDef{}, err
		}

		ftype, err := dec.readString()
		if err != nil {
			return StructDef{}, err
		}

		fields = append(fields, FieldDef{Name: fname, Type: ftype})
	}

	return StructDef{Name: name, Base: base, Fields: fields}, nil
}

func readVariantDef(dec *decoder) (VariantDef, error) {
	name, err := dec.readString()
	if err != nil {
		return VariantDef{}, err
	}

	typeCount, err := dec.readVaruint32()
	if err != nil {
		return VariantDef{}, err
	}

	types := make([]string, 0, typeCount)

	for i := uint32(0); i < typeCount; i++ {
		t, err := dec.readString()
		if err != nil {
			return VariantDef{}, err
		}

		types = append(types, t)
	}

	return VariantDef{Name: name, Types: types}, nil
}
