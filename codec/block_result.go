package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultVersion extracts the trailing version digit from a
// get_blocks_result_v{0,1,2} type name, as returned by decoding the
// top-level "result" variant off the wire.
func ResultVersion(resultTypeName string) (int, error) {
	const prefix = "get_blocks_result_v"

	if !strings.HasPrefix(resultTypeName, prefix) {
		return 0, fmt.Errorf("%w: %q is not a get_blocks_result variant", ErrUnsupportedVariant, resultTypeName)
	}

	v, err := strconv.Atoi(strings.TrimPrefix(resultTypeName, prefix))
	if err != nil {
		return 0, fmt.Errorf("%w: %q has a non-numeric version suffix", ErrUnsupportedVariant, resultTypeName)
	}

	return v, nil
}

// BlockBodyTypeName maps a get_blocks_result_v{0,1,2} version to the
// type its opaque "block" bytes must be decoded as (spec §4.1). It is
// exported so a pooled decode (shipclient, via decodepool) can pick
// the type name without going through DecodeBlockBody directly.
func BlockBodyTypeName(resultVersion int) string {
	switch resultVersion {
	case 0:
		return "signed_block"
	case 1:
		return "signed_block_v1"
	default:
		return "signed_block_variant"
	}
}

// ResolveBlockBody validates and unwraps a value already decoded as
// typeName (== BlockBodyTypeName(resultVersion)) into the block body
// struct: v0/v1 pass through unchanged; v2's signed_block_variant
// must itself resolve to the signed_block_v1 member — any other
// member is a fatal ErrUnsupportedVariant, not a silently-accepted
// alternative (spec §4.1).
func ResolveBlockBody(typeName string, val any) (map[string]any, error) {
	if typeName != "signed_block_variant" {
		body, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("codec: block body %q decoded to %T, want struct", typeName, val)
		}

		return body, nil
	}

	variant, ok := val.(Variant)
	if !ok {
		return nil, fmt.Errorf("codec: signed_block_variant decoded to %T, want Variant", val)
	}

	if variant.Type != "signed_block_v1" {
		return nil, fmt.Errorf("%w: signed_block_variant resolved to %q, want signed_block_v1",
			ErrUnsupportedVariant, variant.Type)
	}

	body, ok := variant.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codec: signed_block_variant/signed_block_v1 decoded to %T, want struct", variant.Value)
	}

	return body, nil
}

// DecodeBlockBody decodes the opaque "block" bytes of a
// get_blocks_result_v{resultVersion} according to spec §4.1.
func (c *Codec) DecodeBlockBody(resultVersion int, raw []byte) (map[string]any, error) {
	typeName := BlockBodyTypeName(resultVersion)

	val, err := c.Decode(typeName, raw, ModeCheckLength)
	if err != nil {
		return nil, fmt.Errorf("codec: decoding block body as %q: %w", typeName, err)
	}

	return ResolveBlockBody(typeName, val)
}
