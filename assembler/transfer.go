package assembler

import (
	"encoding/binary"
	"fmt"

	"github.com/chainforge/evmship/codec"
)

// parseTransfer reads the from/to fields off the front of an
// eosio.token::transfer action's raw data (from:name, to:name,
// quantity:asset, memo:string — the rest is irrelevant to the
// filter in spec §4.7 step 4, so it is never parsed).
func parseTransfer(raw []byte) (from, to string, err error) {
	if len(raw) < 16 {
		return "", "", fmt.Errorf("assembler: transfer action data too short (%d bytes)", len(raw))
	}

	from = codec.DecodeName(binary.LittleEndian.Uint64(raw[0:8]))
	to = codec.DecodeName(binary.LittleEndian.Uint64(raw[8:16]))

	return from, to, nil
}
