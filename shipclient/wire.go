package shipclient

import (
	"encoding/hex"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/shiptypes"
)

// sendRequest encodes br as a get_blocks_request_v0 and writes it as
// a single binary frame (spec §4.6 AWAITING_ABI → STREAMING).
func sendRequest(conn *websocket.Conn, c *codec.Codec, br shiptypes.BlockRequest) error {
	payload, err := c.Encode("request", codec.Variant{Type: "get_blocks_request_v0", Value: blockRequestValue(br)})
	if err != nil {
		return fmt.Errorf("shipclient: encoding get_blocks_request_v0: %w", err)
	}

	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// sendAck encodes a get_blocks_ack_request_v0 for numMessages
// (spec §4.6 step 4).
func sendAck(conn *websocket.Conn, c *codec.Codec, numMessages int) error {
	payload, err := c.Encode("request", codec.Variant{
		Type:  "get_blocks_ack_request_v0",
		Value: map[string]any{"num_messages": uint32(numMessages)}, //nolint:gosec
	})
	if err != nil {
		return fmt.Errorf("shipclient: encoding get_blocks_ack_request_v0: %w", err)
	}

	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

func blockRequestValue(br shiptypes.BlockRequest) map[string]any {
	positions := make([]any, 0, len(br.HavePositions))

	for _, p := range br.HavePositions {
		positions = append(positions, positionValue(p))
	}

	return map[string]any{
		"start_block_num":        br.StartBlockNum,
		"end_block_num":          br.EndBlockNum,
		"max_messages_in_flight": uint32(br.MaxMessagesInFlight), //nolint:gosec
		"have_positions":         positions,
		"irreversible_only":      br.IrreversibleOnly,
		"fetch_block":            br.FetchBlock,
		"fetch_traces":           br.FetchTraces,
		"fetch_deltas":           br.FetchDeltas,
	}
}

func positionValue(p shiptypes.Position) map[string]any {
	id, _ := hex.DecodeString(p.BlockID)

	return map[string]any{"block_num": p.BlockNum, "block_id": id}
}

// envelope is the parsed shape of a decoded get_blocks_result_v{0,1,2}
// value before the three opaque payloads are individually decoded.
type envelope struct {
	ThisBlock        shiptypes.Position
	Head             shiptypes.Position
	LastIrreversible shiptypes.Position

	Block  []byte
	Traces []byte
	Deltas []byte

	HaveBlock  bool
	HaveTraces bool
	HaveDeltas bool
}

// parseResult reads a decoded get_blocks_result_v{0,1,2} struct
// (resultMap, as produced by Codec.Decode) into an envelope.
func parseResult(resultMap map[string]any) envelope {
	return envelope{
		ThisBlock:        positionFromAny(resultMap["this_block"]),
		Head:             positionFromAny(resultMap["head"]),
		LastIrreversible: positionFromAny(resultMap["last_irreversible"]),
		Block:            blobFromAny(resultMap["block"]),
		Traces:           blobFromAny(resultMap["traces"]),
		Deltas:           blobFromAny(resultMap["deltas"]),
		HaveBlock:        resultMap["block"] != nil,
		HaveTraces:       resultMap["traces"] != nil,
		HaveDeltas:       resultMap["deltas"] != nil,
	}
}

func positionFromAny(v any) shiptypes.Position {
	m, ok := v.(map[string]any)
	if !ok {
		return shiptypes.Position{}
	}

	blockNum, _ := m["block_num"].(uint32)

	id, _ := m["block_id"].([]byte)

	return shiptypes.Position{BlockNum: blockNum, BlockID: hex.EncodeToString(id)}
}

func blobFromAny(v any) []byte {
	b, _ := v.([]byte)

	return b
}
