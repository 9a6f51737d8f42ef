package shipclient

import (
	"encoding/hex"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/evmship/actionhash"
	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/shiptypes"
)

func TestBlockRequestValueRoundTrip(t *testing.T) {
	t.Parallel()

	br := shiptypes.NewBlockRequest(10, 50)
	br.HavePositions = []shiptypes.Position{{BlockNum: 9, BlockID: "aabb"}}

	value := blockRequestValue(br)

	require.Equal(t, uint32(10), value["start_block_num"])
	require.Equal(t, uint32(50), value["max_messages_in_flight"])

	positions, ok := value["have_positions"].([]any)
	require.True(t, ok)
	require.Len(t, positions, 1)

	posMap, ok := positions[0].(map[string]any)
	require.True(t, ok)

	id, ok := posMap["block_id"].([]byte)
	require.True(t, ok)
	require.Equal(t, "aabb", hex.EncodeToString(id))
}

func TestParseResultRoundTrip(t *testing.T) {
	t.Parallel()

	resultMap := map[string]any{
		"this_block": map[string]any{"block_num": uint32(7), "block_id": []byte{0xde, 0xad}},
		"head":       map[string]any{"block_num": uint32(10), "block_id": []byte{0xbe, 0xef}},
		"block":      []byte("block-bytes"),
		"traces":     []byte("traces-bytes"),
	}

	env := parseResult(resultMap)

	require.Equal(t, uint32(7), env.ThisBlock.BlockNum)
	require.Equal(t, "dead", env.ThisBlock.BlockID)
	require.Equal(t, uint32(10), env.Head.BlockNum)
	require.True(t, env.HaveBlock)
	require.True(t, env.HaveTraces)
	require.False(t, env.HaveDeltas)
	require.Equal(t, []byte("block-bytes"), env.Block)
}

func TestParseResultMissingThisBlock(t *testing.T) {
	t.Parallel()

	env := parseResult(map[string]any{})

	require.True(t, env.ThisBlock.IsZero())
	require.False(t, env.HaveBlock)
}

func globalSchema() *codec.Codec {
	s := codec.NewSchema()
	s.AddStruct(codec.StructDef{
		Name: "global",
		Fields: []codec.FieldDef{
			{Name: "block_num", Type: "uint32"},
		},
	})
	s.AddStruct(codec.StructDef{
		Name: "contract_row",
		Fields: []codec.FieldDef{
			{Name: "code", Type: "name"},
			{Name: "scope", Type: "name"},
			{Name: "table", Type: "name"},
			{Name: "primary_key", Type: "uint64"},
			{Name: "payer", Type: "name"},
			{Name: "value", Type: "bytes"},
		},
	})

	return codec.New(s)
}

func TestBuildTableDeltasExtractsGlobalRow(t *testing.T) {
	t.Parallel()

	c := globalSchema()

	globalBytes, err := c.Encode("global", map[string]any{"block_num": uint32(42)})
	require.NoError(t, err)

	rowBytes, err := c.Encode("contract_row", map[string]any{
		"code": "eosio", "scope": "eosio", "table": "global",
		"primary_key": uint64(0), "payer": "eosio", "value": globalBytes,
	})
	require.NoError(t, err)

	rawDeltas := []any{
		codec.Variant{
			Type: "table_delta_v0",
			Value: map[string]any{
				"name": "contract_row",
				"rows": []any{
					map[string]any{"present": true, "data": rowBytes},
				},
			},
		},
	}

	deltas, err := buildTableDeltas(c, rawDeltas)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, "eosio", deltas[0].Code)
	require.Equal(t, "global", deltas[0].Table)
	require.True(t, deltas[0].Present)
	require.Equal(t, uint32(42), deltas[0].Value["block_num"])
}

func TestBuildTableDeltasSkipsNonContractRow(t *testing.T) {
	t.Parallel()

	c := globalSchema()

	rawDeltas := []any{
		map[string]any{"name": "account", "rows": []any{}},
	}

	deltas, err := buildTableDeltas(c, rawDeltas)
	require.NoError(t, err)
	require.Empty(t, deltas)
}

func txSchema() *codec.Codec {
	s := codec.NewSchema()
	s.AddStruct(codec.StructDef{
		Name: "permission_level",
		Fields: []codec.FieldDef{
			{Name: "actor", Type: "name"},
			{Name: "permission", Type: "name"},
		},
	})
	s.AddStruct(codec.StructDef{
		Name: "action",
		Fields: []codec.FieldDef{
			{Name: "account", Type: "name"},
			{Name: "name", Type: "name"},
			{Name: "authorization", Type: "permission_level[]"},
			{Name: "data", Type: "bytes"},
		},
	})
	s.AddStruct(codec.StructDef{
		Name: "transaction",
		Fields: []codec.FieldDef{
			{Name: "actions", Type: "action[]"},
		},
	})

	return codec.New(s)
}

func TestMineSignaturesTransactionCandidate(t *testing.T) {
	t.Parallel()

	c := txSchema()

	trxBytes, err := c.Encode("transaction", map[string]any{
		"actions": []any{
			map[string]any{
				"account":       "eosio.evm",
				"name":          "raw",
				"authorization": []any{map[string]any{"actor": "alice", "permission": "active"}},
				"data":          []byte("payload"),
			},
		},
	})
	require.NoError(t, err)

	transactions := []any{
		map[string]any{
			"trx": codec.Variant{
				Type: "packed_transaction",
				Value: map[string]any{
					"packed_trx": trxBytes,
					"signatures": []any{[]byte{0x01, 0x02}},
				},
			},
		},
	}

	hasher := actionhash.New(actionhash.ModeRelease)
	sigMap := mineSignatures(c, hasher, transactions)

	require.Len(t, sigMap, 1)

	act := shiptypes.Action{
		Account:       "eosio.evm",
		Name:          "raw",
		Authorization: []shiptypes.Permission{{Actor: "alice", Permission: "active"}},
		RawData:       []byte("payload"),
	}

	sigs, ok := sigMap[hasher.Hash(act)]
	require.True(t, ok)
	require.Equal(t, []string{"0102"}, sigs)
}

func TestMineSignaturesAllCandidatesFailIsNonFatal(t *testing.T) {
	t.Parallel()

	c := txSchema()

	transactions := []any{
		map[string]any{
			"trx": codec.Variant{
				Type: "packed_transaction",
				Value: map[string]any{
					"packed_trx": []byte{0xff, 0xff, 0xff},
				},
			},
		},
	}

	hasher := actionhash.New(actionhash.ModeRelease)
	sigMap := mineSignatures(c, hasher, transactions)

	require.Empty(t, sigMap)
}

func TestExtractSignaturesPrunableFallback(t *testing.T) {
	t.Parallel()

	pt := map[string]any{
		"prunable_data": map[string]any{
			"prunable_data_full_legacy": map[string]any{
				"signatures": []any{[]byte{0xaa}},
			},
		},
	}

	sigs := extractSignatures(pt)
	require.Equal(t, []string{"aa"}, sigs)
}

func TestClientCheckMissingDataAllowsEmptyUnderFlag(t *testing.T) {
	t.Parallel()

	cl := &Client{cfg: Config{AllowEmptyTraces: true}, logger: hclog.NewNullLogger()}

	env := envelope{HaveTraces: false}
	br := shiptypes.BlockRequest{FetchTraces: true}

	require.NoError(t, cl.checkMissingData(env, br))
}

func TestClientCheckMissingDataFatalWithoutFlag(t *testing.T) {
	t.Parallel()

	cl := &Client{cfg: Config{}, logger: hclog.NewNullLogger()}

	env := envelope{HaveTraces: false}
	br := shiptypes.BlockRequest{FetchTraces: true}

	err := cl.checkMissingData(env, br)
	require.ErrorIs(t, err, ErrMissingPayload)
}

func TestCheckSchemaFingerprintTracksChange(t *testing.T) {
	t.Parallel()

	cl := &Client{logger: hclog.NewNullLogger()}

	cl.checkSchemaFingerprint([]byte("schema-v1"))
	require.True(t, cl.hasSchemaFingerprint)

	first := cl.lastSchemaFingerprint

	cl.checkSchemaFingerprint([]byte("schema-v2"))
	require.NotEqual(t, first, cl.lastSchemaFingerprint)
}
