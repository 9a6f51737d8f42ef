package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/shiptypes"
)

func actionTraceVariant(receiver, account, name string, ordinal int, globalSeq uint64) any {
	return codec.Variant{
		Type: "action_trace_v0",
		Value: map[string]any{
			"action_ordinal":  ordinal,
			"receiver":        receiver,
			"global_sequence": globalSeq,
			"act": map[string]any{
				"account": account,
				"name":    name,
				"authorization": []any{
					map[string]any{"actor": "alice", "permission": "active"},
				},
				"data": []byte{1, 2, 3},
			},
		},
	}
}

func trxTraceVariant(id string, status uint8, actionTraces ...any) any {
	return codec.Variant{
		Type: "transaction_trace_v0",
		Value: map[string]any{
			"id":            id,
			"status":        status,
			"action_traces": actionTraces,
		},
	}
}

func TestTracesFiltersNonExecutedAndNotifications(t *testing.T) {
	t.Parallel()

	raw := []any{
		trxTraceVariant("trx1", 0,
			actionTraceVariant("eosio.evm", "eosio.evm", "raw", 1, 10),
			actionTraceVariant("eosio.token", "eosio.evm", "notify", 2, 11), // inline notification, skipped
		),
		trxTraceVariant("trx2", 1, // not executed
			actionTraceVariant("eosio.evm", "eosio.evm", "raw", 1, 5),
		),
	}

	traces, err := Traces(raw)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.Equal(t, "trx1", traces[0].TrxID)
	require.Equal(t, uint64(10), traces[0].GlobalSequence)
}

func TestTracesSortedByGlobalSequenceAcrossTransactions(t *testing.T) {
	t.Parallel()

	raw := []any{
		trxTraceVariant("trx-late", 0, actionTraceVariant("eosio.evm", "eosio.evm", "raw", 1, 200)),
		trxTraceVariant("trx-early", 0, actionTraceVariant("eosio.evm", "eosio.evm", "raw", 1, 50)),
	}

	traces, err := Traces(raw)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	require.Equal(t, "trx-early", traces[0].TrxID)
	require.Equal(t, "trx-late", traces[1].TrxID)
}

func TestGlobalRowFound(t *testing.T) {
	t.Parallel()

	deltas := []shiptypes.TableDelta{
		{Code: "someother", Scope: "x", Table: "y", Present: true, Value: map[string]any{}},
		{Code: "eosio", Scope: "eosio", Table: "global", Present: true, Value: map[string]any{"block_num": uint32(42)}},
	}

	row := GlobalRow(deltas)
	require.NotNil(t, row)
	require.Equal(t, uint32(42), row.BlockNum)
}

func TestGlobalRowAbsent(t *testing.T) {
	t.Parallel()

	require.Nil(t, GlobalRow(nil))
}
