// Package extract pulls the EVM-relevant shape out of a decoded
// block's raw traces and table deltas (spec §4.3): the flattened,
// canonically-ordered action trace list, and the singleton
// eosio/eosio/global row that carries the EVM block number.
package extract

import (
	"sort"

	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/shiptypes"
)

// Traces flattens rawTraces — the decoded transaction_trace[] value —
// into action traces, keeping only executed transactions and only
// action traces where the receiver is the acting contract itself
// (skipping inline notifications to other contracts), sorted globally
// by global_sequence ascending so cross-transaction execution order
// is preserved.
func Traces(rawTraces []any) ([]shiptypes.ActionTrace, error) {
	var out []shiptypes.ActionTrace

	for _, rawTrx := range rawTraces {
		trx, ok := asVariantMap(rawTrx)
		if !ok {
			continue
		}

		if status, _ := toUint8(trx["status"]); status != 0 {
			continue // only status == 0 (executed) transactions
		}

		trxID, _ := trx["id"].(string)

		actionTraces, _ := trx["action_traces"].([]any)

		for _, rawAct := range actionTraces {
			at, ok := asVariantMap(rawAct)
			if !ok {
				continue
			}

			trace, ok := buildActionTrace(trxID, at)
			if !ok {
				continue
			}

			out = append(out, trace)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GlobalSequence < out[j].GlobalSequence
	})

	return out, nil
}

func buildActionTrace(trxID string, at map[string]any) (shiptypes.ActionTrace, bool) {
	receiver, _ := at["receiver"].(string)

	act, ok := at["act"].(map[string]any)
	if !ok {
		return shiptypes.ActionTrace{}, false
	}

	account, _ := act["account"].(string)
	if receiver != account {
		return shiptypes.ActionTrace{}, false // inline notification, not the acting contract
	}

	ordinal, _ := toInt(at["action_ordinal"])
	globalSeq, _ := toUint64(globalSequenceOf(at))
	name, _ := act["name"].(string)
	data, _ := act["data"].([]byte)

	var auths []shiptypes.Permission

	if rawAuth, ok := act["authorization"].([]any); ok {
		for _, a := range rawAuth {
			perm, ok := a.(map[string]any)
			if !ok {
				continue
			}

			actor, _ := perm["actor"].(string)
			permission, _ := perm["permission"].(string)
			auths = append(auths, shiptypes.Permission{Actor: actor, Permission: permission})
		}
	}

	return shiptypes.ActionTrace{
		TrxID:          trxID,
		ActionOrdinal:  ordinal,
		GlobalSequence: globalSeq,
		Receiver:       receiver,
		Status:         0,
		Act: shiptypes.Action{
			Account:       account,
			Name:          name,
			Authorization: auths,
			RawData:       data,
		},
	}, true
}

// globalSequenceOf reads global_sequence either directly off the
// action trace or from its nested receipt, whichever the loaded
// schema shapes it as.
func globalSequenceOf(at map[string]any) any {
	if v, ok := at["global_sequence"]; ok {
		return v
	}

	receipt, ok := asVariantMap(at["receipt"])
	if !ok {
		return nil
	}

	return receipt["global_sequence"]
}

// GlobalRow scans decoded table deltas for the singleton
// eosio/eosio/global row (spec §4.3); there is at most one per block.
// Returns nil if absent.
func GlobalRow(deltas []shiptypes.TableDelta) *shiptypes.GlobalRow {
	for _, d := range deltas {
		if !d.Present {
			continue
		}

		if d.Code == "eosio" && d.Scope == "eosio" && d.Table == "global" {
			blockNum, _ := toUint64(d.Value["block_num"])

			return &shiptypes.GlobalRow{BlockNum: uint32(blockNum)}
		}
	}

	return nil
}

func asVariantMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case codec.Variant:
		m, ok := t.Value.(map[string]any)

		return m, ok
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}

func toUint8(v any) (uint8, bool) {
	n, ok := toUint64(v)

	return uint8(n), ok
}

func toInt(v any) (int, bool) {
	n, ok := toUint64(v)

	return int(n), ok
}

func toUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, true
	case uint32:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint8:
		return uint64(t), true
	case int:
		return uint64(t), true
	case int64:
		return uint64(t), true
	}

	return 0, false
}
