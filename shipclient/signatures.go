package shipclient

import (
	"encoding/hex"

	"github.com/chainforge/evmship/actionhash"
	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/shiptypes"
)

// packedTrxCandidateTypes is the ordered candidate-type list used to
// decode a packed_transaction's packed_trx bytes (spec §4.6
// "Signature mining"): the first type that decodes successfully is
// accepted, whether or not it turns out to be useful for
// fingerprinting.
var packedTrxCandidateTypes = []string{
	"transaction", "code_v0", "code",
	"account_v0", "account",
	"contract_table_v0", "contract_table",
	"contract_row_v0", "contract_row",
}

// mineSignatures implements spec §4.6's signature mining pass over a
// decoded block body's transaction list, keyed by the block's
// transaction_receipt[] field.
func mineSignatures(c *codec.Codec, hasher actionhash.Hasher, transactions []any) shiptypes.SignatureMap {
	sigMap := shiptypes.SignatureMap{}

	for _, rawReceipt := range transactions {
		receipt, ok := asMap(rawReceipt)
		if !ok {
			continue
		}

		variant, ok := receipt["trx"].(codec.Variant)
		if !ok || variant.Type != "packed_transaction" {
			continue
		}

		pt, ok := asMap(variant.Value)
		if !ok {
			continue
		}

		packedTrx, _ := pt["packed_trx"].([]byte)
		signatures := extractSignatures(pt)

		mineOne(c, hasher, packedTrx, signatures, sigMap)
	}

	return sigMap
}

func mineOne(c *codec.Codec, hasher actionhash.Hasher, packedTrx []byte, signatures []string, sigMap shiptypes.SignatureMap) {
	for _, candidate := range packedTrxCandidateTypes {
		val, err := c.Decode(candidate, packedTrx, codec.ModeAllowTrailing)
		if err != nil {
			continue
		}

		if candidate != "transaction" {
			return // decoded, but not the type fingerprinting cares about
		}

		trx, ok := asMap(val)
		if !ok {
			return
		}

		rawActions, _ := trx["actions"].([]any)

		for _, rawAct := range rawActions {
			act, ok := actionFromAny(rawAct)
			if !ok {
				continue
			}

			sigMap[hasher.Hash(act)] = signatures
		}

		return
	}

	// all candidates failed: nothing is recorded for this transaction
	// and nothing is logged; the block is still emittable with empty
	// signature lists.
}

// extractSignatures reads a packed_transaction's signature list from
// either the top-level "signatures" field or, if absent/pruned,
// prunable_data.prunable_data_full_legacy.signatures (spec §4.6).
func extractSignatures(pt map[string]any) []string {
	if sigs, ok := signaturesFromAny(pt["signatures"]); ok {
		return sigs
	}

	prunable, ok := asMap(pt["prunable_data"])
	if !ok {
		return nil
	}

	full, ok := prunable["prunable_data_full_legacy"].(codec.Variant)
	if !ok {
		if m, ok := asMap(prunable["prunable_data_full_legacy"]); ok {
			sigs, _ := signaturesFromAny(m["signatures"])

			return sigs
		}

		return nil
	}

	m, ok := asMap(full.Value)
	if !ok {
		return nil
	}

	sigs, _ := signaturesFromAny(m["signatures"])

	return sigs
}

func signaturesFromAny(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}

	out := make([]string, 0, len(raw))

	for _, s := range raw {
		b, ok := s.([]byte)
		if !ok {
			continue
		}

		out = append(out, hex.EncodeToString(b))
	}

	return out, true
}

func actionFromAny(v any) (shiptypes.Action, bool) {
	m, ok := asMap(v)
	if !ok {
		return shiptypes.Action{}, false
	}

	account, _ := m["account"].(string)
	name, _ := m["name"].(string)
	data, _ := m["data"].([]byte)

	var auths []shiptypes.Permission

	if rawAuth, ok := m["authorization"].([]any); ok {
		for _, a := range rawAuth {
			perm, ok := asMap(a)
			if !ok {
				continue
			}

			actor, _ := perm["actor"].(string)
			permission, _ := perm["permission"].(string)
			auths = append(auths, shiptypes.Permission{Actor: actor, Permission: permission})
		}
	}

	return shiptypes.Action{Account: account, Name: name, Authorization: auths, RawData: data}, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)

	return m, ok
}
