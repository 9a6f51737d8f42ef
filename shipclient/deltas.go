package shipclient

import (
	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/shiptypes"
)

// buildTableDeltas converts a decoded table_delta[] value into
// shiptypes.TableDelta records, per-row decoding only the
// eosio/eosio/global row's value (spec §4.6 "per-row decode of
// whitelisted rows" — nothing downstream of the assembler needs any
// other table's structured value, so only that one row's payload is
// worth the extra decode).
func buildTableDeltas(c *codec.Codec, rawDeltas []any) ([]shiptypes.TableDelta, error) {
	var out []shiptypes.TableDelta

	for _, rawDelta := range rawDeltas {
		delta, ok := deltaOf(rawDelta)
		if !ok || delta.name != "contract_row" {
			continue
		}

		for _, rawRow := range delta.rows {
			row, ok := asMap(rawRow)
			if !ok {
				continue
			}

			present, _ := row["present"].(bool)

			data, _ := row["data"].([]byte)
			if data == nil {
				continue
			}

			contractRow, err := c.Decode("contract_row", data, codec.ModeAllowTrailing)
			if err != nil {
				continue // not a row shape this decoder understands; not whitelisted
			}

			crMap, ok := asMap(contractRow)
			if !ok {
				continue
			}

			code, _ := crMap["code"].(string)
			scope, _ := crMap["scope"].(string)
			table, _ := crMap["table"].(string)

			td := shiptypes.TableDelta{Code: code, Scope: scope, Table: table, Present: present}

			if code == "eosio" && scope == "eosio" && table == "global" {
				if value, ok := crMap["value"].([]byte); ok {
					globalVal, err := c.Decode("global", value, codec.ModeAllowTrailing)
					if err == nil {
						td.Value, _ = asMap(globalVal)
					}
				}
			}

			out = append(out, td)
		}
	}

	return out, nil
}

type tableDeltaFrame struct {
	name string
	rows []any
}

func deltaOf(v any) (tableDeltaFrame, bool) {
	switch t := v.(type) {
	case codec.Variant:
		m, ok := asMap(t.Value)
		if !ok {
			return tableDeltaFrame{}, false
		}

		name, _ := m["name"].(string)
		rows, _ := m["rows"].([]any)

		return tableDeltaFrame{name: name, rows: rows}, true
	case map[string]any:
		name, _ := t["name"].(string)
		rows, _ := t["rows"].([]any)

		return tableDeltaFrame{name: name, rows: rows}, true
	default:
		return tableDeltaFrame{}, false
	}
}
