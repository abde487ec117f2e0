package pipeline

import (
	"github.com/zigindex/indexer/internal/chainclient"
	"github.com/zigindex/indexer/internal/eventparser"
)

// msgEvent is one wasm/instantiate event correlated to the message
// index that emitted it, and that message's signer.
type msgEvent struct {
	msgIndex int
	signer   string
	attrs    eventparser.AttrMap
}

// scannedTx is the result of a single pass over one tx's events,
// grouped the way the Block Processor's phases need them (spec §4.D
// step 2).
type scannedTx struct {
	hash         string
	createPairs  []msgEvent
	registers    []msgEvent
	swaps        []msgEvent
	provides     []msgEvent
	withdraws    []msgEvent
	instantiates []msgEvent
}

// registerPairAddr returns the `pair_contract_addr` of the register
// event correlated to the given message index, the primary pool-address
// source for a create_pair at that index (spec §4.D step 3).
func (t scannedTx) registerPairAddr(msgIndex int) string {
	for _, r := range t.registers {
		if r.msgIndex == msgIndex {
			return r.attrs["pair_contract_addr"]
		}
	}
	return ""
}

// lastInstantiateAddr returns the `_contract_address` of the last
// instantiate event in the tx, the fallback pool-address source when no
// register event correlates to the create_pair (spec §4.D step 3).
func (t scannedTx) lastInstantiateAddr() string {
	if len(t.instantiates) == 0 {
		return ""
	}
	return t.instantiates[len(t.instantiates)-1].attrs["_contract_address"]
}

// decodeTxEvents adapts the chainclient wire shape into decoded
// eventparser.Event values.
func decodeTxEvents(tr chainclient.TxResult) []eventparser.Event {
	out := make([]eventparser.Event, 0, len(tr.Events))
	for _, re := range tr.Events {
		attrs := make([]eventparser.RawAttribute, len(re.Attributes))
		for i, a := range re.Attributes {
			attrs[i] = eventparser.RawAttribute{Key: a.Key, Value: a.Value}
		}
		out = append(out, eventparser.DecodeEvents(re.Type, attrs))
	}
	return out
}

// scanTx groups one tx's decoded events by wasm action, correlating
// each to the Cosmos SDK message index it belongs to: SDK emits one
// "message" event per Msg immediately before that message's own
// events, so incrementing a cursor on every "message" event and
// tagging everything after it reproduces the msg index.
func scanTx(hash string, events []eventparser.Event) scannedTx {
	out := scannedTx{hash: hash}
	msgIdx := -1
	signer := ""

	for _, e := range events {
		switch e.Type {
		case "message":
			msgIdx++
			signer = attrMap(e)["sender"]
		case "wasm":
			m := attrMap(e)
			me := msgEvent{msgIndex: msgIdx, signer: signer, attrs: m}
			switch m["action"] {
			case "create_pair":
				out.createPairs = append(out.createPairs, me)
			case "register":
				out.registers = append(out.registers, me)
			case "swap":
				out.swaps = append(out.swaps, me)
			case "provide_liquidity":
				out.provides = append(out.provides, me)
			case "withdraw_liquidity":
				out.withdraws = append(out.withdraws, me)
			}
		case "instantiate":
			out.instantiates = append(out.instantiates, msgEvent{msgIndex: msgIdx, signer: signer, attrs: attrMap(e)})
		}
	}
	return out
}

func attrMap(e eventparser.Event) eventparser.AttrMap {
	m := make(eventparser.AttrMap, len(e.Attributes))
	for _, a := range e.Attributes {
		m[a.Key] = a.Value
	}
	return m
}
