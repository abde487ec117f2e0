// Package eventparser turns a block-results payload into typed event
// views (spec §4.B). Tendermint events carry base64-encoded attribute
// keys/values; this package decodes them only when the round-trip is
// safe (re-encoding the decoded bytes reproduces the original, and the
// decoded bytes are printable ASCII), classifies events by type and
// wasm action, and extracts the swap/liquidity/pair-creation fields the
// block processor needs.
package eventparser

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/zigindex/indexer/internal/domain"
)

// Attribute is a single decoded event attribute.
type Attribute struct {
	Key   string
	Value string
}

// Event is one Tendermint ABCI event with decoded attributes.
type Event struct {
	Type       string
	Attributes []Attribute
}

// AttrMap is a flattened key->value view of one event's attributes,
// the shape most call sites want.
type AttrMap map[string]string

// DecodeEvents converts raw ABCI events (as decoded from block_results
// JSON, where Key/Value arrive base64-encoded) into Event values,
// decoding each attribute when it round-trips safely and otherwise
// keeping the raw string untouched.
func DecodeEvents(rawType string, rawAttrs []RawAttribute) Event {
	ev := Event{Type: rawType, Attributes: make([]Attribute, 0, len(rawAttrs))}
	for _, a := range rawAttrs {
		ev.Attributes = append(ev.Attributes, Attribute{
			Key:   decodeIfSafe(a.Key),
			Value: decodeIfSafe(a.Value),
		})
	}
	return ev
}

// RawAttribute is the wire shape of one event attribute before
// base64-safety decoding.
type RawAttribute struct {
	Key   string
	Value string
}

// decodeIfSafe base64-decodes s only if the decoded bytes re-encode to
// exactly s and are printable ASCII; otherwise s is assumed to already
// be plain text and is returned unchanged.
func decodeIfSafe(s string) string {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	if base64.StdEncoding.EncodeToString(decoded) != s {
		return s
	}
	if !isPrintableASCII(decoded) {
		return s
	}
	return string(decoded)
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// ByType groups an event list by type, returning each type's
// attribute-maps (one per occurrence, in order).
func ByType(events []Event, typ string) []AttrMap {
	var out []AttrMap
	for _, e := range events {
		if e.Type != typ {
			continue
		}
		m := make(AttrMap, len(e.Attributes))
		for _, a := range e.Attributes {
			m[a.Key] = a.Value
		}
		out = append(out, m)
	}
	return out
}

// WasmByAction returns the subset of `wasm` event attribute-maps whose
// `action` attribute equals the given string.
func WasmByAction(wasms []AttrMap, action string) []AttrMap {
	var out []AttrMap
	for _, w := range wasms {
		if w["action"] == action {
			out = append(out, w)
		}
	}
	return out
}

// MsgSenderByIndex builds a msg-index -> signer map from `message`
// event attribute-maps, where each map in sequence corresponds to the
// message at that position in the tx.
func MsgSenderByIndex(messages []AttrMap) map[int]string {
	out := make(map[int]string, len(messages))
	for i, m := range messages {
		if sender, ok := m["sender"]; ok {
			out[i] = sender
		}
	}
	return out
}

// ParsePair splits a "BASE-QUOTE" style pair string into (base, quote),
// with the rule that whichever side equals the native denom becomes
// quote.
func ParsePair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("eventparser: malformed pair %q", pair)
	}
	a, b := parts[0], parts[1]
	if a == domain.NativeDenom {
		return b, a, nil
	}
	return a, b, nil
}

// AssetAmount is one {denom, amount} pair decoded from a reserves or
// assets attribute string.
type AssetAmount struct {
	Denom      string
	AmountBase *big.Int
}

// ParseReservesKV parses a "denom1:amount1,denom2:amount2" style string
// (the `reserves` swap-event attribute) into structured pairs.
func ParseReservesKV(s string) ([]AssetAmount, error) {
	if s == "" {
		return nil, nil
	}
	var out []AssetAmount
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("eventparser: malformed reserves entry %q", part)
		}
		amt, ok := new(big.Int).SetString(kv[1], 10)
		if !ok {
			return nil, fmt.Errorf("eventparser: bad amount in %q", part)
		}
		out = append(out, AssetAmount{Denom: kv[0], AmountBase: amt})
	}
	return out, nil
}

// ParseAssetsList parses a "1000000000TKN,2000000uzig" style string
// (the `assets` provide/withdraw-liquidity attribute) into structured
// pairs: each entry is a leading base-10 integer immediately followed
// by the denom.
func ParseAssetsList(s string) ([]AssetAmount, error) {
	if s == "" {
		return nil, nil
	}
	var out []AssetAmount
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := 0
		for i < len(part) && (part[i] >= '0' && part[i] <= '9') {
			i++
		}
		if i == 0 || i == len(part) {
			return nil, fmt.Errorf("eventparser: malformed asset entry %q", part)
		}
		amt, ok := new(big.Int).SetString(part[:i], 10)
		if !ok {
			return nil, fmt.Errorf("eventparser: bad amount in %q", part)
		}
		out = append(out, AssetAmount{Denom: part[i:], AmountBase: amt})
	}
	return out, nil
}

// ClassifyDirection implements spec §4.B / §8 invariant 6: buy if the
// offer leg equals the quote denom, sell otherwise.
func ClassifyDirection(offerDenom, quoteDenom string) domain.TradeDirection {
	if offerDenom == quoteDenom {
		return domain.DirBuy
	}
	return domain.DirSell
}

// TxHash computes the uppercase hex SHA-256 digest of the decoded raw
// tx bytes, matching how Tendermint-family chains address
// transactions.
func TxHash(rawBase64Tx string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(rawBase64Tx)
	if err != nil {
		return "", fmt.Errorf("eventparser: decode tx: %w", err)
	}
	return TxHashBytes(raw), nil
}

// TxHashBytes computes the uppercase hex SHA-256 digest of already
// decoded raw tx bytes (the shape chainclient.Block returns).
func TxHashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ParseInt64 is a small helper for attribute fields that hold plain
// decimal integers (heights, msg indexes).
func ParseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
