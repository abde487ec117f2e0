package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zigindex/indexer/internal/eventparser"
)

func attr(k, v string) eventparser.Attribute { return eventparser.Attribute{Key: k, Value: v} }

func wasmEvent(attrs ...eventparser.Attribute) eventparser.Event {
	return eventparser.Event{Type: "wasm", Attributes: attrs}
}

// TestScanTx_S1PairCreationWithSameTxProvide drives the S1 fixture (pair
// creation with a same-tx provide_liquidity, no instantiate event) through
// the real per-height scanning path and checks every attribute the Block
// Processor's pool-address resolution and reserve parsing depend on.
func TestScanTx_S1PairCreationWithSameTxProvide(t *testing.T) {
	events := []eventparser.Event{
		{Type: "message", Attributes: []eventparser.Attribute{attr("sender", "zig1signer")}},
		wasmEvent(
			attr("action", "create_pair"),
			attr("pair", "TKN-uzig"),
			attr("pair_type", "xyk"),
			attr("_contract_address", "FACTORY"),
		),
		wasmEvent(
			attr("action", "register"),
			attr("pair_contract_addr", "P1"),
			attr("_contract_address", "FACTORY"),
		),
		wasmEvent(
			attr("action", "provide_liquidity"),
			attr("_contract_address", "P1"),
			attr("reserve_asset1_denom", "TKN"),
			attr("reserve_asset1_amount", "1000000000"),
			attr("reserve_asset2_denom", "uzig"),
			attr("reserve_asset2_amount", "2000000"),
			attr("assets", "1000000000TKN,2000000uzig"),
		),
	}

	tx := scanTx("TXS1", events)
	require.Len(t, tx.createPairs, 1)
	require.Len(t, tx.provides, 1)

	createEv := tx.createPairs[0]
	assert.Equal(t, "TKN-uzig", createEv.attrs["pair"])

	// No instantiate event in this tx: the fallback alone would fail,
	// which is exactly why a create_pair/register pair must resolve first.
	assert.Equal(t, "", tx.lastInstantiateAddr())
	assert.Equal(t, "P1", tx.registerPairAddr(createEv.msgIndex), "register event must resolve the pool address")

	provEv := tx.provides[0]
	assert.Equal(t, "P1", provEv.attrs["_contract_address"], "pool lookups must key off _contract_address")
	assert.Equal(t, "", provEv.attrs["pair_contract_addr"], "provide_liquidity never carries pair_contract_addr")

	base, quote, ok := splitReserves(provEv.attrs, "TKN", "uzig")
	require.True(t, ok)
	assert.Equal(t, "1000000000", base.String())
	assert.Equal(t, "2000000", quote.String())
}

// TestScanTx_S2SwapOnExistingPool drives the S2 fixture (a swap against
// an already-created pool) through scanTx and splitReserves.
func TestScanTx_S2SwapOnExistingPool(t *testing.T) {
	events := []eventparser.Event{
		{Type: "message", Attributes: []eventparser.Attribute{attr("sender", "zig1signer")}},
		wasmEvent(
			attr("action", "swap"),
			attr("_contract_address", "P1"),
			attr("offer_asset", "uzig"),
			attr("offer_amount", "500000"),
			attr("ask_asset", "TKN"),
			attr("return_amount", "240000000"),
			attr("reserves", "TKN:760000000,uzig:2500000"),
		),
	}

	tx := scanTx("TXS2", events)
	require.Len(t, tx.swaps, 1)

	swapEv := tx.swaps[0]
	assert.Equal(t, "P1", swapEv.attrs["_contract_address"], "pool lookups must key off _contract_address")
	assert.Equal(t, "", swapEv.attrs["pair_contract_addr"], "swap never carries pair_contract_addr")

	base, quote, ok := splitReserves(swapEv.attrs, "TKN", "uzig")
	require.True(t, ok)
	assert.Equal(t, "760000000", base.String())
	assert.Equal(t, "2500000", quote.String())
}

// TestScannedTx_RegisterFallsBackToInstantiate covers the other half of
// spec §4.D step 3: when a create_pair has no correlated register event,
// the last instantiate event's _contract_address is used instead.
func TestScannedTx_RegisterFallsBackToInstantiate(t *testing.T) {
	events := []eventparser.Event{
		{Type: "message", Attributes: []eventparser.Attribute{attr("sender", "zig1signer")}},
		wasmEvent(
			attr("action", "create_pair"),
			attr("pair", "TKN-uzig"),
			attr("pair_type", "xyk"),
			attr("_contract_address", "FACTORY"),
		),
		{Type: "instantiate", Attributes: []eventparser.Attribute{attr("_contract_address", "P2")}},
	}

	tx := scanTx("TXS1B", events)
	require.Len(t, tx.createPairs, 1)
	createEv := tx.createPairs[0]

	assert.Equal(t, "", tx.registerPairAddr(createEv.msgIndex))
	assert.Equal(t, "P2", tx.lastInstantiateAddr())
}
