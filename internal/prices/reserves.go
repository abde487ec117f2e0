// Package prices implements the reserve-fetching/price-computation
// formula shared by the Block Processor's swap path (spec §4.D) and
// the independent Price-from-Reserves ticker (spec §4.H): "compute
// price per the same formula as §4.D". ReserveFetcher is the one
// place that formula lives; both callers share its TTL cache and
// single-flight coalescing so a burst of swaps against the same pair
// never fires more than one concurrent LCD smart-query.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zigindex/indexer/internal/cache"
	"github.com/zigindex/indexer/internal/chainclient"
	"github.com/zigindex/indexer/internal/domain"
)

// Reserves is a pair contract's current base/quote reserves, in BASE
// units.
type Reserves struct {
	Base  *big.Int
	Quote *big.Int
}

// poolQueryMsg is the CosmWasm smart-query body for an AMM pair's pool
// state: {"pool":{}}.
var poolQueryMsg = json.RawMessage(`{"pool":{}}`)

// poolQueryResponse mirrors the Astroport-style xyk pair `pool` query
// response shape: a two-element assets array tagged by native_token or
// token (cw20) denom/address.
type poolQueryResponse struct {
	Assets []struct {
		Info struct {
			NativeToken *struct {
				Denom string `json:"denom"`
			} `json:"native_token"`
			Token *struct {
				ContractAddr string `json:"contract_addr"`
			} `json:"token"`
		} `json:"info"`
		Amount string `json:"amount"`
	} `json:"assets"`
}

// ReserveFetcher fetches and caches a pair contract's reserves.
type ReserveFetcher struct {
	chain *chainclient.Client
	cache *cache.TTLCache[string, Reserves]
	sf    *cache.SingleFlight[string, Reserves]
}

// NewReserveFetcher builds a fetcher whose cache entries live for ttl
// (spec §4.H: "TTL-cached ~2 s, in-flight coalesced per pair contract").
func NewReserveFetcher(chain *chainclient.Client, ttl time.Duration) *ReserveFetcher {
	return &ReserveFetcher{
		chain: chain,
		cache: cache.NewTTLCache[string, Reserves](4096, ttl),
		sf:    cache.NewSingleFlight[string, Reserves](),
	}
}

// Fetch returns a pair contract's current (base, quote) reserves,
// identified by denom against the pool's known base/quote denoms.
func (f *ReserveFetcher) Fetch(ctx context.Context, pairContract, baseDenom, quoteDenom string) (Reserves, error) {
	if r, ok := f.cache.Get(pairContract); ok {
		return r, nil
	}
	r, err := f.sf.Do(pairContract, func() (Reserves, error) {
		raw, err := f.chain.SmartQuery(ctx, pairContract, poolQueryMsg)
		if err != nil {
			return Reserves{}, fmt.Errorf("prices: smart query pool %s: %w", pairContract, err)
		}
		var resp poolQueryResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Reserves{}, fmt.Errorf("prices: decode pool response: %w", err)
		}
		reserves, err := extractReserves(resp, baseDenom, quoteDenom)
		if err != nil {
			return Reserves{}, err
		}
		return reserves, nil
	})
	if err != nil {
		return Reserves{}, err
	}
	f.cache.Set(pairContract, r)
	return r, nil
}

func extractReserves(resp poolQueryResponse, baseDenom, quoteDenom string) (Reserves, error) {
	var out Reserves
	for _, a := range resp.Assets {
		var denom string
		switch {
		case a.Info.NativeToken != nil:
			denom = a.Info.NativeToken.Denom
		case a.Info.Token != nil:
			denom = a.Info.Token.ContractAddr
		default:
			continue
		}
		amt, ok := new(big.Int).SetString(a.Amount, 10)
		if !ok {
			return Reserves{}, fmt.Errorf("prices: bad reserve amount %q for %q", a.Amount, denom)
		}
		switch denom {
		case baseDenom:
			out.Base = amt
		case quoteDenom:
			out.Quote = amt
		}
	}
	if out.Base == nil || out.Quote == nil {
		return Reserves{}, fmt.Errorf("prices: pool response missing base/quote reserves for %s/%s", baseDenom, quoteDenom)
	}
	return out, nil
}

// ComputePrice implements spec §8 invariant 5:
// price = (quote_raw / 10^6) / (base_raw / 10^base_exponent), valid
// only for native-quoted pools (quote exponent is always 6).
func ComputePrice(baseRaw, quoteRaw *big.Int, baseExponent int) decimal.Decimal {
	if baseRaw == nil || quoteRaw == nil || baseRaw.Sign() <= 0 {
		return decimal.Zero
	}
	quoteDisp := domain.BaseToDisplay(quoteRaw, domain.NativeExponent)
	baseDisp := domain.BaseToDisplay(baseRaw, baseExponent)
	if baseDisp.IsZero() {
		return decimal.Zero
	}
	return quoteDisp.Div(baseDisp)
}
