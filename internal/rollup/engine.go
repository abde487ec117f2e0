// Package rollup implements the Rollup Engine (spec §4.F): on an
// interval, recompute the rolling PoolMatrix/TokenMatrix aggregates
// for every bucket window, plus single-entity fast paths the
// fast-track listener calls right after a pool is created.
package rollup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/store"
)

type bucket struct {
	label   string
	minutes int
}

var buckets = []bucket{
	{"30m", 30},
	{"1h", 60},
	{"4h", 240},
	{"24h", 1440},
}

// Engine computes PoolMatrix and TokenMatrix rows (spec §4.F).
type Engine struct {
	matrices         *store.MatrixStore
	pools            *store.PoolStore
	tokens           *store.TokenStore
	prices           *store.PriceStore
	candles          *store.CandleStore
	holders          *store.HolderStore
	leakageHeuristic bool
	interval         time.Duration
	log              zerolog.Logger
}

// New builds an Engine. leakageHeuristic toggles the §9 BASE-unit
// price salvage rule (TOKEN_PRICE_LEAKAGE_HEURISTIC).
func New(matrices *store.MatrixStore, pools *store.PoolStore, tokens *store.TokenStore, prices *store.PriceStore, candles *store.CandleStore, holders *store.HolderStore, leakageHeuristic bool, interval time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		matrices: matrices, pools: pools, tokens: tokens, prices: prices,
		candles: candles, holders: holders, leakageHeuristic: leakageHeuristic,
		interval: interval, log: log,
	}
}

// Run loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		if err := e.RunCycle(ctx); err != nil {
			e.log.Error().Err(err).Msg("rollup: cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle refreshes every pool's and every traded token's matrices
// across all four buckets.
func (e *Engine) RunCycle(ctx context.Context) error {
	pools, err := e.pools.All(ctx)
	if err != nil {
		return err
	}
	tc := &tokenCache{tokens: e.tokens, m: make(map[int64]domain.Token)}

	tokenIDs := make(map[int64]struct{}, len(pools)*2)
	for _, pool := range pools {
		tokenIDs[pool.BaseTokenID] = struct{}{}
		for _, b := range buckets {
			if err := e.refreshPoolMatrixBucket(ctx, pool, b, tc); err != nil {
				e.log.Warn().Err(err).Int64("pool_id", pool.ID).Str("bucket", b.label).Msg("rollup: pool matrix failed")
			}
		}
	}
	for tokenID := range tokenIDs {
		for _, b := range buckets {
			if err := e.refreshTokenMatrixBucket(ctx, tokenID, b, tc); err != nil {
				e.log.Warn().Err(err).Int64("token_id", tokenID).Str("bucket", b.label).Msg("rollup: token matrix failed")
			}
		}
	}
	return nil
}

// RefreshPoolMatrixOnce is the single-entity fast path for a freshly
// created pool (spec §4.F, consumed by the fast-track listener).
func (e *Engine) RefreshPoolMatrixOnce(ctx context.Context, poolID int64) error {
	pool, err := e.pools.ByID(ctx, poolID)
	if err != nil {
		return err
	}
	tc := &tokenCache{tokens: e.tokens, m: make(map[int64]domain.Token)}
	for _, b := range buckets {
		if err := e.refreshPoolMatrixBucket(ctx, pool, b, tc); err != nil {
			return err
		}
	}
	return nil
}

// RefreshTokenMatrixOnce is the single-entity fast path for a freshly
// seen token.
func (e *Engine) RefreshTokenMatrixOnce(ctx context.Context, tokenID int64) error {
	tc := &tokenCache{tokens: e.tokens, m: make(map[int64]domain.Token)}
	for _, b := range buckets {
		if err := e.refreshTokenMatrixBucket(ctx, tokenID, b, tc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) refreshPoolMatrixBucket(ctx context.Context, pool domain.Pool, b bucket, tc *tokenCache) error {
	quoteTok, err := tc.get(ctx, pool.QuoteTokenID)
	if err != nil {
		return err
	}
	quoteExp := domain.NativeExponent
	if !pool.IsNativeQuote {
		quoteExp = quoteTok.Exponent
	}

	agg, err := e.matrices.AggregatePoolWindow(ctx, pool.ID, time.Now().Add(-time.Duration(b.minutes)*time.Minute))
	if err != nil {
		return err
	}
	// AggregatePoolWindow's VolBuyNative/VolSellNative are the raw
	// quote-leg base-unit sums, not yet converted to DISPLAY or native.
	volBuyQuoteDisp := decimal.NewFromFloat(agg.VolBuyNative).Shift(int32(-quoteExp))
	volSellQuoteDisp := decimal.NewFromFloat(agg.VolSellNative).Shift(int32(-quoteExp))

	quotePrice := e.quotePriceDisp(ctx, pool)
	pm := domain.PoolMatrix{
		PoolID: pool.ID, Bucket: b.label,
		VolBuyQuoteDisp: volBuyQuoteDisp, VolSellQuoteDisp: volSellQuoteDisp,
		VolBuyNative: volBuyQuoteDisp.Mul(quotePrice), VolSellNative: volSellQuoteDisp.Mul(quotePrice),
		BuyTxCount: agg.BuyTxCount, SellTxCount: agg.SellTxCount, DistinctTraders: agg.DistinctTraders,
		UpdatedAt: time.Now(),
	}

	basePx := e.basePriceDisp(ctx, pool)
	quotePx := quotePrice
	if state, err := e.pools.LatestState(ctx, pool.ID); err == nil {
		baseTok, terr := tc.get(ctx, pool.BaseTokenID)
		if terr == nil {
			pm.ReserveBaseDisp = domain.BaseToDisplay(state.ReserveBaseBase, baseTok.Exponent)
			pm.ReserveQuoteDisp = domain.BaseToDisplay(state.ReserveQuoteBase, quoteExp)
			pm.TVLNative = pm.ReserveQuoteDisp.Mul(quotePx).Add(pm.ReserveBaseDisp.Mul(basePx))
		}
	}

	return e.matrices.UpsertPool(ctx, pm)
}

// quotePriceDisp resolves the pool's quote-leg price, 1 when the quote
// is the native asset (spec §4.F TVL rule).
func (e *Engine) quotePriceDisp(ctx context.Context, pool domain.Pool) decimal.Decimal {
	if pool.IsNativeQuote {
		return decimal.NewFromInt(1)
	}
	if p, err := e.prices.LatestByPool(ctx, pool.QuoteTokenID, pool.ID); err == nil {
		return p.PriceInNative
	}
	if p, err := e.prices.LatestAcrossNativePools(ctx, pool.QuoteTokenID); err == nil {
		return p.PriceInNative
	}
	return decimal.Zero
}

// basePriceDisp resolves the pool's base-leg price via the documented
// fallback chain: this pool's own Price row, then any native-quoted
// pool's Price for the token, then the pool's latest candle close
// (spec §4.F TVL rule).
func (e *Engine) basePriceDisp(ctx context.Context, pool domain.Pool) decimal.Decimal {
	if p, err := e.prices.LatestByPool(ctx, pool.BaseTokenID, pool.ID); err == nil {
		return p.PriceInNative
	}
	if p, err := e.prices.LatestAcrossNativePools(ctx, pool.BaseTokenID); err == nil {
		return p.PriceInNative
	}
	if c, err := e.candles.LatestClose(ctx, pool.ID); err == nil {
		return c.Close
	}
	return decimal.Zero
}

// refreshTokenMatrixBucket resolves candidate A (latest cross-pool
// native price) vs candidate B (60m average candle close) per the §4.F
// resolution rule, including the guarded BASE-unit leakage heuristic.
func (e *Engine) refreshTokenMatrixBucket(ctx context.Context, tokenID int64, b bucket, tc *tokenCache) error {
	tok, err := tc.get(ctx, tokenID)
	if err != nil {
		return err
	}

	var a decimal.Decimal
	haveA := false
	if p, err := e.prices.LatestAcrossNativePools(ctx, tokenID); err == nil {
		a, haveA = p.PriceInNative, true
	}
	bVal, haveB, err := e.candles.AverageCloseSince(ctx, tokenID, time.Now().Add(-60*time.Minute))
	if err != nil {
		return err
	}

	price := resolveTokenPrice(a, haveA, bVal, haveB, tok.Exponent, e.leakageHeuristic)

	circDisp := domain.BaseToDisplay(tok.TotalSupplyBase, tok.Exponent)
	maxDisp := domain.BaseToDisplay(tok.MaxSupplyBase, tok.Exponent)
	holdersCount, err := e.holders.StatsCount(ctx, tokenID)
	if err != nil {
		holdersCount = 0
	}

	return e.matrices.UpsertToken(ctx, domain.TokenMatrix{
		TokenID: tokenID, Bucket: b.label,
		PriceNative:     price,
		MarketCapNative: circDisp.Mul(price),
		FDVNative:       maxDisp.Mul(price),
		HoldersCount:    holdersCount,
		UpdatedAt:       time.Now(),
	})
}

// resolveTokenPrice implements the §4.F / §9 resolution rule: candidate
// A is preferred unless it looks like a BASE-denominated value leaked
// into a DISPLAY-unit column (ratio to B within [1e5,1e7] at
// exponent==6), in which case A/1e6 is used instead.
func resolveTokenPrice(a decimal.Decimal, haveA bool, b decimal.Decimal, haveB bool, exponent int, leakageHeuristic bool) decimal.Decimal {
	if leakageHeuristic && haveA && haveB && b.IsPositive() && exponent == 6 {
		ratio := a.Div(b)
		lo, hi := decimal.New(1, 5), decimal.New(1, 7)
		if ratio.Cmp(lo) >= 0 && ratio.Cmp(hi) <= 0 {
			return a.Shift(-6)
		}
	}
	if haveA {
		return a
	}
	if haveB {
		return b
	}
	return decimal.Zero
}

// tokenCache memoizes token lookups within one rollup pass so every
// bucket/pool iteration doesn't re-fetch the same row.
type tokenCache struct {
	tokens *store.TokenStore
	m      map[int64]domain.Token
}

func (tc *tokenCache) get(ctx context.Context, id int64) (domain.Token, error) {
	if t, ok := tc.m[id]; ok {
		return t, nil
	}
	t, err := tc.tokens.ByID(ctx, id)
	if err != nil {
		return domain.Token{}, err
	}
	tc.m[id] = t
	return t, nil
}
