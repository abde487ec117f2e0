package pipeline

import (
	"context"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/eventparser"
	"github.com/zigindex/indexer/internal/prices"
	"github.com/zigindex/indexer/internal/store"
)

// phase2 processes every swap and liquidity event under a bounded
// fan-out (spec §4.D step 5), draining the batch writers early if the
// soft task cap is crossed mid-height (step 7).
func (p *Processor) phase2(ctx context.Context, height int64, blockTime time.Time, txs []scannedTx) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.d.Concurrency, 1))

	for _, tx := range txs {
		tx := tx
		for _, ev := range tx.swaps {
			ev := ev
			g.Go(func() error {
				p.handleSwap(gctx, height, blockTime, tx.hash, ev)
				return nil
			})
		}
		for _, ev := range tx.provides {
			ev := ev
			g.Go(func() error {
				p.handleLiquidity(gctx, height, blockTime, tx.hash, ev, domain.ActionProvide, domain.DirProvide)
				return nil
			})
		}
		for _, ev := range tx.withdraws {
			ev := ev
			g.Go(func() error {
				p.handleLiquidity(gctx, height, blockTime, tx.hash, ev, domain.ActionWithdraw, domain.DirWithdraw)
				return nil
			})
		}
		p.checkSoftCap(ctx, len(tx.swaps)+len(tx.provides)+len(tx.withdraws))
	}

	return g.Wait()
}

// checkSoftCap implements the MAX_PENDING_TASKS interim drain (spec
// §4.D step 7): once enough tasks have been queued this height, flush
// the batch writers early so memory doesn't grow unbounded on an
// unusually dense block.
func (p *Processor) checkSoftCap(ctx context.Context, n int) {
	p.pending += n
	if p.d.MaxPendingTasks > 0 && p.pending >= p.d.MaxPendingTasks {
		p.d.TradesW.Drain(ctx)
		p.d.StateW.Drain(ctx)
		p.d.OHLCVW.Drain(ctx)
		p.pending = 0
	}
}

func (p *Processor) handleSwap(ctx context.Context, height int64, blockTime time.Time, txHash string, ev msgEvent) {
	m := ev.attrs
	pool, ok := p.d.PoolCache.ByContract(m["_contract_address"])
	if !ok {
		p.d.Log.Warn().Str("_contract_address", m["_contract_address"]).Msg("pipeline: swap against unknown pool")
		return
	}

	offerDenom, askDenom := m["offer_asset"], m["ask_asset"]
	offerAmt, returnAmt := parseBigInt(m["offer_amount"]), parseBigInt(m["return_amount"])
	direction := eventparser.ClassifyDirection(offerDenom, pool.QuoteDenom)

	trade := domain.Trade{
		CreatedAt: blockTime, TxHash: txHash, PoolID: pool.ID, MsgIndex: ev.msgIndex,
		Action: domain.ActionSwap, Direction: direction,
		OfferDenom: offerDenom, OfferAmountBase: offerAmt,
		AskDenom: askDenom, ReturnAmountBase: returnAmt,
		Height: height, Signer: ev.signer,
		IsRouter: p.d.RouterAddr != "" && ev.signer == p.d.RouterAddr,
	}

	reserveBase, reserveQuote, haveReserves := splitReserves(m, pool.BaseDenom, pool.QuoteDenom)
	if haveReserves {
		trade.ReserveBaseBase, trade.ReserveQuoteBase = reserveBase, reserveQuote
	}
	p.d.TradesW.Enqueue(ctx, trade)
	p.markMeta(offerDenom, askDenom)

	if haveReserves {
		p.d.StateW.Enqueue(ctx, domain.PoolState{
			PoolID: pool.ID, ReserveBaseBase: reserveBase, ReserveQuoteBase: reserveQuote, UpdatedAt: blockTime,
		})
	}

	if !pool.IsNativeQuote {
		return
	}
	baseExp, ok := p.d.TokenReg.Exponent(pool.BaseTokenID)
	if !ok {
		return // base exponent unknown: trade row still written, price/candle skipped
	}

	resv, err := p.d.ReserveFetcher.Fetch(ctx, pool.PairContract, pool.BaseDenom, pool.QuoteDenom)
	if err != nil {
		p.d.Log.Warn().Err(err).Str("pair_contract", pool.PairContract).Msg("pipeline: reserve fetch for price failed")
		return
	}
	price := prices.ComputePrice(resv.Base, resv.Quote, baseExp)
	if !price.IsPositive() {
		return
	}

	quoteLegRaw := offerAmt
	if direction == domain.DirSell {
		quoteLegRaw = returnAmt
	}
	volumeDisp := domain.BaseToDisplay(quoteLegRaw, domain.NativeExponent)

	p.d.OHLCVW.Enqueue(ctx, store.OHLCVTick{
		PoolID: pool.ID, Minute: blockTime.Truncate(time.Minute),
		Price: price, VolumeNative: volumeDisp, TradeCount: 1,
	})
	if err := p.d.PriceSt.Upsert(ctx, domain.Price{
		TokenID: pool.BaseTokenID, PoolID: pool.ID, PriceInNative: price,
		IsPairNative: true, UpdatedAt: blockTime,
	}); err != nil {
		p.d.Log.Error().Err(err).Int64("pool_id", pool.ID).Msg("pipeline: price upsert failed")
	}
}

func (p *Processor) handleLiquidity(ctx context.Context, height int64, blockTime time.Time, txHash string, ev msgEvent, action domain.TradeAction, direction domain.TradeDirection) {
	m := ev.attrs
	pool, ok := p.d.PoolCache.ByContract(m["_contract_address"])
	if !ok {
		p.d.Log.Warn().Str("_contract_address", m["_contract_address"]).Msg("pipeline: liquidity event against unknown pool")
		return
	}

	assets, err := eventparser.ParseAssetsList(m["assets"])
	if err != nil {
		p.d.Log.Warn().Err(err).Str("tx", txHash).Msg("pipeline: malformed assets attribute")
		return
	}
	byDenom := make(map[string]*big.Int, len(assets))
	for _, a := range assets {
		byDenom[a.Denom] = a.AmountBase
	}
	baseAmt, quoteAmt := byDenom[pool.BaseDenom], byDenom[pool.QuoteDenom]

	trade := domain.Trade{
		CreatedAt: blockTime, TxHash: txHash, PoolID: pool.ID, MsgIndex: ev.msgIndex,
		Action: action, Direction: direction,
		OfferDenom: pool.BaseDenom, OfferAmountBase: baseAmt,
		AskDenom: pool.QuoteDenom, ReturnAmountBase: quoteAmt,
		Height: height, Signer: ev.signer,
		IsRouter: p.d.RouterAddr != "" && ev.signer == p.d.RouterAddr,
	}

	reserveBase, reserveQuote, haveReserves := splitReserves(m, pool.BaseDenom, pool.QuoteDenom)
	if haveReserves {
		trade.ReserveBaseBase, trade.ReserveQuoteBase = reserveBase, reserveQuote
	}
	p.d.TradesW.Enqueue(ctx, trade)
	p.markMeta(pool.BaseDenom, pool.QuoteDenom)

	if haveReserves {
		p.d.StateW.Enqueue(ctx, domain.PoolState{
			PoolID: pool.ID, ReserveBaseBase: reserveBase, ReserveQuoteBase: reserveQuote, UpdatedAt: blockTime,
		})
	}

	if !pool.IsNativeQuote || !haveReserves {
		return
	}
	baseExp, ok := p.d.TokenReg.Exponent(pool.BaseTokenID)
	if !ok {
		return
	}
	price := prices.ComputePrice(reserveBase, reserveQuote, baseExp)
	if !price.IsPositive() {
		return
	}
	if err := p.d.PriceSt.Upsert(ctx, domain.Price{
		TokenID: pool.BaseTokenID, PoolID: pool.ID, PriceInNative: price,
		IsPairNative: true, UpdatedAt: blockTime,
	}); err != nil {
		p.d.Log.Error().Err(err).Int64("pool_id", pool.ID).Msg("pipeline: price upsert failed")
	}
}

// markMeta queues a denom for Phase 3 metadata refresh the first time
// it's seen this process (spec §5 metaFetched set).
func (p *Processor) markMeta(denoms ...string) {
	var fresh []string
	for _, d := range denoms {
		if d == "" || d == domain.NativeDenom {
			continue
		}
		if p.metaQueued.MarkIfNew(d) {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		return
	}
	p.phase3Mu.Lock()
	p.phase3Pending = append(p.phase3Pending, fresh...)
	p.phase3Mu.Unlock()
}

// splitReserves resolves a swap/liquidity event's post-trade reserves
// onto (base, quote). Swap events carry a single "reserves" KV string
// (spec §4.B ParseReservesKV); provide/withdraw events instead carry a
// pair of reserve_assetN_denom/reserve_assetN_amount attributes (N ∈
// {1,2}), so both shapes are tried in turn.
func splitReserves(m eventparser.AttrMap, baseDenom, quoteDenom string) (base, quote *big.Int, ok bool) {
	if assets, err := eventparser.ParseReservesKV(m["reserves"]); err == nil && len(assets) > 0 {
		if b, q, ok := pickBaseQuote(assets, baseDenom, quoteDenom); ok {
			return b, q, true
		}
	}
	var assets []eventparser.AssetAmount
	for _, n := range [2]string{"1", "2"} {
		denom, amtStr := m["reserve_asset"+n+"_denom"], m["reserve_asset"+n+"_amount"]
		if denom == "" || amtStr == "" {
			continue
		}
		amt := parseBigInt(amtStr)
		if amt == nil {
			continue
		}
		assets = append(assets, eventparser.AssetAmount{Denom: denom, AmountBase: amt})
	}
	return pickBaseQuote(assets, baseDenom, quoteDenom)
}

func pickBaseQuote(assets []eventparser.AssetAmount, baseDenom, quoteDenom string) (base, quote *big.Int, ok bool) {
	var b, q *big.Int
	for _, a := range assets {
		switch a.Denom {
		case baseDenom:
			b = a.AmountBase
		case quoteDenom:
			q = a.AmountBase
		}
	}
	if b == nil || q == nil {
		return nil, nil, false
	}
	return b, q, true
}
