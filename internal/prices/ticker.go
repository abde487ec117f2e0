package prices

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zigindex/indexer/internal/cache"
	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/store"
)

// PoolSource supplies the pool rows a Ticker iterates. internal/pipeline
// satisfies this with its in-process pool cache so the ticker never
// races a full table scan against Block Processor cache warms.
type PoolSource interface {
	NativeQuotedPools() []domain.Pool
}

// TokenExponents resolves a token's display exponent, returning false
// when it is not yet known (spec §4.H: "if base exponent is unknown,
// skip").
type TokenExponents interface {
	Exponent(tokenID int64) (int, bool)
}

// Ticker is the independent Price-from-Reserves loop of spec §4.H.
type Ticker struct {
	fetcher     *ReserveFetcher
	pools       PoolSource
	tokens      TokenExponents
	priceSt     *store.PriceStore
	interval    time.Duration
	concurrency int
	log         zerolog.Logger
}

// NewTicker builds a Ticker polling at interval, fetching up to
// concurrency pools' reserves at once (spec §6 PRICE_JOB_CONCURRENCY).
func NewTicker(fetcher *ReserveFetcher, pools PoolSource, tokens TokenExponents, priceSt *store.PriceStore, interval time.Duration, concurrency int, log zerolog.Logger) *Ticker {
	return &Ticker{fetcher: fetcher, pools: pools, tokens: tokens, priceSt: priceSt, interval: interval, concurrency: concurrency, log: log}
}

// Run loops until ctx is cancelled, sleeping interval between sweeps.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		t.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Ticker) sweepOnce(ctx context.Context) {
	sem := cache.NewSemaphore(t.concurrency)
	var wg sync.WaitGroup
	for _, pool := range t.pools.NativeQuotedPools() {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(pool domain.Pool) {
			defer wg.Done()
			defer sem.Release()
			t.sweepPool(ctx, pool)
		}(pool)
	}
	wg.Wait()
}

func (t *Ticker) sweepPool(ctx context.Context, pool domain.Pool) {
	baseExp, ok := t.tokens.Exponent(pool.BaseTokenID)
	if !ok {
		return
	}
	reserves, err := t.fetcher.Fetch(ctx, pool.PairContract, pool.BaseDenom, pool.QuoteDenom)
	if err != nil {
		t.log.Warn().Err(err).Str("pair_contract", pool.PairContract).Msg("prices: reserve fetch failed")
		return
	}
	price := ComputePrice(reserves.Base, reserves.Quote, baseExp)
	if !price.IsPositive() {
		return
	}
	err = t.priceSt.Upsert(ctx, domain.Price{
		TokenID:       pool.BaseTokenID,
		PoolID:        pool.ID,
		PriceInNative: price,
		IsPairNative:  true,
		UpdatedAt:     time.Now(),
	})
	if err != nil {
		t.log.Error().Err(err).Int64("pool_id", pool.ID).Msg("prices: upsert failed")
	}
}
