// Package fasttrack implements the Fast-Track Listener (spec §4.E):
// on a pair_created notification, push a brand new pool's metadata,
// holders, security scan and matrices ahead of their regular polling
// cadence instead of waiting for the next sweep/rollup cycle.
package fasttrack

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/holders"
	"github.com/zigindex/indexer/internal/prices"
	"github.com/zigindex/indexer/internal/rollup"
	"github.com/zigindex/indexer/internal/security"
	"github.com/zigindex/indexer/internal/store"
)

// ErrAlreadyStarted is returned by Start if called more than once on
// the same Listener (spec §9: one fast-track listener per process).
var ErrAlreadyStarted = errors.New("fasttrack: listener already started")

// MetaRefresher refreshes one denom's token metadata (satisfied by
// *metadata.Resolver; declared locally to avoid an import cycle).
type MetaRefresher interface {
	Refresh(ctx context.Context, denom string) error
}

// Listener reacts to pair_created notifications.
type Listener struct {
	listener *store.Listener
	pools    *store.PoolStore
	tokens   *store.TokenStore
	trades   *store.TradesWriter
	ohlcv    *store.OHLCVWriter
	priceSt  *store.PriceStore
	reserves *prices.ReserveFetcher
	meta     MetaRefresher
	sweeper  *holders.Sweeper
	scanner  *security.Scanner
	engine   *rollup.Engine
	log      zerolog.Logger

	once sync.Once
}

// New builds a Listener bound to the store's pair_created channel.
func New(s *store.Store, pools *store.PoolStore, tokens *store.TokenStore, trades *store.TradesWriter,
	ohlcv *store.OHLCVWriter, priceSt *store.PriceStore, reserves *prices.ReserveFetcher,
	meta MetaRefresher, sweeper *holders.Sweeper, scanner *security.Scanner, engine *rollup.Engine,
	log zerolog.Logger) (*Listener, error) {
	l, err := s.Listen(store.PairCreatedChannel)
	if err != nil {
		return nil, err
	}
	return &Listener{
		listener: l, pools: pools, tokens: tokens, trades: trades, ohlcv: ohlcv,
		priceSt: priceSt, reserves: reserves, meta: meta, sweeper: sweeper,
		scanner: scanner, engine: engine, log: log,
	}, nil
}

// Start begins consuming notifications; ctx cancellation stops it.
// Calling Start a second time returns ErrAlreadyStarted without
// starting a second consumer.
func (l *Listener) Start(ctx context.Context) error {
	started := false
	l.once.Do(func() { started = true })
	if !started {
		return ErrAlreadyStarted
	}
	return l.listener.Run(ctx, l.handle)
}

func (l *Listener) handle(ctx context.Context, payload string) error {
	var ev domain.PairCreatedEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.log.Error().Err(err).Msg("fasttrack: bad pair_created payload")
		return nil
	}
	l.log.Info().Int64("pool_id", ev.PoolID).Str("pair_contract", ev.PairContract).Msg("fasttrack: new pool")

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				l.log.Warn().Err(err).Int64("pool_id", ev.PoolID).Str("step", name).Msg("fasttrack: step failed")
			}
		}()
	}

	run("metadata:base", func() error { return l.refreshMeta(ctx, ev.BaseDenom) })
	if !ev.IsNativeQuote {
		run("metadata:quote", func() error { return l.refreshMeta(ctx, ev.QuoteDenom) })
	}
	run("holders:base", func() error { return l.refreshHolders(ctx, ev.BaseTokenID, ev.BaseDenom) })
	if !ev.IsNativeQuote {
		run("holders:quote", func() error { return l.refreshHolders(ctx, ev.QuoteTokenID, ev.QuoteDenom) })
	}
	run("security:base", func() error { return l.scanToken(ctx, ev.BaseTokenID) })
	if !ev.IsNativeQuote {
		run("security:quote", func() error { return l.scanToken(ctx, ev.QuoteTokenID) })
	}
	run("matrix:pool", func() error { return l.engine.RefreshPoolMatrixOnce(ctx, ev.PoolID) })
	run("matrix:base-token", func() error { return l.engine.RefreshTokenMatrixOnce(ctx, ev.BaseTokenID) })
	if !ev.IsNativeQuote {
		run("matrix:quote-token", func() error { return l.engine.RefreshTokenMatrixOnce(ctx, ev.QuoteTokenID) })
	}
	run("seed:price-candle", func() error { return l.seedInitial(ctx, ev) })

	wg.Wait()
	return nil
}

func (l *Listener) refreshMeta(ctx context.Context, denom string) error {
	if denom == domain.NativeDenom || l.meta == nil {
		return nil
	}
	return l.meta.Refresh(ctx, denom)
}

// refreshHolders sweeps a non-native leg once, retrying a single time
// if the first pass comes back with zero holders — a brand new pool's
// token may not yet be indexable by the ownership endpoint the
// instant it's created (spec §4.E: "retry once if zero").
func (l *Listener) refreshHolders(ctx context.Context, tokenID int64, denom string) error {
	if denom == domain.NativeDenom || l.sweeper == nil {
		return nil
	}
	count, err := l.sweeper.SweepToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if count == 0 {
		_, err = l.sweeper.SweepToken(ctx, tokenID)
	}
	return err
}

func (l *Listener) scanToken(ctx context.Context, tokenID int64) error {
	if l.scanner == nil {
		return nil
	}
	tok, err := l.tokens.ByID(ctx, tokenID)
	if err != nil {
		return err
	}
	return l.scanner.Scan(ctx, tok)
}

// seedInitial implements spec §4.E's price/candle seed: prefer the
// pool's first provide_liquidity trade; fall back to live reserves at
// creation time. Both paths require a native-quoted pool.
func (l *Listener) seedInitial(ctx context.Context, ev domain.PairCreatedEvent) error {
	if !ev.IsNativeQuote {
		return nil
	}
	baseTok, err := l.tokens.ByID(ctx, ev.BaseTokenID)
	if err != nil {
		return err
	}

	if trade, ok, err := l.trades.FirstProvideLiquidity(ctx, ev.PoolID); err == nil && ok {
		if trade.ReserveBaseBase != nil && trade.ReserveQuoteBase != nil && trade.ReserveBaseBase.Sign() > 0 {
			price := prices.ComputePrice(trade.ReserveBaseBase, trade.ReserveQuoteBase, baseTok.Exponent)
			return l.upsertSeed(ctx, ev, baseTok, trade.CreatedAt, price)
		}
	}

	pool, err := l.pools.ByID(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	r, err := l.reserves.Fetch(ctx, pool.PairContract, ev.BaseDenom, ev.QuoteDenom)
	if err != nil {
		return err
	}
	price := prices.ComputePrice(r.Base, r.Quote, baseTok.Exponent)
	return l.upsertSeed(ctx, ev, baseTok, pool.CreatedAt, price)
}

// upsertSeed writes the Price row and the zero-volume, zero-trade
// minute candle at the given moment: the first provide trade's time,
// or the pool's creation time when no usable provide trade exists.
func (l *Listener) upsertSeed(ctx context.Context, ev domain.PairCreatedEvent, baseTok domain.Token, at time.Time, price decimal.Decimal) error {
	if !price.IsPositive() {
		return nil
	}
	if err := l.priceSt.Upsert(ctx, domain.Price{
		TokenID: ev.BaseTokenID, PoolID: ev.PoolID,
		PriceInNative: price, IsPairNative: true, UpdatedAt: at,
	}); err != nil {
		return err
	}
	l.ohlcv.Enqueue(ctx, store.OHLCVTick{
		PoolID: ev.PoolID, Minute: at.Truncate(time.Minute),
		Price: price, VolumeNative: decimal.Zero, TradeCount: 0,
	})
	return nil
}
