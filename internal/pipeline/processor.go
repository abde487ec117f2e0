// Package pipeline implements the Block Processor of spec §4.D: given
// a target height, fetch block + block-results, scan events once, run
// pool creation before swaps/liquidity, fan out the core work under a
// bounded concurrency cap, and queue low-priority metadata refreshes.
// The top-level driver (driver.go) pipelines heights with a bounded
// in-flight window while still committing checkpoints strictly in
// ascending order.
package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zigindex/indexer/internal/chainclient"
	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/eventparser"
	"github.com/zigindex/indexer/internal/prices"
	"github.com/zigindex/indexer/internal/store"
)

// MetaRefresher queues a denom for a metadata refresh (implemented by
// internal/metadata; declared here to avoid an import cycle).
type MetaRefresher interface {
	Refresh(ctx context.Context, denom string) error
}

// Notifier publishes the pair_created payload (implemented by
// store.Store.Notify).
type Notifier interface {
	Notify(ctx context.Context, channel string, payload any) error
}

// Deps wires every collaborator the processor needs.
type Deps struct {
	Chain          *chainclient.Client
	Tokens         *store.TokenStore
	Pools          *store.PoolStore
	PriceSt        *store.PriceStore
	TradesW        *store.TradesWriter
	StateW         *store.PoolStateWriter
	OHLCVW         *store.OHLCVWriter
	Checkpoints    *store.CheckpointStore
	PoolCache      *PoolCache
	TokenReg       *TokenRegistry
	ReserveFetcher *prices.ReserveFetcher
	MetaRefresher  MetaRefresher
	Notifier       Notifier

	FactoryAddr     string
	RouterAddr      string
	Concurrency     int
	MaxPendingTasks int
	MetaConcurrency int

	Log zerolog.Logger
}

// Processor runs the per-height phases of spec §4.D.
type Processor struct {
	d          Deps
	metaQueued *metaFetched
	pending    int // soft cap counter reset each height; touched only from phase2's own loop, not its fan-out

	phase3Mu      sync.Mutex
	phase3Pending []string // denoms newly marked this height, awaiting refresh; appended from phase2's fan-out goroutines
}

// New builds a Processor.
func New(d Deps) *Processor {
	return &Processor{d: d, metaQueued: newMetaFetched()}
}

// ProcessHeight runs every phase for one height. Each call gets its own
// correlation id so every log line for this height's work can be
// grepped together across the concurrent fan-out phases.
func (p *Processor) ProcessHeight(ctx context.Context, height int64) error {
	p.pending = 0
	taskID := uuid.NewString()
	log := p.d.Log.With().Str("task_id", taskID).Int64("height", height).Logger()

	var block chainclient.BlockResult
	var results chainclient.BlockResultsResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		block, err = p.d.Chain.Block(gctx, height)
		return err
	})
	g.Go(func() error {
		var err error
		results, err = p.d.Chain.BlockResults(gctx, height)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pipeline: fetch height %d: %w", height, err)
	}

	blockTime := block.Header.Time
	txs := make([]scannedTx, 0, len(block.Txs))
	for i, raw := range block.Txs {
		hash := eventparser.TxHashBytes(raw)
		var tr chainclient.TxResult
		if i < len(results.TxsResults) {
			tr = results.TxsResults[i]
		}
		txs = append(txs, scanTx(hash, decodeTxEvents(tr)))
	}

	// Phase 1 — pools, happens-before Phase 2 so same-tx
	// create_pair + provide_liquidity sees the pool in cache.
	for _, tx := range txs {
		for _, ev := range tx.createPairs {
			if err := p.processCreatePair(ctx, height, blockTime, tx, ev); err != nil {
				log.Error().Err(err).Str("tx", tx.hash).Msg("pipeline: create_pair failed")
			}
		}
	}

	// Phase 1.5 — prefetch any pool referenced by swaps/liquidity that
	// Phase 1 didn't just create.
	p.prefetchPools(ctx, txs)

	// Phase 2 — core tasks, bounded fan-out.
	if err := p.phase2(ctx, height, blockTime, txs); err != nil {
		return err
	}

	// Phase 3 — low priority metadata refresh for newly seen denoms.
	p.phase3(ctx)

	return nil
}

func (p *Processor) processCreatePair(ctx context.Context, height int64, blockTime time.Time, tx scannedTx, ev msgEvent) error {
	if ev.attrs["_contract_address"] != p.d.FactoryAddr {
		return nil // not our factory: ignore (spec §4.D step 2)
	}
	base, quote, err := eventparser.ParsePair(ev.attrs["pair"])
	if err != nil {
		return err
	}

	pairAddr := tx.registerPairAddr(ev.msgIndex)
	if pairAddr == "" {
		pairAddr = tx.lastInstantiateAddr()
	}
	if pairAddr == "" {
		return fmt.Errorf("pipeline: create_pair in tx %s has no resolvable pair address", tx.hash)
	}

	baseTok, err := p.d.Tokens.GetOrCreate(ctx, base, kindOf(base), domain.NativeExponent)
	if err != nil {
		return fmt.Errorf("pipeline: get/create base token %s: %w", base, err)
	}
	quoteTok, err := p.d.Tokens.GetOrCreate(ctx, quote, kindOf(quote), domain.NativeExponent)
	if err != nil {
		return fmt.Errorf("pipeline: get/create quote token %s: %w", quote, err)
	}
	if base == domain.NativeDenom {
		p.d.TokenReg.Put(baseTok)
	}
	if quote == domain.NativeDenom {
		p.d.TokenReg.Put(quoteTok)
	}

	isNativeQuote := quote == domain.NativeDenom
	var routerAddr *string
	if p.d.RouterAddr != "" {
		routerAddr = &p.d.RouterAddr
	}

	pool, err := p.d.Pools.Create(ctx, domain.Pool{
		PairContract:  pairAddr,
		BaseTokenID:   baseTok.ID,
		QuoteTokenID:  quoteTok.ID,
		PairType:      domain.PairXYK,
		IsNativeQuote: isNativeQuote,
		FactoryAddr:   p.d.FactoryAddr,
		RouterAddr:    routerAddr,
		CreatedHeight: height,
		CreatedTx:     tx.hash,
		CreatedSigner: ev.signer,
		CreatedAt:     blockTime,
	})
	if err != nil {
		return fmt.Errorf("pipeline: create pool %s: %w", pairAddr, err)
	}
	pool.BaseDenom = base
	pool.QuoteDenom = quote
	p.d.PoolCache.Put(pool)

	if p.d.Notifier != nil {
		payload := domain.PairCreatedEvent{
			PoolID: pool.ID, PairContract: pool.PairContract,
			BaseDenom: base, QuoteDenom: quote,
			BaseTokenID: baseTok.ID, QuoteTokenID: quoteTok.ID,
			IsNativeQuote: isNativeQuote,
		}
		if err := p.d.Notifier.Notify(ctx, store.PairCreatedChannel, payload); err != nil {
			p.d.Log.Warn().Err(err).Int64("pool_id", pool.ID).Msg("pipeline: pair_created notify failed")
		}
	}
	return nil
}

// kindOf classifies a denom well enough to seed a fresh token row; the
// Metadata Resolver corrects this later if wrong (e.g. cw20 vs factory).
func kindOf(denom string) domain.TokenKind {
	switch {
	case denom == domain.NativeDenom:
		return domain.TokenNative
	case len(denom) > 4 && denom[:4] == "ibc/":
		return domain.TokenIBC
	default:
		return domain.TokenFactory
	}
}

func (p *Processor) prefetchPools(ctx context.Context, txs []scannedTx) {
	seen := make(map[string]struct{})
	check := func(addr string) {
		if addr == "" {
			return
		}
		if _, ok := p.d.PoolCache.ByContract(addr); ok {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		pool, err := p.d.Pools.ByContract(ctx, addr)
		if err != nil {
			return // not a known pair contract; swaps referencing it are dropped downstream
		}
		if denom, ok := p.d.TokenReg.DenomByID(pool.BaseTokenID); ok {
			pool.BaseDenom = denom
		}
		if denom, ok := p.d.TokenReg.DenomByID(pool.QuoteTokenID); ok {
			pool.QuoteDenom = denom
		}
		p.d.PoolCache.Put(pool)
	}
	for _, tx := range txs {
		for _, ev := range tx.swaps {
			check(ev.attrs["_contract_address"])
		}
		for _, ev := range tx.provides {
			check(ev.attrs["_contract_address"])
		}
		for _, ev := range tx.withdraws {
			check(ev.attrs["_contract_address"])
		}
	}
}

func parseBigInt(s string) *big.Int {
	if s == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return n
}
