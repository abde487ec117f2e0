// Package holders implements the Holders Sweeper (spec §4.G): on an
// interval, pick the stalest non-native/IBC tokens and refresh their
// full holder set by paginating the chain's denom_owners endpoint
// under a bounded page concurrency.
package holders

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/zigindex/indexer/internal/cache"
	"github.com/zigindex/indexer/internal/chainclient"
	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/store"
)

// Sweeper runs the per-cycle holders refresh.
type Sweeper struct {
	chain    *chainclient.Client
	holders  *store.HolderStore
	tokens   *store.TokenStore
	pageSem  *cache.Semaphore
	interval time.Duration
	batch    int
	maxPages int
	log      zerolog.Logger
}

// New builds a Sweeper. pageConcurrency bounds how many denom_owners
// pages are in flight across the whole process at once.
func New(chain *chainclient.Client, holders *store.HolderStore, tokens *store.TokenStore, pageConcurrency, batch, maxPages int, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		chain:    chain,
		holders:  holders,
		tokens:   tokens,
		pageSem:  cache.NewSemaphore(pageConcurrency),
		interval: interval,
		batch:    batch,
		maxPages: maxPages,
		log:      log,
	}
}

// Run loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.cycle(ctx); err != nil {
			s.log.Error().Err(err).Msg("holders: cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) cycle(ctx context.Context) error {
	ids, err := s.holders.StalestTokenIDs(ctx, s.batch)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.SweepToken(ctx, id); err != nil {
			s.log.Warn().Err(err).Int64("token_id", id).Msg("holders: sweep failed")
		}
	}
	return nil
}

// SweepToken pages through one token's owners, upserting each page
// transactionally, then zeroes out everyone not seen this sweep and
// recomputes the holder count, returning it (spec §4.G). Also used
// directly by the fast-track listener (spec §4.E: "retry once if
// zero").
func (s *Sweeper) SweepToken(ctx context.Context, tokenID int64) (int64, error) {
	tok, err := s.tokens.ByID(ctx, tokenID)
	if err != nil {
		return 0, err
	}

	sweepStart := time.Now()
	pageKey := ""
	for page := 0; page < s.maxPages; page++ {
		if err := s.pageSem.Acquire(ctx); err != nil {
			return 0, err
		}
		owners, err := s.chain.DenomOwners(ctx, tok.Denom, pageKey)
		s.pageSem.Release()

		if err != nil {
			if errors.Is(err, chainclient.ErrNotImplemented) {
				if terr := s.holders.TouchStats(ctx, tokenID, sweepStart); terr != nil {
					return 0, terr
				}
				return 0, nil
			}
			return 0, err
		}

		if len(owners.DenomOwners) > 0 {
			rows := make([]domain.Holder, 0, len(owners.DenomOwners))
			for _, o := range owners.DenomOwners {
				bal, _ := new(big.Int).SetString(o.Balance.Amount, 10)
				rows = append(rows, domain.Holder{TokenID: tokenID, Address: o.Address, BalanceBase: bal, UpdatedAt: sweepStart})
			}
			if err := s.holders.UpsertPage(ctx, tokenID, rows, sweepStart); err != nil {
				return 0, err
			}
		}

		if owners.Pagination.NextKey == "" {
			break
		}
		pageKey = owners.Pagination.NextKey
	}

	if err := s.holders.ZeroStale(ctx, tokenID, sweepStart); err != nil {
		return 0, err
	}
	count, err := s.holders.RecomputeStats(ctx, tokenID, time.Now())
	if err != nil {
		return 0, err
	}
	return count, nil
}
