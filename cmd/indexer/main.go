package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zigindex/indexer/internal/chainclient"
	"github.com/zigindex/indexer/internal/config"
	"github.com/zigindex/indexer/internal/fasttrack"
	"github.com/zigindex/indexer/internal/fx"
	"github.com/zigindex/indexer/internal/holders"
	"github.com/zigindex/indexer/internal/lifecycle"
	"github.com/zigindex/indexer/internal/logging"
	"github.com/zigindex/indexer/internal/metadata"
	"github.com/zigindex/indexer/internal/pipeline"
	"github.com/zigindex/indexer/internal/prices"
	"github.com/zigindex/indexer/internal/rollup"
	"github.com/zigindex/indexer/internal/security"
	"github.com/zigindex/indexer/internal/store"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "indexer",
		Short: "ZigIndex: Cosmos AMM indexer and analytics pipeline",
	}
	root.AddCommand(runCmd(), backfillMetaCmd(), checkpointCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles every long-lived collaborator built from Config, shared
// by every subcommand so each one only wires what it actually drives.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store
	chain *chainclient.Client
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.LogPretty)

	st, err := store.New(ctx, cfg.DatabaseURL, logging.For(log, "store"))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	chain := chainclient.New(
		append(append([]string{}, cfg.RPCPrimary...), cfg.RPCBackup...),
		append(append([]string{}, cfg.LCDPrimary...), cfg.LCDBackup...),
		logging.For(log, "chainclient"),
		chainclient.WithTimeout(10*time.Second),
	)

	return &app{cfg: cfg, log: log, store: st, chain: chain}, nil
}

func runCmd() *cobra.Command {
	var fromHeight int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the full indexing pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexer(cmd.Context(), fromHeight)
		},
	}
	cmd.Flags().Int64Var(&fromHeight, "from", 0, "height to resume from if no checkpoint exists")
	return cmd
}

func runIndexer(ctx context.Context, fromHeightFlag int64) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	coord := lifecycle.New(a.cfg.ShutdownGrace, logging.For(a.log, "lifecycle"))
	runCtx, waitForShutdown := coord.Run()
	go waitForShutdown()
	defer a.store.Close()

	tokens := a.store.Tokens()
	pools := a.store.Pools()
	priceSt := a.store.Prices()
	candles := a.store.Candles()
	matrices := a.store.Matrices()
	holderSt := a.store.Holders()
	fxSt := a.store.FX()

	tradesW := a.store.NewTradesWriter(a.cfg.TradesBatchMax, a.cfg.TradesBatchWait, logging.For(a.log, "trades_writer"))
	stateW := a.store.NewPoolStateWriter(a.cfg.StateBatchMax, a.cfg.StateBatchWait, logging.For(a.log, "poolstate_writer"))
	ohlcvW := a.store.NewOHLCVWriter(a.cfg.OHLCVBatchMax, a.cfg.OHLCVBatchWait, logging.For(a.log, "ohlcv_writer"))
	coord.OnDrain(func(ctx context.Context) { tradesW.Drain(ctx) })
	coord.OnDrain(func(ctx context.Context) { stateW.Drain(ctx) })
	coord.OnDrain(func(ctx context.Context) { ohlcvW.Drain(ctx) })

	poolCache := pipeline.NewPoolCache()
	tokenReg := pipeline.NewTokenRegistry()
	if err := poolCache.WarmFromStore(ctx, pools, tokenReg); err != nil {
		a.log.Warn().Err(err).Msg("indexer: pool cache warm failed, continuing cold")
	}

	reserveFetcher := prices.NewReserveFetcher(a.chain, 2*time.Second)

	assets, err := metadata.LoadRegistry(a.cfg.AssetRegistryPath)
	if err != nil {
		return fmt.Errorf("metadata: load asset registry: %w", err)
	}
	resolver := metadata.New(a.chain, tokens, tokenReg, assets, logging.For(a.log, "metadata"))

	proc := pipeline.New(pipeline.Deps{
		Chain: a.chain, Tokens: tokens, Pools: pools, PriceSt: priceSt,
		TradesW: tradesW, StateW: stateW, OHLCVW: ohlcvW,
		Checkpoints: a.store.Checkpoints(), PoolCache: poolCache, TokenReg: tokenReg,
		ReserveFetcher: reserveFetcher, MetaRefresher: resolver, Notifier: a.store,
		FactoryAddr: a.cfg.FactoryAddr, RouterAddr: a.cfg.RouterAddr,
		Concurrency: a.cfg.BlockProcConcurrency, MaxPendingTasks: a.cfg.BlockProcMaxTasks,
		MetaConcurrency: a.cfg.MetaConcurrency,
		Log:             logging.For(a.log, "pipeline"),
	})
	driver := pipeline.NewDriver(proc, a.cfg.PipelineDepth, a.cfg.PollSleep, a.cfg.MaxBlocks,
		a.cfg.CheckpointOnError, logging.For(a.log, "driver"))

	startHeight := fromHeightFlag
	if h, err := a.store.Checkpoints().Read(ctx); err == nil && h != nil && *h > 0 {
		startHeight = *h + 1
	}

	sweeper := holders.New(a.chain, holderSt, tokens, a.cfg.LCDPageConcurrency, a.cfg.HoldersBatchSize,
		a.cfg.MaxHolderPagesPerCycle, a.cfg.HoldersRefreshInterval, logging.For(a.log, "holders"))
	scanner := security.New(a.chain, tokens, logging.For(a.log, "security"))
	priceTicker := prices.NewTicker(reserveFetcher, poolCache, tokenReg, priceSt, a.cfg.PriceSimInterval, a.cfg.PriceJobConcurrency, logging.For(a.log, "price_ticker"))
	engine := rollup.New(matrices, pools, tokens, priceSt, candles, holderSt,
		a.cfg.TokenPriceLeakageHeuristic, a.cfg.MatrixRollupInterval, logging.For(a.log, "rollup"))
	fxFetcher := fx.New(a.cfg.CMCAPIKey, a.cfg.CMCSymbol, a.cfg.CMCConvert, a.cfg.FXInterval, fxSt, logging.For(a.log, "fx"))

	listener, err := fasttrack.New(a.store, pools, tokens, tradesW, ohlcvW, priceSt, reserveFetcher,
		resolver, sweeper, scanner, engine, logging.For(a.log, "fasttrack"))
	if err != nil {
		return fmt.Errorf("fasttrack: %w", err)
	}

	go sweeper.Run(runCtx)
	go priceTicker.Run(runCtx)
	go engine.Run(runCtx)
	go fxFetcher.Run(runCtx)
	go runPartitions(runCtx, a.store, a.cfg, logging.For(a.log, "partitions"))
	go func() {
		if err := listener.Start(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error().Err(err).Msg("fasttrack: listener stopped")
		}
	}()
	if a.cfg.MetaBackfill {
		go runMetaBackfillLoop(runCtx, tokens, resolver, a.cfg, logging.For(a.log, "meta_backfill"))
	}
	if a.cfg.UseChainRegistry {
		go resolver.RunRegistryPoll(runCtx, a.cfg.AssetRegistryPath, a.cfg.RegistryPollBatch, a.cfg.RegistryPollInterval)
	}

	err = driver.Run(runCtx, startHeight)
	waitForShutdown()
	return err
}

func runPartitions(ctx context.Context, st *store.Store, cfg *config.Config, log zerolog.Logger) {
	maint := st.Partitions()
	ticker := time.NewTicker(cfg.PartitionsInterval)
	defer ticker.Stop()
	for {
		if err := maint.EnsureAhead(ctx, time.Now(), cfg.PartitionMonthsAhead); err != nil {
			log.Error().Err(err).Msg("partitions: ensure ahead failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runMetaBackfillLoop(ctx context.Context, tokens *store.TokenStore, resolver *metadata.Resolver, cfg *config.Config, log zerolog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		denoms, err := tokens.DenomsMissingMetadata(ctx, cfg.MetaBackfillBatch)
		if err != nil {
			log.Error().Err(err).Msg("meta backfill: list failed")
		}
		for _, d := range denoms {
			if err := resolver.Refresh(ctx, d); err != nil {
				log.Warn().Err(err).Str("denom", d).Msg("meta backfill: refresh failed")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.MetaBackfillSleep):
		}
	}
}

func backfillMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-meta",
		Short: "run one metadata backfill sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close()

			tokens := a.store.Tokens()
			tokenReg := pipeline.NewTokenRegistry()
			assets, err := metadata.LoadRegistry(a.cfg.AssetRegistryPath)
			if err != nil {
				return err
			}
			resolver := metadata.New(a.chain, tokens, tokenReg, assets, logging.For(a.log, "metadata"))

			denoms, err := tokens.DenomsMissingMetadata(ctx, a.cfg.MetaBackfillBatch)
			if err != nil {
				return err
			}
			for _, d := range denoms {
				if err := resolver.Refresh(ctx, d); err != nil {
					a.log.Warn().Err(err).Str("denom", d).Msg("backfill-meta: refresh failed")
				}
			}
			fmt.Printf("backfilled %d denoms\n", len(denoms))
			return nil
		},
	}
}

func checkpointCmd() *cobra.Command {
	var setHeight int64
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "read or set the block-processor checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close()

			cp := a.store.Checkpoints()
			if cmd.Flags().Changed("set") {
				if err := cp.Write(ctx, setHeight); err != nil {
					return err
				}
				fmt.Printf("checkpoint set to %d\n", setHeight)
				return nil
			}
			h, err := cp.Read(ctx)
			if err != nil {
				return err
			}
			if h == nil {
				fmt.Println("no checkpoint written yet")
				return nil
			}
			fmt.Printf("last committed height: %d\n", *h)
			return nil
		},
	}
	cmd.Flags().Int64Var(&setHeight, "set", 0, "set the checkpoint to this height instead of reading it")
	return cmd
}
