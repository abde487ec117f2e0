// Package config loads the environment-variable configuration described
// in spec §6 into a typed Config, mirroring the teacher's
// configs.LoadConfig / To*Config translation pattern but reading env
// vars instead of a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is every recognized environment knob, defaulted per spec §6.
type Config struct {
	RPCPrimary []string
	RPCBackup  []string
	LCDPrimary []string
	LCDBackup  []string

	FactoryAddr string
	RouterAddr  string

	BlockProcConcurrency int
	BlockProcMaxTasks    int
	PipelineDepth        int
	PollSleep            time.Duration
	MaxBlocks            int64

	TradesBatchMax  int
	TradesBatchWait time.Duration
	StateBatchMax   int
	StateBatchWait  time.Duration
	OHLCVBatchMax   int
	OHLCVBatchWait  time.Duration

	MatrixRollupInterval    time.Duration
	HoldersRefreshInterval  time.Duration
	HoldersBatchSize        int
	MaxHolderPagesPerCycle  int
	LCDPageConcurrency      int
	PriceSimInterval        time.Duration
	PriceJobConcurrency     int
	FXInterval              time.Duration
	PartitionsInterval      time.Duration
	PartitionMonthsAhead    int
	MetaRefreshInterval     time.Duration
	MetaBackfill            bool
	MetaBackfillBatch       int
	MetaBackfillSleep       time.Duration
	MetaConcurrency         int
	UseChainRegistry        bool
	RegistryPollInterval    time.Duration
	RegistryPollBatch       int

	CMCAPIKey  string
	CMCSymbol  string
	CMCConvert string

	AssetRegistryPath string
	LogPretty         bool
	ShutdownGrace     time.Duration

	DatabaseURL string

	CheckpointOnError          bool
	TokenPriceLeakageHeuristic bool
}

// Load reads the process environment and fills in every default from
// spec §6's table. It fails when DATABASE_URL, RPC_PRIMARY or
// LCD_PRIMARY is unset and on malformed numeric/duration values; every
// other missing key takes its default.
func Load() (*Config, error) {
	c := &Config{
		RPCPrimary:  splitCSV(getenv("RPC_PRIMARY", "")),
		RPCBackup:   splitCSV(getenv("RPC_BACKUP", "")),
		LCDPrimary:  splitCSV(getenv("LCD_PRIMARY", "")),
		LCDBackup:   splitCSV(getenv("LCD_BACKUP", "")),
		FactoryAddr: getenv("FACTORY_ADDR", ""),
		RouterAddr:  getenv("ROUTER_ADDR", ""),
		DatabaseURL: getenv("DATABASE_URL", ""),
		CMCAPIKey:   getenv("CMC_API_KEY", ""),
		CMCSymbol:   getenv("CMC_SYMBOL", "ZIG"),
		CMCConvert:  getenv("CMC_CONVERT", "USD"),

		AssetRegistryPath: getenv("ASSET_REGISTRY_PATH", ""),
	}

	var err error
	if c.LogPretty, err = getbool("LOG_PRETTY", false); err != nil {
		return nil, err
	}
	if c.ShutdownGrace, err = getseconds("SHUTDOWN_GRACE_SEC", 20); err != nil {
		return nil, err
	}
	if c.BlockProcConcurrency, err = getint("BLOCK_PROC_CONCURRENCY", 12); err != nil {
		return nil, err
	}
	if c.BlockProcMaxTasks, err = getint("BLOCK_PROC_MAX_TASKS", 5000); err != nil {
		return nil, err
	}
	if c.PipelineDepth, err = getint("PIPELINE_DEPTH", 3); err != nil {
		return nil, err
	}
	if c.PollSleep, err = getmillis("POLL_SLEEP_MS", 1000); err != nil {
		return nil, err
	}
	maxBlocks, err := getint64("MAX_BLOCKS", 0)
	if err != nil {
		return nil, err
	}
	c.MaxBlocks = maxBlocks

	if c.TradesBatchMax, err = getint("TRADES_BATCH_MAX", 800); err != nil {
		return nil, err
	}
	if c.TradesBatchWait, err = getmillis("TRADES_BATCH_WAIT_MS", 120); err != nil {
		return nil, err
	}
	if c.StateBatchMax, err = getint("STATE_BATCH_MAX", 400); err != nil {
		return nil, err
	}
	if c.StateBatchWait, err = getmillis("STATE_BATCH_WAIT_MS", 120); err != nil {
		return nil, err
	}
	if c.OHLCVBatchMax, err = getint("OHLCV_BATCH_MAX", 600); err != nil {
		return nil, err
	}
	if c.OHLCVBatchWait, err = getmillis("OHLCV_BATCH_WAIT_MS", 120); err != nil {
		return nil, err
	}

	if c.MatrixRollupInterval, err = getseconds("MATRIX_ROLLUP_SEC", 60); err != nil {
		return nil, err
	}
	if c.HoldersRefreshInterval, err = getseconds("HOLDERS_REFRESH_SEC", 180); err != nil {
		return nil, err
	}
	if c.HoldersBatchSize, err = getint("HOLDERS_BATCH_SIZE", 20); err != nil {
		return nil, err
	}
	if c.MaxHolderPagesPerCycle, err = getint("MAX_HOLDER_PAGES_PER_CYCLE", 50); err != nil {
		return nil, err
	}
	if c.LCDPageConcurrency, err = getint("LCD_PAGE_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if c.PriceSimInterval, err = getseconds("PRICE_SIM_SEC", 8); err != nil {
		return nil, err
	}
	if c.PriceJobConcurrency, err = getint("PRICE_JOB_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if c.FXInterval, err = getseconds("FX_SEC", 36); err != nil {
		return nil, err
	}
	if c.PartitionsInterval, err = getseconds("PARTITIONS_SEC", 1800); err != nil {
		return nil, err
	}
	if c.PartitionMonthsAhead, err = getint("PARTITION_MONTHS_AHEAD", 3); err != nil {
		return nil, err
	}
	if c.MetaRefreshInterval, err = getseconds("META_REFRESH_SEC", 300); err != nil {
		return nil, err
	}
	if c.MetaBackfill, err = getbool("META_BACKFILL", false); err != nil {
		return nil, err
	}
	if c.MetaBackfillBatch, err = getint("META_BACKFILL_BATCH", 50); err != nil {
		return nil, err
	}
	if c.MetaBackfillSleep, err = getmillis("META_BACKFILL_SLEEP_MS", 250); err != nil {
		return nil, err
	}
	if c.MetaConcurrency, err = getint("META_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if c.UseChainRegistry, err = getbool("USE_CHAIN_REGISTRY", true); err != nil {
		return nil, err
	}
	if c.RegistryPollInterval, err = getseconds("REGISTRY_POLL_SEC", 600); err != nil {
		return nil, err
	}
	if c.RegistryPollBatch, err = getint("REGISTRY_POLL_BATCH", 20); err != nil {
		return nil, err
	}
	if c.CheckpointOnError, err = getbool("CHECKPOINT_ON_ERROR", true); err != nil {
		return nil, err
	}
	if c.TokenPriceLeakageHeuristic, err = getbool("TOKEN_PRICE_LEAKAGE_HEURISTIC", true); err != nil {
		return nil, err
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.RPCPrimary) == 0 {
		return nil, fmt.Errorf("RPC_PRIMARY is required")
	}
	if len(c.LCDPrimary) == 0 {
		return nil, fmt.Errorf("LCD_PRIMARY is required")
	}

	return c, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getint(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getint64(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getbool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getmillis(key string, defMillis int) (time.Duration, error) {
	n, err := getint(key, defMillis)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func getseconds(key string, defSeconds int) (time.Duration, error) {
	n, err := getint(key, defSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
