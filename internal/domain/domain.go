// Package domain holds the relational model shared by every component:
// tokens, pools, trades, prices, candles and the rolling matrices. It
// has no dependency on the store or chain client packages so that
// parsing, aggregation and persistence code can all import it without
// cycles.
package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TokenKind classifies where a denom's identity comes from.
type TokenKind string

const (
	TokenNative  TokenKind = "native"
	TokenFactory TokenKind = "factory"
	TokenIBC     TokenKind = "ibc"
	TokenCW20    TokenKind = "cw20"
)

// NativeDenom is the canonical base unit of the chain's native token.
const NativeDenom = "uzig"

// NativeExponent is the fixed exponent of the native asset.
const NativeExponent = 6

// Token is the identity of an asset. Exponent defaults to 6 until the
// Metadata Resolver learns otherwise.
type Token struct {
	ID             int64
	Denom          string
	Kind           TokenKind
	Name           *string
	Symbol         *string
	DisplayUnit    *string
	Image          *string
	Website        *string
	Twitter        *string
	Telegram       *string
	Description    *string
	Exponent       int
	MaxSupplyBase  *big.Int
	TotalSupplyBase *big.Int
	// MintAuthority and MintCapBase come from the security scan of a
	// cw20 contract's minter query; nil MintAuthority means minting is
	// fixed (no minter, or the scan hasn't run yet).
	MintAuthority     *string
	MintCapBase       *big.Int
	SecurityScannedAt *time.Time
	CreatedAt         time.Time
}

// PairType enumerates the AMM contract variants this indexer recognizes.
type PairType string

const (
	PairXYK                 PairType = "xyk"
	PairConcentrated        PairType = "concentrated"
	PairCustomConcentrated  PairType = "custom-concentrated"
)

// Pool is an AMM pair contract.
type Pool struct {
	ID             int64
	PairContract   string
	BaseTokenID    int64
	QuoteTokenID   int64
	LPDenom        *string
	PairType       PairType
	IsNativeQuote  bool
	FactoryAddr    string
	RouterAddr     *string
	CreatedHeight  int64
	CreatedTx      string
	CreatedSigner  string
	CreatedAt      time.Time

	// Denormalized for hot-path lookups; not persisted columns, filled
	// in by whatever loaded the Pool row from the cache or a join.
	BaseDenom  string
	QuoteDenom string
}

// PoolState is the latest raw reserves snapshot for a Pool.
type PoolState struct {
	PoolID          int64
	ReserveBaseBase  *big.Int
	ReserveQuoteBase *big.Int
	UpdatedAt        time.Time
}

// TradeAction is the on-chain operation a Trade row records.
type TradeAction string

const (
	ActionSwap     TradeAction = "swap"
	ActionProvide  TradeAction = "provide"
	ActionWithdraw TradeAction = "withdraw"
)

// TradeDirection is the signed interpretation of a Trade.
type TradeDirection string

const (
	DirBuy      TradeDirection = "buy"
	DirSell     TradeDirection = "sell"
	DirProvide  TradeDirection = "provide"
	DirWithdraw TradeDirection = "withdraw"
)

// Trade is an immutable event record. Natural key:
// (CreatedAt, TxHash, PoolID, MsgIndex).
type Trade struct {
	CreatedAt        time.Time
	TxHash           string
	PoolID           int64
	MsgIndex         int
	Action           TradeAction
	Direction        TradeDirection
	OfferDenom       string
	OfferAmountBase  *big.Int
	AskDenom         string
	ReturnAmountBase *big.Int
	ReserveBaseBase  *big.Int
	ReserveQuoteBase *big.Int
	Height           int64
	Signer           string
	IsRouter         bool
}

// Price is the latest scalar price for (token, pool): native units per
// one DISPLAY unit of the base token.
type Price struct {
	TokenID       int64
	PoolID        int64
	PriceInNative decimal.Decimal
	IsPairNative  bool
	UpdatedAt     time.Time
}

// PriceTick is an append-only sampled price trail row.
type PriceTick struct {
	TokenID       int64
	PoolID        int64
	Ts            time.Time
	PriceInNative decimal.Decimal
}

// Candle1m is one minute of OHLCV for a pool.
type Candle1m struct {
	PoolID      int64
	Ts          time.Time // minute-aligned
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	VolumeNative decimal.Decimal
	TradeCount  int64
	Liquidity   *decimal.Decimal
}

// Bucket is a rolling time window label used by the rollup engine.
type Bucket struct {
	Label   string
	Minutes int
}

var Buckets = []Bucket{
	{"30m", 30},
	{"1h", 60},
	{"4h", 240},
	{"24h", 1440},
}

// PoolMatrix is a rolling per-bucket aggregate for one pool.
type PoolMatrix struct {
	PoolID             int64
	Bucket             string
	VolBuyQuoteDisp    decimal.Decimal
	VolSellQuoteDisp   decimal.Decimal
	VolBuyNative       decimal.Decimal
	VolSellNative      decimal.Decimal
	BuyTxCount         int64
	SellTxCount        int64
	DistinctTraders    int64
	TVLNative          decimal.Decimal
	ReserveBaseDisp    decimal.Decimal
	ReserveQuoteDisp   decimal.Decimal
	UpdatedAt          time.Time
}

// TokenMatrix is a rolling per-bucket aggregate for one token.
type TokenMatrix struct {
	TokenID       int64
	Bucket        string
	PriceNative   decimal.Decimal
	MarketCapNative decimal.Decimal
	FDVNative     decimal.Decimal
	HoldersCount  int64
	UpdatedAt     time.Time
}

// Holder is a single address' balance of a token.
type Holder struct {
	TokenID     int64
	Address     string
	BalanceBase *big.Int
	UpdatedAt   time.Time
}

// HolderStats is the per-token holder count.
type HolderStats struct {
	TokenID      int64
	HoldersCount int64
	UpdatedAt    time.Time
}

// FXRate is the minute-bucketed USD/native rate.
type FXRate struct {
	Ts           time.Time
	NativePerUSD decimal.Decimal
}

// PairCreatedEvent is the payload published on the `pair_created`
// channel and consumed by the Fast-Track Listener.
type PairCreatedEvent struct {
	PoolID        int64  `json:"pool_id"`
	PairContract  string `json:"pair_contract"`
	BaseDenom     string `json:"base_denom"`
	QuoteDenom    string `json:"quote_denom"`
	BaseTokenID   int64  `json:"base_token_id"`
	QuoteTokenID  int64  `json:"quote_token_id"`
	IsNativeQuote bool   `json:"is_native_quote"`
}

// BaseToDisplay converts an integer BASE-unit amount to a DISPLAY-unit
// decimal given a token exponent.
func BaseToDisplay(base *big.Int, exponent int) decimal.Decimal {
	if base == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(base, 0).Shift(int32(-exponent))
}
