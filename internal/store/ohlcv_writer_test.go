package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAggregateTicks_SingleMinute(t *testing.T) {
	m := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []OHLCVTick{
		{PoolID: 1, Minute: m, Price: dec("1.00"), VolumeNative: dec("10"), TradeCount: 1},
		{PoolID: 1, Minute: m, Price: dec("1.20"), VolumeNative: dec("5"), TradeCount: 1},
		{PoolID: 1, Minute: m, Price: dec("0.90"), VolumeNative: dec("3"), TradeCount: 1},
	}

	order, agg := aggregateTicks(items)
	require.Len(t, order, 1)

	a := agg[order[0]]
	assert.True(t, a.high.Equal(dec("1.20")))
	assert.True(t, a.low.Equal(dec("0.90")))
	assert.True(t, a.close.Equal(dec("0.90"))) // last observation wins
	assert.True(t, a.firstPrice.Equal(dec("1.00")))
	assert.True(t, a.volume.Equal(dec("18")))
	assert.EqualValues(t, 3, a.trades)
}

func TestAggregateTicks_SplitsByPoolAndMinute(t *testing.T) {
	m0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := m0.Add(time.Minute)
	items := []OHLCVTick{
		{PoolID: 1, Minute: m0, Price: dec("1.00")},
		{PoolID: 2, Minute: m0, Price: dec("2.00")},
		{PoolID: 1, Minute: m1, Price: dec("1.10")},
	}

	order, agg := aggregateTicks(items)
	assert.Len(t, order, 3)
	assert.Len(t, agg, 3)
}

// TestResolveOpen_CandleLaw exercises the invariant that minute m+1's
// open equals minute m's close once both are flushed (S4).
func TestResolveOpen_CandleLaw(t *testing.T) {
	m0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := m0.Add(time.Minute)

	// First flush: minute m0 alone, no prior close on record.
	order0, agg0 := aggregateTicks([]OHLCVTick{{PoolID: 1, Minute: m0, Price: dec("1.00")}})
	openM0 := resolveOpen(order0[0], agg0[order0[0]], nil)
	assert.True(t, openM0.Equal(dec("1.00")), "first candle opens at its own first price")

	closeM0 := agg0[order0[0]].close

	// Second flush: minute m1, with m0's close now available.
	order1, agg1 := aggregateTicks([]OHLCVTick{{PoolID: 1, Minute: m1, Price: dec("1.10")}})
	priorCloses := map[candleKey]decimal.Decimal{order1[0]: closeM0}
	openM1 := resolveOpen(order1[0], agg1[order1[0]], priorCloses)

	assert.True(t, openM1.Equal(closeM0), "open(m+1) must equal close(m)")
}

func TestAggregateTicks_LiquidityCarriesLastNonNil(t *testing.T) {
	m := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	liq1 := dec("1000")
	liq2 := dec("2000")
	order, agg := aggregateTicks([]OHLCVTick{
		{PoolID: 1, Minute: m, Price: dec("1.00"), Liquidity: &liq1},
		{PoolID: 1, Minute: m, Price: dec("1.00"), Liquidity: nil},
		{PoolID: 1, Minute: m, Price: dec("1.00"), Liquidity: &liq2},
	})
	require.Len(t, order, 1)
	a := agg[order[0]]
	require.NotNil(t, a.liquidity)
	assert.True(t, a.liquidity.Equal(liq2))
}

// TestAggregateTicks_Bounds checks invariant 4: low <= open,close <= high.
func TestAggregateTicks_Bounds(t *testing.T) {
	m := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order, agg := aggregateTicks([]OHLCVTick{
		{PoolID: 1, Minute: m, Price: dec("1.00")},
		{PoolID: 1, Minute: m, Price: dec("1.50")},
		{PoolID: 1, Minute: m, Price: dec("0.80")},
		{PoolID: 1, Minute: m, Price: dec("1.20")},
	})
	a := agg[order[0]]
	open := resolveOpen(order[0], a, nil)
	assert.True(t, a.low.LessThanOrEqual(open))
	assert.True(t, open.LessThanOrEqual(a.high))
	assert.True(t, a.low.LessThanOrEqual(a.close))
	assert.True(t, a.close.LessThanOrEqual(a.high))
}
