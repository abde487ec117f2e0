package rollup

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestResolveTokenPrice_PrefersA(t *testing.T) {
	a := decimal.RequireFromString("1.5")
	b := decimal.RequireFromString("1.4")
	got := resolveTokenPrice(a, true, b, true, 6, true)
	assert.True(t, got.Equal(a))
}

func TestResolveTokenPrice_FallsBackToB(t *testing.T) {
	b := decimal.RequireFromString("1.4")
	got := resolveTokenPrice(decimal.Zero, false, b, true, 6, true)
	assert.True(t, got.Equal(b))
}

func TestResolveTokenPrice_NeitherAvailable(t *testing.T) {
	got := resolveTokenPrice(decimal.Zero, false, decimal.Zero, false, 6, true)
	assert.True(t, got.IsZero())
}

// TestResolveTokenPrice_LeakageHeuristic exercises the guarded salvage
// rule: a candidate A that is ~1e6x candidate B at exponent 6 is
// treated as a BASE-unit value leaked into a DISPLAY-unit column.
func TestResolveTokenPrice_LeakageHeuristic(t *testing.T) {
	a := decimal.RequireFromString("1400000") // looks like 1.4 * 1e6
	b := decimal.RequireFromString("1.4")
	got := resolveTokenPrice(a, true, b, true, 6, true)
	assert.True(t, got.Equal(decimal.RequireFromString("1.4")), "expected %s shifted down to match B", a)
}

func TestResolveTokenPrice_LeakageHeuristicDisabled(t *testing.T) {
	a := decimal.RequireFromString("1400000")
	b := decimal.RequireFromString("1.4")
	got := resolveTokenPrice(a, true, b, true, 6, false)
	assert.True(t, got.Equal(a), "heuristic disabled: A used as-is")
}

func TestResolveTokenPrice_LeakageHeuristicWrongExponent(t *testing.T) {
	a := decimal.RequireFromString("1400000")
	b := decimal.RequireFromString("1.4")
	got := resolveTokenPrice(a, true, b, true, 8, true)
	assert.True(t, got.Equal(a), "heuristic only fires at exponent 6")
}

func TestResolveTokenPrice_RatioOutsideWindow(t *testing.T) {
	a := decimal.RequireFromString("2") // ratio to b is ~1.4, not in [1e5,1e7]
	b := decimal.RequireFromString("1.4")
	got := resolveTokenPrice(a, true, b, true, 6, true)
	assert.True(t, got.Equal(a))
}
