package finmath

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiInvestSim/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFuturesPnLSignMatchesSide(t *testing.T) {
	qty := d("1")

	// Long gains iff price rose.
	assert.True(t, FuturesPnL(domain.Long, d("100"), d("110"), qty).IsPositive())
	assert.True(t, FuturesPnL(domain.Long, d("100"), d("90"), qty).IsNegative())
	assert.True(t, FuturesPnL(domain.Long, d("100"), d("100"), qty).IsZero())

	// Short gains iff price fell.
	assert.True(t, FuturesPnL(domain.Short, d("100"), d("90"), qty).IsPositive())
	assert.True(t, FuturesPnL(domain.Short, d("100"), d("110"), qty).IsNegative())
}

func TestFuturesPnLScalesWithQuantityNotLeverage(t *testing.T) {
	// qty 1, price moved 10 -> PnL 10 regardless of any leverage notion.
	pnl := FuturesPnL(domain.Long, d("100"), d("110"), d("1"))
	assert.True(t, pnl.Equal(d("10")), "expected 10, got %s", pnl)

	// Doubling quantity doubles PnL.
	pnl2 := FuturesPnL(domain.Long, d("100"), d("110"), d("2"))
	assert.True(t, pnl2.Equal(d("20")), "expected 20, got %s", pnl2)
}

func TestLiquidationPriceMonotonicInLeverage(t *testing.T) {
	entry := d("100")
	mmr := DefaultMaintenanceMarginRate

	prevLong := LiquidationPrice(domain.Long, entry, 2, mmr)
	prevShort := LiquidationPrice(domain.Short, entry, 2, mmr)
	for _, lev := range []int{3, 5, 10, 25, 50, 100} {
		liqLong := LiquidationPrice(domain.Long, entry, lev, mmr)
		liqShort := LiquidationPrice(domain.Short, entry, lev, mmr)

		// Higher leverage moves liquidation closer to entry from both sides.
		assert.True(t, liqLong.GreaterThan(prevLong), "long liq not monotonic at %dx", lev)
		assert.True(t, liqShort.LessThan(prevShort), "short liq not monotonic at %dx", lev)
		assert.True(t, liqLong.LessThan(entry))
		assert.True(t, liqShort.GreaterThan(entry))
		prevLong, prevShort = liqLong, liqShort
	}
}

func TestLiquidationPriceKnownValues(t *testing.T) {
	// 10x long at 100 with 5% maintenance: 100 * (1 - 0.95/10) = 90.5
	liq := LiquidationPrice(domain.Long, d("100"), 10, DefaultMaintenanceMarginRate)
	assert.True(t, liq.Equal(d("90.5")), "got %s", liq)

	// 10x short at 100: 100 * (1 + 0.95/10) = 109.5
	liq = LiquidationPrice(domain.Short, d("100"), 10, DefaultMaintenanceMarginRate)
	assert.True(t, liq.Equal(d("109.5")), "got %s", liq)
}

func TestPositionLiquidationPriceAgreesWithNominal(t *testing.T) {
	// margin = qty*entry/leverage makes the two formulas coincide.
	pos := &domain.FuturesPosition{
		Asset:      "bitcoin",
		Side:       domain.Long,
		EntryPrice: d("100"),
		Quantity:   d("2"),
		Leverage:   10,
		Margin:     d("20"), // 2*100/10
	}
	byMargin := PositionLiquidationPrice(pos, DefaultMaintenanceMarginRate)
	byLeverage := LiquidationPrice(domain.Long, d("100"), 10, DefaultMaintenanceMarginRate)
	assert.True(t, byMargin.Equal(byLeverage), "margin form %s != leverage form %s", byMargin, byLeverage)

	// Adding margin pushes liquidation further from entry.
	pos.Margin = d("40")
	further := PositionLiquidationPrice(pos, DefaultMaintenanceMarginRate)
	assert.True(t, further.LessThan(byMargin))
}

func TestMarginRatio(t *testing.T) {
	pos := &domain.FuturesPosition{
		Asset:      "ethereum",
		Side:       domain.Long,
		EntryPrice: d("100"),
		Quantity:   d("1"),
		Leverage:   2,
		Margin:     d("50"),
	}

	atEntry := MarginRatio(pos, d("100"))
	up := MarginRatio(pos, d("110"))
	down := MarginRatio(pos, d("60"))

	// Price up improves the ratio for a long, price down degrades it.
	assert.True(t, up.GreaterThan(atEntry))
	assert.True(t, down.LessThan(atEntry))

	// Margin fully consumed: equity (50 + (50-100)) = 0 at price 50.
	assert.True(t, MarginRatio(pos, d("50")).IsZero())
}

func TestSpotPnL(t *testing.T) {
	// 2 units bought at 100 (cost 200), now worth 2*120 = 240.
	pnl := SpotPnL(d("2"), d("200"), d("120"))
	assert.True(t, pnl.Equal(d("40")), "got %s", pnl)
}

func TestTotalEquity(t *testing.T) {
	acct := domain.NewAccount("s1", d("10000"), time.Now())
	acct.Cash = d("9000")
	acct.Spot["bitcoin"] = &domain.SpotHolding{Asset: "bitcoin", Quantity: d("0.01"), EntryPrice: d("50000")}
	acct.Futures["ethereum"] = &domain.FuturesPosition{
		Asset: "ethereum", Side: domain.Long,
		EntryPrice: d("100"), Quantity: d("1"), Leverage: 2, Margin: d("50"),
	}

	prices := domain.PriceMap{"bitcoin": d("60000"), "ethereum": d("110")}
	// 9000 cash + 0.01*60000 spot + (50 margin + 10 pnl) futures = 9660
	eq := TotalEquity(acct, prices)
	require.True(t, eq.Equal(d("9660")), "got %s", eq)

	// Missing prices fall back to entry valuation, never zero.
	eq = TotalEquity(acct, domain.PriceMap{})
	require.True(t, eq.Equal(d("9550")), "got %s", eq)
}

func TestRequiredMargin(t *testing.T) {
	// 1 unit at 100 with 2x costs 50 margin.
	m := RequiredMargin(d("100"), 2)
	assert.True(t, m.Equal(d("50")), "got %s", m)
}
