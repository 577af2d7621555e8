package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAccount(cash string) *domain.Account {
	return domain.NewAccount("acct-1", d(cash), time.Now())
}

func longPosition(entry, qty, margin string, leverage int) *domain.FuturesPosition {
	return &domain.FuturesPosition{
		Asset:      "ethereum",
		Side:       domain.Long,
		EntryPrice: d(entry),
		Quantity:   d(qty),
		Leverage:   leverage,
		Margin:     d(margin),
	}
}

func TestHoldAlwaysPasses(t *testing.T) {
	v := New(DefaultPolicy())
	err := v.Validate(testAccount("1000"), &domain.Operation{Kind: domain.Hold}, domain.PriceMap{})
	assert.Nil(t, err)
}

func TestPriceRequired(t *testing.T) {
	v := New(DefaultPolicy())
	op := &domain.Operation{Kind: domain.BuySpot, Asset: "bitcoin", Quantity: d("1")}

	err := v.Validate(testAccount("100000"), op, domain.PriceMap{})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonPriceUnavailable, err.Code)

	err = v.Validate(testAccount("100000"), op, domain.PriceMap{"bitcoin": d("100")})
	assert.Nil(t, err)
}

func TestOpenRejectsExcessiveLeverage(t *testing.T) {
	v := New(DefaultPolicy())
	op := &domain.Operation{Kind: domain.OpenLong, Asset: "ethereum", Quantity: d("1"), Leverage: 150}

	err := v.Validate(testAccount("100000"), op, domain.PriceMap{"ethereum": d("100")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonLeverageLimit, err.Code)
}

func TestOpenRejectsInsufficientCash(t *testing.T) {
	v := New(DefaultPolicy())
	// 2x on 10 units at 1000 needs 5000 margin; only 50 cash available.
	op := &domain.Operation{Kind: domain.OpenLong, Asset: "ethereum", Quantity: d("10"), Leverage: 2}

	err := v.Validate(testAccount("50"), op, domain.PriceMap{"ethereum": d("1000")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonInsufficientCash, err.Code)
}

func TestOpenRejectsMarginUsageCap(t *testing.T) {
	v := New(DefaultPolicy())
	// 3000 margin on 10000 equity is 30%, over the 25% cap but within cash.
	op := &domain.Operation{Kind: domain.OpenLong, Asset: "ethereum", Quantity: d("30"), Leverage: 2, Amount: d("3000")}

	err := v.Validate(testAccount("10000"), op, domain.PriceMap{"ethereum": d("200")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonMarginCap, err.Code)
}

func TestBuySpotRejectsCashReserveBreach(t *testing.T) {
	v := New(DefaultPolicy())
	// Spending 9500 of 10000 leaves 5% cash, below the 10% floor.
	op := &domain.Operation{Kind: domain.BuySpot, Asset: "bitcoin", Amount: d("9500")}

	err := v.Validate(testAccount("10000"), op, domain.PriceMap{"bitcoin": d("100")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonCashReserve, err.Code)

	op.Amount = d("8000")
	assert.Nil(t, v.Validate(testAccount("10000"), op, domain.PriceMap{"bitcoin": d("100")}))
}

func TestSellSpotRejections(t *testing.T) {
	v := New(DefaultPolicy())
	prices := domain.PriceMap{"bitcoin": d("100")}

	// No holding at all.
	err := v.Validate(testAccount("1000"), &domain.Operation{Kind: domain.SellSpot, Asset: "bitcoin", Quantity: d("1")}, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonInsufficientAssets, err.Code)

	// Selling more than held.
	acct := testAccount("1000")
	acct.Spot["bitcoin"] = &domain.SpotHolding{Asset: "bitcoin", Quantity: d("2"), EntryPrice: d("90")}
	err = v.Validate(acct, &domain.Operation{Kind: domain.SellSpot, Asset: "bitcoin", Quantity: d("3")}, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonInsufficientAssets, err.Code)

	assert.Nil(t, v.Validate(acct, &domain.Operation{Kind: domain.SellSpot, Asset: "bitcoin", Quantity: d("2")}, prices))
}

func TestOpenRejectsOppositeSide(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	acct.Futures["ethereum"] = longPosition("100", "1", "50", 2)

	err := v.Validate(acct, &domain.Operation{Kind: domain.OpenShort, Asset: "ethereum", Quantity: d("1"), Leverage: 2},
		domain.PriceMap{"ethereum": d("100")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonOppositePosition, err.Code)

	// Same side is allowed; the engine merges it.
	assert.Nil(t, v.Validate(acct, &domain.Operation{Kind: domain.OpenLong, Asset: "ethereum", Quantity: d("1"), Leverage: 2},
		domain.PriceMap{"ethereum": d("100")}))
}

func TestCloseRequiresMatchingPosition(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	acct.Futures["ethereum"] = longPosition("100", "1", "50", 2)
	prices := domain.PriceMap{"ethereum": d("100"), "bitcoin": d("100")}

	err := v.Validate(acct, &domain.Operation{Kind: domain.CloseShort, Asset: "ethereum"}, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonNoPosition, err.Code)

	err = v.Validate(acct, &domain.Operation{Kind: domain.CloseLong, Asset: "bitcoin"}, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonNoPosition, err.Code)

	assert.Nil(t, v.Validate(acct, &domain.Operation{Kind: domain.CloseLong, Asset: "ethereum"}, prices))
}

func TestTriggerMissingPositionReportedAsNoPosition(t *testing.T) {
	v := New(DefaultPolicy())
	op := &domain.Operation{Kind: domain.SetStopLoss, Asset: "ethereum", Price: d("90")}

	err := v.Validate(testAccount("10000"), op, domain.PriceMap{"ethereum": d("100")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonNoPosition, err.Code)
}

func TestTriggerDirection(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	acct.Futures["ethereum"] = longPosition("100", "1", "50", 2)
	prices := domain.PriceMap{"ethereum": d("100")}

	cases := []struct {
		name  string
		op    *domain.Operation
		valid bool
	}{
		{"long SL below price", &domain.Operation{Kind: domain.SetStopLoss, Asset: "ethereum", Price: d("90")}, true},
		{"long SL above price", &domain.Operation{Kind: domain.SetStopLoss, Asset: "ethereum", Price: d("110")}, false},
		{"long SL at price", &domain.Operation{Kind: domain.SetStopLoss, Asset: "ethereum", Price: d("100")}, false},
		{"long TP above price", &domain.Operation{Kind: domain.SetTakeProfit, Asset: "ethereum", Price: d("120")}, true},
		{"long TP below price", &domain.Operation{Kind: domain.SetTakeProfit, Asset: "ethereum", Price: d("95")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(acct, tc.op, prices)
			if tc.valid {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, ports.ReasonBadThreshold, err.Code)
			}
		})
	}
}

func TestReduceMarginRequiresUnrealizedProfit(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	acct.Futures["ethereum"] = longPosition("100", "1", "50", 2)

	// Flat price, no profit to withdraw.
	op := &domain.Operation{Kind: domain.ReduceMargin, Asset: "ethereum", Amount: d("10")}
	err := v.Validate(acct, op, domain.PriceMap{"ethereum": d("100")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonNoUnrealizedProfit, err.Code)

	// In profit by 20; withdrawing more than that is rejected too.
	prices := domain.PriceMap{"ethereum": d("120")}
	op.Amount = d("30")
	err = v.Validate(acct, op, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonNoUnrealizedProfit, err.Code)

	op.Amount = d("10")
	assert.Nil(t, v.Validate(acct, op, prices))
}

func TestReduceMarginKeepsMaintenanceFloor(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	// Margin 10 on a 1-unit position; at price 120 the maintenance floor is 6.
	pos := longPosition("100", "1", "10", 10)
	acct.Futures["ethereum"] = pos

	op := &domain.Operation{Kind: domain.ReduceMargin, Asset: "ethereum", Amount: d("5")}
	err := v.Validate(acct, op, domain.PriceMap{"ethereum": d("120")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonMaintenanceMargin, err.Code)

	op.Amount = d("4")
	assert.Nil(t, v.Validate(acct, op, domain.PriceMap{"ethereum": d("120")}))
}

func TestIncreaseLeverageRejectsInstantLiquidation(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	acct.Futures["ethereum"] = longPosition("100", "1", "50", 2)

	// At 20x the liquidation price is 100*(1-0.95/20) = 95.25, above 93.
	op := &domain.Operation{Kind: domain.IncreaseLeverage, Asset: "ethereum", Leverage: 20}
	err := v.Validate(acct, op, domain.PriceMap{"ethereum": d("93")})
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonInstantLiquidation, err.Code)

	assert.Nil(t, v.Validate(acct, op, domain.PriceMap{"ethereum": d("98")}))
}

func TestLeverageChangeDirection(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	acct.Futures["ethereum"] = longPosition("100", "1", "20", 5)
	prices := domain.PriceMap{"ethereum": d("100")}

	err := v.Validate(acct, &domain.Operation{Kind: domain.IncreaseLeverage, Asset: "ethereum", Leverage: 5}, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonBadParam, err.Code)

	err = v.Validate(acct, &domain.Operation{Kind: domain.DecreaseLeverage, Asset: "ethereum", Leverage: 5}, prices)
	require.NotNil(t, err)
	assert.Equal(t, ports.ReasonBadParam, err.Code)

	assert.Nil(t, v.Validate(acct, &domain.Operation{Kind: domain.DecreaseLeverage, Asset: "ethereum", Leverage: 2}, prices))
}

func TestValidateBatchKeepsOrderAndIndependence(t *testing.T) {
	v := New(DefaultPolicy())
	acct := testAccount("10000")
	prices := domain.PriceMap{"bitcoin": d("100")}

	ops := []*domain.Operation{
		{Kind: domain.BuySpot, Asset: "bitcoin", Quantity: d("1")},
		{Kind: domain.SellSpot, Asset: "bitcoin", Quantity: d("1")}, // no holding in the snapshot
		{Kind: domain.Hold},
	}
	decisions := v.ValidateBatch(acct, ops, prices)
	require.Len(t, decisions, 3)
	assert.True(t, decisions[0].Accepted())
	assert.False(t, decisions[1].Accepted())
	assert.Equal(t, ports.ReasonInsufficientAssets, decisions[1].Err.Code)
	assert.True(t, decisions[2].Accepted())
}
