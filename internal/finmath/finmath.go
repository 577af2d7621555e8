// Package finmath holds the pure financial arithmetic the rest of the engine
// relies on: PnL, liquidation prices, margin ratios and total equity. Every
// function is deterministic and side-effect free; no other package computes
// these quantities on its own.
package finmath

import (
	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
)

// DefaultMaintenanceMarginRate is the fraction of position notional that must
// remain as collateral before liquidation.
var DefaultMaintenanceMarginRate = decimal.RequireFromString("0.05")

// SpotPnL returns the unrealized value of a spot holding minus its cost basis.
func SpotPnL(quantity, costBasis, currentPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(currentPrice).Sub(costBasis)
}

// FuturesPnL returns the unrealized profit or loss of a futures position,
// signed by side: a long gains when price rises, a short gains when it falls.
// PnL magnitude scales with quantity only. Leverage determines margin
// requirement and liquidation distance, not the PnL rate; multiplying by
// leverage here would double-count it.
func FuturesPnL(side domain.PositionSide, entryPrice, currentPrice, quantity decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(entryPrice)
	if side == domain.Short {
		diff = diff.Neg()
	}
	return diff.Mul(quantity)
}

// LiquidationPrice returns the price at which a freshly opened position with
// the given nominal leverage loses its margin net of the maintenance buffer.
//
//	long:  entry * (1 - (1-mmr)/leverage)
//	short: entry * (1 + (1-mmr)/leverage)
//
// Higher leverage moves the result monotonically closer to the entry price.
func LiquidationPrice(side domain.PositionSide, entryPrice decimal.Decimal, leverage int, maintenanceMarginRate decimal.Decimal) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	dist := decimal.NewFromInt(1).Sub(maintenanceMarginRate).Div(decimal.NewFromInt(int64(leverage)))
	if side == domain.Long {
		return entryPrice.Mul(decimal.NewFromInt(1).Sub(dist))
	}
	return entryPrice.Mul(decimal.NewFromInt(1).Add(dist))
}

// PositionLiquidationPrice returns the liquidation price implied by the
// margin actually posted on the position, which is the authoritative form
// once margin has been added or withdrawn after open:
//
//	long:  entry - margin*(1-mmr)/quantity
//	short: entry + margin*(1-mmr)/quantity
//
// It agrees with LiquidationPrice when margin == quantity*entry/leverage.
func PositionLiquidationPrice(pos *domain.FuturesPosition, maintenanceMarginRate decimal.Decimal) decimal.Decimal {
	if pos.Quantity.IsZero() {
		return decimal.Zero
	}
	dist := pos.Margin.Mul(decimal.NewFromInt(1).Sub(maintenanceMarginRate)).Div(pos.Quantity)
	if pos.Side == domain.Long {
		return pos.EntryPrice.Sub(dist)
	}
	return pos.EntryPrice.Add(dist)
}

// MarginRatio returns (margin + unrealized PnL) / notional at the current
// price. A ratio at or below zero means the margin is fully consumed.
func MarginRatio(pos *domain.FuturesPosition, currentPrice decimal.Decimal) decimal.Decimal {
	notional := pos.Notional(currentPrice)
	if notional.IsZero() {
		return decimal.Zero
	}
	pnl := FuturesPnL(pos.Side, pos.EntryPrice, currentPrice, pos.Quantity)
	return pos.Margin.Add(pnl).Div(notional)
}

// PositionEquity returns margin plus unrealized PnL at the current price.
func PositionEquity(pos *domain.FuturesPosition, currentPrice decimal.Decimal) decimal.Decimal {
	return pos.Margin.Add(FuturesPnL(pos.Side, pos.EntryPrice, currentPrice, pos.Quantity))
}

// RequiredMargin returns the collateral needed for a position of the given
// notional value at the given leverage.
func RequiredMargin(notional decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return notional.Div(decimal.NewFromInt(int64(leverage)))
}

// MaintenanceMargin returns the minimum collateral for the given notional.
func MaintenanceMargin(notional, maintenanceMarginRate decimal.Decimal) decimal.Decimal {
	return notional.Mul(maintenanceMarginRate)
}

// TotalEquity returns cash + spot market value + futures equity across the
// whole account. Assets missing from the price map are valued at their entry
// price, so a partial price failure degrades to cost-basis valuation instead
// of zeroing holdings out.
func TotalEquity(acct *domain.Account, prices domain.PriceMap) decimal.Decimal {
	total := acct.Cash
	for _, h := range acct.Spot {
		price, ok := prices.Price(h.Asset)
		if !ok {
			price = h.EntryPrice
		}
		total = total.Add(h.Quantity.Mul(price))
	}
	for _, p := range acct.Futures {
		price, ok := prices.Price(p.Asset)
		if !ok {
			price = p.EntryPrice
		}
		total = total.Add(PositionEquity(p, price))
	}
	return total
}
