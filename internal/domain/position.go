package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpotHolding represents unleveraged ownership of an asset.
type SpotHolding struct {
	Asset      string          // Asset identifier (e.g., "bitcoin")
	Quantity   decimal.Decimal // Units held, always > 0 while the entry exists
	EntryPrice decimal.Decimal // Volume-weighted average acquisition price
}

// CostBasis returns the total acquisition cost of the holding.
func (h *SpotHolding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.EntryPrice)
}

// Clone returns an independent copy of the holding.
func (h *SpotHolding) Clone() *SpotHolding {
	cp := *h
	return &cp
}

// FuturesPosition represents an open leveraged directional position.
// Invariants while open: Quantity > 0, Margin > 0, Leverage >= 1.
// At most one position exists per asset; opening the opposite side of an
// existing position is rejected rather than netted.
type FuturesPosition struct {
	Asset      string          // Asset identifier
	Side       PositionSide    // long or short
	EntryPrice decimal.Decimal // Volume-weighted average entry price
	Quantity   decimal.Decimal // Contracts held
	Leverage   int             // Nominal leverage requested at open / last leverage change
	Margin     decimal.Decimal // Collateral currently allocated to the position
	StopLoss   decimal.Decimal // Stop-loss trigger price (zero when unset)
	TakeProfit decimal.Decimal // Take-profit trigger price (zero when unset)
	OpenedAt   time.Time       // Timestamp of the initial open
}

// Notional returns the position value at the given price.
func (p *FuturesPosition) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// HasStopLoss reports whether a stop-loss trigger is armed.
func (p *FuturesPosition) HasStopLoss() bool { return p.StopLoss.IsPositive() }

// HasTakeProfit reports whether a take-profit trigger is armed.
func (p *FuturesPosition) HasTakeProfit() bool { return p.TakeProfit.IsPositive() }

// Clone returns an independent copy of the position.
func (p *FuturesPosition) Clone() *FuturesPosition {
	cp := *p
	return &cp
}
