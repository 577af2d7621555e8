// Package pipeline runs the three-stage validation every operation must pass
// before execution: parameter checks, risk checks, then precondition checks.
// The first failing stage short-circuits the operation with a reason code.
// The pipeline never mutates account state; it works against a read-only
// snapshot and the price map supplied for the cycle.
package pipeline

import (
	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/finmath"
	"aiInvestSim/internal/ports"
)

// Policy holds the account-level risk limits the pipeline enforces.
type Policy struct {
	MaxLeverage           int             // Upper bound for requested leverage
	MaintenanceMarginRate decimal.Decimal // Maintenance margin fraction of notional
	CashReservePct        decimal.Decimal // Minimum cash fraction of equity after cash-consuming ops
	MarginUsageCap        decimal.Decimal // Maximum total margin fraction of equity after opens
}

// DefaultPolicy mirrors the simulation defaults: 100x cap, 5% maintenance
// margin, 10% cash floor, 25% margin usage ceiling.
func DefaultPolicy() Policy {
	return Policy{
		MaxLeverage:           100,
		MaintenanceMarginRate: finmath.DefaultMaintenanceMarginRate,
		CashReservePct:        decimal.RequireFromString("0.10"),
		MarginUsageCap:        decimal.RequireFromString("0.25"),
	}
}

// Decision is the pipeline verdict for one operation. A nil Err means accepted.
type Decision struct {
	Op  *domain.Operation
	Err *ports.ValidationError
}

// Accepted reports whether the operation passed all three stages.
func (d Decision) Accepted() bool { return d.Err == nil }

// Validator applies the three validation stages against account snapshots.
type Validator struct {
	policy Policy
}

// New creates a validator with the given policy.
func New(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// ValidateBatch checks every operation independently against the snapshot and
// returns one decision per operation, in submission order.
func (v *Validator) ValidateBatch(acct *domain.Account, ops []*domain.Operation, prices domain.PriceMap) []Decision {
	decisions := make([]Decision, 0, len(ops))
	for _, op := range ops {
		decisions = append(decisions, Decision{Op: op, Err: v.Validate(acct, op, prices)})
	}
	return decisions
}

// Validate runs the three stages for a single operation.
func (v *Validator) Validate(acct *domain.Account, op *domain.Operation, prices domain.PriceMap) *ports.ValidationError {
	if err := v.validateParams(acct, op, prices); err != nil {
		return err
	}
	if err := v.validateRisk(acct, op, prices); err != nil {
		return err
	}
	return v.validatePreconditions(acct, op, prices)
}

// needsPrice reports whether the operation requires a current quote to
// validate and apply.
func needsPrice(kind domain.OperationKind) bool {
	switch kind {
	case domain.Hold, domain.AddMargin:
		return false
	}
	return true
}

// --- Stage 1: parameter validation ---

func (v *Validator) validateParams(acct *domain.Account, op *domain.Operation, prices domain.PriceMap) *ports.ValidationError {
	if op.Kind == domain.Hold {
		return nil
	}

	if needsPrice(op.Kind) {
		if _, ok := prices.Price(op.Asset); !ok {
			return ports.NewValidationError(ports.ReasonPriceUnavailable, "no current price for %s", op.Asset)
		}
	}

	switch op.Kind {
	case domain.BuySpot, domain.OpenLong, domain.OpenShort:
		if !op.Quantity.IsPositive() && !op.Amount.IsPositive() {
			return ports.NewValidationError(ports.ReasonMissingParam, "%s requires a positive quantity or amount", op.Kind)
		}
	case domain.SellSpot:
		if !op.Quantity.IsPositive() {
			return ports.NewValidationError(ports.ReasonMissingParam, "%s requires a positive quantity", op.Kind)
		}
		if h, ok := acct.Spot[op.Asset]; ok && op.Quantity.GreaterThan(h.Quantity) {
			return ports.NewValidationError(ports.ReasonInsufficientAssets,
				"sell quantity %s exceeds held quantity %s", op.Quantity, h.Quantity)
		}
	case domain.AddMargin, domain.ReduceMargin:
		if !op.Amount.IsPositive() {
			return ports.NewValidationError(ports.ReasonMissingParam, "%s requires a positive amount", op.Kind)
		}
	case domain.SetStopLoss, domain.SetTakeProfit:
		if !op.Price.IsPositive() {
			return ports.NewValidationError(ports.ReasonMissingParam, "%s requires a positive trigger price", op.Kind)
		}
		// Threshold direction relative to the current price; skipped when the
		// position is missing, which stage 3 rejects with a clearer reason.
		if pos, ok := acct.Futures[op.Asset]; ok {
			price, _ := prices.Price(op.Asset)
			if err := checkThreshold(op, pos, price); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkThreshold(op *domain.Operation, pos *domain.FuturesPosition, current decimal.Decimal) *ports.ValidationError {
	long := pos.Side == domain.Long
	switch op.Kind {
	case domain.SetStopLoss:
		if long && op.Price.GreaterThanOrEqual(current) {
			return ports.NewValidationError(ports.ReasonBadThreshold,
				"long stop-loss %s must be below current price %s", op.Price, current)
		}
		if !long && op.Price.LessThanOrEqual(current) {
			return ports.NewValidationError(ports.ReasonBadThreshold,
				"short stop-loss %s must be above current price %s", op.Price, current)
		}
	case domain.SetTakeProfit:
		if long && op.Price.LessThanOrEqual(current) {
			return ports.NewValidationError(ports.ReasonBadThreshold,
				"long take-profit %s must be above current price %s", op.Price, current)
		}
		if !long && op.Price.GreaterThanOrEqual(current) {
			return ports.NewValidationError(ports.ReasonBadThreshold,
				"short take-profit %s must be below current price %s", op.Price, current)
		}
	}
	return nil
}

// --- Stage 2: risk validation ---

func (v *Validator) validateRisk(acct *domain.Account, op *domain.Operation, prices domain.PriceMap) *ports.ValidationError {
	equity := finmath.TotalEquity(acct, prices)

	switch op.Kind {
	case domain.OpenLong, domain.OpenShort:
		if op.Leverage > v.policy.MaxLeverage {
			return ports.NewValidationError(ports.ReasonLeverageLimit,
				"leverage %d exceeds account limit %d", op.Leverage, v.policy.MaxLeverage)
		}
		price, _ := prices.Price(op.Asset)
		margin := openMargin(op, price)
		if margin.GreaterThan(acct.Cash) {
			return ports.NewValidationError(ports.ReasonInsufficientCash,
				"required margin %s exceeds available cash %s", margin, acct.Cash)
		}
		if err := v.checkCashReserve(acct.Cash.Sub(margin), equity); err != nil {
			return err
		}
		if equity.IsPositive() {
			usage := acct.MarginUsed().Add(margin).Div(equity)
			if usage.GreaterThan(v.policy.MarginUsageCap) {
				return ports.NewValidationError(ports.ReasonMarginCap,
					"opening would raise margin usage to %s of equity (cap %s)", usage.Round(4), v.policy.MarginUsageCap)
			}
		}

	case domain.BuySpot:
		price, _ := prices.Price(op.Asset)
		cost := op.Amount
		if cost.IsZero() {
			cost = op.Quantity.Mul(price)
		}
		if cost.GreaterThan(acct.Cash) {
			return ports.NewValidationError(ports.ReasonInsufficientCash,
				"purchase cost %s exceeds available cash %s", cost, acct.Cash)
		}
		if err := v.checkCashReserve(acct.Cash.Sub(cost), equity); err != nil {
			return err
		}

	case domain.AddMargin:
		if op.Amount.GreaterThan(acct.Cash) {
			return ports.NewValidationError(ports.ReasonInsufficientCash,
				"margin top-up %s exceeds available cash %s", op.Amount, acct.Cash)
		}
		if err := v.checkCashReserve(acct.Cash.Sub(op.Amount), equity); err != nil {
			return err
		}

	case domain.ReduceMargin:
		pos, ok := acct.Futures[op.Asset]
		if !ok {
			return nil // Stage 3 reports the missing position.
		}
		price, _ := prices.Price(op.Asset)
		pnl := finmath.FuturesPnL(pos.Side, pos.EntryPrice, price, pos.Quantity)
		if !pnl.IsPositive() {
			return ports.NewValidationError(ports.ReasonNoUnrealizedProfit,
				"position has no unrealized profit to withdraw")
		}
		if op.Amount.GreaterThan(pnl) {
			return ports.NewValidationError(ports.ReasonNoUnrealizedProfit,
				"withdrawal %s exceeds unrealized profit %s", op.Amount, pnl)
		}
		newMargin := pos.Margin.Sub(op.Amount)
		minMargin := finmath.MaintenanceMargin(pos.Notional(price), v.policy.MaintenanceMarginRate)
		if newMargin.LessThan(minMargin) {
			return ports.NewValidationError(ports.ReasonMaintenanceMargin,
				"margin would fall to %s, below maintenance level %s", newMargin, minMargin)
		}

	case domain.IncreaseLeverage:
		pos, ok := acct.Futures[op.Asset]
		if !ok {
			return nil
		}
		if op.Leverage > v.policy.MaxLeverage {
			return ports.NewValidationError(ports.ReasonLeverageLimit,
				"leverage %d exceeds account limit %d", op.Leverage, v.policy.MaxLeverage)
		}
		price, _ := prices.Price(op.Asset)
		newLiq := finmath.LiquidationPrice(pos.Side, pos.EntryPrice, op.Leverage, v.policy.MaintenanceMarginRate)
		if crossed(pos.Side, price, newLiq) {
			return ports.NewValidationError(ports.ReasonInstantLiquidation,
				"leverage %d would put the liquidation price at %s, beyond the current price %s", op.Leverage, newLiq, price)
		}

	case domain.DecreaseLeverage:
		pos, ok := acct.Futures[op.Asset]
		if !ok {
			return nil
		}
		price, _ := prices.Price(op.Asset)
		required := finmath.RequiredMargin(pos.Notional(price), op.Leverage).Sub(pos.Margin)
		if required.GreaterThan(acct.Cash) {
			return ports.NewValidationError(ports.ReasonInsufficientCash,
				"reducing leverage needs %s additional margin, only %s cash available", required, acct.Cash)
		}
	}
	return nil
}

// crossed reports whether price is at or beyond the liquidation level for the side.
func crossed(side domain.PositionSide, price, liq decimal.Decimal) bool {
	if side == domain.Long {
		return price.LessThanOrEqual(liq)
	}
	return price.GreaterThanOrEqual(liq)
}

func (v *Validator) checkCashReserve(cashAfter, equity decimal.Decimal) *ports.ValidationError {
	if !equity.IsPositive() {
		return nil
	}
	if cashAfter.Div(equity).LessThan(v.policy.CashReservePct) {
		return ports.NewValidationError(ports.ReasonCashReserve,
			"operation would drop cash reserve below %s of equity", v.policy.CashReservePct)
	}
	return nil
}

// openMargin resolves the collateral an open operation consumes: the explicit
// amount, or the margin implied by quantity, price and leverage.
func openMargin(op *domain.Operation, price decimal.Decimal) decimal.Decimal {
	if op.Amount.IsPositive() {
		return op.Amount
	}
	return finmath.RequiredMargin(op.Quantity.Mul(price), op.Leverage)
}

// --- Stage 3: precondition validation ---

func (v *Validator) validatePreconditions(acct *domain.Account, op *domain.Operation, prices domain.PriceMap) *ports.ValidationError {
	switch op.Kind {
	case domain.SellSpot:
		if _, ok := acct.Spot[op.Asset]; !ok {
			return ports.NewValidationError(ports.ReasonInsufficientAssets, "no spot holding in %s", op.Asset)
		}

	case domain.OpenLong, domain.OpenShort:
		side := domain.Long
		if op.Kind == domain.OpenShort {
			side = domain.Short
		}
		if pos, ok := acct.Futures[op.Asset]; ok && pos.Side != side {
			return ports.NewValidationError(ports.ReasonOppositePosition,
				"an opposite %s position in %s is already open", pos.Side, op.Asset)
		}

	case domain.CloseLong, domain.CloseShort:
		side := domain.Long
		if op.Kind == domain.CloseShort {
			side = domain.Short
		}
		pos, ok := acct.Futures[op.Asset]
		if !ok || pos.Side != side {
			return ports.NewValidationError(ports.ReasonNoPosition, "no open %s position in %s", side, op.Asset)
		}

	case domain.AddMargin, domain.ReduceMargin, domain.SetStopLoss, domain.SetTakeProfit:
		if _, ok := acct.Futures[op.Asset]; !ok {
			return ports.NewValidationError(ports.ReasonNoPosition, "no open position in %s", op.Asset)
		}
		// Re-arming an existing stop-loss or take-profit overwrites it.

	case domain.IncreaseLeverage:
		pos, ok := acct.Futures[op.Asset]
		if !ok {
			return ports.NewValidationError(ports.ReasonNoPosition, "no open position in %s", op.Asset)
		}
		if op.Leverage <= pos.Leverage {
			return ports.NewValidationError(ports.ReasonBadParam,
				"new leverage %d must exceed current leverage %d", op.Leverage, pos.Leverage)
		}

	case domain.DecreaseLeverage:
		pos, ok := acct.Futures[op.Asset]
		if !ok {
			return ports.NewValidationError(ports.ReasonNoPosition, "no open position in %s", op.Asset)
		}
		if op.Leverage >= pos.Leverage {
			return ports.NewValidationError(ports.ReasonBadParam,
				"new leverage %d must be below current leverage %d", op.Leverage, pos.Leverage)
		}
	}
	return nil
}
