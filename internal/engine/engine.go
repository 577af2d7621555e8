// Package engine applies validated operation batches against account state.
// Every batch runs against a deep copy of the account; the copy replaces the
// live state only when every accepted operation applied cleanly. A failure
// mid-apply discards the copy, so partial application is never observable.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/finmath"
	"aiInvestSim/internal/pipeline"
	"aiInvestSim/internal/ports"
)

// Mode selects the batch rejection policy.
type Mode int

const (
	// BestEffort executes the validated subset atomically and reports
	// per-operation rejections alongside. Used for AI decision cycles.
	BestEffort Mode = iota
	// AllOrNothing fails the whole batch on any rejection. Used for
	// settlement and forced liquidation batches.
	AllOrNothing
)

// Engine validates and transactionally applies operation batches.
type Engine struct {
	validator *pipeline.Validator
	logger    ports.Logger
	mmr       decimal.Decimal
	now       func() time.Time
}

// New creates an execution engine.
func New(validator *pipeline.Validator, logger ports.Logger, maintenanceMarginRate decimal.Decimal) (*Engine, error) {
	if validator == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	return &Engine{
		validator: validator,
		logger:    logger,
		mmr:       maintenanceMarginRate,
		now:       time.Now,
	}, nil
}

// ExecuteBatch validates ops against acct, applies the accepted ones in order
// to a working copy and returns the copy together with the batch result. The
// caller is responsible for swapping the returned account in under the
// session lock; acct itself is never mutated.
//
// A non-nil error means the batch failed as a whole and no new state exists.
func (e *Engine) ExecuteBatch(ctx context.Context, acct *domain.Account, ops []*domain.Operation, prices domain.PriceMap, mode Mode) (*domain.Account, *domain.BatchResult, error) {
	decisions := e.validator.ValidateBatch(acct, ops, prices)

	if mode == AllOrNothing {
		for _, d := range decisions {
			if !d.Accepted() {
				return nil, nil, fmt.Errorf("%w: %s rejected: %s", ports.ErrExecutionFailed, d.Op, d.Err)
			}
		}
	}

	working := acct.Clone()
	now := e.now()
	result := &domain.BatchResult{AccountID: acct.ID, ExecutedAt: now}
	records := make([]*domain.OperationRecord, 0, len(decisions))

	for _, d := range decisions {
		if !d.Accepted() {
			e.logger.Debug(ctx, "operation rejected", map[string]interface{}{
				"account": acct.ID, "op": d.Op.String(), "reason": d.Err.Error(),
			})
			result.Outcomes = append(result.Outcomes, domain.OperationOutcome{
				Operation: d.Op, Outcome: domain.OutcomeRejected, Reason: d.Err.Error(),
			})
			records = append(records, &domain.OperationRecord{
				Kind: d.Op.Kind, Asset: d.Op.Asset,
				Outcome: domain.OutcomeRejected, Reason: d.Err.Error(), AppliedAt: now,
			})
			continue
		}

		rec, err := e.apply(working, d.Op, prices, now)
		if err != nil {
			// An invariant broke during apply, typically from ordering effects
			// inside the batch. Discard the working copy entirely.
			e.logger.Warn(ctx, "batch discarded, apply failed", map[string]interface{}{
				"account": acct.ID, "op": d.Op.String(), "error": err.Error(),
			})
			return nil, nil, fmt.Errorf("%w: applying %s: %v", ports.ErrExecutionFailed, d.Op, err)
		}
		result.Outcomes = append(result.Outcomes, domain.OperationOutcome{
			Operation: d.Op, Outcome: domain.OutcomeApplied, Detail: rec.Detail,
		})
		records = append(records, rec)
	}

	equity := finmath.TotalEquity(working, prices)
	for _, rec := range records {
		rec.EquityAfter = equity
	}
	working.History = append(working.History, records...)
	result.Equity = equity
	return working, result, nil
}

// apply mutates the working copy for one accepted operation.
func (e *Engine) apply(acct *domain.Account, op *domain.Operation, prices domain.PriceMap, now time.Time) (*domain.OperationRecord, error) {
	rec := &domain.OperationRecord{Kind: op.Kind, Asset: op.Asset, Outcome: domain.OutcomeApplied, AppliedAt: now}

	switch op.Kind {
	case domain.Hold:
		rec.Detail = "held current allocation"
		return rec, nil
	case domain.BuySpot:
		return rec, e.applyBuySpot(acct, op, prices, rec)
	case domain.SellSpot:
		return rec, e.applySellSpot(acct, op, prices, rec)
	case domain.OpenLong, domain.OpenShort:
		return rec, e.applyOpen(acct, op, prices, now, rec)
	case domain.CloseLong, domain.CloseShort:
		return rec, e.applyClose(acct, op, prices, rec)
	case domain.AddMargin:
		return rec, e.applyAddMargin(acct, op, rec)
	case domain.ReduceMargin:
		return rec, e.applyReduceMargin(acct, op, rec)
	case domain.IncreaseLeverage, domain.DecreaseLeverage:
		return rec, e.applyLeverageChange(acct, op, prices, rec)
	case domain.SetStopLoss, domain.SetTakeProfit:
		return rec, e.applySetTrigger(acct, op, rec)
	default:
		return nil, fmt.Errorf("unhandled operation kind %s", op.Kind)
	}
}

func (e *Engine) applyBuySpot(acct *domain.Account, op *domain.Operation, prices domain.PriceMap, rec *domain.OperationRecord) error {
	price, ok := prices.Price(op.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, op.Asset)
	}
	qty, cost := op.Quantity, op.Amount
	if cost.IsZero() {
		cost = qty.Mul(price)
	} else {
		qty = cost.Div(price)
	}
	if cost.GreaterThan(acct.Cash) {
		return fmt.Errorf("cost %s exceeds cash %s", cost, acct.Cash)
	}

	acct.Cash = acct.Cash.Sub(cost)
	h, ok := acct.Spot[op.Asset]
	if !ok {
		acct.Spot[op.Asset] = &domain.SpotHolding{Asset: op.Asset, Quantity: qty, EntryPrice: price}
	} else {
		newQty := h.Quantity.Add(qty)
		h.EntryPrice = h.CostBasis().Add(cost).Div(newQty)
		h.Quantity = newQty
	}
	rec.CashDelta = cost.Neg()
	rec.Detail = fmt.Sprintf("bought %s %s for %s", qty, op.Asset, cost)
	return nil
}

func (e *Engine) applySellSpot(acct *domain.Account, op *domain.Operation, prices domain.PriceMap, rec *domain.OperationRecord) error {
	price, ok := prices.Price(op.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, op.Asset)
	}
	h, ok := acct.Spot[op.Asset]
	if !ok {
		return fmt.Errorf("no spot holding in %s", op.Asset)
	}
	if op.Quantity.GreaterThan(h.Quantity) {
		return fmt.Errorf("sell quantity %s exceeds held %s", op.Quantity, h.Quantity)
	}

	proceeds := op.Quantity.Mul(price)
	acct.Cash = acct.Cash.Add(proceeds)
	rec.RealizedPnL = op.Quantity.Mul(price.Sub(h.EntryPrice))
	rec.CashDelta = proceeds
	rec.Detail = fmt.Sprintf("sold %s %s for %s (pnl %s)", op.Quantity, op.Asset, proceeds, rec.RealizedPnL)

	h.Quantity = h.Quantity.Sub(op.Quantity)
	if !h.Quantity.IsPositive() {
		delete(acct.Spot, op.Asset)
	}
	return nil
}

func (e *Engine) applyOpen(acct *domain.Account, op *domain.Operation, prices domain.PriceMap, now time.Time, rec *domain.OperationRecord) error {
	price, ok := prices.Price(op.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, op.Asset)
	}
	side := domain.Long
	if op.Kind == domain.OpenShort {
		side = domain.Short
	}

	qty, margin := op.Quantity, op.Amount
	if margin.IsZero() {
		margin = finmath.RequiredMargin(qty.Mul(price), op.Leverage)
	} else {
		qty = margin.Mul(decimal.NewFromInt(int64(op.Leverage))).Div(price)
	}
	if margin.GreaterThan(acct.Cash) {
		return fmt.Errorf("required margin %s exceeds cash %s", margin, acct.Cash)
	}

	acct.Cash = acct.Cash.Sub(margin)
	rec.CashDelta = margin.Neg()

	pos, exists := acct.Futures[op.Asset]
	if exists {
		if pos.Side != side {
			return fmt.Errorf("opposite %s position already open in %s", pos.Side, op.Asset)
		}
		newQty := pos.Quantity.Add(qty)
		pos.EntryPrice = pos.Quantity.Mul(pos.EntryPrice).Add(qty.Mul(price)).Div(newQty)
		pos.Quantity = newQty
		pos.Margin = pos.Margin.Add(margin)
		pos.Leverage = effectiveLeverage(pos)
		rec.Detail = fmt.Sprintf("increased %s %s with %s margin (now %s contracts)", side, op.Asset, margin, pos.Quantity)
		return nil
	}

	acct.Futures[op.Asset] = &domain.FuturesPosition{
		Asset:      op.Asset,
		Side:       side,
		EntryPrice: price,
		Quantity:   qty,
		Leverage:   op.Leverage,
		Margin:     margin,
		OpenedAt:   now,
	}
	rec.Detail = fmt.Sprintf("opened %dx %s %s, %s contracts, %s margin", op.Leverage, side, op.Asset, qty, margin)
	return nil
}

func (e *Engine) applyClose(acct *domain.Account, op *domain.Operation, prices domain.PriceMap, rec *domain.OperationRecord) error {
	side := domain.Long
	if op.Kind == domain.CloseShort {
		side = domain.Short
	}
	pos, ok := acct.Futures[op.Asset]
	if !ok || pos.Side != side {
		return fmt.Errorf("no open %s position in %s", side, op.Asset)
	}

	// Synthetic closes from the risk monitor carry the trigger price; manual
	// closes settle at the market snapshot.
	price := op.Price
	if !price.IsPositive() {
		p, ok := prices.Price(op.Asset)
		if !ok {
			return fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, op.Asset)
		}
		price = p
	}

	pnl := finmath.FuturesPnL(pos.Side, pos.EntryPrice, price, pos.Quantity)
	returned := pos.Margin.Add(pnl)
	if op.CloseReason == domain.CloseReasonLiquidation || returned.IsNegative() {
		// Liquidation consumes the margin entirely; losses never exceed it.
		returned = decimal.Zero
		pnl = pos.Margin.Neg()
	}

	acct.Cash = acct.Cash.Add(returned)
	delete(acct.Futures, op.Asset)

	reason := op.CloseReason
	if reason == "" {
		reason = domain.CloseReasonManual
	}
	rec.CashDelta = returned
	rec.RealizedPnL = pnl
	rec.Detail = fmt.Sprintf("closed %s %s at %s, pnl %s, returned %s (%s)", side, op.Asset, price, pnl, returned, reason)
	return nil
}

func (e *Engine) applyAddMargin(acct *domain.Account, op *domain.Operation, rec *domain.OperationRecord) error {
	pos, ok := acct.Futures[op.Asset]
	if !ok {
		return fmt.Errorf("no open position in %s", op.Asset)
	}
	if op.Amount.GreaterThan(acct.Cash) {
		return fmt.Errorf("margin top-up %s exceeds cash %s", op.Amount, acct.Cash)
	}

	acct.Cash = acct.Cash.Sub(op.Amount)
	pos.Margin = pos.Margin.Add(op.Amount)
	pos.Leverage = effectiveLeverage(pos)
	rec.CashDelta = op.Amount.Neg()
	rec.Detail = fmt.Sprintf("added %s margin to %s (effective leverage %dx)", op.Amount, op.Asset, pos.Leverage)
	return nil
}

func (e *Engine) applyReduceMargin(acct *domain.Account, op *domain.Operation, rec *domain.OperationRecord) error {
	pos, ok := acct.Futures[op.Asset]
	if !ok {
		return fmt.Errorf("no open position in %s", op.Asset)
	}
	newMargin := pos.Margin.Sub(op.Amount)
	if !newMargin.IsPositive() {
		return fmt.Errorf("withdrawal %s would consume the whole margin %s", op.Amount, pos.Margin)
	}

	acct.Cash = acct.Cash.Add(op.Amount)
	pos.Margin = newMargin
	pos.Leverage = effectiveLeverage(pos)
	rec.CashDelta = op.Amount
	rec.Detail = fmt.Sprintf("withdrew %s margin from %s (effective leverage %dx)", op.Amount, op.Asset, pos.Leverage)
	return nil
}

func (e *Engine) applyLeverageChange(acct *domain.Account, op *domain.Operation, prices domain.PriceMap, rec *domain.OperationRecord) error {
	pos, ok := acct.Futures[op.Asset]
	if !ok {
		return fmt.Errorf("no open position in %s", op.Asset)
	}
	price, ok := prices.Price(op.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, op.Asset)
	}

	newMargin := finmath.RequiredMargin(pos.Notional(price), op.Leverage)
	delta := newMargin.Sub(pos.Margin) // Positive: cash in. Negative: margin released.
	if delta.GreaterThan(acct.Cash) {
		return fmt.Errorf("additional margin %s exceeds cash %s", delta, acct.Cash)
	}
	if !newMargin.IsPositive() {
		return fmt.Errorf("leverage %d leaves no margin on the position", op.Leverage)
	}

	acct.Cash = acct.Cash.Sub(delta)
	pos.Margin = newMargin
	pos.Leverage = op.Leverage
	rec.CashDelta = delta.Neg()
	if delta.IsNegative() {
		rec.Detail = fmt.Sprintf("raised %s leverage to %dx, released %s margin", op.Asset, op.Leverage, delta.Neg())
	} else {
		rec.Detail = fmt.Sprintf("lowered %s leverage to %dx, posted %s margin", op.Asset, op.Leverage, delta)
	}
	return nil
}

func (e *Engine) applySetTrigger(acct *domain.Account, op *domain.Operation, rec *domain.OperationRecord) error {
	pos, ok := acct.Futures[op.Asset]
	if !ok {
		return fmt.Errorf("no open position in %s", op.Asset)
	}
	if op.Kind == domain.SetStopLoss {
		pos.StopLoss = op.Price
		rec.Detail = fmt.Sprintf("stop-loss for %s %s set at %s", pos.Side, op.Asset, op.Price)
	} else {
		pos.TakeProfit = op.Price
		rec.Detail = fmt.Sprintf("take-profit for %s %s set at %s", pos.Side, op.Asset, op.Price)
	}
	return nil
}

// effectiveLeverage re-derives the nominal leverage after margin or size
// changes, as entry notional over posted margin, floored at 1.
func effectiveLeverage(pos *domain.FuturesPosition) int {
	if !pos.Margin.IsPositive() {
		return 1
	}
	lev := int(pos.Quantity.Mul(pos.EntryPrice).Div(pos.Margin).Round(0).IntPart())
	if lev < 1 {
		return 1
	}
	return lev
}
