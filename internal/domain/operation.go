package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceMap is a read-only snapshot of current prices keyed by asset.
type PriceMap map[string]decimal.Decimal

// Price returns the snapshot price for the asset and whether one is present.
func (m PriceMap) Price(asset string) (decimal.Decimal, bool) {
	p, ok := m[asset]
	return p, ok
}

// Operation is a single validated instruction against an account. Only the
// fields relevant to Kind are populated; zero values mean "not supplied".
//
// Field usage per kind:
//
//	BUY_SPOT            Quantity (units) or Amount (cash to spend), one of the two
//	SELL_SPOT           Quantity
//	OPEN_LONG/SHORT     Leverage, plus Quantity (contracts) or Amount (margin)
//	CLOSE_LONG/SHORT    asset only
//	ADD_MARGIN          Amount
//	REDUCE_MARGIN       Amount
//	INCREASE_LEVERAGE   Leverage (new target)
//	DECREASE_LEVERAGE   Leverage (new target)
//	SET_STOP_LOSS       Price (trigger)
//	SET_TAKE_PROFIT     Price (trigger)
//	HOLD                nothing
type Operation struct {
	Kind        OperationKind
	Asset       string
	Quantity    decimal.Decimal // Asset units / contracts
	Amount      decimal.Decimal // Cash amount (spend, margin, margin delta)
	Leverage    int             // Leverage for opens and leverage changes
	Price       decimal.Decimal // Threshold price for SL/TP
	Reason      string          // Free-form rationale from the decision source
	CloseReason CloseReason     // Set on synthetic closes (SL/TP/liquidation/settlement)
}

// String renders a short human-readable form for logs and notifications.
func (op *Operation) String() string {
	switch op.Kind {
	case Hold:
		return string(Hold)
	case CloseLong, CloseShort:
		return fmt.Sprintf("%s %s", op.Kind, op.Asset)
	case SetStopLoss, SetTakeProfit:
		return fmt.Sprintf("%s %s @ %s", op.Kind, op.Asset, op.Price)
	case OpenLong, OpenShort:
		return fmt.Sprintf("%s %s %dx", op.Kind, op.Asset, op.Leverage)
	default:
		return fmt.Sprintf("%s %s", op.Kind, op.Asset)
	}
}

// OperationRecord is an immutable history entry describing the outcome of one
// operation. Records are append-only and strictly ordered per account.
type OperationRecord struct {
	Kind        OperationKind
	Asset       string
	Detail      string          // Human-readable description of what happened
	Outcome     RecordOutcome   // applied or rejected
	Reason      string          // Rejection reason, empty when applied
	CashDelta   decimal.Decimal // Net cash change produced by the operation
	RealizedPnL decimal.Decimal // Realized profit or loss, if the operation closed exposure
	EquityAfter decimal.Decimal // Total equity after the batch the record belongs to
	AppliedAt   time.Time
}

// OperationOutcome is the per-operation element of a BatchResult.
type OperationOutcome struct {
	Operation *Operation
	Outcome   RecordOutcome
	Detail    string // Description when applied
	Reason    string // Rejection reason code and message when rejected
}

// BatchResult summarizes one executed decision cycle: every submitted
// operation with its outcome, plus the resulting equity.
type BatchResult struct {
	AccountID   string
	Outcomes    []OperationOutcome
	ParseErrors []string        // Quarantined raw instructions, one message each
	Equity      decimal.Decimal // Total equity after commit
	ExecutedAt  time.Time
}

// Applied returns how many operations in the batch were applied.
func (r *BatchResult) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Outcome == OutcomeApplied {
			n++
		}
	}
	return n
}

// StatusSnapshot is a read-only view of an account for status queries.
type StatusSnapshot struct {
	AccountID      string
	Status         AccountStatus
	InitialCapital decimal.Decimal
	Cash           decimal.Decimal
	MarginUsed     decimal.Decimal
	Equity         decimal.Decimal
	ProfitLoss     decimal.Decimal
	ProfitLossPct  decimal.Decimal
	Spot           []*SpotHolding
	Futures        []*FuturesPosition
	AsOf           time.Time
}

// SettlementReport is the final accounting of a finished session.
type SettlementReport struct {
	AccountID      string
	InitialCapital decimal.Decimal
	FinalEquity    decimal.Decimal
	ProfitLoss     decimal.Decimal
	ProfitLossPct  decimal.Decimal
	SpotPnL        decimal.Decimal // Realized spot component of the final result
	FuturesPnL     decimal.Decimal // Realized futures component of the final result
	Wins           int             // Applied operations that realized a gain
	Losses         int             // Applied operations that realized a loss
	SettledAt      time.Time
}
