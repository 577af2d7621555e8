package domain

// PositionSide represents the direction of a futures position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Opposite returns the other side.
func (s PositionSide) Opposite() PositionSide {
	if s == Long {
		return Short
	}
	return Long
}

// AccountStatus represents the lifecycle state of a simulation account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusFinished AccountStatus = "finished"
)

// OperationKind identifies one of the closed set of instructions the engine accepts.
type OperationKind string

const (
	BuySpot          OperationKind = "BUY_SPOT"
	SellSpot         OperationKind = "SELL_SPOT"
	OpenLong         OperationKind = "OPEN_LONG"
	OpenShort        OperationKind = "OPEN_SHORT"
	CloseLong        OperationKind = "CLOSE_LONG"
	CloseShort       OperationKind = "CLOSE_SHORT"
	AddMargin        OperationKind = "ADD_MARGIN"
	ReduceMargin     OperationKind = "REDUCE_MARGIN"
	IncreaseLeverage OperationKind = "INCREASE_LEVERAGE"
	DecreaseLeverage OperationKind = "DECREASE_LEVERAGE"
	SetStopLoss      OperationKind = "SET_STOP_LOSS"
	SetTakeProfit    OperationKind = "SET_TAKE_PROFIT"
	Hold             OperationKind = "HOLD"
)

// KnownKinds lists every accepted operation kind.
var KnownKinds = map[OperationKind]bool{
	BuySpot: true, SellSpot: true,
	OpenLong: true, OpenShort: true,
	CloseLong: true, CloseShort: true,
	AddMargin: true, ReduceMargin: true,
	IncreaseLeverage: true, DecreaseLeverage: true,
	SetStopLoss: true, SetTakeProfit: true,
	Hold: true,
}

// CloseReason indicates why a futures position was closed.
type CloseReason string

const (
	CloseReasonManual      CloseReason = "MANUAL"
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonTakeProfit  CloseReason = "TP"
	CloseReasonLiquidation CloseReason = "LIQUIDATION"
	CloseReasonSettlement  CloseReason = "SETTLEMENT"
)

// RecordOutcome is the result recorded for an operation in the account history.
type RecordOutcome string

const (
	OutcomeApplied  RecordOutcome = "applied"
	OutcomeRejected RecordOutcome = "rejected"
)
