package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Session State Errors
	ErrSessionNotFound = errors.New("simulation session not found")
	ErrSessionFinished = errors.New("simulation session already finished")
	ErrSessionExists   = errors.New("simulation session already exists")

	// External Collaborator Errors (market data, decision source)
	ErrPriceUnavailable = errors.New("price unavailable for asset")
	ErrRateLimited      = errors.New("API rate limit exceeded")
	ErrMarketData       = errors.New("market data retrieval failed")
	ErrDecisionSource   = errors.New("decision source call failed")

	// Execution Errors
	ErrExecutionFailed = errors.New("batch execution failed, state rolled back")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)

// ParseError describes one quarantined instruction from the decision payload.
// A ParseError never aborts the batch; the remaining instructions proceed.
type ParseError struct {
	Index  int    // Position of the instruction in the raw payload
	Field  string // Offending field, empty for structural problems
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("instruction %d: field %q: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("instruction %d: %s", e.Index, e.Reason)
}

// Validation reason codes, reported with per-operation rejections.
const (
	ReasonMissingParam       = "MISSING_PARAM"
	ReasonBadParam           = "BAD_PARAM"
	ReasonPriceUnavailable   = "PRICE_UNAVAILABLE"
	ReasonLeverageLimit      = "LEVERAGE_LIMIT"
	ReasonInsufficientCash   = "INSUFFICIENT_CASH"
	ReasonCashReserve        = "CASH_RESERVE"
	ReasonMarginCap          = "MARGIN_CAP"
	ReasonMaintenanceMargin  = "MAINTENANCE_MARGIN"
	ReasonNoPosition         = "NO_POSITION"
	ReasonOppositePosition   = "OPPOSITE_POSITION"
	ReasonInsufficientAssets = "INSUFFICIENT_ASSETS"
	ReasonNoUnrealizedProfit = "NO_UNREALIZED_PROFIT"
	ReasonInstantLiquidation = "INSTANT_LIQUIDATION"
	ReasonBadThreshold       = "BAD_THRESHOLD"
)

// ValidationError is a per-operation rejection from the validation pipeline.
type ValidationError struct {
	Code   string // One of the Reason* constants
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// NewValidationError builds a rejection with a formatted reason.
func NewValidationError(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}
