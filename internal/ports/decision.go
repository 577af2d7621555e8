package ports

import (
	"context"

	"aiInvestSim/internal/domain"
)

// DecisionRequest is the context handed to the decision source for one cycle.
type DecisionRequest struct {
	Snapshot *domain.StatusSnapshot // Current account state
	Prices   domain.PriceMap        // Current prices for all held assets
	History  []*domain.OperationRecord
}

// DecisionSource defines the interface to the external AI decision
// collaborator. The returned payload is untrusted raw bytes; the instruction
// parser is responsible for all validation.
type DecisionSource interface {
	// Propose asks the decision source for a rebalance plan.
	Propose(ctx context.Context, req DecisionRequest) ([]byte, error)
}
