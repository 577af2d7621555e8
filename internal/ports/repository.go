package ports

import (
	"context"

	"aiInvestSim/internal/domain"
)

// SessionRepository persists session snapshots for audit and post-mortem
// reporting. The in-memory registry remains the source of truth while a
// session is live; persistence failures are logged, not fatal.
type SessionRepository interface {
	// SaveSession inserts or updates the snapshot row for the account.
	SaveSession(ctx context.Context, acct *domain.Account) error
	// FindSession retrieves a stored session snapshot by ID.
	// Returns nil, nil if not found.
	FindSession(ctx context.Context, accountID string) (*domain.Account, error)
}

// HistoryRepository stores the append-only operation history.
type HistoryRepository interface {
	// AppendRecords appends the records of one committed batch, in order.
	AppendRecords(ctx context.Context, accountID string, records []*domain.OperationRecord) error
	// FindHistory retrieves the most recent records for an account, up to limit.
	FindHistory(ctx context.Context, accountID string, limit int) ([]*domain.OperationRecord, error)
}
