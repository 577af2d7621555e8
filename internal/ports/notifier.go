package ports

import "context"

// Notifier receives human-readable summaries of engine outcomes: batch
// execution results, risk-triggered closures and settlement reports.
// Delivery failure must never affect engine state; callers log and continue.
type Notifier interface {
	Notify(ctx context.Context, accountID, message string) error
}
