package utils

import (
	"encoding/csv"
	"os"
	"time"

	"aiInvestSim/internal/domain"
)

// WriteHistoryToCSV exports an account's operation history to a CSV file for
// offline analysis.
func WriteHistoryToCSV(records []*domain.OperationRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"applied_at", "kind", "asset", "outcome", "detail", "reason", "cash_delta", "realized_pnl", "equity_after"})

	for _, rec := range records {
		writer.Write([]string{
			rec.AppliedAt.Format(time.RFC3339),
			string(rec.Kind),
			rec.Asset,
			string(rec.Outcome),
			rec.Detail,
			rec.Reason,
			rec.CashDelta.String(),
			rec.RealizedPnL.String(),
			rec.EquityAfter.String(),
		})
	}
	return writer.Error()
}
