// Command session_report prints a stored simulation session: the final
// account snapshot plus its full operation history. With -csv the history is
// also exported for spreadsheet analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"aiInvestSim/internal/adapters/logger"
	"aiInvestSim/internal/adapters/sqlite"
	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/utils"

	"github.com/shopspring/decimal"
)

func main() {
	dbPath := flag.String("db", "./data/invest_sim.db", "Path to the simulation database")
	sessionID := flag.String("session", "", "Session ID to report on (required)")
	csvPath := flag.String("csv", "", "Optional path to export the history as CSV")
	historyLimit := flag.Int("limit", 1000, "Maximum history records to load")
	flag.Parse()

	if *sessionID == "" {
		flag.Usage()
		os.Exit(2)
	}

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: logger.NewStdLogger(logger.LevelWarn),
	})
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	acct, err := repo.FindSession(ctx, *sessionID)
	if err != nil {
		log.Fatalf("Error loading session: %v", err)
	}
	if acct == nil {
		log.Fatalf("Session %s not found in %s", *sessionID, *dbPath)
	}

	records, err := repo.FindHistory(ctx, *sessionID, *historyLimit)
	if err != nil {
		log.Fatalf("Error loading history: %v", err)
	}

	printSnapshot(acct)
	printHistory(records)

	if *csvPath != "" {
		if err := utils.WriteHistoryToCSV(records, *csvPath); err != nil {
			log.Fatalf("Error writing CSV: %v", err)
		}
		fmt.Printf("\nHistory exported to %s\n", *csvPath)
	}
}

func printSnapshot(acct *domain.Account) {
	fmt.Printf("Session %s (%s)\n", acct.ID, acct.Status)
	fmt.Printf("Started: %s\n", acct.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Initial capital: %s\n", acct.InitialCapital)
	fmt.Printf("Cash: %s\n", acct.Cash)
	fmt.Printf("Margin in use: %s\n\n", acct.MarginUsed())

	if len(acct.Spot) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
		fmt.Fprintln(w, "Asset\tQuantity\tAvgEntry\tCostBasis\t")
		for _, h := range acct.Spot {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", h.Asset, h.Quantity, h.EntryPrice, h.CostBasis())
		}
		w.Flush()
		fmt.Println()
	}

	if len(acct.Futures) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
		fmt.Fprintln(w, "Asset\tSide\tQty\tEntry\tLev\tMargin\tSL\tTP\t")
		for _, p := range acct.Futures {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx\t%s\t%s\t%s\t\n",
				p.Asset, p.Side, p.Quantity, p.EntryPrice, p.Leverage, p.Margin,
				orDash(p.StopLoss), orDash(p.TakeProfit))
		}
		w.Flush()
		fmt.Println()
	}
}

func printHistory(records []*domain.OperationRecord) {
	if len(records) == 0 {
		fmt.Println("No operations recorded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Time\tKind\tAsset\tOutcome\tCashDelta\tPnL\tEquity\t")
	applied, rejected := 0, 0
	realized := decimal.Zero
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			rec.AppliedAt.Format("01-02 15:04"), rec.Kind, rec.Asset, rec.Outcome,
			rec.CashDelta, rec.RealizedPnL, rec.EquityAfter)
		if rec.Outcome == domain.OutcomeApplied {
			applied++
			realized = realized.Add(rec.RealizedPnL)
		} else {
			rejected++
		}
	}
	w.Flush()
	fmt.Printf("\n%d operations: %d applied, %d rejected, realized PnL %s\n", len(records), applied, rejected, realized)
}

func orDash(d decimal.Decimal) string {
	if !d.IsPositive() {
		return "-"
	}
	return d.String()
}
