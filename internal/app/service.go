// Package app wires the simulation engine together and exposes the query
// interface callers use: start a session, run decision cycles, query status,
// finish and settle. One service instance coordinates any number of sessions.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/engine"
	"aiInvestSim/internal/finmath"
	"aiInvestSim/internal/parser"
	"aiInvestSim/internal/ports"
	"aiInvestSim/internal/sessions"
)

// Config holds the service-level tunables.
type Config struct {
	DecisionTimeout time.Duration // Upper bound on one decision-source call
	PriceTimeout    time.Duration // Upper bound on one market-data call
	HistoryWindow   int           // Records handed to the decision source
}

// Service orchestrates decision cycles and settlement across sessions.
type Service struct {
	cfg         Config
	logger      ports.Logger
	registry    *sessions.Registry
	engine      *engine.Engine
	market      ports.MarketData
	decider     ports.DecisionSource
	notifier    ports.Notifier
	sessionRepo ports.SessionRepository
	historyRepo ports.HistoryRepository
	now         func() time.Time
}

// NewService creates the orchestrator. Notifier and repositories are
// optional; everything else is required.
func NewService(
	cfg Config,
	logger ports.Logger,
	registry *sessions.Registry,
	eng *engine.Engine,
	market ports.MarketData,
	decider ports.DecisionSource,
	notifier ports.Notifier,
	sessionRepo ports.SessionRepository,
	historyRepo ports.HistoryRepository,
) (*Service, error) {
	if logger == nil || registry == nil || eng == nil || market == nil || decider == nil {
		return nil, fmt.Errorf("missing required dependencies for service")
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = 60 * time.Second
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 15 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	return &Service{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		engine:      eng,
		market:      market,
		decider:     decider,
		notifier:    notifier,
		sessionRepo: sessionRepo,
		historyRepo: historyRepo,
		now:         time.Now,
	}, nil
}

// StartSession creates and registers a new simulation account.
func (s *Service) StartSession(ctx context.Context, initialCapital decimal.Decimal) (*domain.Account, error) {
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("%w: initial capital must be positive, got %s", ports.ErrInvalidRequest, initialCapital)
	}

	acct := domain.NewAccount(uuid.NewString(), initialCapital, s.now())
	if err := s.registry.Add(acct); err != nil {
		return nil, err
	}
	s.persist(ctx, acct, nil)
	s.logger.Info(ctx, "Simulation session started", map[string]interface{}{
		"account": acct.ID, "initialCapital": initialCapital.String(),
	})
	return acct.Clone(), nil
}

// RunDecisionCycle asks the decision source for a rebalance plan, validates
// and executes it, and returns the per-operation outcomes. External failures
// (market data, decision source, undecodable payload) abort the cycle with no
// state mutation.
func (s *Service) RunDecisionCycle(ctx context.Context, accountID string) (*domain.BatchResult, error) {
	snap, err := s.registry.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !snap.IsActive() {
		return nil, fmt.Errorf("%w: %s", ports.ErrSessionFinished, accountID)
	}

	heldPrices, err := s.fetchPrices(ctx, snap.Assets())
	if err != nil {
		return nil, err
	}

	deciderCtx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	payload, err := s.decider.Propose(deciderCtx, ports.DecisionRequest{
		Snapshot: s.buildSnapshot(snap, heldPrices),
		Prices:   heldPrices,
		History:  tail(snap.History, s.cfg.HistoryWindow),
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrDecisionSource, err)
	}

	parsed, err := parser.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrDecisionSource, err)
	}
	s.logger.Debug(ctx, "Decision payload parsed", map[string]interface{}{
		"account": accountID, "operations": len(parsed.Operations), "parseErrors": len(parsed.Errors),
	})

	// The plan may reference assets the account does not hold yet.
	prices, err := s.fetchPrices(ctx, unionAssets(snap, parsed.Operations))
	if err != nil {
		return nil, err
	}

	var result *domain.BatchResult
	err = s.registry.WithSession(ctx, accountID, func(txn *sessions.Txn) error {
		acct := txn.Account()
		if !acct.IsActive() {
			return fmt.Errorf("%w: %s", ports.ErrSessionFinished, accountID)
		}
		working, res, err := s.engine.ExecuteBatch(ctx, acct, parsed.Operations, prices, engine.BestEffort)
		if err != nil {
			return err
		}
		txn.Replace(working)
		result = res
		s.persist(ctx, working, working.History[len(working.History)-len(res.Outcomes):])
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, perr := range parsed.Errors {
		result.ParseErrors = append(result.ParseErrors, perr.Error())
	}
	s.notify(ctx, accountID, formatBatchResult(result, parsed.Analysis))
	return result, nil
}

// Status returns a read-only view of the account valued at current prices.
// When a quote cannot be fetched the valuation degrades to entry prices
// rather than failing the query.
func (s *Service) Status(ctx context.Context, accountID string) (*domain.StatusSnapshot, error) {
	snap, err := s.registry.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	prices, err := s.fetchPrices(ctx, snap.Assets())
	if err != nil {
		s.logger.Warn(ctx, "Status valuation degraded to entry prices", map[string]interface{}{
			"account": accountID, "error": err.Error(),
		})
		prices = domain.PriceMap{}
	}
	return s.buildSnapshot(snap, prices), nil
}

// FinishSession force-closes every holding and position at current prices in
// one all-or-nothing batch, marks the account finished and returns the
// settlement report. Finishing an already finished session returns the same
// report and mutates nothing.
func (s *Service) FinishSession(ctx context.Context, accountID string) (*domain.SettlementReport, error) {
	snap, err := s.registry.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var prices domain.PriceMap
	if snap.IsActive() && len(snap.Assets()) > 0 {
		prices, err = s.fetchPrices(ctx, snap.Assets())
		if err != nil {
			return nil, err
		}
	} else {
		prices = domain.PriceMap{}
	}

	var report *domain.SettlementReport
	err = s.registry.WithSession(ctx, accountID, func(txn *sessions.Txn) error {
		if cached := txn.Settlement(); cached != nil {
			report = cached
			return nil
		}
		acct := txn.Account()
		if !acct.IsActive() {
			return fmt.Errorf("%w: %s", ports.ErrSessionFinished, accountID)
		}

		closes := settlementBatch(acct)
		working := acct
		if len(closes) > 0 {
			next, _, err := s.engine.ExecuteBatch(ctx, acct, closes, prices, engine.AllOrNothing)
			if err != nil {
				return err
			}
			working = next
		} else {
			working = acct.Clone()
		}
		working.Status = domain.StatusFinished

		report = buildSettlementReport(working, s.now())
		txn.Replace(working)
		txn.SetSettlement(report)
		s.persist(ctx, working, working.History[len(working.History)-len(closes):])
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, accountID, formatSettlement(report))
	return report, nil
}

// --- helpers ---

func (s *Service) fetchPrices(ctx context.Context, assets []string) (domain.PriceMap, error) {
	if len(assets) == 0 {
		return domain.PriceMap{}, nil
	}
	priceCtx, cancel := context.WithTimeout(ctx, s.cfg.PriceTimeout)
	defer cancel()
	prices, err := s.market.GetPrices(priceCtx, assets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMarketData, err)
	}
	return prices, nil
}

func (s *Service) buildSnapshot(acct *domain.Account, prices domain.PriceMap) *domain.StatusSnapshot {
	equity := finmath.TotalEquity(acct, prices)
	pl := equity.Sub(acct.InitialCapital)
	plPct := decimal.Zero
	if acct.InitialCapital.IsPositive() {
		plPct = pl.Div(acct.InitialCapital).Mul(decimal.NewFromInt(100))
	}

	snap := &domain.StatusSnapshot{
		AccountID:      acct.ID,
		Status:         acct.Status,
		InitialCapital: acct.InitialCapital,
		Cash:           acct.Cash,
		MarginUsed:     acct.MarginUsed(),
		Equity:         equity,
		ProfitLoss:     pl,
		ProfitLossPct:  plPct,
		AsOf:           s.now(),
	}
	for _, h := range acct.Spot {
		snap.Spot = append(snap.Spot, h.Clone())
	}
	for _, p := range acct.Futures {
		snap.Futures = append(snap.Futures, p.Clone())
	}
	return snap
}

func (s *Service) persist(ctx context.Context, acct *domain.Account, records []*domain.OperationRecord) {
	if s.sessionRepo != nil {
		if err := s.sessionRepo.SaveSession(ctx, acct); err != nil {
			s.logger.Error(ctx, err, "Failed to persist session snapshot", map[string]interface{}{"account": acct.ID})
		}
	}
	if s.historyRepo != nil && len(records) > 0 {
		if err := s.historyRepo.AppendRecords(ctx, acct.ID, records); err != nil {
			s.logger.Error(ctx, err, "Failed to persist operation records", map[string]interface{}{"account": acct.ID})
		}
	}
}

func (s *Service) notify(ctx context.Context, accountID, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, message); err != nil {
		s.logger.Warn(ctx, "Notification delivery failed", map[string]interface{}{
			"account": accountID, "error": err.Error(),
		})
	}
}

// settlementBatch builds the close-everything batch for a finish.
func settlementBatch(acct *domain.Account) []*domain.Operation {
	var ops []*domain.Operation
	for _, h := range acct.Spot {
		ops = append(ops, &domain.Operation{
			Kind: domain.SellSpot, Asset: h.Asset, Quantity: h.Quantity,
			CloseReason: domain.CloseReasonSettlement,
		})
	}
	for _, p := range acct.Futures {
		kind := domain.CloseLong
		if p.Side == domain.Short {
			kind = domain.CloseShort
		}
		ops = append(ops, &domain.Operation{
			Kind: kind, Asset: p.Asset, CloseReason: domain.CloseReasonSettlement,
		})
	}
	return ops
}

func buildSettlementReport(acct *domain.Account, now time.Time) *domain.SettlementReport {
	rep := &domain.SettlementReport{
		AccountID:      acct.ID,
		InitialCapital: acct.InitialCapital,
		FinalEquity:    acct.Cash, // Everything is closed; equity is pure cash.
		SettledAt:      now,
	}
	rep.ProfitLoss = rep.FinalEquity.Sub(rep.InitialCapital)
	if rep.InitialCapital.IsPositive() {
		rep.ProfitLossPct = rep.ProfitLoss.Div(rep.InitialCapital).Mul(decimal.NewFromInt(100))
	}
	for _, rec := range acct.History {
		if rec.Outcome != domain.OutcomeApplied {
			continue
		}
		switch rec.Kind {
		case domain.SellSpot:
			rep.SpotPnL = rep.SpotPnL.Add(rec.RealizedPnL)
		case domain.CloseLong, domain.CloseShort:
			rep.FuturesPnL = rep.FuturesPnL.Add(rec.RealizedPnL)
		default:
			continue
		}
		if rec.RealizedPnL.IsPositive() {
			rep.Wins++
		} else if rec.RealizedPnL.IsNegative() {
			rep.Losses++
		}
	}
	return rep
}

func unionAssets(acct *domain.Account, ops []*domain.Operation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, asset := range acct.Assets() {
		if !seen[asset] {
			seen[asset] = true
			out = append(out, asset)
		}
	}
	for _, op := range ops {
		if op.Asset != "" && !seen[op.Asset] {
			seen[op.Asset] = true
			out = append(out, op.Asset)
		}
	}
	return out
}

func tail(records []*domain.OperationRecord, n int) []*domain.OperationRecord {
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

func formatBatchResult(result *domain.BatchResult, analysis string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision cycle executed: %d applied, %d rejected, %d quarantined",
		result.Applied(), len(result.Outcomes)-result.Applied(), len(result.ParseErrors))
	if analysis != "" {
		fmt.Fprintf(&b, "\nAnalysis: %s", analysis)
	}
	for _, o := range result.Outcomes {
		if o.Outcome == domain.OutcomeApplied {
			fmt.Fprintf(&b, "\n+ %s", o.Detail)
		} else {
			fmt.Fprintf(&b, "\n- %s rejected: %s", o.Operation, o.Reason)
		}
	}
	fmt.Fprintf(&b, "\nEquity: %s", result.Equity)
	return b.String()
}

func formatSettlement(rep *domain.SettlementReport) string {
	return fmt.Sprintf(
		"Session settled.\nInitial capital: %s\nFinal equity: %s\nReturn: %s (%s%%)\nSpot PnL: %s, Futures PnL: %s\nWins: %d, Losses: %d",
		rep.InitialCapital, rep.FinalEquity, rep.ProfitLoss, rep.ProfitLossPct.Round(2),
		rep.SpotPnL, rep.FuturesPnL, rep.Wins, rep.Losses,
	)
}
