// Package risk implements the background monitor that re-evaluates open
// futures positions against live prices and force-closes them on
// liquidation, stop-loss or take-profit. Forced closes travel through the
// same validation pipeline and execution engine as AI-issued instructions;
// there is exactly one code path for closing a position.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/engine"
	"aiInvestSim/internal/finmath"
	"aiInvestSim/internal/ports"
	"aiInvestSim/internal/sessions"
)

// Config holds the monitor's dependencies and schedule.
type Config struct {
	Registry              *sessions.Registry
	Engine                *engine.Engine
	Market                ports.MarketData
	Notifier              ports.Notifier
	Logger                ports.Logger
	SessionRepo           ports.SessionRepository
	HistoryRepo           ports.HistoryRepository
	ScanInterval          time.Duration
	MaintenanceMarginRate decimal.Decimal
	PriceTimeout          time.Duration
}

// Monitor periodically scans all active sessions for risk-triggered closures.
type Monitor struct {
	cfg Config
}

// NewMonitor creates a risk monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Registry == nil || cfg.Engine == nil || cfg.Market == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk monitor")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 15 * time.Second
	}
	if cfg.MaintenanceMarginRate.IsZero() {
		cfg.MaintenanceMarginRate = finmath.DefaultMaintenanceMarginRate
	}
	return &Monitor{cfg: cfg}, nil
}

// Run executes ScanAll on the configured interval until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	m.cfg.Logger.Info(ctx, "Risk monitor started", map[string]interface{}{"interval": m.cfg.ScanInterval.String()})
	for {
		select {
		case <-ctx.Done():
			m.cfg.Logger.Info(ctx, "Risk monitor stopped")
			return
		case <-ticker.C:
			m.ScanAll(ctx)
		}
	}
}

// ScanAll scans every active session. Failures in one session never block the
// others.
func (m *Monitor) ScanAll(ctx context.Context) {
	for _, id := range m.cfg.Registry.ActiveIDs() {
		if err := m.ScanAccount(ctx, id); err != nil {
			m.cfg.Logger.Error(ctx, err, "Risk scan failed", map[string]interface{}{"account": id})
		}
	}
}

// ScanAccount fetches prices for one session's exposure and applies any
// triggered forced closes. Price retrieval happens outside the session lock;
// triggers are re-evaluated against live state once the lock is held.
func (m *Monitor) ScanAccount(ctx context.Context, id string) error {
	snap, err := m.cfg.Registry.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	if len(snap.Futures) == 0 {
		return nil
	}

	priceCtx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	prices, err := m.cfg.Market.GetPrices(priceCtx, snap.Assets())
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrMarketData, err)
	}

	return m.cfg.Registry.WithSession(ctx, id, func(txn *sessions.Txn) error {
		acct := txn.Account()
		if !acct.IsActive() {
			return nil
		}
		forced := m.triggeredCloses(acct, prices)
		if len(forced) == 0 {
			return nil
		}

		working, result, err := m.cfg.Engine.ExecuteBatch(ctx, acct, forced, prices, engine.AllOrNothing)
		if err != nil {
			return err
		}
		txn.Replace(working)
		m.persist(ctx, working, working.History[len(working.History)-len(forced):])
		m.notify(ctx, id, result, forced)
		return nil
	})
}

// triggeredCloses evaluates every open position in priority order:
// liquidation first, then stop-loss, then take-profit.
func (m *Monitor) triggeredCloses(acct *domain.Account, prices domain.PriceMap) []*domain.Operation {
	var ops []*domain.Operation
	for _, pos := range acct.Futures {
		price, ok := prices.Price(pos.Asset)
		if !ok {
			continue
		}

		kind := domain.CloseLong
		if pos.Side == domain.Short {
			kind = domain.CloseShort
		}

		liq := finmath.PositionLiquidationPrice(pos, m.cfg.MaintenanceMarginRate)
		switch {
		case priceCrossed(pos.Side, price, liq) || !finmath.PositionEquity(pos, price).IsPositive():
			ops = append(ops, &domain.Operation{
				Kind: kind, Asset: pos.Asset, Price: price,
				CloseReason: domain.CloseReasonLiquidation,
				Reason:      fmt.Sprintf("price %s crossed liquidation level %s", price, liq),
			})
		case pos.HasStopLoss() && priceCrossed(pos.Side, price, pos.StopLoss):
			ops = append(ops, &domain.Operation{
				Kind: kind, Asset: pos.Asset, Price: pos.StopLoss,
				CloseReason: domain.CloseReasonStopLoss,
				Reason:      fmt.Sprintf("price %s crossed stop-loss %s", price, pos.StopLoss),
			})
		case pos.HasTakeProfit() && priceCrossed(pos.Side.Opposite(), price, pos.TakeProfit):
			ops = append(ops, &domain.Operation{
				Kind: kind, Asset: pos.Asset, Price: pos.TakeProfit,
				CloseReason: domain.CloseReasonTakeProfit,
				Reason:      fmt.Sprintf("price %s crossed take-profit %s", price, pos.TakeProfit),
			})
		}
	}
	return ops
}

// priceCrossed reports whether price reached the adverse trigger level for
// the side: at/below for a long, at/above for a short.
func priceCrossed(side domain.PositionSide, price, level decimal.Decimal) bool {
	if !level.IsPositive() {
		return false
	}
	if side == domain.Long {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

func (m *Monitor) persist(ctx context.Context, acct *domain.Account, records []*domain.OperationRecord) {
	if m.cfg.SessionRepo != nil {
		if err := m.cfg.SessionRepo.SaveSession(ctx, acct); err != nil {
			m.cfg.Logger.Error(ctx, err, "Failed to persist session after forced close", map[string]interface{}{"account": acct.ID})
		}
	}
	if m.cfg.HistoryRepo != nil {
		if err := m.cfg.HistoryRepo.AppendRecords(ctx, acct.ID, records); err != nil {
			m.cfg.Logger.Error(ctx, err, "Failed to persist forced close records", map[string]interface{}{"account": acct.ID})
		}
	}
}

func (m *Monitor) notify(ctx context.Context, id string, result *domain.BatchResult, forced []*domain.Operation) {
	if m.cfg.Notifier == nil {
		return
	}
	msg := fmt.Sprintf("Risk monitor closed %d position(s):", len(forced))
	for _, op := range forced {
		msg += fmt.Sprintf("\n- %s %s at %s (%s)", op.Kind, op.Asset, op.Price, op.Reason)
	}
	msg += fmt.Sprintf("\nEquity: %s", result.Equity)
	if err := m.cfg.Notifier.Notify(ctx, id, msg); err != nil {
		// Delivery failure never affects engine state.
		m.cfg.Logger.Warn(ctx, "Risk notification delivery failed", map[string]interface{}{"account": id, "error": err.Error()})
	}
}
