package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// Repository implements ports.SessionRepository and ports.HistoryRepository
// using SQLite. Decimal columns are stored as TEXT so no precision is lost on
// the round trip.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/invest_sim.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode keeps readers from blocking the writer
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		initial_capital TEXT NOT NULL,
		cash TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spot_holdings (
		session_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		PRIMARY KEY (session_id, asset)
	);

	CREATE TABLE IF NOT EXISTS futures_positions (
		session_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		margin TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, asset)
	);

	CREATE TABLE IF NOT EXISTS operation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		asset TEXT NOT NULL,
		detail TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL,
		cash_delta TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		equity_after TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operation_history_session ON operation_history (session_id, id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SessionRepository Implementation ---

// SaveSession writes the full account snapshot: the session row plus its
// current holdings and positions, atomically replacing the previous snapshot.
func (r *Repository) SaveSession(ctx context.Context, acct *domain.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction for session %s: %w", acct.ID, err)
	}
	defer tx.Rollback()

	const upsert = `
	INSERT INTO sessions (id, created_at, initial_capital, cash, status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET cash = excluded.cash, status = excluded.status, updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, upsert,
		acct.ID, acct.CreatedAt, acct.InitialCapital.String(), acct.Cash.String(), string(acct.Status), time.Now()); err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", acct.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM spot_holdings WHERE session_id = ?`, acct.ID); err != nil {
		return fmt.Errorf("failed to clear holdings for session %s: %w", acct.ID, err)
	}
	for _, h := range acct.Spot {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spot_holdings (session_id, asset, quantity, entry_price) VALUES (?, ?, ?, ?)`,
			acct.ID, h.Asset, h.Quantity.String(), h.EntryPrice.String()); err != nil {
			return fmt.Errorf("failed to insert holding %s for session %s: %w", h.Asset, acct.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM futures_positions WHERE session_id = ?`, acct.ID); err != nil {
		return fmt.Errorf("failed to clear positions for session %s: %w", acct.ID, err)
	}
	for _, p := range acct.Futures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO futures_positions (session_id, asset, side, entry_price, quantity, leverage, margin, stop_loss, take_profit, opened_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			acct.ID, p.Asset, string(p.Side), p.EntryPrice.String(), p.Quantity.String(), p.Leverage,
			p.Margin.String(), p.StopLoss.String(), p.TakeProfit.String(), p.OpenedAt); err != nil {
			return fmt.Errorf("failed to insert position %s for session %s: %w", p.Asset, acct.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot for session %s: %w", acct.ID, err)
	}
	r.logger.Debug(ctx, "Session snapshot persisted", map[string]interface{}{"session": acct.ID})
	return nil
}

// FindSession retrieves a stored snapshot. Returns nil, nil when the session
// is unknown.
func (r *Repository) FindSession(ctx context.Context, accountID string) (*domain.Account, error) {
	const query = `SELECT id, created_at, initial_capital, cash, status FROM sessions WHERE id = ?`

	acct := &domain.Account{
		Spot:    make(map[string]*domain.SpotHolding),
		Futures: make(map[string]*domain.FuturesPosition),
	}
	var initialCapital, cash, status string
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&acct.ID, &acct.CreatedAt, &initialCapital, &cash, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query session %s: %w", accountID, err)
	}
	if acct.InitialCapital, err = decimal.NewFromString(initialCapital); err != nil {
		return nil, fmt.Errorf("corrupt initial_capital for session %s: %w", accountID, err)
	}
	if acct.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("corrupt cash for session %s: %w", accountID, err)
	}
	acct.Status = domain.AccountStatus(status)

	if err := r.loadHoldings(ctx, acct); err != nil {
		return nil, err
	}
	if err := r.loadPositions(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *Repository) loadHoldings(ctx context.Context, acct *domain.Account) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT asset, quantity, entry_price FROM spot_holdings WHERE session_id = ?`, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to query holdings for session %s: %w", acct.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		h := &domain.SpotHolding{}
		var quantity, entryPrice string
		if err := rows.Scan(&h.Asset, &quantity, &entryPrice); err != nil {
			return fmt.Errorf("failed to scan holding for session %s: %w", acct.ID, err)
		}
		if h.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return fmt.Errorf("corrupt holding quantity for session %s: %w", acct.ID, err)
		}
		if h.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
			return fmt.Errorf("corrupt holding entry price for session %s: %w", acct.ID, err)
		}
		acct.Spot[h.Asset] = h
	}
	return rows.Err()
}

func (r *Repository) loadPositions(ctx context.Context, acct *domain.Account) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT asset, side, entry_price, quantity, leverage, margin, stop_loss, take_profit, opened_at
		 FROM futures_positions WHERE session_id = ?`, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to query positions for session %s: %w", acct.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &domain.FuturesPosition{}
		var side string
		cols := struct{ entryPrice, quantity, margin, stopLoss, takeProfit string }{}
		if err := rows.Scan(&p.Asset, &side, &cols.entryPrice, &cols.quantity, &p.Leverage,
			&cols.margin, &cols.stopLoss, &cols.takeProfit, &p.OpenedAt); err != nil {
			return fmt.Errorf("failed to scan position for session %s: %w", acct.ID, err)
		}
		p.Side = domain.PositionSide(side)
		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&p.EntryPrice, cols.entryPrice},
			{&p.Quantity, cols.quantity},
			{&p.Margin, cols.margin},
			{&p.StopLoss, cols.stopLoss},
			{&p.TakeProfit, cols.takeProfit},
		} {
			if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
				return fmt.Errorf("corrupt position column for session %s: %w", acct.ID, err)
			}
		}
		acct.Futures[p.Asset] = p
	}
	return rows.Err()
}

// --- HistoryRepository Implementation ---

// AppendRecords inserts the records of one committed batch, preserving order.
func (r *Repository) AppendRecords(ctx context.Context, accountID string, records []*domain.OperationRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction for session %s: %w", accountID, err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO operation_history (session_id, kind, asset, detail, outcome, reason, cash_delta, realized_pnl, equity_after, applied_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			accountID, string(rec.Kind), rec.Asset, rec.Detail, string(rec.Outcome), rec.Reason,
			rec.CashDelta.String(), rec.RealizedPnL.String(), rec.EquityAfter.String(), rec.AppliedAt); err != nil {
			return fmt.Errorf("failed to insert history record for session %s: %w", accountID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for session %s: %w", accountID, err)
	}
	r.logger.Debug(ctx, "Operation records persisted", map[string]interface{}{"session": accountID, "records": len(records)})
	return nil
}

// FindHistory returns the most recent records for an account in chronological
// order, up to limit.
func (r *Repository) FindHistory(ctx context.Context, accountID string, limit int) ([]*domain.OperationRecord, error) {
	const query = `
	SELECT kind, asset, detail, outcome, reason, cash_delta, realized_pnl, equity_after, applied_at
	FROM (SELECT * FROM operation_history WHERE session_id = ? ORDER BY id DESC LIMIT ?)
	ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for session %s: %w", accountID, err)
	}
	defer rows.Close()

	records := make([]*domain.OperationRecord, 0)
	for rows.Next() {
		rec := &domain.OperationRecord{}
		var kind, outcome, cashDelta, realizedPnL, equityAfter string
		if err := rows.Scan(&kind, &rec.Asset, &rec.Detail, &outcome, &rec.Reason,
			&cashDelta, &realizedPnL, &equityAfter, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record for session %s: %w", accountID, err)
		}
		rec.Kind = domain.OperationKind(kind)
		rec.Outcome = domain.RecordOutcome(outcome)
		if rec.CashDelta, err = decimal.NewFromString(cashDelta); err != nil {
			return nil, fmt.Errorf("corrupt cash_delta for session %s: %w", accountID, err)
		}
		if rec.RealizedPnL, err = decimal.NewFromString(realizedPnL); err != nil {
			return nil, fmt.Errorf("corrupt realized_pnl for session %s: %w", accountID, err)
		}
		if rec.EquityAfter, err = decimal.NewFromString(equityAfter); err != nil {
			return nil, fmt.Errorf("corrupt equity_after for session %s: %w", accountID, err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows for session %s: %w", accountID, err)
	}
	return records, nil
}
