package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradesim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at       INTEGER NOT NULL,
	start_ts         INTEGER NOT NULL,
	end_ts           INTEGER NOT NULL,
	tickers          TEXT NOT NULL,
	starting_capital REAL NOT NULL,
	final_equity     REAL NOT NULL,
	total_return_pct REAL NOT NULL,
	max_drawdown_pct REAL NOT NULL,
	total_trades     INTEGER NOT NULL,
	winning_trades   INTEGER NOT NULL,
	losing_trades    INTEGER NOT NULL,
	win_rate_pct     REAL NOT NULL,
	profit_factor    REAL NOT NULL,
	sharpe_ratio     REAL NOT NULL,
	total_commission REAL NOT NULL,
	total_slippage   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	ticker      TEXT NOT NULL,
	entry_ts    INTEGER NOT NULL,
	exit_ts     INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	quantity    INTEGER NOT NULL,
	pnl         REAL NOT NULL,
	pnl_pct     REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	commission  REAL NOT NULL,
	slippage    REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);

CREATE TABLE IF NOT EXISTS equity_points (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         INTEGER NOT NULL REFERENCES runs(id),
	ts             INTEGER NOT NULL,
	equity         REAL NOT NULL,
	cash           REAL NOT NULL,
	position_value REAL NOT NULL,
	drawdown       REAL NOT NULL,
	open_positions INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_run ON equity_points(run_id);

CREATE TABLE IF NOT EXISTS signals (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	ticker TEXT NOT NULL,
	kind   TEXT NOT NULL,
	ts     INTEGER NOT NULL,
	price  REAL NOT NULL,
	reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_run ON signals(run_id);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run summary and returns its assigned ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunSummary) (int64, error) {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (created_at, start_ts, end_ts, tickers, starting_capital,
			final_equity, total_return_pct, max_drawdown_pct, total_trades,
			winning_trades, losing_trades, win_rate_pct, profit_factor,
			sharpe_ratio, total_commission, total_slippage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		createdAt.UnixMilli(), run.Start.UnixMilli(), run.End.UnixMilli(),
		run.Tickers, run.StartingCapital, run.FinalEquity, run.TotalReturnPct,
		run.MaxDrawdownPct, run.TotalTrades, run.WinningTrades, run.LosingTrades,
		run.WinRatePct, run.ProfitFactor, run.SharpeRatio,
		run.TotalCommission, run.TotalSlippage)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// SaveTrades persists the completed trades of a run inside one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID int64, trades []domain.Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trades (run_id, ticker, entry_ts, exit_ts, entry_price,
				exit_price, quantity, pnl, pnl_pct, exit_reason, commission, slippage)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range trades {
			if _, err := stmt.ExecContext(ctx, runID, t.Ticker,
				t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
				t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.PnLPct,
				t.ExitReason, t.Commission, t.Slippage); err != nil {
				return fmt.Errorf("inserting trade %s: %w", t.Ticker, err)
			}
		}
		return nil
	})
}

// SaveEquityCurve persists the equity curve of a run inside one transaction.
func (s *SQLiteStore) SaveEquityCurve(ctx context.Context, runID int64, points []domain.EquityPoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO equity_points (run_id, ts, equity, cash, position_value,
				drawdown, open_positions)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, pt := range points {
			if _, err := stmt.ExecContext(ctx, runID, pt.Timestamp.UnixMilli(),
				pt.Equity, pt.Cash, pt.PositionValue, pt.Drawdown, pt.OpenPositions); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveSignals persists the executed signals of a run inside one transaction.
func (s *SQLiteStore) SaveSignals(ctx context.Context, runID int64, signals []domain.Signal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO signals (run_id, ticker, kind, ts, price, reason)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sig := range signals {
			if _, err := stmt.ExecContext(ctx, runID, sig.Ticker, string(sig.Kind),
				sig.Timestamp.UnixMilli(), sig.Price, sig.Reason); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRun retrieves a single run summary by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, start_ts, end_ts, tickers, starting_capital,
			final_equity, total_return_pct, max_drawdown_pct, total_trades,
			winning_trades, losing_trades, win_rate_pct, profit_factor,
			sharpe_ratio, total_commission, total_slippage
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent run summaries, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, start_ts, end_ts, tickers, starting_capital,
			final_equity, total_return_pct, max_drawdown_pct, total_trades,
			winning_trades, losing_trades, win_rate_pct, profit_factor,
			sharpe_ratio, total_commission, total_slippage
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListTrades returns the trades of a run in close order.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID int64) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, entry_ts, exit_ts, entry_price, exit_price, quantity,
			pnl, pnl_pct, exit_reason, commission, slippage
		FROM trades WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var entryTS, exitTS int64
		if err := rows.Scan(&t.Ticker, &entryTS, &exitTS, &t.EntryPrice,
			&t.ExitPrice, &t.Quantity, &t.PnL, &t.PnLPct, &t.ExitReason,
			&t.Commission, &t.Slippage); err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entryTS).UTC()
		t.ExitTime = time.UnixMilli(exitTS).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunSummary, error) {
	var run RunSummary
	var createdAt, startTS, endTS int64
	err := row.Scan(&run.ID, &createdAt, &startTS, &endTS, &run.Tickers,
		&run.StartingCapital, &run.FinalEquity, &run.TotalReturnPct,
		&run.MaxDrawdownPct, &run.TotalTrades, &run.WinningTrades,
		&run.LosingTrades, &run.WinRatePct, &run.ProfitFactor,
		&run.SharpeRatio, &run.TotalCommission, &run.TotalSlippage)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.Start = time.UnixMilli(startTS).UTC()
	run.End = time.UnixMilli(endTS).UTC()
	return &run, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
