// Package store persists bar data and backtest results: Parquet files for
// bar series, SQLite for runs, trades, equity curves, and signals.
package store

import (
	"context"
	"time"

	"tradesim/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market directory.
	WriteBars(ctx context.Context, bars []domain.Bar, market string) error

	// ReadBars returns bars for the given ticker and market within [start, end].
	ReadBars(ctx context.Context, ticker string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListTickers returns all distinct tickers available in the given market.
	ListTickers(ctx context.Context, market string) ([]string, error)
}

// RunSummary is one persisted backtest run with its headline statistics.
type RunSummary struct {
	ID              int64
	CreatedAt       time.Time
	Start           time.Time
	End             time.Time
	Tickers         string // comma-separated
	StartingCapital float64
	FinalEquity     float64
	TotalReturnPct  float64
	MaxDrawdownPct  float64
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRatePct      float64
	ProfitFactor    float64
	SharpeRatio     float64
	TotalCommission float64
	TotalSlippage   float64
}

// ResultStore persists completed backtest runs and their detail records.
type ResultStore interface {
	// SaveRun inserts a run summary and returns its assigned ID.
	SaveRun(ctx context.Context, run *RunSummary) (int64, error)

	// SaveTrades persists the completed trades of a run.
	SaveTrades(ctx context.Context, runID int64, trades []domain.Trade) error

	// SaveEquityCurve persists the equity curve of a run.
	SaveEquityCurve(ctx context.Context, runID int64, points []domain.EquityPoint) error

	// SaveSignals persists the executed signals of a run.
	SaveSignals(ctx context.Context, runID int64, signals []domain.Signal) error

	// GetRun retrieves a single run summary by ID.
	GetRun(ctx context.Context, id int64) (*RunSummary, error)

	// ListRuns returns the most recent run summaries, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// ListTrades returns the trades of a run in close order.
	ListTrades(ctx context.Context, runID int64) ([]domain.Trade, error)
}
