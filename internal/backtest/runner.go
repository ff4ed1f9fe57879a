package backtest

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/risk"
	"tradesim/internal/strategy"
)

// stepKey addresses one ticker's bar at one replay step.
type stepKey struct {
	unix   int64
	ticker string
}

// Runner replays annotated bar series through the signal generator, risk
// gate, and portfolio in a single-threaded, step-driven loop. Each time
// step runs the fixed pipeline: update positions, evaluate exits, evaluate
// entries through the risk gate, record equity.
type Runner struct {
	strategy  *strategy.Strategy
	risk      *risk.Manager
	portfolio *Portfolio

	signals []domain.Signal // executed signals, kept for the audit trail

	log *slog.Logger
}

// NewRunner wires a Runner from its three collaborators. The portfolio and
// risk manager must be fresh instances dedicated to this run.
func NewRunner(s *strategy.Strategy, rm *risk.Manager, p *Portfolio) *Runner {
	return &Runner{
		strategy:  s,
		risk:      rm,
		portfolio: p,
		log:       slog.Default().With("component", "runner"),
	}
}

// Run replays the given per-ticker bar series, ordered by timestamp within
// each ticker, and returns the performance report. Any positions still open
// at the final timestamp are closed with reason "End of backtest".
func (r *Runner) Run(series map[string][]domain.Bar) (Report, error) {
	if len(series) == 0 {
		return Report{}, errors.New("no bar series supplied")
	}

	// Merge all ticker timelines into one sorted timestamp sequence, and
	// index bars by (timestamp, ticker) for direct lookup per step.
	barAt := make(map[stepKey]domain.Bar)
	tsSet := make(map[int64]time.Time)
	for ticker, bars := range series {
		for _, bar := range bars {
			u := bar.Timestamp.UnixNano()
			tsSet[u] = bar.Timestamp
			barAt[stepKey{u, ticker}] = bar
		}
	}

	timeline := make([]int64, 0, len(tsSet))
	for u := range tsSet {
		timeline = append(timeline, u)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i] < timeline[j] })

	tickers := make([]string, 0, len(series))
	for ticker := range series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	r.log.Info("starting replay", "tickers", len(tickers), "steps", len(timeline))

	lastPrices := make(map[string]float64)
	var lastTS time.Time

	for _, u := range timeline {
		ts := tsSet[u]
		lastTS = ts

		prices := make(map[string]float64)
		for _, ticker := range tickers {
			if bar, ok := barAt[stepKey{u, ticker}]; ok {
				prices[ticker] = bar.Close
				lastPrices[ticker] = bar.Close
			}
		}

		r.portfolio.UpdatePositions(prices, ts)
		r.evaluateExits(prices, ts)
		r.evaluateEntries(u, ts, tickers, barAt, prices)
		r.portfolio.RecordEquity(ts, prices)
	}

	// Close whatever is still open at the end of the replay.
	for _, ticker := range sortedTickers(r.portfolio.OpenTickers()) {
		price, ok := lastPrices[ticker]
		if !ok {
			continue
		}
		if trade, closed := r.portfolio.ClosePosition(ticker, lastTS, price, "End of backtest"); closed {
			r.risk.UpdatePnL(trade.PnL, lastTS)
		}
	}

	return r.portfolio.Performance(), nil
}

// evaluateExits runs the exit rules for every open position with a known
// current price and closes the ones that trigger.
func (r *Runner) evaluateExits(prices map[string]float64, ts time.Time) {
	for _, ticker := range sortedTickers(r.portfolio.OpenTickers()) {
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		pos, ok := r.portfolio.Position(ticker)
		if !ok {
			continue
		}

		sig := r.strategy.GenerateExit(pos, price, ts)
		if sig == nil {
			continue
		}
		if trade, closed := r.portfolio.ClosePosition(ticker, ts, price, sig.Reason); closed {
			r.risk.UpdatePnL(trade.PnL, ts)
			r.signals = append(r.signals, *sig)
		}
	}
}

// evaluateEntries generates entry signals for tickers with a bar at this
// step and routes each proposed trade through the risk gate before the
// portfolio executes it.
func (r *Runner) evaluateEntries(u int64, ts time.Time, tickers []string, barAt map[stepKey]domain.Bar, prices map[string]float64) {
	equity := r.portfolio.Equity(prices)

	for _, ticker := range tickers {
		bar, ok := barAt[stepKey{u, ticker}]
		if !ok {
			continue
		}
		if r.portfolio.HasPosition(ticker) {
			continue
		}
		if !r.portfolio.CanOpenPosition() {
			continue
		}

		sig := r.strategy.GenerateEntry(bar, r.portfolio.PositionRefs())
		if sig == nil {
			continue
		}

		quantity := r.strategy.PositionSize(equity, sig.Price, r.portfolio.cfg.MaxPositionSize)
		if quantity == 0 {
			continue
		}

		approved, reason := r.risk.ValidateTrade(ticker, sig.Price, quantity, equity,
			r.portfolio.OpenPositionCount(), nil, ts)
		if !approved {
			r.log.Warn("trade rejected", "ticker", ticker, "reason", reason)
			continue
		}

		stopLoss := r.strategy.StopLossPrice(sig.Price)
		takeProfit := r.strategy.TakeProfitPrice(sig.Price)
		if r.portfolio.OpenPosition(ticker, ts, sig.Price, quantity, stopLoss, takeProfit) {
			r.signals = append(r.signals, *sig)
		}
	}
}

// Signals returns the executed entry/exit signals in execution order.
func (r *Runner) Signals() []domain.Signal {
	return r.signals
}

// Trades returns the completed trades of the run, in close order.
func (r *Runner) Trades() []domain.Trade {
	return r.portfolio.Trades()
}

// EquityCurve returns the recorded equity curve of the run.
func (r *Runner) EquityCurve() []domain.EquityPoint {
	return r.portfolio.EquityCurve()
}

func sortedTickers(tickers []string) []string {
	sort.Strings(tickers)
	return tickers
}
