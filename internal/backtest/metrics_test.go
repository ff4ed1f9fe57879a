package backtest

import (
	"math"
	"testing"

	"tradesim/internal/domain"
)

func tradeWithPnL(pnl float64) domain.Trade {
	return domain.Trade{Ticker: "AAPL", PnL: pnl, Commission: 1.0, Slippage: 0.5}
}

func TestPerformanceNoTrades(t *testing.T) {
	p := NewPortfolio(DefaultConfig())

	rep := p.Performance()
	if rep.StartingCapital != 10000.0 {
		t.Errorf("StartingCapital = %v, want 10000", rep.StartingCapital)
	}
	if rep.TotalTrades != 0 || rep.WinRatePct != 0 || rep.SharpeRatio != 0 {
		t.Errorf("non-zero stats on empty run: %+v", rep)
	}
}

func TestAnalyzeWinLossStats(t *testing.T) {
	trades := []domain.Trade{
		tradeWithPnL(30), tradeWithPnL(10), tradeWithPnL(-10), tradeWithPnL(-5),
	}
	curve := []domain.EquityPoint{
		{Equity: 10000, Drawdown: 0},
		{Equity: 10020, Drawdown: 0},
		{Equity: 10010, Drawdown: 0.0998},
		{Equity: 10025, Drawdown: 0},
	}

	rep := analyze(10000, trades, curve, 2, 2)

	if rep.TotalTrades != 4 || rep.WinningTrades != 2 || rep.LosingTrades != 2 {
		t.Errorf("counts = %d/%d/%d", rep.TotalTrades, rep.WinningTrades, rep.LosingTrades)
	}
	if rep.WinRatePct != 50 {
		t.Errorf("WinRatePct = %v, want 50", rep.WinRatePct)
	}
	if !approx(rep.ProfitFactor, 40.0/15.0, 1e-9) {
		t.Errorf("ProfitFactor = %v, want %v", rep.ProfitFactor, 40.0/15.0)
	}
	if rep.AvgWin != 20 || rep.LargestWin != 30 {
		t.Errorf("wins: avg %v largest %v", rep.AvgWin, rep.LargestWin)
	}
	// Loss stats are reported as absolute values.
	if rep.AvgLoss != 7.5 || rep.LargestLoss != 10 {
		t.Errorf("losses: avg %v largest %v", rep.AvgLoss, rep.LargestLoss)
	}
	if rep.FinalEquity != 10025 {
		t.Errorf("FinalEquity = %v, want 10025", rep.FinalEquity)
	}
	if !approx(rep.TotalReturnPct, 0.25, 1e-9) {
		t.Errorf("TotalReturnPct = %v, want 0.25", rep.TotalReturnPct)
	}
	if !approx(rep.MaxDrawdownPct, 0.0998, 1e-9) {
		t.Errorf("MaxDrawdownPct = %v, want curve maximum", rep.MaxDrawdownPct)
	}
	if rep.TotalCommission != 4 || rep.TotalSlippage != 2 {
		t.Errorf("costs: commission %v slippage %v", rep.TotalCommission, rep.TotalSlippage)
	}
}

func TestAnalyzeProfitFactorNoLosses(t *testing.T) {
	trades := []domain.Trade{tradeWithPnL(10), tradeWithPnL(20)}

	rep := analyze(10000, trades, nil, 2, 0)
	if rep.ProfitFactor != 0 {
		t.Errorf("ProfitFactor = %v, want 0 with no losing trades", rep.ProfitFactor)
	}
	if rep.WinRatePct != 100 {
		t.Errorf("WinRatePct = %v, want 100", rep.WinRatePct)
	}
}

func TestSharpeShortCurve(t *testing.T) {
	curve := []domain.EquityPoint{{Equity: 10000}, {Equity: 10100}}
	if got := sharpe(curve); got != 0 {
		t.Errorf("sharpe with 2 points = %v, want 0", got)
	}
}

func TestSharpeZeroVariance(t *testing.T) {
	// Constant period returns have zero standard deviation.
	curve := []domain.EquityPoint{{Equity: 100}, {Equity: 110}, {Equity: 121}}
	if got := sharpe(curve); got != 0 {
		t.Errorf("sharpe with constant returns = %v, want 0", got)
	}
}

func TestSharpeAnnualized(t *testing.T) {
	// Returns 0.10 and 0.05: mean 0.075, sample stdev 0.025*sqrt(2).
	curve := []domain.EquityPoint{{Equity: 100}, {Equity: 110}, {Equity: 115.5}}

	want := 0.075 / (0.025 * math.Sqrt2) * math.Sqrt(252)
	if got := sharpe(curve); !approx(got, want, 1e-6) {
		t.Errorf("sharpe = %v, want %v", got, want)
	}
}
