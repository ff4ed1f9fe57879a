package backtest

import (
	"math"

	"tradesim/internal/domain"
)

// Report holds the summary statistics derived from a completed run.
type Report struct {
	StartingCapital float64
	FinalEquity     float64
	TotalReturnPct  float64
	MaxDrawdownPct  float64
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRatePct      float64
	ProfitFactor    float64
	AvgWin          float64
	AvgLoss         float64 // absolute value
	LargestWin      float64
	LargestLoss     float64 // absolute value
	SharpeRatio     float64
	TotalCommission float64
	TotalSlippage   float64
}

// Performance derives the performance report from the accumulated trade
// list and equity curve. It is a pure derivation: no portfolio state is
// mutated. With no trades it returns a zeroed report carrying only the
// starting capital.
func (p *Portfolio) Performance() Report {
	return analyze(p.cfg.StartingCapital, p.trades, p.equityCurve, p.winningTrades, p.losingTrades)
}

func analyze(startingCapital float64, trades []domain.Trade, curve []domain.EquityPoint, wins, losses int) Report {
	rep := Report{StartingCapital: startingCapital}
	if len(trades) == 0 {
		return rep
	}

	finalEquity := startingCapital
	maxDrawdown := 0.0
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
		for _, pt := range curve {
			if pt.Drawdown > maxDrawdown {
				maxDrawdown = pt.Drawdown
			}
		}
	}

	var winningPnls, losingPnls []float64
	for _, t := range trades {
		rep.TotalCommission += t.Commission
		rep.TotalSlippage += t.Slippage
		switch {
		case t.PnL > 0:
			winningPnls = append(winningPnls, t.PnL)
		case t.PnL < 0:
			losingPnls = append(losingPnls, -t.PnL)
		}
	}

	rep.FinalEquity = finalEquity
	rep.TotalReturnPct = (finalEquity - startingCapital) / startingCapital * 100
	rep.MaxDrawdownPct = maxDrawdown
	rep.TotalTrades = len(trades)
	rep.WinningTrades = wins
	rep.LosingTrades = losses
	rep.WinRatePct = float64(wins) / float64(len(trades)) * 100

	totalWins := sum(winningPnls)
	totalLosses := sum(losingPnls)
	if totalLosses > 0 {
		rep.ProfitFactor = totalWins / totalLosses
	}

	if len(winningPnls) > 0 {
		rep.AvgWin = totalWins / float64(len(winningPnls))
		rep.LargestWin = maxOf(winningPnls)
	}
	if len(losingPnls) > 0 {
		rep.AvgLoss = totalLosses / float64(len(losingPnls))
		rep.LargestLoss = maxOf(losingPnls)
	}

	rep.SharpeRatio = sharpe(curve)

	return rep
}

// sharpe computes the annualized Sharpe ratio from period-over-period
// equity-curve returns: mean/stdev * sqrt(252), using the sample standard
// deviation. Returns zero with fewer than two usable returns or a zero
// standard deviation.
func sharpe(curve []domain.EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := sum(returns) / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

func sum(vs []float64) float64 {
	total := 0.0
	for _, v := range vs {
		total += v
	}
	return total
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
