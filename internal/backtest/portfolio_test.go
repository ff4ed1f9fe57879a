package backtest

import (
	"math"
	"testing"
	"time"
)

func ts(h, m int) time.Time {
	return time.Date(2024, 1, 2, h, m, 0, 0, time.UTC)
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestOpenPositionSlippageFill(t *testing.T) {
	// Starting capital 10,000; buy 6 shares @ 150.00 with 0.05% slippage and
	// zero commission: fill 150.075, cash 10000 - 900.45 = 9099.55.
	p := NewPortfolio(DefaultConfig())

	if !p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 148.5, 152.25) {
		t.Fatal("OpenPosition failed")
	}

	pos, ok := p.Position("AAPL")
	if !ok {
		t.Fatal("position not found after open")
	}
	if !approx(pos.EntryPrice, 150.075, 1e-9) {
		t.Errorf("EntryPrice = %v, want 150.075", pos.EntryPrice)
	}
	if pos.HighestPrice != pos.EntryPrice {
		t.Errorf("HighestPrice = %v, want initialized to entry price", pos.HighestPrice)
	}
	if !approx(p.Cash(), 9099.55, 1e-9) {
		t.Errorf("Cash = %v, want 9099.55", p.Cash())
	}
}

func TestClosePositionSlippageAndPnL(t *testing.T) {
	// Close the scenario-A position @ 152.50: fill 152.42375,
	// P&L = (152.42375 - 150.075) * 6 = 14.0925, pnl_pct ~= 1.565%.
	p := NewPortfolio(DefaultConfig())
	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 148.5, 152.25)

	trade, ok := p.ClosePosition("AAPL", ts(14, 30), 152.5, "Take Profit")
	if !ok {
		t.Fatal("ClosePosition failed")
	}

	if !approx(trade.ExitPrice, 152.42375, 1e-9) {
		t.Errorf("ExitPrice = %v, want 152.42375", trade.ExitPrice)
	}
	if !approx(trade.PnL, 14.0925, 1e-9) {
		t.Errorf("PnL = %v, want 14.0925", trade.PnL)
	}
	if !approx(trade.PnLPct, 1.565, 1e-3) {
		t.Errorf("PnLPct = %v, want ~1.565", trade.PnLPct)
	}
	// Both legs of slippage are charged to the trade record.
	if !approx(trade.Slippage, 0.07625*6*2, 1e-9) {
		t.Errorf("Slippage = %v, want %v", trade.Slippage, 0.07625*6*2)
	}
	if p.HasPosition("AAPL") {
		t.Error("position still open after close")
	}
}

func TestCashConservation(t *testing.T) {
	// cash_after_close = cash_before_open - entry_cost + exit_proceeds,
	// exactly, for a full open/close round trip.
	cfg := DefaultConfig()
	cfg.CommissionPerTrade = 1.25
	p := NewPortfolio(cfg)

	cashBefore := p.Cash()
	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 0, 0)

	entryFill := 150.0 * (1 + cfg.SlippagePct/100)
	entryCost := entryFill*6 + cfg.CommissionPerTrade

	p.ClosePosition("AAPL", ts(14, 0), 152.5, "test")

	exitFill := 152.5 * (1 - cfg.SlippagePct/100)
	exitProceeds := exitFill*6 - cfg.CommissionPerTrade

	want := cashBefore - entryCost + exitProceeds
	if p.Cash() != want {
		t.Errorf("Cash = %v, want exactly %v", p.Cash(), want)
	}
}

func TestOpenPositionDuplicateRejected(t *testing.T) {
	p := NewPortfolio(DefaultConfig())
	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 0, 0)

	cash := p.Cash()
	if p.OpenPosition("AAPL", ts(10, 5), 151.0, 6, 0, 0) {
		t.Fatal("duplicate position accepted")
	}
	if p.Cash() != cash {
		t.Errorf("cash changed on rejected open: %v -> %v", cash, p.Cash())
	}
}

func TestOpenPositionInsufficientCash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartingCapital = 1000.0
	cfg.MaxPositionSize = 1000.0
	p := NewPortfolio(cfg)

	// 10 shares @ 150 costs ~1500.75: more than cash.
	if p.OpenPosition("AAPL", ts(10, 0), 150.0, 10, 0, 0) {
		t.Fatal("open accepted despite insufficient cash")
	}
	if p.Cash() != 1000.0 || p.OpenPositionCount() != 0 {
		t.Error("state changed on rejected open")
	}
}

func TestClosePositionMissingRejected(t *testing.T) {
	p := NewPortfolio(DefaultConfig())
	cash := p.Cash()

	if _, ok := p.ClosePosition("AAPL", ts(10, 0), 150.0, "test"); ok {
		t.Fatal("close of missing position succeeded")
	}
	if p.Cash() != cash {
		t.Error("cash changed on rejected close")
	}
}

func TestZeroPnLCountsAsLoss(t *testing.T) {
	// Zero slippage, zero commission, exit price equals entry price: the
	// round trip nets exactly zero and is classified as a loss.
	cfg := DefaultConfig()
	cfg.SlippagePct = 0
	cfg.CommissionPerTrade = 0
	p := NewPortfolio(cfg)

	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 0, 0)
	trade, ok := p.ClosePosition("AAPL", ts(14, 0), 150.0, "test")
	if !ok {
		t.Fatal("close failed")
	}
	if trade.PnL != 0 {
		t.Fatalf("PnL = %v, want exactly 0", trade.PnL)
	}
	if p.winningTrades != 0 || p.losingTrades != 1 {
		t.Errorf("win/loss = %d/%d, want 0/1", p.winningTrades, p.losingTrades)
	}
}

func TestCanOpenPositionLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	p := NewPortfolio(cfg)

	if !p.CanOpenPosition() {
		t.Fatal("fresh portfolio cannot open")
	}

	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 0, 0)
	if p.CanOpenPosition() {
		t.Error("position cap not enforced")
	}

	// Cash below the full position size blocks new opens.
	p2 := NewPortfolio(Config{StartingCapital: 500, MaxPositions: 5, MaxPositionSize: 1000, DailyLossLimit: 100, MaxDrawdownPct: 15})
	if p2.CanOpenPosition() {
		t.Error("cash floor not enforced")
	}

	// Daily loss at the limit blocks new opens.
	p3 := NewPortfolio(DefaultConfig())
	p3.dailyPnL = -100
	if p3.CanOpenPosition() {
		t.Error("daily loss limit not enforced")
	}
}

func TestUpdatePositionsHighestPrice(t *testing.T) {
	p := NewPortfolio(DefaultConfig())
	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 0, 0)

	p.UpdatePositions(map[string]float64{"AAPL": 152.0}, ts(10, 5))
	p.UpdatePositions(map[string]float64{"AAPL": 151.0}, ts(10, 10))
	// Missing price leaves the position untouched.
	p.UpdatePositions(map[string]float64{"MSFT": 400.0}, ts(10, 15))

	pos, _ := p.Position("AAPL")
	if pos.HighestPrice != 152.0 {
		t.Errorf("HighestPrice = %v, want 152.0", pos.HighestPrice)
	}
}

func TestRecordEquityDrawdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlippagePct = 0
	p := NewPortfolio(cfg)
	p.OpenPosition("AAPL", ts(10, 0), 100.0, 6, 0, 0)

	// Mark at entry value: equity back at starting capital, drawdown 0.
	p.RecordEquity(ts(10, 0), map[string]float64{"AAPL": 100.0})
	// Price drops: equity falls below the peak.
	p.RecordEquity(ts(10, 5), map[string]float64{"AAPL": 90.0})
	// Recovery above the old peak resets drawdown to zero.
	p.RecordEquity(ts(10, 10), map[string]float64{"AAPL": 120.0})

	curve := p.EquityCurve()
	if len(curve) != 3 {
		t.Fatalf("equity curve has %d points, want 3", len(curve))
	}
	if curve[0].Drawdown != 0 {
		t.Errorf("point 0 drawdown = %v, want 0", curve[0].Drawdown)
	}
	if !approx(curve[1].Drawdown, 0.6, 1e-9) { // 60/10000 * 100
		t.Errorf("point 1 drawdown = %v, want 0.6", curve[1].Drawdown)
	}
	if curve[2].Drawdown != 0 {
		t.Errorf("point 2 drawdown = %v, want 0 after new peak", curve[2].Drawdown)
	}
	if curve[1].OpenPositions != 1 {
		t.Errorf("OpenPositions = %d, want 1", curve[1].OpenPositions)
	}
}

func TestRecordEquityMissingPriceContributesZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlippagePct = 0
	p := NewPortfolio(cfg)
	p.OpenPosition("AAPL", ts(10, 0), 100.0, 6, 0, 0)

	p.RecordEquity(ts(10, 5), map[string]float64{})

	curve := p.EquityCurve()
	if curve[0].PositionValue != 0 {
		t.Errorf("PositionValue = %v, want 0 when price missing", curve[0].PositionValue)
	}
	if curve[0].Equity != p.Cash() {
		t.Errorf("Equity = %v, want cash-only %v", curve[0].Equity, p.Cash())
	}
}

func TestAtMostOnePositionPerTicker(t *testing.T) {
	p := NewPortfolio(DefaultConfig())

	ops := []struct {
		open   bool
		ticker string
	}{
		{true, "AAPL"}, {true, "AAPL"}, {true, "MSFT"},
		{false, "AAPL"}, {true, "AAPL"}, {true, "MSFT"},
	}
	for _, op := range ops {
		if op.open {
			p.OpenPosition(op.ticker, ts(10, 0), 150.0, 1, 0, 0)
		} else {
			p.ClosePosition(op.ticker, ts(10, 0), 150.0, "test")
		}

		seen := map[string]bool{}
		for _, ticker := range p.OpenTickers() {
			if seen[ticker] {
				t.Fatalf("duplicate ticker %q in open set", ticker)
			}
			seen[ticker] = true
		}
	}
}

func TestReset(t *testing.T) {
	p := NewPortfolio(DefaultConfig())
	p.OpenPosition("AAPL", ts(10, 0), 150.0, 6, 0, 0)
	p.ClosePosition("AAPL", ts(14, 0), 149.0, "test")
	p.RecordEquity(ts(14, 0), nil)

	p.Reset()

	if p.Cash() != 10000.0 || p.OpenPositionCount() != 0 {
		t.Error("cash/positions not reset")
	}
	if len(p.Trades()) != 0 || len(p.EquityCurve()) != 0 {
		t.Error("history not reset")
	}
}
