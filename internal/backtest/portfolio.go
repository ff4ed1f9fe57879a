// Package backtest implements the simulation ledger: position lifecycle,
// fill simulation with slippage and commission, equity-curve accounting,
// the replay runner, and performance metrics.
package backtest

import (
	"log/slog"
	"time"

	"tradesim/internal/domain"
)

// Config holds the capital and execution-cost parameters for one run.
type Config struct {
	StartingCapital    float64
	MaxPositions       int
	MaxPositionSize    float64
	CommissionPerTrade float64
	SlippagePct        float64 // percent per fill, applied against the trader
	DailyLossLimit     float64
	MaxDrawdownPct     float64
}

// DefaultConfig returns the standard paper setup: $10,000 capital, 5
// positions, $1,000 per position, commission-free, 0.05% slippage.
func DefaultConfig() Config {
	return Config{
		StartingCapital:    10000.0,
		MaxPositions:       5,
		MaxPositionSize:    1000.0,
		CommissionPerTrade: 0.0,
		SlippagePct:        0.05,
		DailyLossLimit:     100.0,
		MaxDrawdownPct:     15.0,
	}
}

// Portfolio is the ledger of truth for capital and positions during a
// backtest. It exclusively owns all open positions, the trade list, and the
// equity curve. Every operation reports failure as a return value rather
// than an error escalation: invalid inputs leave the ledger unchanged.
// Portfolio is not safe for concurrent use; parallel runs need independent
// instances.
type Portfolio struct {
	cfg Config

	cash      float64
	positions map[string]*domain.Position

	trades      []domain.Trade
	equityCurve []domain.EquityPoint

	dailyPnL    float64
	peakEquity  float64
	drawdownPct float64

	totalTrades   int
	winningTrades int
	losingTrades  int

	log *slog.Logger
}

// NewPortfolio creates a Portfolio with the full starting capital in cash.
func NewPortfolio(cfg Config) *Portfolio {
	return &Portfolio{
		cfg:        cfg,
		cash:       cfg.StartingCapital,
		positions:  make(map[string]*domain.Position),
		peakEquity: cfg.StartingCapital,
		log:        slog.Default().With("component", "portfolio"),
	}
}

// Reset restores the ledger to its initial state.
func (p *Portfolio) Reset() {
	p.cash = p.cfg.StartingCapital
	p.positions = make(map[string]*domain.Position)
	p.trades = nil
	p.equityCurve = nil
	p.dailyPnL = 0
	p.peakEquity = p.cfg.StartingCapital
	p.drawdownPct = 0
	p.totalTrades = 0
	p.winningTrades = 0
	p.losingTrades = 0
}

// ---------------------------------------------------------------------------
// Opening and closing positions
// ---------------------------------------------------------------------------

// CanOpenPosition reports whether the ledger permits a new position: below
// the position cap, cash covering a full-size position, daily loss under the
// limit, and drawdown under the maximum.
func (p *Portfolio) CanOpenPosition() bool {
	if len(p.positions) >= p.cfg.MaxPositions {
		return false
	}
	if p.cash < p.cfg.MaxPositionSize {
		return false
	}
	if abs(p.dailyPnL) >= p.cfg.DailyLossLimit {
		p.log.Warn("daily loss limit reached", "dailyPnL", p.dailyPnL)
		return false
	}
	if p.drawdownPct >= p.cfg.MaxDrawdownPct {
		p.log.Warn("max drawdown reached", "drawdown", p.drawdownPct)
		return false
	}
	return true
}

// OpenPosition opens a new position at the slippage-adjusted fill price
// price*(1+SlippagePct/100). It returns false — with no state change — when
// a position already exists for the ticker, CanOpenPosition is false, or
// the post-slippage cost plus commission exceeds cash. Cash deduction and
// position creation are atomic: both happen or neither.
func (p *Portfolio) OpenPosition(ticker string, ts time.Time, price float64, quantity int, stopLoss, takeProfit float64) bool {
	if _, exists := p.positions[ticker]; exists {
		p.log.Warn("already have position", "ticker", ticker)
		return false
	}
	if !p.CanOpenPosition() {
		return false
	}

	// Slippage: a worse fill for the buyer.
	slippage := price * (p.cfg.SlippagePct / 100)
	fillPrice := price + slippage

	totalCost := fillPrice*float64(quantity) + p.cfg.CommissionPerTrade
	if totalCost > p.cash {
		p.log.Warn("insufficient capital", "ticker", ticker, "cost", totalCost, "cash", p.cash)
		return false
	}

	p.cash -= totalCost
	p.positions[ticker] = &domain.Position{
		Ticker:       ticker,
		EntryTime:    ts,
		EntryPrice:   fillPrice,
		Quantity:     quantity,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		HighestPrice: fillPrice,
	}

	p.log.Info("OPEN", "ticker", ticker, "quantity", quantity, "fill", fillPrice,
		"stopLoss", stopLoss, "takeProfit", takeProfit)
	return true
}

// ClosePosition closes the position for ticker at the slippage-adjusted fill
// price price*(1-SlippagePct/100) and converts it to an immutable Trade.
// The trade's commission field covers both legs (2x per-trade commission)
// and its slippage field both legs of slippage cost. A realized P&L of
// exactly zero counts as a loss, not a win. Returns (nil, false) — with no
// state change — when no position is open for ticker.
func (p *Portfolio) ClosePosition(ticker string, ts time.Time, price float64, reason string) (*domain.Trade, bool) {
	pos, exists := p.positions[ticker]
	if !exists {
		p.log.Warn("no position to close", "ticker", ticker)
		return nil, false
	}

	// Slippage: a worse fill for the seller.
	slippage := price * (p.cfg.SlippagePct / 100)
	fillPrice := price - slippage

	grossPnL := (fillPrice - pos.EntryPrice) * float64(pos.Quantity)
	netPnL := grossPnL - p.cfg.CommissionPerTrade
	pnlPct := (fillPrice - pos.EntryPrice) / pos.EntryPrice * 100

	p.cash += fillPrice*float64(pos.Quantity) - p.cfg.CommissionPerTrade

	trade := domain.Trade{
		Ticker:     ticker,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fillPrice,
		Quantity:   pos.Quantity,
		PnL:        netPnL,
		PnLPct:     pnlPct,
		ExitReason: reason,
		Commission: p.cfg.CommissionPerTrade * 2, // entry + exit
		Slippage:   slippage * float64(pos.Quantity) * 2,
	}

	p.trades = append(p.trades, trade)
	p.totalTrades++
	p.dailyPnL += netPnL

	if netPnL > 0 {
		p.winningTrades++
	} else {
		p.losingTrades++
	}

	delete(p.positions, ticker)

	p.log.Info("CLOSE", "ticker", ticker, "quantity", trade.Quantity, "fill", fillPrice,
		"pnl", netPnL, "pnlPct", pnlPct, "reason", reason)
	return &trade, true
}

// ---------------------------------------------------------------------------
// Per-step updates
// ---------------------------------------------------------------------------

// UpdatePositions raises each open position's highest-price-since-entry
// given the current prices. Tickers missing from currentPrices are left
// untouched. No other mutation occurs.
func (p *Portfolio) UpdatePositions(currentPrices map[string]float64, _ time.Time) {
	for ticker, pos := range p.positions {
		if price, ok := currentPrices[ticker]; ok {
			pos.UpdateHighestPrice(price)
		}
	}
}

// RecordEquity marks open positions to market, updates peak equity and
// drawdown, and appends one point to the equity curve. Positions without a
// current price contribute zero to position value rather than their
// last-known price — a deliberate simplification that understates equity
// during data gaps.
func (p *Portfolio) RecordEquity(ts time.Time, currentPrices map[string]float64) {
	positionValue := 0.0
	for ticker, pos := range p.positions {
		if price, ok := currentPrices[ticker]; ok {
			positionValue += price * float64(pos.Quantity)
		}
	}

	totalEquity := p.cash + positionValue

	if totalEquity > p.peakEquity {
		p.peakEquity = totalEquity
		p.drawdownPct = 0
	} else {
		p.drawdownPct = (p.peakEquity - totalEquity) / p.peakEquity * 100
	}

	p.equityCurve = append(p.equityCurve, domain.EquityPoint{
		Timestamp:     ts,
		Equity:        totalEquity,
		Cash:          p.cash,
		PositionValue: positionValue,
		Drawdown:      p.drawdownPct,
		OpenPositions: len(p.positions),
	})
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Cash returns available cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// Equity returns cash plus mark-to-market position value at the given
// prices, without recording an equity point.
func (p *Portfolio) Equity(currentPrices map[string]float64) float64 {
	equity := p.cash
	for ticker, pos := range p.positions {
		if price, ok := currentPrices[ticker]; ok {
			equity += price * float64(pos.Quantity)
		}
	}
	return equity
}

// HasPosition reports whether a position is open for ticker.
func (p *Portfolio) HasPosition(ticker string) bool {
	_, ok := p.positions[ticker]
	return ok
}

// Position returns the open position for ticker.
func (p *Portfolio) Position(ticker string) (*domain.Position, bool) {
	pos, ok := p.positions[ticker]
	return pos, ok
}

// OpenTickers returns the tickers with open positions.
func (p *Portfolio) OpenTickers() []string {
	tickers := make([]string, 0, len(p.positions))
	for t := range p.positions {
		tickers = append(tickers, t)
	}
	return tickers
}

// PositionRefs returns references to all open positions for the signal
// generator.
func (p *Portfolio) PositionRefs() []domain.PositionRef {
	refs := make([]domain.PositionRef, 0, len(p.positions))
	for _, pos := range p.positions {
		refs = append(refs, domain.PositionRefOf(pos))
	}
	return refs
}

// OpenPositionCount returns the number of open positions.
func (p *Portfolio) OpenPositionCount() int { return len(p.positions) }

// Trades returns the completed trades, in close order.
func (p *Portfolio) Trades() []domain.Trade { return p.trades }

// EquityCurve returns the recorded equity points, in append order.
func (p *Portfolio) EquityCurve() []domain.EquityPoint { return p.equityCurve }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
