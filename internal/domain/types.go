// Package domain defines the core types shared across the tradesim system:
// annotated price bars, trading signals, open positions, completed trades,
// and equity-curve points.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is one OHLCV observation for a ticker, annotated with precomputed
// indicator values. Indicator fields are nil until their rolling window has
// enough history; consumers must treat nil as missing data.
type Bar struct {
	Ticker    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64

	// Indicator annotations (set by the indicator package).
	SMA      *float64 // trend filter (simple moving average of close)
	RSI      *float64 // momentum oscillator
	ATR      *float64 // volatility (average true range)
	VolumeMA *float64 // rolling average volume
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalKind distinguishes entry from exit signals.
type SignalKind string

const (
	SignalEntry SignalKind = "entry"
	SignalExit  SignalKind = "exit"
)

// Signal is an actionable trading signal for a single ticker at a single
// time step. Signals are ephemeral: produced and consumed within one replay
// step, never persisted as live state (the signal store keeps an audit copy
// only).
type Signal struct {
	Ticker     string
	Kind       SignalKind
	Timestamp  time.Time
	Price      float64
	Reason     string
	Confidence float64 // 0..1, informational only
}

// String renders the signal for logging.
func (s Signal) String() string {
	return fmt.Sprintf("%s %s @ $%.2f - %s", s.Kind, s.Ticker, s.Price, s.Reason)
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// Position is an open position owned by the portfolio. At most one position
// per ticker may be open at any time. EntryPrice is the post-slippage fill
// price, not the signal price.
type Position struct {
	Ticker       string
	EntryTime    time.Time
	EntryPrice   float64
	Quantity     int
	StopLoss     float64
	TakeProfit   float64
	HighestPrice float64 // highest price observed since entry, never decreases
}

// Value returns the position value at entry.
func (p *Position) Value() float64 {
	return p.EntryPrice * float64(p.Quantity)
}

// UpdateHighestPrice raises HighestPrice to current if current is a new high.
func (p *Position) UpdateHighestPrice(current float64) {
	if current > p.HighestPrice {
		p.HighestPrice = current
	}
}

// PnL returns the unrealized profit or loss at the given price.
func (p *Position) PnL(current float64) float64 {
	return (current - p.EntryPrice) * float64(p.Quantity)
}

// PnLPct returns the unrealized profit or loss percentage at the given price.
func (p *Position) PnLPct(current float64) float64 {
	return (current - p.EntryPrice) / p.EntryPrice * 100
}

// Trade is a completed round trip. Trades are immutable once created.
// Commission covers both legs (entry + exit); Slippage is the total modeled
// slippage cost across both legs.
type Trade struct {
	Ticker     string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Quantity   int
	PnL        float64
	PnLPct     float64
	ExitReason string
	Commission float64
	Slippage   float64
}

// ---------------------------------------------------------------------------
// Equity curve
// ---------------------------------------------------------------------------

// EquityPoint is one snapshot of total portfolio value. The sequence of
// points appended by the portfolio forms the equity curve, ordered by
// timestamp.
type EquityPoint struct {
	Timestamp     time.Time
	Equity        float64 // cash + mark-to-market open-position value
	Cash          float64
	PositionValue float64
	Drawdown      float64 // percent decline from peak equity at this instant
	OpenPositions int
}

// ---------------------------------------------------------------------------
// Position references
// ---------------------------------------------------------------------------

// Tickerer is anything that can name the ticker it refers to.
type Tickerer interface {
	Ticker() string
}

// PositionRef identifies an open position by ticker. It replaces the
// bare-string / record / attribute-bearing-object shapes callers have used
// historically with a single value exposing one accessor; the signal
// generator depends only on this capability, never on a concrete shape.
type PositionRef struct {
	ticker string
}

// TickerRef wraps a bare ticker string.
func TickerRef(ticker string) PositionRef {
	return PositionRef{ticker: ticker}
}

// PositionRefOf references an open position record.
func PositionRefOf(p *Position) PositionRef {
	return PositionRef{ticker: p.Ticker}
}

// RefFromTickerer references any value exposing a Ticker accessor.
func RefFromTickerer(t Tickerer) PositionRef {
	return PositionRef{ticker: t.Ticker()}
}

// Ticker returns the referenced ticker.
func (r PositionRef) Ticker() string {
	return r.ticker
}
