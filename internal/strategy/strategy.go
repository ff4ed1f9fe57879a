// Package strategy implements the rule-based signal generator: entry rule
// evaluation against annotated bars, exit rule evaluation against open
// positions, and position sizing.
package strategy

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tradesim/internal/domain"
)

// Params holds the entry/exit rule thresholds and the trading-hours window.
type Params struct {
	// Entry thresholds.
	MinPrice         float64
	MaxPrice         float64
	RSILower         float64
	RSIUpper         float64
	VolumeMultiplier float64
	MinATR           float64

	// Exit thresholds (percentages).
	StopLossPct        float64
	TakeProfitPct      float64
	TrailingTriggerPct float64
	TrailingStopPct    float64

	// Trading-hours window, HH:MM in Timezone. TradingStart/TradingEnd
	// bound entries (inclusive); PositionCloseTime is the close-all cutoff.
	TradingStart      string
	TradingEnd        string
	PositionCloseTime string
	Timezone          string
}

// DefaultParams returns the intraday rule set: $20-$500 price band, RSI
// 40-70, 1.2x volume, 0.5 minimum ATR, 1.0% stop / 1.5% target, trailing
// 0.5% after +1.0%, entries 10:00-15:00 ET with a 15:55 ET close-all.
func DefaultParams() Params {
	return Params{
		MinPrice:           20.0,
		MaxPrice:           500.0,
		RSILower:           40,
		RSIUpper:           70,
		VolumeMultiplier:   1.2,
		MinATR:             0.5,
		StopLossPct:        1.0,
		TakeProfitPct:      1.5,
		TrailingTriggerPct: 1.0,
		TrailingStopPct:    0.5,
		TradingStart:       "10:00",
		TradingEnd:         "15:00",
		PositionCloseTime:  "15:55",
		Timezone:           "America/New_York",
	}
}

// Strategy evaluates the entry and exit rules. It holds no position state:
// one instance can serve any number of tickers within a single replay.
type Strategy struct {
	params Params
	loc    *time.Location

	// Minute-of-day boundaries in loc.
	startMin int
	endMin   int
	closeMin int

	log *slog.Logger
}

// New creates a Strategy from params, resolving the trading-hours time zone
// and window boundaries.
func New(params Params) (*Strategy, error) {
	loc, err := time.LoadLocation(params.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", params.Timezone, err)
	}

	startMin, err := parseClock(params.TradingStart)
	if err != nil {
		return nil, fmt.Errorf("trading_start: %w", err)
	}
	endMin, err := parseClock(params.TradingEnd)
	if err != nil {
		return nil, fmt.Errorf("trading_end: %w", err)
	}
	closeMin, err := parseClock(params.PositionCloseTime)
	if err != nil {
		return nil, fmt.Errorf("position_close: %w", err)
	}

	return &Strategy{
		params:   params,
		loc:      loc,
		startMin: startMin,
		endMin:   endMin,
		closeMin: closeMin,
		log:      slog.Default().With("component", "strategy"),
	}, nil
}

// parseClock parses "HH:MM" into a minute-of-day value.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return h*60 + m, nil
}

// ---------------------------------------------------------------------------
// Entry evaluation
// ---------------------------------------------------------------------------

// CheckEntry evaluates all entry conditions against one annotated bar.
// Conditions are checked in a fixed order and the first unmet condition
// becomes the rejection reason:
//
//  1. close within [MinPrice, MaxPrice]
//  2. timestamp within trading hours (inclusive)
//  3. trend filter: SMA present and close strictly above it
//  4. momentum: RSI present and within [RSILower, RSIUpper]
//  5. volume: volume / VolumeMA >= VolumeMultiplier
//  6. volatility: ATR present and >= MinATR
func (s *Strategy) CheckEntry(bar domain.Bar) (bool, string) {
	var reasons []string

	price := bar.Close
	if price < s.params.MinPrice {
		return false, fmt.Sprintf("Price $%.2f below minimum $%.2f", price, s.params.MinPrice)
	}
	if price > s.params.MaxPrice {
		return false, fmt.Sprintf("Price $%.2f above maximum $%.2f", price, s.params.MaxPrice)
	}

	if !s.inTradingHours(bar.Timestamp) {
		return false, fmt.Sprintf("Outside trading hours (%s - %s %s)",
			s.params.TradingStart, s.params.TradingEnd, s.params.Timezone)
	}

	if bar.SMA == nil {
		return false, "SMA not available"
	}
	if price <= *bar.SMA {
		return false, fmt.Sprintf("Price $%.2f not above SMA $%.2f", price, *bar.SMA)
	}
	reasons = append(reasons, "Above SMA")

	if bar.RSI == nil {
		return false, "RSI not available"
	}
	rsi := *bar.RSI
	if rsi < s.params.RSILower || rsi > s.params.RSIUpper {
		return false, fmt.Sprintf("RSI %.1f outside range (%g-%g)", rsi, s.params.RSILower, s.params.RSIUpper)
	}
	reasons = append(reasons, fmt.Sprintf("RSI %.1f", rsi))

	if bar.VolumeMA == nil {
		return false, "Volume MA not available"
	}
	volumeRatio := float64(bar.Volume) / *bar.VolumeMA
	if volumeRatio < s.params.VolumeMultiplier {
		return false, fmt.Sprintf("Volume ratio %.2f below %g", volumeRatio, s.params.VolumeMultiplier)
	}
	reasons = append(reasons, fmt.Sprintf("Vol %.2fx", volumeRatio))

	if bar.ATR == nil {
		return false, "ATR not available"
	}
	if *bar.ATR < s.params.MinATR {
		return false, fmt.Sprintf("ATR %.2f below minimum %g", *bar.ATR, s.params.MinATR)
	}
	reasons = append(reasons, fmt.Sprintf("ATR %.2f", *bar.ATR))

	return true, strings.Join(reasons, " | ")
}

// ---------------------------------------------------------------------------
// Exit evaluation
// ---------------------------------------------------------------------------

// CheckExit evaluates the exit rules for one open position against the
// current price, in fixed priority order: stop loss, take profit, time stop,
// trailing stop. The first matching rule wins; boundaries are inclusive.
// The trailing stop is only armed once unrealized gain exceeds
// TrailingTriggerPct, and measures decline from the position's highest price
// since entry.
func (s *Strategy) CheckExit(pos *domain.Position, current float64, ts time.Time) (bool, string) {
	pnlPct := (current - pos.EntryPrice) / pos.EntryPrice * 100

	if pnlPct <= -s.params.StopLossPct {
		return true, fmt.Sprintf("Stop Loss ($%.2f, %.2f%%)", current, pnlPct)
	}

	if pnlPct >= s.params.TakeProfitPct {
		return true, fmt.Sprintf("Take Profit ($%.2f, +%.2f%%)", current, pnlPct)
	}

	if s.pastCloseTime(ts) {
		return true, fmt.Sprintf("Time Stop (EOD close, %.2f%%)", pnlPct)
	}

	if pnlPct > s.params.TrailingTriggerPct {
		declineFromHigh := (current - pos.HighestPrice) / pos.HighestPrice * 100
		if declineFromHigh <= -s.params.TrailingStopPct {
			return true, fmt.Sprintf("Trailing Stop ($%.2f, %.2f%%)", current, pnlPct)
		}
	}

	return false, ""
}

// ---------------------------------------------------------------------------
// Signal generation
// ---------------------------------------------------------------------------

// GenerateEntry evaluates one bar and returns an entry signal, or nil when
// no signal should fire. A bar for a ticker that already appears in
// openPositions never produces a signal.
func (s *Strategy) GenerateEntry(bar domain.Bar, openPositions []domain.PositionRef) *domain.Signal {
	for _, ref := range openPositions {
		if ref.Ticker() == bar.Ticker {
			return nil
		}
	}

	ok, reason := s.CheckEntry(bar)
	if !ok {
		return nil
	}

	sig := &domain.Signal{
		Ticker:     bar.Ticker,
		Kind:       domain.SignalEntry,
		Timestamp:  bar.Timestamp,
		Price:      bar.Close,
		Reason:     reason,
		Confidence: 1.0,
	}
	s.log.Info("entry signal", "ticker", sig.Ticker, "price", sig.Price, "reason", sig.Reason)
	return sig
}

// GenerateExit evaluates one open position against the current price and
// returns an exit signal, or nil when no exit rule fires.
func (s *Strategy) GenerateExit(pos *domain.Position, current float64, ts time.Time) *domain.Signal {
	ok, reason := s.CheckExit(pos, current, ts)
	if !ok {
		return nil
	}
	return &domain.Signal{
		Ticker:     pos.Ticker,
		Kind:       domain.SignalExit,
		Timestamp:  ts,
		Price:      current,
		Reason:     reason,
		Confidence: 1.0,
	}
}

// ---------------------------------------------------------------------------
// Sizing and price levels
// ---------------------------------------------------------------------------

// PositionSize returns the number of shares to buy:
// floor(min(maxPositionSize, equity*0.2) / price), with a minimum of one
// share whenever the account can afford it. Pure function, no side effects.
func (s *Strategy) PositionSize(equity, price, maxPositionSize float64) int {
	if price <= 0 {
		return 0
	}
	positionValue := equity * 0.2
	if maxPositionSize < positionValue {
		positionValue = maxPositionSize
	}
	shares := int(positionValue / price)
	if shares < 1 && price <= equity {
		shares = 1
	}
	return shares
}

// StopLossPrice returns the stop-loss level for an entry price.
func (s *Strategy) StopLossPrice(entry float64) float64 {
	return entry * (1 - s.params.StopLossPct/100)
}

// TakeProfitPrice returns the take-profit level for an entry price.
func (s *Strategy) TakeProfitPrice(entry float64) float64 {
	return entry * (1 + s.params.TakeProfitPct/100)
}

// ---------------------------------------------------------------------------
// Trading-hours helpers
// ---------------------------------------------------------------------------

// inTradingHours reports whether ts falls inside the entry window
// [TradingStart, TradingEnd], inclusive, in the configured time zone.
func (s *Strategy) inTradingHours(ts time.Time) bool {
	m := minuteOfDay(ts.In(s.loc))
	return m >= s.startMin && m <= s.endMin
}

// pastCloseTime reports whether ts has reached the close-all cutoff.
func (s *Strategy) pastCloseTime(ts time.Time) bool {
	return minuteOfDay(ts.In(s.loc)) >= s.closeMin
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
