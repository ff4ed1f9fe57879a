// Package risk implements the pre-trade risk gate: position sizing limits,
// daily/weekly loss limits, drawdown enforcement, and the circuit breaker.
package risk

import (
	"fmt"
	"log/slog"
	"time"
)

// Limits is the risk limit configuration, consumed at construction.
type Limits struct {
	MaxPositionSize    float64 // max $ per position
	MaxPositions       int     // max concurrent positions
	MaxSectorPositions int     // max positions per sector
	DailyLossLimit     float64 // max daily loss ($, magnitude)
	WeeklyLossLimit    float64 // max weekly loss ($, magnitude)
	MaxDrawdownPct     float64 // max portfolio drawdown %
	PositionSizePct    float64 // max % of capital per position
}

// DefaultLimits returns the stock limit set: $1,000 per position, 5
// concurrent positions, 2 per sector, $100/$300 daily/weekly loss, 15%
// drawdown, 20% of capital per position.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:    1000.0,
		MaxPositions:       5,
		MaxSectorPositions: 2,
		DailyLossLimit:     100.0,
		WeeklyLossLimit:    300.0,
		MaxDrawdownPct:     15.0,
		PositionSizePct:    20.0,
	}
}

// Status is a read-only snapshot of the risk state.
type Status struct {
	TradingHalted      bool
	HaltReason         string
	DailyPnL           float64
	DailyLossLimit     float64
	DailyLimitUsedPct  float64
	WeeklyPnL          float64
	WeeklyLossLimit    float64
	WeeklyLimitUsedPct float64
	CurrentDrawdownPct float64
	MaxDrawdownPct     float64
	PeakEquity         float64
}

// Manager is the sole authority on whether a proposed trade executes. It
// owns the process-wide risk counters explicitly — each backtest run gets
// its own Manager so concurrent runs cannot leak state into each other.
// Manager is not safe for concurrent use.
type Manager struct {
	limits Limits

	// Daily/weekly realized P&L. Resets are date-boundary triggered as a
	// side effect of the next UpdatePnL or ValidateTrade call that observes
	// a new date; there is no background clock.
	dailyPnL    float64
	weeklyPnL   float64
	currentDate time.Time
	hasDate     bool
	weekStart   time.Time
	hasWeek     bool

	// Drawdown tracking.
	peakEquity  float64
	drawdownPct float64

	// Circuit breaker. Latched: once tripped, every validation fails with
	// the halt reason until ResumeTrading.
	halted     bool
	haltReason string

	log *slog.Logger
}

// New creates a Manager with the given limits.
func New(limits Limits) *Manager {
	return &Manager{
		limits: limits,
		log:    slog.Default().With("component", "risk"),
	}
}

// ---------------------------------------------------------------------------
// P&L and drawdown tracking
// ---------------------------------------------------------------------------

// resetDailyPnL zeroes the daily tracker when the calendar date changes.
func (m *Manager) resetDailyPnL(now time.Time) {
	if !m.hasDate || !sameDate(now, m.currentDate) {
		if m.hasDate {
			m.log.Info("resetting daily P&L", "previous", m.dailyPnL)
		}
		m.dailyPnL = 0
		m.currentDate = now
		m.hasDate = true
	}
}

// resetWeeklyPnL zeroes the weekly tracker once 7 elapsed days have passed
// since the stored week start.
func (m *Manager) resetWeeklyPnL(now time.Time) {
	if !m.hasWeek {
		m.weekStart = now
		m.hasWeek = true
		return
	}
	if now.Sub(m.weekStart) >= 7*24*time.Hour {
		m.log.Info("resetting weekly P&L", "previous", m.weeklyPnL)
		m.weeklyPnL = 0
		m.weekStart = now
	}
}

// UpdatePnL adds a realized P&L amount to the daily and weekly trackers,
// applying any pending date-boundary resets first.
func (m *Manager) UpdatePnL(pnl float64, now time.Time) {
	m.resetDailyPnL(now)
	m.resetWeeklyPnL(now)

	m.dailyPnL += pnl
	m.weeklyPnL += pnl

	m.log.Debug("updated P&L", "daily", m.dailyPnL, "weekly", m.weeklyPnL)
}

// UpdateDrawdown recomputes drawdown from the given equity. A new equity
// high raises the peak and resets drawdown to zero; otherwise drawdown is
// the percentage decline from peak.
func (m *Manager) UpdateDrawdown(equity float64) {
	if equity > m.peakEquity {
		m.peakEquity = equity
		m.drawdownPct = 0
	} else {
		m.drawdownPct = (m.peakEquity - equity) / m.peakEquity * 100
	}
}

// ---------------------------------------------------------------------------
// Trade validation
// ---------------------------------------------------------------------------

// ValidateTrade decides whether a proposed trade may execute. Checks run in
// a fixed order and the first failure wins:
//
//  1. circuit breaker active
//  2. daily loss limit (trips the breaker)
//  3. weekly loss limit (soft: rejects without tripping)
//  4. max drawdown (trips the breaker)
//  5. position-count and sector limits
//  6. absolute position-size cap
//  7. available equity
//
// sectorCounts may be nil when no sector data is available. Every failure
// returns false plus a reason string suitable for direct logging; passing
// all checks returns (true, "").
func (m *Manager) ValidateTrade(ticker string, price float64, quantity int, equity float64, openPositions int, sectorCounts map[string]int, now time.Time) (bool, string) {
	if m.halted {
		return false, fmt.Sprintf("Trading halted: %s", m.haltReason)
	}

	m.resetDailyPnL(now)
	m.resetWeeklyPnL(now)
	m.UpdateDrawdown(equity)

	if abs(m.dailyPnL) >= m.limits.DailyLossLimit {
		m.log.Warn("daily loss limit breached", "dailyPnL", m.dailyPnL, "limit", m.limits.DailyLossLimit)
		m.HaltTrading("Daily loss limit exceeded")
		return false, "Daily loss limit exceeded"
	}

	if abs(m.weeklyPnL) >= m.limits.WeeklyLossLimit {
		m.log.Warn("weekly loss limit breached", "weeklyPnL", m.weeklyPnL, "limit", m.limits.WeeklyLossLimit)
		return false, "Weekly loss limit exceeded - review required"
	}

	if m.drawdownPct >= m.limits.MaxDrawdownPct {
		m.log.Warn("max drawdown breached", "drawdown", m.drawdownPct, "limit", m.limits.MaxDrawdownPct)
		m.HaltTrading("Max drawdown exceeded")
		return false, "Max drawdown exceeded"
	}

	if m.positionLimitsBreached(openPositions, sectorCounts) {
		return false, "Position limits exceeded"
	}

	positionValue := price * float64(quantity)
	if positionValue > m.limits.MaxPositionSize {
		return false, fmt.Sprintf("Position size $%.2f exceeds limit $%.2f", positionValue, m.limits.MaxPositionSize)
	}

	if positionValue > equity {
		return false, "Insufficient capital"
	}

	_ = ticker
	return true, ""
}

// positionLimitsBreached checks the concurrent-position cap and, when sector
// data is supplied, the per-sector cap.
func (m *Manager) positionLimitsBreached(openPositions int, sectorCounts map[string]int) bool {
	if openPositions >= m.limits.MaxPositions {
		m.log.Warn("max positions limit", "open", openPositions, "limit", m.limits.MaxPositions)
		return true
	}
	for sector, count := range sectorCounts {
		if count >= m.limits.MaxSectorPositions {
			m.log.Warn("max sector positions", "sector", sector, "count", count, "limit", m.limits.MaxSectorPositions)
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

// HaltTrading latches the circuit breaker. All subsequent validations fail
// with the given reason until ResumeTrading.
func (m *Manager) HaltTrading(reason string) {
	m.halted = true
	m.haltReason = reason
	m.log.Error("TRADING HALTED", "reason", reason)
}

// ResumeTrading clears the circuit breaker. This is a manual action taken
// after review, never part of replay control flow.
func (m *Manager) ResumeTrading() {
	m.halted = false
	m.haltReason = ""
	m.log.Info("trading resumed")
}

// Halted reports the circuit-breaker state and halt reason.
func (m *Manager) Halted() (bool, string) {
	return m.halted, m.haltReason
}

// ---------------------------------------------------------------------------
// Sizing and status
// ---------------------------------------------------------------------------

// PositionSize returns the number of shares permitted by the risk limits:
// the smaller of the fixed cap and PositionSizePct of equity, floored to at
// least one share when the account can afford it.
func (m *Manager) PositionSize(equity, price float64) int {
	if price <= 0 {
		return 0
	}
	maxByPct := equity * m.limits.PositionSizePct / 100
	positionValue := m.limits.MaxPositionSize
	if maxByPct < positionValue {
		positionValue = maxByPct
	}
	shares := int(positionValue / price)
	if shares == 0 && equity >= price {
		shares = 1
	}
	return shares
}

// Status returns a snapshot of the current risk state.
func (m *Manager) Status() Status {
	return Status{
		TradingHalted:      m.halted,
		HaltReason:         m.haltReason,
		DailyPnL:           m.dailyPnL,
		DailyLossLimit:     m.limits.DailyLossLimit,
		DailyLimitUsedPct:  abs(m.dailyPnL) / m.limits.DailyLossLimit * 100,
		WeeklyPnL:          m.weeklyPnL,
		WeeklyLossLimit:    m.limits.WeeklyLossLimit,
		WeeklyLimitUsedPct: abs(m.weeklyPnL) / m.limits.WeeklyLossLimit * 100,
		CurrentDrawdownPct: m.drawdownPct,
		MaxDrawdownPct:     m.limits.MaxDrawdownPct,
		PeakEquity:         m.peakEquity,
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
