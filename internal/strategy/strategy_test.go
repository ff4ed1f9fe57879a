package strategy

import (
	"strings"
	"testing"
	"time"

	"tradesim/internal/domain"
)

func fp(v float64) *float64 { return &v }

func mustNew(t *testing.T) *Strategy {
	t.Helper()
	s, err := New(DefaultParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// ts returns a timestamp inside the entry window (12:00 ET).
func tradingTS() time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	return time.Date(2024, 1, 2, 12, 0, 0, 0, loc)
}

func goodBar() domain.Bar {
	return domain.Bar{
		Ticker:    "AAPL",
		Timestamp: tradingTS(),
		Close:     150.0,
		Volume:    1000000,
		SMA:       fp(149.0),
		RSI:       fp(55.0),
		ATR:       fp(1.5),
		VolumeMA:  fp(800000),
	}
}

func TestCheckEntryAllConditionsMet(t *testing.T) {
	s := mustNew(t)

	ok, reason := s.CheckEntry(goodBar())
	if !ok {
		t.Fatalf("CheckEntry rejected: %s", reason)
	}
	for _, want := range []string{"Above SMA", "RSI 55.0", "Vol 1.25x", "ATR 1.50"} {
		if !strings.Contains(reason, want) {
			t.Errorf("reason %q missing %q", reason, want)
		}
	}
}

func TestCheckEntryRejectionOrder(t *testing.T) {
	s := mustNew(t)
	loc, _ := time.LoadLocation("America/New_York")

	tests := []struct {
		name   string
		mutate func(*domain.Bar)
		want   string
	}{
		{"below min price", func(b *domain.Bar) { b.Close = 15.0 }, "below minimum"},
		{"above max price", func(b *domain.Bar) { b.Close = 600.0 }, "above maximum"},
		{"outside hours", func(b *domain.Bar) {
			b.Timestamp = time.Date(2024, 1, 2, 9, 0, 0, 0, loc)
		}, "Outside trading hours"},
		{"missing sma", func(b *domain.Bar) { b.SMA = nil }, "SMA not available"},
		{"below sma", func(b *domain.Bar) { b.SMA = fp(151.0) }, "not above SMA"},
		{"missing rsi", func(b *domain.Bar) { b.RSI = nil }, "RSI not available"},
		{"rsi too low", func(b *domain.Bar) { b.RSI = fp(30.0) }, "outside range"},
		{"rsi too high", func(b *domain.Bar) { b.RSI = fp(80.0) }, "outside range"},
		{"missing volume ma", func(b *domain.Bar) { b.VolumeMA = nil }, "Volume MA not available"},
		{"thin volume", func(b *domain.Bar) { b.VolumeMA = fp(2000000) }, "Volume ratio"},
		{"missing atr", func(b *domain.Bar) { b.ATR = nil }, "ATR not available"},
		{"low atr", func(b *domain.Bar) { b.ATR = fp(0.1) }, "ATR 0.10 below minimum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := goodBar()
			tt.mutate(&bar)
			ok, reason := s.CheckEntry(bar)
			if ok {
				t.Fatal("CheckEntry accepted, want rejection")
			}
			if !strings.Contains(reason, tt.want) {
				t.Errorf("reason = %q, want substring %q", reason, tt.want)
			}
		})
	}
}

func TestCheckEntryBoundariesInclusive(t *testing.T) {
	s := mustNew(t)
	loc, _ := time.LoadLocation("America/New_York")

	// RSI exactly at the bounds passes.
	for _, rsi := range []float64{40, 70} {
		bar := goodBar()
		bar.RSI = fp(rsi)
		if ok, reason := s.CheckEntry(bar); !ok {
			t.Errorf("RSI %v rejected: %s", rsi, reason)
		}
	}

	// Window edges 10:00 and 15:00 ET are inside.
	for _, hm := range []struct{ h, m int }{{10, 0}, {15, 0}} {
		bar := goodBar()
		bar.Timestamp = time.Date(2024, 1, 2, hm.h, hm.m, 0, 0, loc)
		if ok, reason := s.CheckEntry(bar); !ok {
			t.Errorf("%02d:%02d rejected: %s", hm.h, hm.m, reason)
		}
	}

	// 15:01 is outside.
	bar := goodBar()
	bar.Timestamp = time.Date(2024, 1, 2, 15, 1, 0, 0, loc)
	if ok, _ := s.CheckEntry(bar); ok {
		t.Error("15:01 accepted, want rejection")
	}

	// Volume ratio exactly at the multiplier passes.
	bar = goodBar()
	bar.Volume = 960000
	bar.VolumeMA = fp(800000) // ratio exactly 1.2
	if ok, reason := s.CheckEntry(bar); !ok {
		t.Errorf("volume ratio 1.2 rejected: %s", reason)
	}
}

func TestCheckEntryTimezoneConversion(t *testing.T) {
	s := mustNew(t)

	// 17:00 UTC in January is 12:00 ET — inside the window.
	bar := goodBar()
	bar.Timestamp = time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC)
	if ok, reason := s.CheckEntry(bar); !ok {
		t.Errorf("17:00 UTC rejected: %s", reason)
	}

	// 21:00 UTC is 16:00 ET — outside.
	bar.Timestamp = time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	if ok, _ := s.CheckEntry(bar); ok {
		t.Error("21:00 UTC accepted, want rejection")
	}
}

func TestCheckExitStopLossBoundary(t *testing.T) {
	s := mustNew(t)
	pos := &domain.Position{Ticker: "TEST", EntryPrice: 150.0, Quantity: 10, HighestPrice: 150.0}

	// -1.0% exactly triggers the stop (inclusive boundary).
	ok, reason := s.CheckExit(pos, 148.5, tradingTS())
	if !ok {
		t.Fatal("exit not triggered at exactly -1.0%")
	}
	if !strings.Contains(reason, "Stop Loss") {
		t.Errorf("reason = %q, want Stop Loss", reason)
	}

	// -0.99% does not.
	if ok, reason := s.CheckExit(pos, 148.52, tradingTS()); ok {
		t.Errorf("exit triggered at -0.99%%: %s", reason)
	}
}

func TestCheckExitTakeProfitBoundary(t *testing.T) {
	s := mustNew(t)
	pos := &domain.Position{Ticker: "TEST", EntryPrice: 150.0, Quantity: 10, HighestPrice: 150.0}

	// +1.5% exactly triggers the target (inclusive boundary).
	ok, reason := s.CheckExit(pos, 152.25, tradingTS())
	if !ok {
		t.Fatal("exit not triggered at exactly +1.5%")
	}
	if !strings.Contains(reason, "Take Profit") {
		t.Errorf("reason = %q, want Take Profit", reason)
	}
}

func TestCheckExitTimeStop(t *testing.T) {
	s := mustNew(t)
	loc, _ := time.LoadLocation("America/New_York")
	pos := &domain.Position{Ticker: "TEST", EntryPrice: 150.0, Quantity: 10, HighestPrice: 150.0}

	ok, reason := s.CheckExit(pos, 150.0, time.Date(2024, 1, 2, 15, 55, 0, 0, loc))
	if !ok {
		t.Fatal("exit not triggered at 15:55")
	}
	if !strings.Contains(reason, "Time Stop") {
		t.Errorf("reason = %q, want Time Stop", reason)
	}

	if ok, _ := s.CheckExit(pos, 150.0, time.Date(2024, 1, 2, 15, 54, 0, 0, loc)); ok {
		t.Error("exit triggered before close time")
	}
}

func TestCheckExitTrailingStop(t *testing.T) {
	s := mustNew(t)

	// Up +2% then back off the high by 0.5%: trailing stop fires.
	pos := &domain.Position{Ticker: "TEST", EntryPrice: 100.0, Quantity: 10, HighestPrice: 102.0}
	ok, reason := s.CheckExit(pos, 101.49, tradingTS())
	if !ok {
		t.Fatal("trailing stop not triggered")
	}
	if !strings.Contains(reason, "Trailing Stop") {
		t.Errorf("reason = %q, want Trailing Stop", reason)
	}

	// Not yet armed: gain below the trigger threshold.
	pos = &domain.Position{Ticker: "TEST", EntryPrice: 100.0, Quantity: 10, HighestPrice: 100.9}
	if ok, reason := s.CheckExit(pos, 100.3, tradingTS()); ok {
		t.Errorf("trailing stop fired below trigger: %s", reason)
	}
}

func TestExitPriorityStopLossFirst(t *testing.T) {
	// Past the close cutoff AND below the stop: stop loss wins.
	s := mustNew(t)
	loc, _ := time.LoadLocation("America/New_York")
	pos := &domain.Position{Ticker: "TEST", EntryPrice: 150.0, Quantity: 10, HighestPrice: 150.0}

	ok, reason := s.CheckExit(pos, 147.0, time.Date(2024, 1, 2, 15, 56, 0, 0, loc))
	if !ok {
		t.Fatal("exit not triggered")
	}
	if !strings.Contains(reason, "Stop Loss") {
		t.Errorf("reason = %q, want Stop Loss to win over Time Stop", reason)
	}
}

func TestGenerateEntrySkipsOpenPositions(t *testing.T) {
	s := mustNew(t)
	bar := goodBar()

	open := []domain.PositionRef{
		domain.TickerRef("MSFT"),
		domain.PositionRefOf(&domain.Position{Ticker: "AAPL", EntryPrice: 150, Quantity: 1}),
	}
	if sig := s.GenerateEntry(bar, open); sig != nil {
		t.Errorf("signal generated for ticker with open position: %v", sig)
	}

	// Without an AAPL position a signal fires.
	sig := s.GenerateEntry(bar, []domain.PositionRef{domain.TickerRef("MSFT")})
	if sig == nil {
		t.Fatal("no signal generated")
	}
	if sig.Kind != domain.SignalEntry || sig.Ticker != "AAPL" || sig.Price != 150.0 {
		t.Errorf("signal = %+v", sig)
	}
}

func TestGenerateExit(t *testing.T) {
	s := mustNew(t)
	pos := &domain.Position{Ticker: "AAPL", EntryPrice: 150.0, Quantity: 6, HighestPrice: 150.0}

	sig := s.GenerateExit(pos, 152.25, tradingTS())
	if sig == nil {
		t.Fatal("no exit signal")
	}
	if sig.Kind != domain.SignalExit || sig.Price != 152.25 {
		t.Errorf("signal = %+v", sig)
	}

	if sig := s.GenerateExit(pos, 150.5, tradingTS()); sig != nil {
		t.Errorf("unexpected exit signal: %v", sig)
	}
}

func TestPositionSize(t *testing.T) {
	s := mustNew(t)

	tests := []struct {
		equity, price, maxSize float64
		want                   int
	}{
		{10000, 150, 1000, 6},  // min(1000, 2000)/150 = 6
		{4000, 150, 1000, 5},   // min(1000, 800)/150 = 5
		{10000, 950, 1000, 1},  // floor gives 1
		{10000, 1500, 1000, 1}, // floors to zero but affordable -> 1
		{100, 150, 1000, 0},    // cannot afford a single share
	}
	for _, tt := range tests {
		if got := s.PositionSize(tt.equity, tt.price, tt.maxSize); got != tt.want {
			t.Errorf("PositionSize(%v, %v, %v) = %d, want %d", tt.equity, tt.price, tt.maxSize, got, tt.want)
		}
	}
}

func TestStopAndTargetPrices(t *testing.T) {
	s := mustNew(t)

	if got := s.StopLossPrice(150.0); got != 148.5 {
		t.Errorf("StopLossPrice(150) = %v, want 148.5", got)
	}
	if got := s.TakeProfitPrice(150.0); got != 152.25 {
		t.Errorf("TakeProfitPrice(150) = %v, want 152.25", got)
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.Timezone = "Not/AZone"
	if _, err := New(p); err == nil {
		t.Error("New accepted bogus timezone")
	}

	p = DefaultParams()
	p.TradingStart = "25:00"
	if _, err := New(p); err == nil {
		t.Error("New accepted bogus trading_start")
	}
}
