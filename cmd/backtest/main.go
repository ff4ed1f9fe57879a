// Command backtest replays stored bar data through the strategy, risk gate,
// and portfolio, prints the performance report, and persists the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradesim/internal/backtest"
	"tradesim/internal/config"
	"tradesim/internal/domain"
	"tradesim/internal/indicator"
	"tradesim/internal/risk"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
	"tradesim/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	tickers := flag.String("tickers", "", "comma-separated tickers (overrides config)")
	startStr := flag.String("start", "", "start date YYYY-MM-DD (overrides config)")
	endStr := flag.String("end", "", "end date YYYY-MM-DD (default: today)")
	save := flag.Bool("save", true, "persist the run to the results database")
	flag.Parse()

	if *cfgPath == "" {
		if p := os.Getenv("TRADESIM_CONFIG"); p != "" {
			*cfgPath = p
		}
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	tickerList := cfg.Fetch.Tickers
	if *tickers != "" {
		tickerList = splitTickers(*tickers)
	}
	if len(tickerList) == 0 {
		log.Fatal("no tickers: pass -tickers or set fetch.tickers in config")
	}

	start, end, err := resolveRange(cfg, *startStr, *endStr)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load and annotate bar series.
	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	series := make(map[string][]domain.Bar, len(tickerList))
	for _, ticker := range tickerList {
		bars, err := pstore.ReadBars(ctx, ticker, "us", start, end)
		if err != nil {
			log.Fatalf("reading bars for %s: %v", ticker, err)
		}
		if len(bars) == 0 {
			log.Fatalf("no bars stored for %s in %s..%s (run fetch first)",
				ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))
		}
		series[ticker] = indicator.Annotate(bars, indicator.DefaultParams())
	}

	// Assemble the replay pipeline from config.
	strat, err := strategy.New(strategyParams(cfg))
	if err != nil {
		log.Fatalf("building strategy: %v", err)
	}
	runner := backtest.NewRunner(strat, risk.New(riskLimits(cfg)), backtest.NewPortfolio(backtestConfig(cfg)))

	report, err := runner.Run(series)
	if err != nil {
		log.Fatalf("backtest error: %v", err)
	}

	printReport(report)

	if *save {
		if err := persistRun(ctx, cfg, tickerList, start, end, report, runner); err != nil {
			log.Fatalf("saving results: %v", err)
		}
	}
}

func resolveRange(cfg *config.Config, startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" {
		startStr = cfg.Fetch.StartDate
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", startStr, err)
	}

	end := time.Now().UTC()
	if endStr == "" {
		endStr = cfg.Fetch.EndDate
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", endStr, err)
		}
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func strategyParams(cfg *config.Config) strategy.Params {
	s := cfg.Strategy
	return strategy.Params{
		MinPrice:           s.MinPrice,
		MaxPrice:           s.MaxPrice,
		RSILower:           s.RSILower,
		RSIUpper:           s.RSIUpper,
		VolumeMultiplier:   s.VolumeMultiplier,
		MinATR:             s.MinATR,
		StopLossPct:        s.StopLossPct,
		TakeProfitPct:      s.TakeProfitPct,
		TrailingTriggerPct: s.TrailingTriggerPct,
		TrailingStopPct:    s.TrailingStopPct,
		TradingStart:       s.TradingStart,
		TradingEnd:         s.TradingEnd,
		PositionCloseTime:  s.PositionCloseTime,
		Timezone:           s.Timezone,
	}
}

func riskLimits(cfg *config.Config) risk.Limits {
	limits := risk.DefaultLimits()
	limits.MaxPositionSize = cfg.Backtest.MaxPositionSize
	limits.MaxPositions = cfg.Backtest.MaxPositions
	limits.MaxSectorPositions = cfg.Risk.MaxSectorPositions
	limits.DailyLossLimit = cfg.Backtest.DailyLossLimit
	limits.WeeklyLossLimit = cfg.Backtest.WeeklyLossLimit
	limits.MaxDrawdownPct = cfg.Backtest.MaxDrawdownPct
	return limits
}

func backtestConfig(cfg *config.Config) backtest.Config {
	b := cfg.Backtest
	return backtest.Config{
		StartingCapital:    b.StartingCapital,
		MaxPositions:       b.MaxPositions,
		MaxPositionSize:    b.MaxPositionSize,
		CommissionPerTrade: b.CommissionPerTrade,
		SlippagePct:        b.SlippagePct,
		DailyLossLimit:     b.DailyLossLimit,
		MaxDrawdownPct:     b.MaxDrawdownPct,
	}
}

func printReport(r backtest.Report) {
	fmt.Println()
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Starting capital:  $%.2f\n", r.StartingCapital)
	fmt.Printf("Final equity:      $%.2f\n", r.FinalEquity)
	fmt.Printf("Total return:      %.2f%%\n", r.TotalReturnPct)
	fmt.Printf("Max drawdown:      %.2f%%\n", r.MaxDrawdownPct)
	fmt.Printf("Total trades:      %d (%d wins / %d losses)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	fmt.Printf("Win rate:          %.1f%%\n", r.WinRatePct)
	fmt.Printf("Profit factor:     %.2f\n", r.ProfitFactor)
	fmt.Printf("Avg win / loss:    $%.2f / $%.2f\n", r.AvgWin, r.AvgLoss)
	fmt.Printf("Largest win/loss:  $%.2f / $%.2f\n", r.LargestWin, r.LargestLoss)
	fmt.Printf("Sharpe ratio:      %.2f\n", r.SharpeRatio)
	fmt.Printf("Commission paid:   $%.2f\n", r.TotalCommission)
	fmt.Printf("Slippage cost:     $%.2f\n", r.TotalSlippage)
}

func persistRun(ctx context.Context, cfg *config.Config, tickers []string, start, end time.Time, r backtest.Report, runner *backtest.Runner) error {
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.SaveRun(ctx, &store.RunSummary{
		Start:           start,
		End:             end,
		Tickers:         strings.Join(tickers, ","),
		StartingCapital: r.StartingCapital,
		FinalEquity:     r.FinalEquity,
		TotalReturnPct:  r.TotalReturnPct,
		MaxDrawdownPct:  r.MaxDrawdownPct,
		TotalTrades:     r.TotalTrades,
		WinningTrades:   r.WinningTrades,
		LosingTrades:    r.LosingTrades,
		WinRatePct:      r.WinRatePct,
		ProfitFactor:    r.ProfitFactor,
		SharpeRatio:     r.SharpeRatio,
		TotalCommission: r.TotalCommission,
		TotalSlippage:   r.TotalSlippage,
	})
	if err != nil {
		return err
	}

	if err := db.SaveTrades(ctx, runID, runner.Trades()); err != nil {
		return err
	}
	if err := db.SaveEquityCurve(ctx, runID, runner.EquityCurve()); err != nil {
		return err
	}
	if err := db.SaveSignals(ctx, runID, runner.Signals()); err != nil {
		return err
	}

	fmt.Printf("\nSaved run %d to %s\n", runID, cfg.Storage.SQLitePath)
	return nil
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
