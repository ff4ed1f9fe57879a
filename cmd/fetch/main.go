// Command fetch downloads historical intraday bars from the Alpaca
// market-data API into the Parquet bar store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradesim/internal/config"
	"tradesim/internal/gather"
	"tradesim/internal/store"
	"tradesim/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	tickers := flag.String("tickers", "", "comma-separated tickers (overrides config)")
	startStr := flag.String("start", "", "start date YYYY-MM-DD (overrides config)")
	endStr := flag.String("end", "", "end date YYYY-MM-DD (default: today)")
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

	if *startStr == "" {
		*startStr = cfg.Fetch.StartDate
	}
	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid start date %q: %v", *startStr, err)
	}

	end := time.Now().UTC()
	if *endStr == "" {
		*endStr = cfg.Fetch.EndDate
	}
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("invalid end date %q: %v", *endStr, err)
		}
		// Include the whole end day.
		end = end.AddDate(0, 0, 1)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	gatherer := gather.NewBarGatherer(gather.BarGathererOpts{
		APIKey:           cfg.Alpaca.APIKey,
		APISecret:        cfg.Alpaca.APISecret,
		DataURL:          cfg.Alpaca.DataURL,
		Tickers:          tickerList,
		Range:            gather.DateRange{Start: start, End: end},
		TimeframeMinutes: cfg.Fetch.TimeframeMinutes,
		BatchSize:        cfg.Fetch.BatchSize,
		RateLimitPerMin:  cfg.Fetch.RateLimitPerMin,
		MaxRetries:       cfg.Fetch.MaxRetries,
	}, pstore)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("fetch error: %v", err)
	}
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
