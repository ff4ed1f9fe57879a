package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradesim/internal/domain"
	"tradesim/internal/store"
	"tradesim/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*BarGatherer)(nil)

// BarGatherer fetches intraday OHLCV bars for a fixed ticker list via the
// Alpaca market-data API and writes them to the bar store. Tickers are
// fetched in batches; each API call goes through the rate limiter and is
// retried with exponential backoff.
type BarGatherer struct {
	client    *marketdata.Client
	store     store.BarStore
	tickers   []string
	dateRange DateRange
	timeframe marketdata.TimeFrame

	batchSize  int
	maxRetries int
	limiter    *util.RateLimiter

	log *slog.Logger
}

// BarGathererOpts configures a BarGatherer.
type BarGathererOpts struct {
	APIKey           string
	APISecret        string
	DataURL          string
	Tickers          []string
	Range            DateRange
	TimeframeMinutes int
	BatchSize        int
	RateLimitPerMin  int
	MaxRetries       int
}

// NewBarGatherer creates a BarGatherer writing to the given store.
func NewBarGatherer(opts BarGathererOpts, s store.BarStore) *BarGatherer {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}
	minutes := opts.TimeframeMinutes
	if minutes <= 0 {
		minutes = 5
	}

	return &BarGatherer{
		client:     marketdata.NewClient(clientOpts),
		store:      s,
		tickers:    opts.Tickers,
		dateRange:  opts.Range,
		timeframe:  marketdata.NewTimeFrame(minutes, marketdata.Min),
		batchSize:  batchSize,
		maxRetries: maxRetries,
		limiter:    util.NewRateLimiter(perMin),
		log:        slog.Default().With("gatherer", "alpaca-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return "alpaca-bars" }

// Run fetches bars for every configured ticker across the date range and
// writes them to the store, one batch per API call.
func (g *BarGatherer) Run(ctx context.Context) error {
	if len(g.tickers) == 0 {
		return fmt.Errorf("no tickers configured")
	}

	runStart := time.Now()
	total := 0

	for start := 0; start < len(g.tickers); start += g.batchSize {
		end := start + g.batchSize
		if end > len(g.tickers) {
			end = len(g.tickers)
		}
		batch := g.tickers[start:end]

		bars, err := g.fetchBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("fetching batch %v: %w", batch, err)
		}

		if err := g.store.WriteBars(ctx, bars, "us"); err != nil {
			return fmt.Errorf("writing batch %v: %w", batch, err)
		}

		total += len(bars)
		g.log.Info("batch stored", "tickers", len(batch), "bars", len(bars))
	}

	g.log.Info("complete",
		"bars", total,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchBatch fetches bars for multiple tickers in a single API call, rate
// limited and retried.
func (g *BarGatherer) fetchBatch(ctx context.Context, tickers []string) ([]domain.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, g.maxRetries, time.Second, func() error {
		var err error
		multiBars, err = g.client.GetMultiBars(tickers, marketdata.GetBarsRequest{
			TimeFrame: g.timeframe,
			Start:     g.dateRange.Start,
			End:       g.dateRange.End,
			Feed:      "iex",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for ticker, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Ticker:    strings.ToUpper(ticker),
				Timestamp: ab.Timestamp,
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
			})
		}
	}
	return bars, nil
}
