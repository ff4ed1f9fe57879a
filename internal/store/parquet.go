package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradesim/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data. Indicator columns are
// optional: raw fetched bars leave them unset, annotated bars carry them.
type BarRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`

	SMA      *float64 `parquet:"sma,optional"`
	RSI      *float64 `parquet:"rsi,optional"`
	ATR      *float64 `parquet:"atr,optional"`
	VolumeMA *float64 `parquet:"volume_ma,optional"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Ticker:    b.Ticker,
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		SMA:       b.SMA,
		RSI:       b.RSI,
		ATR:       b.ATR,
		VolumeMA:  b.VolumeMA,
	}
}

func toBar(r BarRecord) domain.Bar {
	return domain.Bar{
		Ticker:    r.Ticker,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		SMA:       r.SMA,
		RSI:       r.RSI,
		ATR:       r.ATR,
		VolumeMA:  r.VolumeMA,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by ticker and year.
// Each ticker+year combination produces a separate file at:
//
//	<DataDir>/<market>/bars/<TICKER>/<YYYY>.parquet
//
// Existing records are merged in, deduplicated by (ticker, timestamp) with
// incoming records winning.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar, market string) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{ticker: b.Ticker, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		path := s.barPath(k.ticker, market, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given ticker and time
// range. Years without a file are skipped.
func (s *ParquetStore) ReadBars(_ context.Context, ticker string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.barPath(ticker, market, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				bars = append(bars, toBar(r))
			}
		}
	}
	return bars, nil
}

// ListTickers lists all tickers that have bar data in the given market.
func (s *ParquetStore) ListTickers(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "bars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/bars/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) barPath(ticker, market string, year int) string {
	return filepath.Join(s.DataDir, market, "bars", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (ticker, timestamp), preferring
// new records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		ticker string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
