// Package config loads the tradesim YAML configuration, .env file, and
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradesim system.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Backtest BacktestConfig `yaml:"backtest"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FetchConfig holds parameters for the historical bar fetch job.
type FetchConfig struct {
	Tickers          []string `yaml:"tickers"`
	StartDate        string   `yaml:"start_date"`
	EndDate          string   `yaml:"end_date"`
	TimeframeMinutes int      `yaml:"timeframe_minutes"`
	BatchSize        int      `yaml:"batch_size"`
	RateLimitPerMin  int      `yaml:"rate_limit_per_min"`
	MaxRetries       int      `yaml:"max_retries"`
}

// BacktestConfig defines capital and execution-cost parameters for the
// simulation ledger. All values are consumed at construction and never
// mutated mid-run.
type BacktestConfig struct {
	StartingCapital    float64 `yaml:"starting_capital"`
	MaxPositions       int     `yaml:"max_positions"`
	MaxPositionSize    float64 `yaml:"max_position_size"`
	CommissionPerTrade float64 `yaml:"commission_per_trade"`
	SlippagePct        float64 `yaml:"slippage_pct"`
	DailyLossLimit     float64 `yaml:"daily_loss_limit"`
	WeeklyLossLimit    float64 `yaml:"weekly_loss_limit"`
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct"`
}

// StrategyConfig defines the entry/exit rule thresholds and the trading-hours
// window.
type StrategyConfig struct {
	MinPrice           float64 `yaml:"min_price"`
	MaxPrice           float64 `yaml:"max_price"`
	RSILower           float64 `yaml:"rsi_lower"`
	RSIUpper           float64 `yaml:"rsi_upper"`
	VolumeMultiplier   float64 `yaml:"volume_multiplier"`
	MinATR             float64 `yaml:"min_atr"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	TrailingTriggerPct float64 `yaml:"trailing_trigger_pct"`
	TrailingStopPct    float64 `yaml:"trailing_stop_pct"`
	TradingStart       string  `yaml:"trading_start"`  // HH:MM in Timezone
	TradingEnd         string  `yaml:"trading_end"`    // HH:MM, inclusive
	PositionCloseTime  string  `yaml:"position_close"` // HH:MM, close-all cutoff
	Timezone           string  `yaml:"timezone"`
}

// RiskConfig holds limits enforced by the risk gate beyond the backtest
// ledger's own checks.
type RiskConfig struct {
	MaxSectorPositions int `yaml:"max_sector_positions"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the built-in configuration: a $10,000 paper account
// trading the intraday rule set on 5-minute bars, US market hours.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradesim.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Fetch: FetchConfig{
			StartDate:        "2024-01-01",
			TimeframeMinutes: 5,
			BatchSize:        50,
			RateLimitPerMin:  200,
			MaxRetries:       3,
		},
		Backtest: BacktestConfig{
			StartingCapital:    10000.0,
			MaxPositions:       5,
			MaxPositionSize:    1000.0,
			CommissionPerTrade: 0.0,
			SlippagePct:        0.05,
			DailyLossLimit:     100.0,
			WeeklyLossLimit:    300.0,
			MaxDrawdownPct:     15.0,
		},
		Strategy: StrategyConfig{
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
		},
		Risk: RiskConfig{MaxSectorPositions: 2},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds a Config from defaults, the YAML file at path (an empty path
// skips the file), a .env file in the working directory if one exists, and
// finally environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v, ok := envFloat("STARTING_CAPITAL"); ok {
		cfg.Backtest.StartingCapital = v
	}
	if v, ok := envFloat("MAX_POSITION_SIZE"); ok {
		cfg.Backtest.MaxPositionSize = v
	}
	if v, ok := envInt("MAX_POSITIONS"); ok {
		cfg.Backtest.MaxPositions = v
	}
	if v, ok := envFloat("DAILY_LOSS_LIMIT"); ok {
		cfg.Backtest.DailyLossLimit = v
	}
	if v, ok := envFloat("WEEKLY_LOSS_LIMIT"); ok {
		cfg.Backtest.WeeklyLossLimit = v
	}
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
