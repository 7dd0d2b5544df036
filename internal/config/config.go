package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jmcasey/stockdash/internal/marketdata"
)

type Server struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Budget struct {
	DataDailyCap     int     `yaml:"data_daily_cap"`
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd"`
	CostPerDataCall  float64 `yaml:"cost_per_data_call_usd"`
}

type CacheTTL struct {
	SearchSeconds       int `yaml:"search_seconds"`
	QuoteSeconds        int `yaml:"quote_seconds"`
	FundamentalsSeconds int `yaml:"fundamentals_seconds"`
	IntradaySeconds     int `yaml:"intraday_seconds"`
	DailySeconds        int `yaml:"daily_seconds"`
}

type Reasoner struct {
	Provider         string  `yaml:"provider"` // "openai" | "mock"
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	APIKeyEnv        string  `yaml:"api_key_env"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	InputPerMTokUSD  float64 `yaml:"input_per_mtok_usd"`
	OutputPerMTokUSD float64 `yaml:"output_per_mtok_usd"`
}

type Analysis struct {
	TTLHours         int      `yaml:"ttl_hours"`
	MaxPriceDriftPct float64  `yaml:"max_price_drift_pct"`
	MaxVIXMove       float64  `yaml:"max_vix_move"`
	MaxYieldMove     float64  `yaml:"max_yield_move"`
	MaxDollarMovePct float64  `yaml:"max_dollar_move_pct"`
	Reasoner         Reasoner `yaml:"reasoner"`
}

type Quality struct {
	MinMarketCap     float64  `yaml:"min_market_cap"`
	MinPrice         float64  `yaml:"min_price"`
	MinVolume        int64    `yaml:"min_volume"`
	AllowedExchanges []string `yaml:"allowed_exchanges"`
}

type Jobs struct {
	CleanupSpec string `yaml:"cleanup_spec"`
	RefreshSpec string `yaml:"refresh_spec"`
	UsageSpec   string `yaml:"usage_spec"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Root struct {
	Server   Server                  `yaml:"server"`
	Source   marketdata.SourceConfig `yaml:"source"`
	Budget   Budget                  `yaml:"budget"`
	CacheTTL CacheTTL                `yaml:"cache_ttl"`
	Analysis Analysis                `yaml:"analysis"`
	Quality  Quality                 `yaml:"quality"`
	Jobs     Jobs                    `yaml:"jobs"`
	Logging  Logging                 `yaml:"logging"`
	DBPath   string                  `yaml:"db_path"`
}

// LoadDotenv reads a .env file when present. Missing files are fine; keys
// may come from the real environment instead.
func LoadDotenv() {
	_ = godotenv.Load()
}

// Load reads the YAML config at path and fills defaults.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Default returns a config with every default applied, used when no file
// is supplied.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:5173"}
	}
	if c.Source.Provider == "" {
		c.Source.Provider = "yahoo"
	}
	if c.Budget.DataDailyCap == 0 {
		c.Budget.DataDailyCap = 300
	}
	if c.Budget.MonthlyBudgetUSD == 0 {
		c.Budget.MonthlyBudgetUSD = 20
	}
	if c.Analysis.TTLHours == 0 {
		c.Analysis.TTLHours = 6
	}
	if c.Analysis.MaxPriceDriftPct == 0 {
		c.Analysis.MaxPriceDriftPct = 5
	}
	if c.Analysis.MaxVIXMove == 0 {
		c.Analysis.MaxVIXMove = 3
	}
	if c.Analysis.MaxYieldMove == 0 {
		c.Analysis.MaxYieldMove = 0.1
	}
	if c.Analysis.MaxDollarMovePct == 0 {
		c.Analysis.MaxDollarMovePct = 1
	}
	if c.Analysis.Reasoner.Provider == "" {
		c.Analysis.Reasoner.Provider = "openai"
	}
	if c.Analysis.Reasoner.APIKeyEnv == "" {
		c.Analysis.Reasoner.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Analysis.Reasoner.InputPerMTokUSD == 0 {
		c.Analysis.Reasoner.InputPerMTokUSD = 2.5
	}
	if c.Analysis.Reasoner.OutputPerMTokUSD == 0 {
		c.Analysis.Reasoner.OutputPerMTokUSD = 10
	}
	if c.Quality.MinMarketCap == 0 {
		c.Quality.MinMarketCap = 500_000_000
	}
	if c.Quality.MinPrice == 0 {
		c.Quality.MinPrice = 5
	}
	if c.Quality.MinVolume == 0 {
		c.Quality.MinVolume = 500_000
	}
	if len(c.Quality.AllowedExchanges) == 0 {
		c.Quality.AllowedExchanges = []string{"NYSE", "NASDAQ", "AMEX"}
	}
	if c.Jobs.CleanupSpec == "" {
		c.Jobs.CleanupSpec = "@every 1m"
	}
	if c.Jobs.RefreshSpec == "" {
		c.Jobs.RefreshSpec = "@every 5m"
	}
	if c.Jobs.UsageSpec == "" {
		c.Jobs.UsageSpec = "@daily"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.DBPath == "" {
		c.DBPath = "data/stockdash.db"
	}
}

// TTLs converts the configured seconds to the gateway's TTL set, falling
// back to the standard lifetimes.
func (c Root) TTLs() marketdata.TTLs {
	t := marketdata.DefaultTTLs()
	if c.CacheTTL.SearchSeconds > 0 {
		t.Search = time.Duration(c.CacheTTL.SearchSeconds) * time.Second
	}
	if c.CacheTTL.QuoteSeconds > 0 {
		t.Quote = time.Duration(c.CacheTTL.QuoteSeconds) * time.Second
	}
	if c.CacheTTL.FundamentalsSeconds > 0 {
		t.Fundamentals = time.Duration(c.CacheTTL.FundamentalsSeconds) * time.Second
	}
	if c.CacheTTL.IntradaySeconds > 0 {
		t.Intraday = time.Duration(c.CacheTTL.IntradaySeconds) * time.Second
	}
	if c.CacheTTL.DailySeconds > 0 {
		t.Daily = time.Duration(c.CacheTTL.DailySeconds) * time.Second
	}
	return t
}

// Policy converts the analysis block into the invalidation thresholds.
func (c Root) Policy() (ttl time.Duration, priceDrift, vixMove, yieldMove, dollarMove float64) {
	return time.Duration(c.Analysis.TTLHours) * time.Hour,
		c.Analysis.MaxPriceDriftPct / 100,
		c.Analysis.MaxVIXMove,
		c.Analysis.MaxYieldMove,
		c.Analysis.MaxDollarMovePct / 100
}
