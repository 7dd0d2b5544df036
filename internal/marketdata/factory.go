package marketdata

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// SourceConfig selects and configures the active upstream provider. The
// provider is chosen once at startup; there is no per-call dispatch.
type SourceConfig struct {
	Provider     string           `yaml:"provider"` // "alphavantage" | "yahoo" | "mock"
	AlphaVantage AlphaVantageYAML `yaml:"alphavantage"`
	Yahoo        YahooYAML        `yaml:"yahoo"`
}

// AlphaVantageYAML is the file-level Alpha Vantage block. The key itself
// comes from the environment, never the file.
type AlphaVantageYAML struct {
	APIKeyEnv          string `yaml:"api_key_env"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// YahooYAML is the file-level Yahoo block.
type YahooYAML struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// NewSource builds the configured provider. The SOURCE environment variable
// overrides the file for quick switching during development.
func NewSource(cfg SourceConfig, log zerolog.Logger) (Source, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if env := os.Getenv("SOURCE"); env != "" {
		provider = strings.ToLower(strings.TrimSpace(env))
		log.Info().Str("config_provider", cfg.Provider).Str("override", provider).Msg("data source overridden by SOURCE env")
	}

	switch provider {
	case "mock":
		return NewMockSource(true), nil
	case "yahoo", "":
		return NewYahooSource(YahooConfig{TimeoutSeconds: cfg.Yahoo.TimeoutSeconds}, log), nil
	case "alphavantage":
		keyEnv := cfg.AlphaVantage.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "ALPHAVANTAGE_API_KEY"
		}
		return NewAlphaVantageSource(AlphaVantageConfig{
			APIKey:             os.Getenv(keyEnv),
			RateLimitPerMinute: cfg.AlphaVantage.RateLimitPerMinute,
			TimeoutSeconds:     cfg.AlphaVantage.TimeoutSeconds,
		}, log)
	}
	return nil, ErrConfig("unknown data source provider: " + provider)
}
