// Package quality narrows search candidates to an investable universe.
// Filtering is a pure intersection of independent threshold predicates; no
// state, no I/O.
package quality

import (
	"time"

	"github.com/jmcasey/stockdash/internal/marketdata"
)

// Thresholds configures the investable-universe cut. Zero-valued fields
// disable the corresponding predicate.
type Thresholds struct {
	MinMarketCap     float64       `yaml:"min_market_cap"`
	MinPrice         float64       `yaml:"min_price"`
	MinVolume        int64         `yaml:"min_volume"`
	AllowedExchanges []string      `yaml:"allowed_exchanges"`
	MinListingAge    time.Duration `yaml:"min_listing_age"`
}

// DefaultThresholds returns the standard cut for US-listed equities.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinMarketCap:     500_000_000,
		MinPrice:         5,
		MinVolume:        500_000,
		AllowedExchanges: []string{"NYSE", "NASDAQ", "AMEX"},
		MinListingAge:    180 * 24 * time.Hour,
	}
}

// Filter returns the candidates satisfying every threshold simultaneously.
// Predicates are ANDed; the result is order-preserving.
func Filter(candidates []marketdata.Instrument, t Thresholds, now time.Time) []marketdata.Instrument {
	allowed := map[string]bool{}
	for _, ex := range t.AllowedExchanges {
		allowed[ex] = true
	}

	out := make([]marketdata.Instrument, 0, len(candidates))
	for _, c := range candidates {
		if !passes(c, t, allowed, now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func passes(c marketdata.Instrument, t Thresholds, allowed map[string]bool, now time.Time) bool {
	if t.MinMarketCap > 0 && c.MarketCap < t.MinMarketCap {
		return false
	}
	if t.MinPrice > 0 && c.Price < t.MinPrice {
		return false
	}
	if t.MinVolume > 0 && c.AvgVolume < t.MinVolume {
		return false
	}
	if len(allowed) > 0 && !allowed[c.Exchange] {
		return false
	}
	// Listing age applies only when the listing date is known.
	if t.MinListingAge > 0 && !c.ListedAt.IsZero() && now.Sub(c.ListedAt) < t.MinListingAge {
		return false
	}
	return true
}
