package marketdata

import (
	"strings"
	"time"
)

// Instrument is a search/screening candidate. MarketCap and AvgVolume may be
// zero when the upstream search endpoint does not return them.
type Instrument struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Exchange  string    `json:"exchange"`
	Price     float64   `json:"price"`
	MarketCap float64   `json:"market_cap"`
	AvgVolume int64     `json:"avg_volume"`
	ListedAt  time.Time `json:"listed_at,omitempty"`
}

// Quote is a normalized point-in-time price from any provider.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Empty reports whether the quote is a cached "symbol unknown upstream"
// marker. Empty results are cached like any other so a bad symbol is not
// re-queried every request.
func (q Quote) Empty() bool { return q.Price == 0 && q.Timestamp.IsZero() }

// Fundamentals is the company-overview snapshot.
type Fundamentals struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Exchange      string    `json:"exchange"`
	Sector        string    `json:"sector"`
	Industry      string    `json:"industry"`
	MarketCap     float64   `json:"market_cap"`
	PERatio       float64   `json:"pe_ratio"`
	EPS           float64   `json:"eps"`
	DividendYield float64   `json:"dividend_yield"`
	Beta          float64   `json:"beta"`
	High52W       float64   `json:"high_52w"`
	Low52W        float64   `json:"low_52w"`
	AvgVolume     int64     `json:"avg_volume"`
	ListedAt      time.Time `json:"listed_at,omitempty"`
}

// PricePoint is one bar of a historical series.
type PricePoint struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Range selects a history window.
type Range string

const (
	Range1D Range = "1d"
	Range5D Range = "5d"
	Range1M Range = "1mo"
	Range3M Range = "3mo"
	Range6M Range = "6mo"
	Range1Y Range = "1y"
	Range5Y Range = "5y"
)

// Intraday reports whether the range is served from intraday bars, which
// get a shorter cache TTL than daily series.
func (r Range) Intraday() bool { return r == Range1D || r == Range5D }

// ParseRange normalizes a user-supplied range string.
func ParseRange(s string) (Range, error) {
	r := Range(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case Range1D, Range5D, Range1M, Range3M, Range6M, Range1Y, Range5Y:
		return r, nil
	case "":
		return Range3M, nil
	}
	return "", ErrInput("history", s, "unsupported range")
}

// NormalizeSymbol uppercases and trims a ticker. Cache keys and upstream
// requests must agree on this normalization or hit rates silently degrade.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
