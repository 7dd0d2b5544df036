// Package macro captures the point-in-time market backdrop an analysis was
// generated against. Snapshots are immutable facts; every refresh creates a
// new one.
package macro

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/marketdata"
)

// Regime is a coarse classification of market risk appetite.
type Regime string

const (
	RegimeRiskOn  Regime = "risk-on"
	RegimeRiskOff Regime = "risk-off"
	RegimeNeutral Regime = "neutral"
)

// Snapshot is the macro backdrop at one observation time.
type Snapshot struct {
	VolatilityIndex    float64   `json:"volatility_index"`
	LongYield          float64   `json:"long_yield"` // 10y yield in percent
	DollarIndex        float64   `json:"dollar_index"`
	EquityIndexLevel   float64   `json:"equity_index_level"`
	EquityIndexChgPct  float64   `json:"equity_index_change_pct"`
	Regime             Regime    `json:"regime"`
	ObservedAt         time.Time `json:"observed_at"`
}

// ClassifyRegime derives the regime from the volatility index, refined by
// yield and dollar trends when available (positive trend values mean the
// indicator moved up since the prior observation). Ambiguous combinations
// resolve to neutral.
func ClassifyRegime(vix, yieldTrend, dollarTrend float64) Regime {
	switch {
	case vix > 25:
		return RegimeRiskOff
	case vix < 20:
		// A calm tape with both rates and the dollar pushing higher is not
		// a clean risk-on read; resolve the ambiguity to neutral.
		if yieldTrend > 0.1 && dollarTrend > 0 {
			return RegimeNeutral
		}
		return RegimeRiskOn
	default:
		return RegimeNeutral
	}
}

// Provider supplies macro snapshots.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Index symbols read through the market data gateway.
const (
	symVIX    = "^VIX"
	symTNX    = "^TNX" // CBOE 10y yield index, quoted at 10x percent
	symDollar = "DX-Y.NYB"
	symEquity = "^GSPC"
)

// GatewayProvider builds snapshots from index quotes served by the gateway,
// which applies its usual caching and budgeting. Trend refinement compares
// against the previous snapshot this provider produced.
type GatewayProvider struct {
	gw  *marketdata.Gateway
	log zerolog.Logger

	mu   sync.Mutex
	prev *Snapshot
}

// NewGatewayProvider wires a provider over the gateway.
func NewGatewayProvider(gw *marketdata.Gateway, log zerolog.Logger) *GatewayProvider {
	return &GatewayProvider{gw: gw, log: log.With().Str("component", "macro").Logger()}
}

// Snapshot fetches the index quotes and classifies the regime.
func (p *GatewayProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	quotes, _, err := p.gw.BatchQuotes(ctx, []string{symVIX, symTNX, symDollar, symEquity})
	if err != nil {
		return Snapshot{}, err
	}

	vix, ok := quotes[symVIX]
	if !ok || vix.Empty() {
		return Snapshot{}, marketdata.ErrUpstream("macro_snapshot", symVIX, errMissingIndex)
	}

	snap := Snapshot{
		VolatilityIndex: vix.Price,
		ObservedAt:      vix.Timestamp,
	}
	if q, ok := quotes[symTNX]; ok && !q.Empty() {
		snap.LongYield = q.Price / 10 // ^TNX quotes 4.21% as 42.1
	}
	if q, ok := quotes[symDollar]; ok && !q.Empty() {
		snap.DollarIndex = q.Price
	}
	if q, ok := quotes[symEquity]; ok && !q.Empty() {
		snap.EquityIndexLevel = q.Price
		snap.EquityIndexChgPct = q.ChangePct
	}

	p.mu.Lock()
	var yieldTrend, dollarTrend float64
	if p.prev != nil {
		yieldTrend = snap.LongYield - p.prev.LongYield
		if p.prev.DollarIndex != 0 {
			dollarTrend = (snap.DollarIndex - p.prev.DollarIndex) / p.prev.DollarIndex
		}
	}
	snap.Regime = ClassifyRegime(snap.VolatilityIndex, yieldTrend, dollarTrend)
	p.prev = &snap
	p.mu.Unlock()

	p.log.Debug().
		Float64("vix", snap.VolatilityIndex).
		Float64("long_yield", snap.LongYield).
		Str("regime", string(snap.Regime)).
		Msg("macro snapshot")
	return snap, nil
}

type macroErr string

func (e macroErr) Error() string { return string(e) }

const errMissingIndex = macroErr("volatility index quote unavailable")
