package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/macro"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/observ"
)

// Auditor persists superseded and fresh records for later diffing. The
// SQLite store implements it; tests use a stub.
type Auditor interface {
	AppendAnalysis(rec Record) error
	MarkSuperseded(id string, at time.Time) error
}

// Service answers "analysis of symbol X": serve the cached record when the
// invalidation policy allows, otherwise gather current facts, call the
// reasoner, and record the replacement plus its cost.
type Service struct {
	cache    *Cache
	gw       *marketdata.Gateway
	macro    macro.Provider
	reasoner Reasoner
	pricing  Pricing
	ledger   *costs.Ledger
	auditor  Auditor
	clk      clock.Clock
	log      zerolog.Logger
}

// NewService wires the analysis pipeline.
func NewService(cache *Cache, gw *marketdata.Gateway, mp macro.Provider, reasoner Reasoner,
	pricing Pricing, ledger *costs.Ledger, auditor Auditor, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		cache:    cache,
		gw:       gw,
		macro:    mp,
		reasoner: reasoner,
		pricing:  pricing,
		ledger:   ledger,
		auditor:  auditor,
		clk:      clk,
		log:      log.With().Str("component", "analysis").Logger(),
	}
}

// Analysis returns a usable record for symbol, generating a fresh one when
// the cache has none. force bypasses the validity checks entirely.
func (s *Service) Analysis(ctx context.Context, symbol string, force bool) (*Record, error) {
	sym := marketdata.NormalizeSymbol(symbol)
	if sym == "" {
		return nil, marketdata.ErrInput("analysis", symbol, "empty symbol")
	}

	if force {
		s.cache.Invalidate(sym)
	} else {
		rec, err := s.cache.GetOrInvalidate(ctx, sym)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			observ.IncCounter("analysis_served_total", map[string]string{"from": "cache"})
			return rec, nil
		}
	}
	return s.generate(ctx, sym)
}

func (s *Service) generate(ctx context.Context, sym string) (*Record, error) {
	start := s.clk.Now()

	quote, _, err := s.gw.Quote(ctx, sym)
	if err != nil {
		return nil, err
	}
	if quote.Empty() {
		return nil, marketdata.ErrInput("analysis", sym, "unknown symbol")
	}
	funds, _, err := s.gw.Fundamentals(ctx, sym)
	if err != nil {
		return nil, err
	}
	series, _, err := s.gw.History(ctx, sym, marketdata.Range3M)
	if err != nil {
		return nil, err
	}
	snap, err := s.macro.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(sym, quote, funds, series, snap)
	comp, err := s.reasoner.Generate(ctx, prompt)
	if err != nil {
		if marketdata.KindOf(err) == marketdata.KindUnknown {
			err = marketdata.ErrUpstream("reasoning", sym, err)
		}
		return nil, err
	}

	usage := TokenUsage{InputTokens: comp.InputTokens, OutputTokens: comp.OutputTokens}
	rec := parseCompletion(comp.Text)
	rec.ID = uuid.NewString()
	rec.Symbol = sym
	rec.GeneratedAt = s.clk.Now()
	// Resnap to the exact values this reasoning call saw. Reusing an older
	// snapshot here would break the invalidation policy's own invariant.
	rec.PriceAtGeneration = quote.Price
	rec.MacroAtGeneration = snap
	rec.TokenUsage = usage
	rec.EstimatedCost = s.pricing.Cost(usage)

	s.cache.Store(rec)
	if s.ledger != nil {
		s.ledger.RecordCost(rec.EstimatedCost, costs.KindAnalysis)
	}
	if s.auditor != nil {
		if err := s.auditor.AppendAnalysis(rec); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("failed to persist analysis for audit")
		}
	}

	observ.IncCounter("analysis_served_total", map[string]string{"from": "generated"})
	observ.RecordDuration("analysis_generate", s.clk.Now().Sub(start), map[string]string{})
	s.log.Info().
		Str("symbol", sym).
		Int("confidence", rec.Confidence).
		Str("cost", rec.EstimatedCost.StringFixed(4)).
		Msg("analysis generated")
	return &rec, nil
}

// buildPrompt lays out the gathered facts in the sectioned format
// parseCompletion expects back.
func buildPrompt(sym string, q marketdata.Quote, f marketdata.Fundamentals,
	series []marketdata.PricePoint, snap macro.Snapshot) string {

	var b strings.Builder
	fmt.Fprintf(&b, "You are an equity research assistant. Analyze %s.\n\n", sym)
	fmt.Fprintf(&b, "Current price: %.2f (%.2f%% today), volume %d\n", q.Price, q.ChangePct, q.Volume)
	if f.Name != "" {
		fmt.Fprintf(&b, "Company: %s, sector %s, market cap %.0f, P/E %.1f, EPS %.2f\n",
			f.Name, f.Sector, f.MarketCap, f.PERatio, f.EPS)
		fmt.Fprintf(&b, "52-week range: %.2f - %.2f\n", f.Low52W, f.High52W)
	}
	if n := len(series); n > 1 {
		first, last := series[0], series[n-1]
		if first.Close > 0 {
			fmt.Fprintf(&b, "3-month move: %.1f%%\n", (last.Close-first.Close)/first.Close*100)
		}
	}
	fmt.Fprintf(&b, "Macro backdrop: VIX %.1f, 10y yield %.2f%%, dollar index %.1f, regime %s\n\n",
		snap.VolatilityIndex, snap.LongYield, snap.DollarIndex, snap.Regime)

	b.WriteString(`Respond in exactly this format:
CONFIDENCE: <1-5>
THESIS: <one paragraph>
BULLISH:
- <factor>
BEARISH:
- <factor>
TECHNICAL: <one paragraph>
CATALYSTS:
- <catalyst>
BOTTOM_LINE: <one sentence>
`)
	return b.String()
}
