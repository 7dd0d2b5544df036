package marketdata

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jmcasey/stockdash/internal/budget"
	"github.com/jmcasey/stockdash/internal/cache"
	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/observ"
)

// TTLs holds the per-operation cache lifetimes.
type TTLs struct {
	Search       time.Duration
	Quote        time.Duration
	Fundamentals time.Duration
	Intraday     time.Duration
	Daily        time.Duration
}

// DefaultTTLs matches how quickly each kind of fact actually goes stale.
func DefaultTTLs() TTLs {
	return TTLs{
		Search:       5 * time.Minute,
		Quote:        2 * time.Minute,
		Fundamentals: time.Hour,
		Intraday:     15 * time.Minute,
		Daily:        24 * time.Hour,
	}
}

// fallbackTTL bounds how long a last-known-good value may be served as a
// clearly-marked stale degradation after quota exhaustion or upstream
// failure.
const fallbackTTL = 7 * 24 * time.Hour

// Freshness describes how the accompanying value was obtained.
type Freshness struct {
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
	FromCache   bool      `json:"from_cache"`
	Stale       bool      `json:"stale"`
	StaleReason string    `json:"stale_reason,omitempty"`
}

// fallback pairs a value with the time it was fetched, for the
// last-known-good degradation path.
type fallback[V any] struct {
	value     V
	fetchedAt time.Time
}

// Gateway presents one search/quote/fundamentals/history contract over an
// interchangeable Source, applying the TTL cache and call-budget limiter
// uniformly so provider code never reimplements either concern.
type Gateway struct {
	src     Source
	limiter *budget.Limiter
	ttls    TTLs
	clk     clock.Clock
	log     zerolog.Logger

	search *cache.Cache[[]Instrument]
	quotes *cache.Cache[Quote]
	funds  *cache.Cache[Fundamentals]
	hist   *cache.Cache[[]PricePoint]

	// last-known-good, consulted only on the degraded path
	fbSearch *cache.Cache[fallback[[]Instrument]]
	fbQuotes *cache.Cache[fallback[Quote]]
	fbFunds  *cache.Cache[fallback[Fundamentals]]
	fbHist   *cache.Cache[fallback[[]PricePoint]]

	// optional cost accounting per chargeable call
	ledger      *costs.Ledger
	costPerCall decimal.Decimal
}

// NewGateway wires a gateway around one active source.
func NewGateway(src Source, limiter *budget.Limiter, ttls TTLs, clk clock.Clock, log zerolog.Logger) *Gateway {
	return &Gateway{
		src:      src,
		limiter:  limiter,
		ttls:     ttls,
		clk:      clk,
		log:      log.With().Str("component", "gateway").Str("source", src.Name()).Logger(),
		search:   cache.New[[]Instrument]("search", clk),
		quotes:   cache.New[Quote]("quotes", clk),
		funds:    cache.New[Fundamentals]("fundamentals", clk),
		hist:     cache.New[[]PricePoint]("history", clk),
		fbSearch: cache.New[fallback[[]Instrument]]("search_fallback", clk),
		fbQuotes: cache.New[fallback[Quote]]("quotes_fallback", clk),
		fbFunds:  cache.New[fallback[Fundamentals]]("fundamentals_fallback", clk),
		fbHist:   cache.New[fallback[[]PricePoint]]("history_fallback", clk),
	}
}

// WithCostLedger records costPerCall into ledger for every chargeable
// upstream call the gateway makes.
func (g *Gateway) WithCostLedger(ledger *costs.Ledger, costPerCall decimal.Decimal) *Gateway {
	g.ledger = ledger
	g.costPerCall = costPerCall
	return g
}

// SourceName reports the active provider.
func (g *Gateway) SourceName() string { return g.src.Name() }

// Usage exposes the limiter's current window for the usage surface.
func (g *Gateway) Usage() budget.Usage { return g.limiter.Usage() }

// ApproachingLimit reports whether the daily call budget is nearly spent.
// Background work consults this so interactive requests keep the headroom.
func (g *Gateway) ApproachingLimit() bool { return g.limiter.ApproachingLimit() }

// Cleanup sweeps expired entries from every cache. Run periodically; reads
// recheck expiry regardless.
func (g *Gateway) Cleanup() int {
	n := g.search.Cleanup() + g.quotes.Cleanup() + g.funds.Cleanup() + g.hist.Cleanup()
	n += g.fbSearch.Cleanup() + g.fbQuotes.Cleanup() + g.fbFunds.Cleanup() + g.fbHist.Cleanup()
	return n
}

// recordCall charges one upstream call against the limiter and ledger. The
// charge lands when the call is issued, not when it succeeds; a failed call
// still spent provider quota.
func (g *Gateway) recordCall(op string) {
	g.limiter.RecordCall()
	if g.ledger != nil && g.costPerCall.IsPositive() {
		g.ledger.RecordCost(g.costPerCall, costs.KindData)
	}
	observ.IncCounter("gateway_upstream_calls_total", map[string]string{
		"op": op, "source": g.src.Name(),
	})
}

func (g *Gateway) fresh(fromCache bool) Freshness {
	return Freshness{Source: g.src.Name(), FetchedAt: g.clk.Now(), FromCache: fromCache}
}

func staleFresh(source string, fetchedAt time.Time, reason string) Freshness {
	return Freshness{Source: source, FetchedAt: fetchedAt, FromCache: true, Stale: true, StaleReason: reason}
}

// Search finds instruments matching query.
func (g *Gateway) Search(ctx context.Context, query string) ([]Instrument, Freshness, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, Freshness{}, ErrInput("search", "", "empty query")
	}
	key := "search:" + strings.ToLower(q)

	if v, ok := g.search.Get(key); ok {
		return v, g.fresh(true), nil
	}
	if !g.limiter.CanMakeCall() {
		if fb, ok := g.fbSearch.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "quota_exhausted"), nil
		}
		return nil, Freshness{}, ErrQuota("search", "")
	}

	g.recordCall("search")
	res, err := g.src.Search(ctx, q)
	if err != nil {
		if fb, ok := g.fbSearch.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "upstream_unavailable"), nil
		}
		return nil, Freshness{}, ErrUpstream("search", "", err)
	}

	// Empty result sets are valid answers and cached like any other, so a
	// query known to match nothing is not re-sent within the TTL.
	g.search.Set(key, res, g.ttls.Search)
	g.fbSearch.Set(key, fallback[[]Instrument]{value: res, fetchedAt: g.clk.Now()}, fallbackTTL)
	return res, g.fresh(false), nil
}

// Quote returns the current quote for symbol.
func (g *Gateway) Quote(ctx context.Context, symbol string) (Quote, Freshness, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return Quote{}, Freshness{}, ErrInput("quote", symbol, "empty symbol")
	}
	key := "quote:" + sym

	if v, ok := g.quotes.Get(key); ok {
		return v, g.fresh(true), nil
	}
	if !g.limiter.CanMakeCall() {
		if fb, ok := g.fbQuotes.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "quota_exhausted"), nil
		}
		return Quote{}, Freshness{}, ErrQuota("quote", sym)
	}

	g.recordCall("quote")
	q, err := g.src.Quote(ctx, sym)
	if err != nil {
		if IsKind(err, KindInvalidInput) {
			return Quote{}, Freshness{}, err
		}
		if fb, ok := g.fbQuotes.Get(key); ok {
			g.log.Warn().Err(err).Str("symbol", sym).Msg("serving stale quote after upstream failure")
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "upstream_unavailable"), nil
		}
		return Quote{}, Freshness{}, ErrUpstream("quote", sym, err)
	}

	g.quotes.Set(key, q, g.ttls.Quote)
	if !q.Empty() {
		g.fbQuotes.Set(key, fallback[Quote]{value: q, fetchedAt: g.clk.Now()}, fallbackTTL)
	}
	return q, g.fresh(false), nil
}

// BatchQuotes returns quotes for several symbols, using a single upstream
// call when the source supports batching and sequential per-symbol calls
// otherwise. Cached symbols never reach upstream either way.
func (g *Gateway) BatchQuotes(ctx context.Context, symbols []string) (map[string]Quote, Freshness, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, g.fresh(true), nil
	}

	// Normalize, dedupe, sort: semantically identical batches must map to
	// identical per-symbol keys and upstream requests.
	seen := map[string]bool{}
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := NormalizeSymbol(s)
		if sym == "" {
			return nil, Freshness{}, ErrInput("batch_quotes", s, "empty symbol")
		}
		if !seen[sym] {
			seen[sym] = true
			norm = append(norm, sym)
		}
	}
	sort.Strings(norm)

	out := make(map[string]Quote, len(norm))
	var misses []string
	for _, sym := range norm {
		if q, ok := g.quotes.Get("quote:" + sym); ok {
			if !q.Empty() {
				out[sym] = q
			}
			continue
		}
		misses = append(misses, sym)
	}
	if len(misses) == 0 {
		return out, g.fresh(true), nil
	}

	if bs, ok := g.src.(BatchSource); ok {
		return g.batchFetch(ctx, bs, misses, out)
	}
	return g.sequentialFetch(ctx, misses, out)
}

// batchFetch serves all misses with one upstream call and one limiter slot.
func (g *Gateway) batchFetch(ctx context.Context, bs BatchSource, misses []string, out map[string]Quote) (map[string]Quote, Freshness, error) {
	if !g.limiter.CanMakeCall() {
		return g.batchDegrade(misses, out, "quota_exhausted", ErrQuota("batch_quotes", strings.Join(misses, ",")))
	}
	g.recordCall("batch_quotes")
	quotes, err := bs.BatchQuotes(ctx, misses)
	if err != nil {
		return g.batchDegrade(misses, out, "upstream_unavailable", ErrUpstream("batch_quotes", strings.Join(misses, ","), err))
	}

	for _, sym := range misses {
		q, ok := quotes[sym]
		if !ok {
			// Unknown upstream: cache the empty marker so the symbol is not
			// re-queried every batch within the TTL.
			g.quotes.Set("quote:"+sym, Quote{Symbol: sym}, g.ttls.Quote)
			continue
		}
		g.quotes.Set("quote:"+sym, q, g.ttls.Quote)
		g.fbQuotes.Set("quote:"+sym, fallback[Quote]{value: q, fetchedAt: g.clk.Now()}, fallbackTTL)
		out[sym] = q
	}
	return out, g.fresh(false), nil
}

// sequentialFetch falls back to per-symbol calls, each individually
// rate-limited and cached.
func (g *Gateway) sequentialFetch(ctx context.Context, misses []string, out map[string]Quote) (map[string]Quote, Freshness, error) {
	f := g.fresh(false)
	for _, sym := range misses {
		q, qf, err := g.Quote(ctx, sym)
		if err != nil {
			if IsKind(err, KindQuotaExhausted) {
				// Partial results plus whatever stale fallback remains are
				// better than a blank failure mid-batch; with nothing to
				// serve the refusal itself must surface.
				return g.batchDegrade(misses, out, "quota_exhausted", err)
			}
			return nil, Freshness{}, err
		}
		if qf.Stale {
			f.Stale = true
			f.StaleReason = qf.StaleReason
		}
		if !q.Empty() {
			out[sym] = q
		}
	}
	return out, f, nil
}

// batchDegrade fills misses from last-known-good values where they exist.
// When at least one symbol can be served the batch degrades to a stale
// response; otherwise the original refusal surfaces.
func (g *Gateway) batchDegrade(misses []string, out map[string]Quote, reason string, refusal error) (map[string]Quote, Freshness, error) {
	served := len(out)
	var oldest time.Time
	for _, sym := range misses {
		if fb, ok := g.fbQuotes.Get("quote:" + sym); ok {
			out[sym] = fb.value
			if oldest.IsZero() || fb.fetchedAt.Before(oldest) {
				oldest = fb.fetchedAt
			}
		}
	}
	if len(out) == 0 && served == 0 {
		return nil, Freshness{}, refusal
	}
	if oldest.IsZero() {
		oldest = g.clk.Now()
	}
	return out, staleFresh(g.src.Name(), oldest, reason), nil
}

// Fundamentals returns the company overview for symbol.
func (g *Gateway) Fundamentals(ctx context.Context, symbol string) (Fundamentals, Freshness, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return Fundamentals{}, Freshness{}, ErrInput("fundamentals", symbol, "empty symbol")
	}
	key := "fundamentals:" + sym

	if v, ok := g.funds.Get(key); ok {
		return v, g.fresh(true), nil
	}
	if !g.limiter.CanMakeCall() {
		if fb, ok := g.fbFunds.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "quota_exhausted"), nil
		}
		return Fundamentals{}, Freshness{}, ErrQuota("fundamentals", sym)
	}

	g.recordCall("fundamentals")
	f, err := g.src.Fundamentals(ctx, sym)
	if err != nil {
		if IsKind(err, KindInvalidInput) {
			return Fundamentals{}, Freshness{}, err
		}
		if fb, ok := g.fbFunds.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "upstream_unavailable"), nil
		}
		return Fundamentals{}, Freshness{}, ErrUpstream("fundamentals", sym, err)
	}

	g.funds.Set(key, f, g.ttls.Fundamentals)
	g.fbFunds.Set(key, fallback[Fundamentals]{value: f, fetchedAt: g.clk.Now()}, fallbackTTL)
	return f, g.fresh(false), nil
}

// History returns the price series for symbol over r.
func (g *Gateway) History(ctx context.Context, symbol string, r Range) ([]PricePoint, Freshness, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, Freshness{}, ErrInput("history", symbol, "empty symbol")
	}
	key := "history:" + sym + ":" + string(r)

	if v, ok := g.hist.Get(key); ok {
		return v, g.fresh(true), nil
	}
	if !g.limiter.CanMakeCall() {
		if fb, ok := g.fbHist.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "quota_exhausted"), nil
		}
		return nil, Freshness{}, ErrQuota("history", sym)
	}

	g.recordCall("history")
	series, err := g.src.History(ctx, sym, r)
	if err != nil {
		if IsKind(err, KindInvalidInput) {
			return nil, Freshness{}, err
		}
		if fb, ok := g.fbHist.Get(key); ok {
			return fb.value, staleFresh(g.src.Name(), fb.fetchedAt, "upstream_unavailable"), nil
		}
		return nil, Freshness{}, ErrUpstream("history", sym, err)
	}

	ttl := g.ttls.Daily
	if r.Intraday() {
		ttl = g.ttls.Intraday
	}
	g.hist.Set(key, series, ttl)
	g.fbHist.Set(key, fallback[[]PricePoint]{value: series, fetchedAt: g.clk.Now()}, fallbackTTL)
	return series, g.fresh(false), nil
}
