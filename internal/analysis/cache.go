package analysis

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/macro"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/observ"
)

// Policy holds the invalidation thresholds. TTL and drift checks are
// independently sufficient to invalidate.
type Policy struct {
	TTL           time.Duration // analysis age ceiling
	MaxPriceDrift float64       // relative price move since generation
	MaxVIXMove    float64       // absolute volatility index points
	MaxYieldMove  float64       // absolute percentage points on the long yield
	MaxDollarMove float64       // relative dollar index move
}

// DefaultPolicy matches the freshness the dashboard promises.
func DefaultPolicy() Policy {
	return Policy{
		TTL:           6 * time.Hour,
		MaxPriceDrift: 0.05,
		MaxVIXMove:    3.0,
		MaxYieldMove:  0.10,
		MaxDollarMove: 0.01,
	}
}

// Prober fetches the current facts needed to judge whether a cached
// analysis is still trustworthy.
type Prober interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	CurrentMacro(ctx context.Context) (macro.Snapshot, error)
}

// Cache stores the last analysis per symbol and decides validity with the
// TTL and the price/macro drift tests, never TTL alone. Superseded records
// are handed to onSupersede so the surrounding application can keep them
// for audit diffing.
type Cache struct {
	mu          sync.Mutex
	records     map[string]*Record
	policy      Policy
	prober      Prober
	clk         clock.Clock
	log         zerolog.Logger
	onSupersede func(Record)
}

// NewCache builds an analysis cache. onSupersede may be nil.
func NewCache(policy Policy, prober Prober, clk clock.Clock, log zerolog.Logger, onSupersede func(Record)) *Cache {
	return &Cache{
		records:     make(map[string]*Record),
		policy:      policy,
		prober:      prober,
		clk:         clk,
		log:         log.With().Str("component", "analysis_cache").Logger(),
		onSupersede: onSupersede,
	}
}

// Store replaces the record for its symbol wholesale. A previous record is
// superseded, not deleted.
func (c *Cache) Store(rec Record) {
	sym := marketdata.NormalizeSymbol(rec.Symbol)
	c.mu.Lock()
	old := c.records[sym]
	cp := rec
	c.records[sym] = &cp
	c.mu.Unlock()

	if old != nil && c.onSupersede != nil {
		c.onSupersede(*old)
	}
}

// Invalidate evicts the record for symbol unconditionally, bypassing all
// validity checks. Used for explicit refresh requests.
func (c *Cache) Invalidate(symbol string) {
	sym := marketdata.NormalizeSymbol(symbol)
	c.mu.Lock()
	old := c.records[sym]
	delete(c.records, sym)
	c.mu.Unlock()

	if old != nil && c.onSupersede != nil {
		c.onSupersede(*old)
	}
	observ.IncCounter("analysis_invalidated_total", map[string]string{"reason": "forced"})
}

// GetOrInvalidate returns the cached record for symbol if it is still
// usable. An unusable record is evicted and (nil, nil) is returned. When
// the facts needed to judge freshness cannot be fetched the policy fails
// closed: the record is never returned and the fetch error propagates —
// an unverifiable cache is indistinguishable from a stale one.
func (c *Cache) GetOrInvalidate(ctx context.Context, symbol string) (*Record, error) {
	sym := marketdata.NormalizeSymbol(symbol)

	c.mu.Lock()
	rec := c.records[sym]
	c.mu.Unlock()
	if rec == nil {
		return nil, nil
	}

	// TTL first: it needs no upstream call.
	if age := c.clk.Now().Sub(rec.GeneratedAt); age >= c.policy.TTL {
		c.evict(sym, rec, "ttl_expired")
		return nil, nil
	}

	price, err := c.prober.CurrentPrice(ctx, sym)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", sym).Msg("cannot verify analysis freshness, failing closed")
		return nil, marketdata.ErrUpstream("analysis_freshness", sym, err)
	}
	if rec.PriceAtGeneration > 0 {
		drift := math.Abs(price-rec.PriceAtGeneration) / rec.PriceAtGeneration
		if drift > c.policy.MaxPriceDrift {
			c.evict(sym, rec, "price_drift")
			return nil, nil
		}
	}

	snap, err := c.prober.CurrentMacro(ctx)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", sym).Msg("cannot verify macro backdrop, failing closed")
		return nil, marketdata.ErrUpstream("analysis_freshness", sym, err)
	}
	if reason, fired := c.macroTrigger(rec.MacroAtGeneration, snap); fired {
		c.evict(sym, rec, reason)
		return nil, nil
	}

	return rec, nil
}

// macroTrigger reports whether the macro backdrop moved enough to void the
// analysis since its generation snapshot.
func (c *Cache) macroTrigger(at, now macro.Snapshot) (string, bool) {
	if math.Abs(now.VolatilityIndex-at.VolatilityIndex) > c.policy.MaxVIXMove {
		return "vix_move", true
	}
	if math.Abs(now.LongYield-at.LongYield) > c.policy.MaxYieldMove {
		return "yield_move", true
	}
	if at.DollarIndex > 0 {
		if math.Abs(now.DollarIndex-at.DollarIndex)/at.DollarIndex > c.policy.MaxDollarMove {
			return "dollar_move", true
		}
	}
	return "", false
}

// evict removes the judged record. The probes run outside the lock, so a
// replacement may have landed in the meantime; the verdict applies only to
// the record it was computed against, never the newcomer.
func (c *Cache) evict(sym string, judged *Record, reason string) {
	c.mu.Lock()
	old := c.records[sym]
	if old != judged {
		c.mu.Unlock()
		return
	}
	delete(c.records, sym)
	c.mu.Unlock()

	if old != nil && c.onSupersede != nil {
		c.onSupersede(*old)
	}
	c.log.Info().Str("symbol", sym).Str("reason", reason).Msg("analysis invalidated")
	observ.IncCounter("analysis_invalidated_total", map[string]string{"reason": reason})
}
