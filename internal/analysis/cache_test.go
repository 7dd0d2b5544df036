package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/macro"
)

// fakeProber serves scripted current facts to the invalidation policy.
// onPrice, when set, runs before the price is returned so tests can
// interleave cache mutations with an in-flight probe.
type fakeProber struct {
	price    float64
	priceErr error
	snap     macro.Snapshot
	snapErr  error
	onPrice  func()
}

func (f *fakeProber) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if f.onPrice != nil {
		f.onPrice()
	}
	return f.price, f.priceErr
}

func (f *fakeProber) CurrentMacro(ctx context.Context) (macro.Snapshot, error) {
	return f.snap, f.snapErr
}

func baseMacro() macro.Snapshot {
	return macro.Snapshot{
		VolatilityIndex: 16,
		LongYield:       4.2,
		DollarIndex:     104,
		Regime:          macro.RegimeRiskOn,
	}
}

func testSetup(t *testing.T) (*Cache, *fakeProber, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	prober := &fakeProber{price: 100, snap: baseMacro()}

	c := NewCache(DefaultPolicy(), prober, clk, zerolog.Nop(), nil)
	c.Store(Record{
		ID:                "rec-1",
		Symbol:            "AAPL",
		GeneratedAt:       clk.Now(),
		PriceAtGeneration: 100,
		MacroAtGeneration: baseMacro(),
		Thesis:            "holds up",
	})
	return c, prober, clk
}

func mustGet(t *testing.T, c *Cache, sym string) *Record {
	t.Helper()
	rec, err := c.GetOrInvalidate(context.Background(), sym)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestValidUnderAllThresholds(t *testing.T) {
	c, prober, clk := testSetup(t)

	// 1 hour later at a 4% move: under the 5% threshold, under TTL.
	clk.Advance(time.Hour)
	prober.price = 104.00

	rec := mustGet(t, c, "AAPL")
	if rec == nil || rec.ID != "rec-1" {
		t.Fatal("4% move within TTL must still be valid")
	}
}

func TestPriceDriftInvalidatesBeforeTTL(t *testing.T) {
	c, prober, clk := testSetup(t)

	clk.Advance(time.Hour)
	prober.price = 106.00 // 6% move

	if rec := mustGet(t, c, "AAPL"); rec != nil {
		t.Fatal("6% move must invalidate even though TTL has not elapsed")
	}
	// Evicted, not silently retained: next get misses without any probe.
	if rec := mustGet(t, c, "AAPL"); rec != nil {
		t.Fatal("invalidated record must be gone")
	}
}

func TestTTLAloneInvalidates(t *testing.T) {
	c, prober, clk := testSetup(t)

	clk.Advance(7 * time.Hour)
	prober.price = 100.00 // unchanged price

	if rec := mustGet(t, c, "AAPL"); rec != nil {
		t.Fatal("7-hour-old record must be invalid solely due to TTL")
	}
}

func TestMacroVIXTriggerInvalidates(t *testing.T) {
	c, prober, clk := testSetup(t)

	clk.Advance(time.Hour)
	prober.price = 101.00 // price fine
	snap := baseMacro()
	snap.VolatilityIndex = 20 // 4-point jump > 3
	prober.snap = snap

	if rec := mustGet(t, c, "AAPL"); rec != nil {
		t.Fatal("VIX 16->20 must invalidate even when price and TTL pass")
	}
}

func TestMacroYieldAndDollarTriggers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*macro.Snapshot)
		valid  bool
	}{
		{"yield +0.05 holds", func(s *macro.Snapshot) { s.LongYield += 0.05 }, true},
		{"yield +0.15 fires", func(s *macro.Snapshot) { s.LongYield += 0.15 }, false},
		{"dollar +0.5% holds", func(s *macro.Snapshot) { s.DollarIndex *= 1.005 }, true},
		{"dollar -1.5% fires", func(s *macro.Snapshot) { s.DollarIndex *= 0.985 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, prober, clk := testSetup(t)
			clk.Advance(time.Hour)
			snap := baseMacro()
			tt.mutate(&snap)
			prober.snap = snap

			rec := mustGet(t, c, "AAPL")
			if tt.valid && rec == nil {
				t.Fatal("expected record still valid")
			}
			if !tt.valid && rec != nil {
				t.Fatal("expected macro trigger to invalidate")
			}
		})
	}
}

func TestFailClosedOnPriceFetchError(t *testing.T) {
	c, prober, clk := testSetup(t)

	clk.Advance(time.Hour)
	prober.priceErr = errors.New("provider timeout")

	rec, err := c.GetOrInvalidate(context.Background(), "AAPL")
	if rec != nil {
		t.Fatal("fail-closed: unverifiable record must never be returned")
	}
	if err == nil {
		t.Fatal("freshness-fetch failure must surface as an error")
	}

	// The record was unverifiable, not proven stale; once upstream heals
	// it is served again.
	prober.priceErr = nil
	if rec := mustGet(t, c, "AAPL"); rec == nil {
		t.Fatal("record should survive a transient verification failure")
	}
}

func TestFailClosedOnMacroFetchError(t *testing.T) {
	c, prober, clk := testSetup(t)

	clk.Advance(time.Hour)
	prober.snapErr = errors.New("macro source down")

	rec, err := c.GetOrInvalidate(context.Background(), "AAPL")
	if rec != nil || err == nil {
		t.Fatalf("fail-closed on macro fetch: rec=%v err=%v", rec, err)
	}
}

func TestEvictionSparesRecordReplacedDuringProbe(t *testing.T) {
	c, prober, clk := testSetup(t)

	clk.Advance(time.Hour)
	prober.price = 106.00 // 6% drift against rec-1

	// A replacement lands while the price probe for rec-1 is in flight.
	prober.onPrice = func() {
		prober.onPrice = nil
		c.Store(Record{
			ID:                "rec-2",
			Symbol:            "AAPL",
			GeneratedAt:       clk.Now(),
			PriceAtGeneration: 106,
			MacroAtGeneration: baseMacro(),
		})
	}

	if rec := mustGet(t, c, "AAPL"); rec != nil {
		t.Fatal("the judged record must still read as invalid")
	}
	rec := mustGet(t, c, "AAPL")
	if rec == nil || rec.ID != "rec-2" {
		t.Fatal("a record stored during the probe must survive the eviction")
	}
}

func TestForcedInvalidationBypassesChecks(t *testing.T) {
	c, _, _ := testSetup(t)

	c.Invalidate("aapl") // normalization applies here too
	if rec := mustGet(t, c, "AAPL"); rec != nil {
		t.Fatal("forced invalidation must evict unconditionally")
	}
}

func TestStoreSupersedesPriorRecord(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	prober := &fakeProber{price: 100, snap: baseMacro()}

	var superseded []string
	c := NewCache(DefaultPolicy(), prober, clk, zerolog.Nop(), func(old Record) {
		superseded = append(superseded, old.ID)
	})

	c.Store(Record{ID: "a", Symbol: "AAPL", GeneratedAt: clk.Now(), PriceAtGeneration: 100, MacroAtGeneration: baseMacro()})
	c.Store(Record{ID: "b", Symbol: "AAPL", GeneratedAt: clk.Now(), PriceAtGeneration: 100, MacroAtGeneration: baseMacro()})

	if len(superseded) != 1 || superseded[0] != "a" {
		t.Fatalf("want [a] superseded, got %v", superseded)
	}
	rec := mustGet(t, c, "AAPL")
	if rec == nil || rec.ID != "b" {
		t.Fatal("replacement must be wholesale")
	}
}
