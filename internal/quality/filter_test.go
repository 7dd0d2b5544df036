package quality

import (
	"math/rand"
	"testing"
	"time"

	"github.com/jmcasey/stockdash/internal/marketdata"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func inst(sym string, cap, price float64, vol int64, exch string) marketdata.Instrument {
	return marketdata.Instrument{Symbol: sym, MarketCap: cap, Price: price, AvgVolume: vol, Exchange: exch}
}

func TestFilterDefaults(t *testing.T) {
	candidates := []marketdata.Instrument{
		inst("BIG", 2e9, 150, 3_000_000, "NYSE"),       // passes
		inst("TINY", 2e8, 150, 3_000_000, "NYSE"),      // cap too small
		inst("PENNY", 2e9, 2.50, 3_000_000, "NASDAQ"),  // price too low
		inst("THIN", 2e9, 150, 100_000, "NASDAQ"),      // volume too low
		inst("OTC", 2e9, 150, 3_000_000, "OTC"),        // wrong exchange
	}

	got := Filter(candidates, DefaultThresholds(), now)
	if len(got) != 1 || got[0].Symbol != "BIG" {
		t.Fatalf("want [BIG], got %v", got)
	}
}

func TestListingAgeOnlyWhenKnown(t *testing.T) {
	th := DefaultThresholds()

	fresh := inst("IPO", 2e9, 150, 3_000_000, "NYSE")
	fresh.ListedAt = now.Add(-30 * 24 * time.Hour)
	unknown := inst("OLD", 2e9, 150, 3_000_000, "NYSE")

	got := Filter([]marketdata.Instrument{fresh, unknown}, th, now)
	if len(got) != 1 || got[0].Symbol != "OLD" {
		t.Fatalf("want [OLD], got %v", got)
	}
}

func TestZeroThresholdDisablesPredicate(t *testing.T) {
	th := Thresholds{} // everything disabled
	candidates := []marketdata.Instrument{inst("ANY", 1, 0.01, 1, "PINK")}
	if got := Filter(candidates, th, now); len(got) != 1 {
		t.Fatalf("disabled thresholds must pass everything, got %v", got)
	}
}

// The filtered set must equal the intersection of each predicate applied
// independently, for any candidate set and any threshold configuration.
func TestFilterIsPureIntersection(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	exchanges := []string{"NYSE", "NASDAQ", "AMEX", "OTC", "LSE"}

	for trial := 0; trial < 200; trial++ {
		th := Thresholds{
			MinMarketCap:     float64(rng.Intn(3)) * 5e8,
			MinPrice:         float64(rng.Intn(3)) * 5,
			MinVolume:        int64(rng.Intn(3)) * 250_000,
			AllowedExchanges: exchanges[:1+rng.Intn(3)],
		}
		var candidates []marketdata.Instrument
		for i := 0; i < 50; i++ {
			candidates = append(candidates, inst(
				"S", rng.Float64()*2e9, rng.Float64()*50,
				int64(rng.Intn(1_000_000)), exchanges[rng.Intn(len(exchanges))],
			))
		}

		got := Filter(candidates, th, now)

		allowed := map[string]bool{}
		for _, ex := range th.AllowedExchanges {
			allowed[ex] = true
		}
		var want []marketdata.Instrument
		for _, c := range candidates {
			capOK := !(th.MinMarketCap > 0) || c.MarketCap >= th.MinMarketCap
			priceOK := !(th.MinPrice > 0) || c.Price >= th.MinPrice
			volOK := !(th.MinVolume > 0) || c.AvgVolume >= th.MinVolume
			exchOK := len(allowed) == 0 || allowed[c.Exchange]
			if capOK && priceOK && volOK && exchOK {
				want = append(want, c)
			}
		}

		if len(got) != len(want) {
			t.Fatalf("trial %d: intersection mismatch: got %d want %d", trial, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("trial %d: element %d differs", trial, i)
			}
		}
	}
}
