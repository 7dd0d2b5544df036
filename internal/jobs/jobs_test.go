package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jmcasey/stockdash/internal/budget"
	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/store"
)

func newTestScheduler(t *testing.T, dailyCap int) (*Scheduler, *marketdata.MockSource, *clock.Fake) {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	src := marketdata.NewMockSource(true)
	limiter := budget.New("mock", dailyCap, clk, log)
	gw := marketdata.NewGateway(src, limiter, marketdata.DefaultTTLs(), clk, log)
	ledger := costs.New(decimal.NewFromInt(20), clk, log)

	st, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(gw, st, ledger, log), src, clk
}

func TestRefreshWatchlistWarmsCache(t *testing.T) {
	s, src, _ := newTestScheduler(t, 100)
	require.NoError(t, s.st.AddWatch("AAPL", time.Now()))
	require.NoError(t, s.st.AddWatch("NVDA", time.Now()))

	s.refreshWatchlist()
	require.Equal(t, 1, src.BatchCalls, "one batch call for the whole watchlist")

	// The refresh primed the cache; an interactive read costs nothing.
	before := src.BatchCalls + src.QuoteCalls
	_, fresh, err := s.gw.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, fresh.FromCache)
	require.Equal(t, before, src.BatchCalls+src.QuoteCalls)
}

func TestRefreshWatchlistSkipsNearBudget(t *testing.T) {
	s, src, _ := newTestScheduler(t, 5)
	require.NoError(t, s.st.AddWatch("AAPL", time.Now()))

	// Burn 4 of 5 calls, crossing the 80% warning threshold.
	for _, sym := range []string{"AAPL", "NVDA", "BIOX", "^VIX"} {
		_, _, err := s.gw.Quote(context.Background(), sym)
		require.NoError(t, err)
	}

	s.refreshWatchlist()
	require.Zero(t, src.BatchCalls, "refresh must not spend the last slots")
}

func TestRefreshWatchlistNoopWhenEmpty(t *testing.T) {
	s, src, _ := newTestScheduler(t, 100)
	s.refreshWatchlist()
	require.Zero(t, src.BatchCalls)
	require.Zero(t, src.QuoteCalls)
}

func TestSweepCachesEvictsExpired(t *testing.T) {
	s, _, clk := newTestScheduler(t, 100)
	_, _, err := s.gw.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	clk.Advance(3 * time.Minute) // past the 2m quote TTL
	s.sweepCaches()

	// The primary entry is gone; the next read pays an upstream call.
	_, fresh, err := s.gw.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.False(t, fresh.FromCache)
}
