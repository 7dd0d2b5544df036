package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jmcasey/stockdash/internal/analysis"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWatchlistRoundtrip(t *testing.T) {
	s := openTest(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddWatch(" aapl ", now))
	require.NoError(t, s.AddWatch("NVDA", now.Add(time.Minute)))
	require.NoError(t, s.AddWatch("AAPL", now.Add(time.Hour)), "duplicate add is a no-op")

	list, err := s.Watchlist()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "AAPL", list[0].Symbol)
	require.Equal(t, now, list[0].AddedAt)

	require.NoError(t, s.RemoveWatch("aapl"))
	list, err = s.Watchlist()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "NVDA", list[0].Symbol)
}

func TestAddWatchRejectsEmptySymbol(t *testing.T) {
	s := openTest(t)
	require.Error(t, s.AddWatch("   ", time.Now()))
}

func TestAnalysisAuditTrail(t *testing.T) {
	s := openTest(t)
	gen := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := analysis.Record{
		ID: "rec-a", Symbol: "AAPL", GeneratedAt: gen,
		PriceAtGeneration: 100, Confidence: 3, Thesis: "initial take",
	}
	second := analysis.Record{
		ID: "rec-b", Symbol: "AAPL", GeneratedAt: gen.Add(2 * time.Hour),
		PriceAtGeneration: 106, Confidence: 4, Thesis: "revised after move",
	}

	require.NoError(t, s.AppendAnalysis(first))
	require.NoError(t, s.MarkSuperseded("rec-a", gen.Add(2*time.Hour)))
	require.NoError(t, s.AppendAnalysis(second))

	hist, err := s.History("aapl", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2, "superseded records stay for audit diffing")
	require.Equal(t, "rec-b", hist[0].ID, "newest first")
	require.Equal(t, "initial take", hist[1].Thesis)

	latest, err := s.Latest("AAPL")
	require.NoError(t, err)
	require.Equal(t, "rec-b", latest.ID)

	missing, err := s.Latest("ZZZZ")
	require.NoError(t, err)
	require.Nil(t, missing)
}
