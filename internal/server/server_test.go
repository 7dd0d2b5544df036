package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jmcasey/stockdash/internal/analysis"
	"github.com/jmcasey/stockdash/internal/budget"
	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/macro"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/quality"
	"github.com/jmcasey/stockdash/internal/store"
)

func newTestServer(t *testing.T, dailyCap int) (*httptest.Server, *marketdata.MockSource) {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.NewFake(time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC))

	src := marketdata.NewMockSource(true)
	limiter := budget.New("mock", dailyCap, clk, log)
	gw := marketdata.NewGateway(src, limiter, marketdata.DefaultTTLs(), clk, log)
	ledger := costs.New(decimal.NewFromInt(20), clk, log)
	gw.WithCostLedger(ledger, decimal.Zero)

	mp := macro.NewGatewayProvider(gw, log)
	prober := analysis.NewGatewayProber(gw, mp)
	cache := analysis.NewCache(analysis.DefaultPolicy(), prober, clk, log, nil)
	svc := analysis.NewService(cache, gw, mp, analysis.StaticReasoner{},
		analysis.Pricing{InputPerMTok: decimal.NewFromFloat(2.5), OutputPerMTok: decimal.NewFromInt(10)},
		ledger, nil, clk, log)

	st, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(gw, svc, st, ledger, quality.DefaultThresholds(), clk, log)
	ts := httptest.NewServer(srv.Router([]string{"*"}))
	t.Cleanup(ts.Close)
	return ts, src
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, 100)
	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "mock", body["source"])
}

func TestQuoteEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 100)
	var body struct {
		Data      marketdata.Quote      `json:"data"`
		Freshness *marketdata.Freshness `json:"freshness"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/quote/aapl", &body))
	require.Equal(t, "AAPL", body.Data.Symbol)
	require.InDelta(t, 206.80, body.Data.Price, 0.001)
	require.NotNil(t, body.Freshness)
	require.False(t, body.Freshness.Stale)
}

func TestBatchQuotesRequiresSymbols(t *testing.T) {
	ts, _ := newTestServer(t, 100)
	var body map[string]string
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/quotes", &body))
	require.Equal(t, "invalid_input", body["error"])
}

func TestHistoryRejectsBadRange(t *testing.T) {
	ts, _ := newTestServer(t, 100)
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/history/AAPL?range=2w", nil))
}

func TestQuotaExhaustedMapsTo429(t *testing.T) {
	ts, _ := newTestServer(t, 0)
	var body map[string]string
	require.Equal(t, http.StatusTooManyRequests, getJSON(t, ts.URL+"/api/quote/AAPL", &body))
	require.Equal(t, "quota_exhausted", body["error"])
}

func TestUpstreamFailureMapsTo502(t *testing.T) {
	ts, src := newTestServer(t, 100)
	src.FailUpstream(true)
	var body map[string]string
	require.Equal(t, http.StatusBadGateway, getJSON(t, ts.URL+"/api/quote/AAPL", &body))
	require.Equal(t, "upstream_unavailable", body["error"])
}

func TestSearchQualityFilter(t *testing.T) {
	ts, _ := newTestServer(t, 100)

	var raw struct {
		Data []marketdata.Instrument `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/search?q=AAPL", &raw))
	require.Len(t, raw.Data, 1)

	// BIOX fails the market-cap and volume floors.
	var filtered struct {
		Data []marketdata.Instrument `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/search?q=BIOX&quality=1", &filtered))
	require.Empty(t, filtered.Data)
}

func TestAnalysisEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 100)
	var body struct {
		Data analysis.Record `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/analysis/AAPL", &body))
	require.Equal(t, "AAPL", body.Data.Symbol)
	require.NotEmpty(t, body.Data.Thesis)

	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/analysis/ZZZZ", nil))
}

func TestWatchlistCRUD(t *testing.T) {
	ts, _ := newTestServer(t, 100)

	resp, err := http.Post(ts.URL+"/api/watchlist/AAPL", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Data []store.WatchEntry `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/watchlist", &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "AAPL", body.Data[0].Symbol)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/watchlist/AAPL", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/watchlist", &body))
	require.Empty(t, body.Data)
}

func TestUsageEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 100)
	// Burn one call first.
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/quote/NVDA", nil))

	var body struct {
		DataCalls struct {
			Used  int `json:"used"`
			Limit int `json:"limit"`
		} `json:"data_calls"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/usage", &body))
	require.Equal(t, 1, body.DataCalls.Used)
	require.Equal(t, 100, body.DataCalls.Limit)
}

func TestUsageApproachingFlagTracksLimiter(t *testing.T) {
	ts, _ := newTestServer(t, 5)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/usage", &body))
	require.Equal(t, false, body["data_calls_approaching_limit"])

	// Four of five calls spent crosses the limiter's warning threshold.
	for _, sym := range []string{"AAPL", "NVDA", "BIOX", "DX-Y.NYB"} {
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/quote/"+sym, nil))
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/usage", &body))
	require.Equal(t, true, body["data_calls_approaching_limit"])
}
