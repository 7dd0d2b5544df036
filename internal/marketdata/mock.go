package marketdata

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockSource provides deterministic data for tests and offline development.
// Error injection and call counters let gateway tests drive every failure
// path without a network.
type MockSource struct {
	mu      sync.Mutex
	quotes  map[string]Quote
	funds   map[string]Fundamentals
	batch   bool
	failAll bool

	SearchCalls int
	QuoteCalls  int
	BatchCalls  int
	FundCalls   int
	HistCalls   int
}

// NewMockSource seeds a handful of symbols, including the index symbols the
// macro provider reads.
func NewMockSource(batchCapable bool) *MockSource {
	now := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	m := &MockSource{
		quotes: map[string]Quote{},
		funds:  map[string]Fundamentals{},
		batch:  batchCapable,
	}
	seed := []Quote{
		{Symbol: "AAPL", Price: 206.80, Change: 1.20, ChangePct: 0.58, Volume: 12_500_000, Timestamp: now},
		{Symbol: "NVDA", Price: 450.00, Change: -3.10, ChangePct: -0.68, Volume: 8_200_000, Timestamp: now},
		{Symbol: "BIOX", Price: 12.50, Change: 0.05, ChangePct: 0.40, Volume: 125_000, Timestamp: now},
		{Symbol: "^VIX", Price: 16.0, Timestamp: now},
		{Symbol: "^TNX", Price: 42.1, Timestamp: now}, // 4.21% * 10, CBOE convention
		{Symbol: "DX-Y.NYB", Price: 104.2, Timestamp: now},
		{Symbol: "^GSPC", Price: 5950.0, ChangePct: 0.3, Timestamp: now},
	}
	for _, q := range seed {
		q.Source = "mock"
		m.quotes[q.Symbol] = q
	}
	m.funds["AAPL"] = Fundamentals{
		Symbol: "AAPL", Name: "Apple Inc", Exchange: "NASDAQ", Sector: "Technology",
		MarketCap: 3.1e12, PERatio: 31.2, EPS: 6.62, AvgVolume: 55_000_000,
	}
	m.funds["BIOX"] = Fundamentals{
		Symbol: "BIOX", Name: "Biox Corp", Exchange: "NASDAQ", Sector: "Healthcare",
		MarketCap: 2.4e8, PERatio: 0, EPS: -0.84, AvgVolume: 120_000,
	}
	return m
}

func (m *MockSource) Name() string { return "mock" }

// SetQuote replaces a symbol's quote.
func (m *MockSource) SetQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Source = "mock"
	m.quotes[NormalizeSymbol(q.Symbol)] = q
}

// FailUpstream toggles unconditional upstream failure.
func (m *MockSource) FailUpstream(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

func (m *MockSource) Search(ctx context.Context, query string) ([]Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	if m.failAll {
		return nil, errMockDown
	}
	q := strings.ToUpper(query)
	var out []Instrument
	for sym, quote := range m.quotes {
		if strings.Contains(sym, q) {
			f := m.funds[sym]
			out = append(out, Instrument{
				Symbol: sym, Name: f.Name, Exchange: f.Exchange,
				Price: quote.Price, MarketCap: f.MarketCap, AvgVolume: f.AvgVolume,
			})
		}
	}
	return out, nil
}

func (m *MockSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++
	if m.failAll {
		return Quote{}, errMockDown
	}
	q, ok := m.quotes[NormalizeSymbol(symbol)]
	if !ok {
		return Quote{Symbol: NormalizeSymbol(symbol)}, nil
	}
	return q, nil
}

// BatchQuotes is only reachable when the mock was built batch-capable; the
// gateway type-asserts BatchSource before calling it.
func (m *MockSource) BatchQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls++
	if m.failAll {
		return nil, errMockDown
	}
	out := make(map[string]Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := m.quotes[NormalizeSymbol(s)]; ok {
			out[NormalizeSymbol(s)] = q
		}
	}
	return out, nil
}

func (m *MockSource) Fundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FundCalls++
	if m.failAll {
		return Fundamentals{}, errMockDown
	}
	f, ok := m.funds[NormalizeSymbol(symbol)]
	if !ok {
		return Fundamentals{Symbol: NormalizeSymbol(symbol)}, nil
	}
	return f, nil
}

func (m *MockSource) History(ctx context.Context, symbol string, r Range) ([]PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistCalls++
	if m.failAll {
		return nil, errMockDown
	}
	q, ok := m.quotes[NormalizeSymbol(symbol)]
	if !ok {
		return []PricePoint{}, nil
	}
	// Synthetic flat-ish series ending at the current price.
	out := make([]PricePoint, 0, 30)
	for i := 29; i >= 0; i-- {
		p := q.Price * (1 - float64(i)*0.001)
		out = append(out, PricePoint{
			Time:   q.Timestamp.AddDate(0, 0, -i),
			Open:   p, High: p * 1.01, Low: p * 0.99, Close: p,
			Volume: q.Volume,
		})
	}
	return out, nil
}

type mockErr string

func (e mockErr) Error() string { return string(e) }

const errMockDown = mockErr("mock upstream unavailable")

// sourceOnly hides BatchQuotes so the gateway exercises the sequential
// path in tests. Embedding the interface keeps only Source's method set.
type sourceOnly struct{ Source }

// WithoutBatch returns a view of the mock that does not satisfy BatchSource.
func (m *MockSource) WithoutBatch() Source { return sourceOnly{m} }
