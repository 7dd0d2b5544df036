package analysis

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
	"github.com/jmcasey/stockdash/internal/macro"
	"github.com/jmcasey/stockdash/internal/marketdata"
)

const scriptedCompletion = `CONFIDENCE: 4
THESIS: Durable services growth with hardware optionality.
BULLISH:
- Services margin expansion
- Buyback support
BEARISH:
- China exposure
TECHNICAL: Consolidating above the 50-day.
CATALYSTS:
- Earnings in April
BOTTOM_LINE: Hold with a bullish tilt.
`

// fakeReasoner returns a scripted completion and counts calls.
type fakeReasoner struct {
	calls int
	err   error
}

func (f *fakeReasoner) Generate(ctx context.Context, prompt string) (Completion, error) {
	f.calls++
	if f.err != nil {
		return Completion{}, f.err
	}
	return Completion{Text: scriptedCompletion, InputTokens: 900, OutputTokens: 300}, nil
}

type fakeAuditor struct {
	appended   []Record
	superseded []string
}

func (f *fakeAuditor) AppendAnalysis(rec Record) error { f.appended = append(f.appended, rec); return nil }
func (f *fakeAuditor) MarkSuperseded(id string, at time.Time) error {
	f.superseded = append(f.superseded, id)
	return nil
}

func serviceSetup(t *testing.T) (*Service, *fakeReasoner, *marketdata.MockSource, *costs.Ledger, *fakeAuditor, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC))
	src := marketdata.NewMockSource(true)
	lim := budget.New("mock", 100, clk, zerolog.Nop())
	gw := marketdata.NewGateway(src, lim, marketdata.DefaultTTLs(), clk, zerolog.Nop())
	mp := macro.NewGatewayProvider(gw, zerolog.Nop())
	prober := NewGatewayProber(gw, mp)
	cache := NewCache(DefaultPolicy(), prober, clk, zerolog.Nop(), nil)
	ledger := costs.New(decimal.NewFromInt(20), clk, zerolog.Nop())
	reasoner := &fakeReasoner{}
	auditor := &fakeAuditor{}
	pricing := Pricing{
		InputPerMTok:  decimal.NewFromFloat(2.5),
		OutputPerMTok: decimal.NewFromFloat(10),
	}
	svc := NewService(cache, gw, mp, reasoner, pricing, ledger, auditor, clk, zerolog.Nop())
	return svc, reasoner, src, ledger, auditor, clk
}

func TestGenerateRecordsCostAndAudit(t *testing.T) {
	svc, reasoner, _, ledger, auditor, _ := serviceSetup(t)

	rec, err := svc.Analysis(context.Background(), "aapl", false)
	require.NoError(t, err)
	require.Equal(t, "AAPL", rec.Symbol)
	require.Equal(t, 4, rec.Confidence)
	require.Equal(t, "Durable services growth with hardware optionality.", rec.Thesis)
	require.Len(t, rec.BullishFactors, 2)
	require.Equal(t, []string{"China exposure"}, rec.BearishFactors)
	require.Equal(t, 206.80, rec.PriceAtGeneration)
	require.Equal(t, 16.0, rec.MacroAtGeneration.VolatilityIndex)
	require.NotEmpty(t, rec.ID)

	// 900 in @ 2.5/M + 300 out @ 10/M = 0.00225 + 0.003
	require.True(t, rec.EstimatedCost.Equal(decimal.NewFromFloat(0.00525)), "cost=%s", rec.EstimatedCost)

	u := ledger.CurrentUsage()
	require.True(t, u.TotalCost.GreaterThan(decimal.NewFromFloat(0.005)), "ledger total=%s", u.TotalCost)
	require.Len(t, auditor.appended, 1)
	require.Equal(t, 1, reasoner.calls)
}

func TestSecondRequestServedFromCache(t *testing.T) {
	svc, reasoner, _, _, _, _ := serviceSetup(t)
	ctx := context.Background()

	first, err := svc.Analysis(ctx, "AAPL", false)
	require.NoError(t, err)
	second, err := svc.Analysis(ctx, "AAPL", false)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, reasoner.calls, "cached analysis must not hit the reasoner")
}

func TestForceRefreshResnapsPriceAndMacro(t *testing.T) {
	svc, reasoner, src, _, _, clk := serviceSetup(t)
	ctx := context.Background()

	first, err := svc.Analysis(ctx, "AAPL", false)
	require.NoError(t, err)

	// Price moves (under the drift threshold) and the quote cache expires.
	clk.Advance(5 * time.Minute)
	src.SetQuote(marketdata.Quote{Symbol: "AAPL", Price: 210.0, Volume: 1, Timestamp: clk.Now()})

	second, err := svc.Analysis(ctx, "AAPL", true)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID, "forced refresh must produce a new record")
	require.Equal(t, 210.0, second.PriceAtGeneration, "price must be resnapped to the refresh call")
	require.Equal(t, 2, reasoner.calls)
}

func TestUnknownSymbolIsInvalidInput(t *testing.T) {
	svc, _, _, _, _, _ := serviceSetup(t)

	_, err := svc.Analysis(context.Background(), "ZZZZ", false)
	require.True(t, marketdata.IsKind(err, marketdata.KindInvalidInput), "got %v", err)
}

func TestReasonerFailureDoesNotPoisonCache(t *testing.T) {
	svc, reasoner, _, ledger, auditor, _ := serviceSetup(t)
	ctx := context.Background()

	reasoner.err = marketdata.ErrUpstream("reasoning", "AAPL", nil)
	_, err := svc.Analysis(ctx, "AAPL", false)
	require.True(t, marketdata.IsKind(err, marketdata.KindUpstreamUnavailable))
	require.Empty(t, auditor.appended)
	require.True(t, ledger.CurrentUsage().TotalCost.IsZero(), "failed call must not be billed")

	reasoner.err = nil
	rec, err := svc.Analysis(ctx, "AAPL", false)
	require.NoError(t, err)
	require.NotNil(t, rec)
}
