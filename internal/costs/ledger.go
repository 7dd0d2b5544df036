// Package costs accumulates the monetary cost of reasoning and data calls
// into monthly periods for budget reporting. It shares the lazy-rollover
// pattern of the call budget limiter but is a separate instance with its own
// cadence; the two never share state.
package costs

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/observ"
)

// Budget-crossing thresholds. Crossing is reported, never blocking.
const (
	warnAt     = 0.80
	criticalAt = 0.95
)

// Kind labels what a cost entry paid for.
const (
	KindAnalysis = "analysis"
	KindData     = "data"
)

// Period is a closed accounting period.
type Period struct {
	Period    string          `json:"period"` // "YYYY-MM"
	TotalCost decimal.Decimal `json:"total_cost"`
	CallCount int             `json:"call_count"`
}

// Usage is a point-in-time view of the current period.
type Usage struct {
	Period          string          `json:"period"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	Budget          decimal.Decimal `json:"budget"`
	PercentOfBudget float64         `json:"percent_of_budget"`
	CallCount       int             `json:"call_count"`
	Warning         bool            `json:"warning"`
	Critical        bool            `json:"critical"`
}

// Ledger holds exactly one live period plus an append-only history of
// closed ones.
type Ledger struct {
	mu      sync.Mutex
	period  string
	total   decimal.Decimal
	calls   int
	history []Period
	budget  decimal.Decimal
	clk     clock.Clock
	log     zerolog.Logger

	warned   bool
	critical bool
}

// New creates a ledger with a monthly monetary budget.
func New(budget decimal.Decimal, clk clock.Clock, log zerolog.Logger) *Ledger {
	return &Ledger{
		budget: budget,
		total:  decimal.Zero,
		clk:    clk,
		log:    log.With().Str("component", "costs").Logger(),
	}
}

func (l *Ledger) periodKey() string {
	return l.clk.Now().UTC().Format("2006-01")
}

// roll closes the live period if the wall-clock period moved on. Callers
// must hold mu. Rolling twice within one period is a no-op the second time.
func (l *Ledger) roll() {
	key := l.periodKey()
	if key == l.period {
		return
	}
	if l.period != "" {
		closed := Period{Period: l.period, TotalCost: l.total, CallCount: l.calls}
		l.history = append(l.history, closed)
		l.log.Info().
			Str("period", closed.Period).
			Str("total_cost", closed.TotalCost.StringFixed(4)).
			Int("call_count", closed.CallCount).
			Msg("cost period closed")
	}
	l.period = key
	l.total = decimal.Zero
	l.calls = 0
	l.warned = false
	l.critical = false
}

// RecordCost adds amount to the current period under kind.
func (l *Ledger) RecordCost(amount decimal.Decimal, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()

	l.total = l.total.Add(amount)
	l.calls++

	f, _ := amount.Float64()
	observ.IncCounter("cost_calls_total", map[string]string{"kind": kind})
	observ.IncCounterBy("cost_usd_total", map[string]string{"kind": kind}, f)

	pct := l.percentOfBudget()
	switch {
	case pct >= criticalAt*100 && !l.critical:
		l.critical = true
		l.log.Warn().
			Str("period", l.period).
			Float64("percent_of_budget", pct).
			Msg("cost budget critical threshold crossed")
	case pct >= warnAt*100 && !l.warned:
		l.warned = true
		l.log.Warn().
			Str("period", l.period).
			Float64("percent_of_budget", pct).
			Msg("cost budget warning threshold crossed")
	}
}

func (l *Ledger) percentOfBudget() float64 {
	if l.budget.IsZero() {
		return 0
	}
	pct, _ := l.total.Div(l.budget).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// CurrentUsage returns the live period's totals.
func (l *Ledger) CurrentUsage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()

	pct := l.percentOfBudget()
	return Usage{
		Period:          l.period,
		TotalCost:       l.total,
		Budget:          l.budget,
		PercentOfBudget: pct,
		CallCount:       l.calls,
		Warning:         pct >= warnAt*100,
		Critical:        pct >= criticalAt*100,
	}
}

// Rollover forces the lazy period check. Within an unchanged period it is
// a no-op.
func (l *Ledger) Rollover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
}

// History returns the closed periods, oldest first.
func (l *Ledger) History() []Period {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	out := make([]Period, len(l.history))
	copy(out, l.history)
	return out
}
