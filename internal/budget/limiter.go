// Package budget tracks chargeable upstream calls against per-source daily
// quotas. One Limiter exists per upstream source; the gateway checks it
// before every call that would hit the provider.
package budget

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/observ"
)

// warnThreshold is the fraction of quota at which ApproachingLimit trips.
const warnThreshold = 0.8

// Usage is a point-in-time view of quota consumption.
type Usage struct {
	Source      string  `json:"source"`
	Used        int     `json:"used"`
	Limit       int     `json:"limit"`
	Remaining   int     `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

// Limiter counts calls within a calendar-day window (UTC). The window rolls
// over lazily on first use after a boundary, so an idle limiter self-heals
// without a background timer. It never errors; refusal is a boolean.
type Limiter struct {
	mu        sync.Mutex
	source    string
	limit     int
	count     int
	windowKey string // UTC calendar date, e.g. "2026-03-02"
	clk       clock.Clock
	log       zerolog.Logger
}

// New creates a limiter for one upstream source with a daily call quota.
func New(source string, limit int, clk clock.Clock, log zerolog.Logger) *Limiter {
	return &Limiter{
		source: source,
		limit:  limit,
		clk:    clk,
		log:    log.With().Str("component", "budget").Str("source", source).Logger(),
	}
}

// roll advances the window if the calendar date changed. Callers must hold mu.
func (l *Limiter) roll() {
	key := l.clk.Now().UTC().Format("2006-01-02")
	if key == l.windowKey {
		return
	}
	if l.windowKey != "" {
		l.log.Info().
			Str("window", l.windowKey).
			Int("used", l.count).
			Int("limit", l.limit).
			Msg("call budget window rolled over")
	}
	l.windowKey = key
	l.count = 0
}

// CanMakeCall reports whether one more chargeable call fits in the quota.
func (l *Limiter) CanMakeCall() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	if l.count >= l.limit {
		observ.IncCounter("call_budget_refused_total", map[string]string{"source": l.source})
		return false
	}
	return true
}

// RecordCall counts one call that was actually made. It must be invoked once
// per upstream call, not once per logical request.
func (l *Limiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	l.count++
	observ.IncCounter("call_budget_used_total", map[string]string{"source": l.source})
	observ.SetGauge("call_budget_remaining", float64(l.limit-l.count), map[string]string{"source": l.source})
}

// Usage returns the current window's consumption.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	pct := 0.0
	if l.limit > 0 {
		pct = float64(l.count) / float64(l.limit) * 100
	}
	return Usage{
		Source:      l.source,
		Used:        l.count,
		Limit:       l.limit,
		Remaining:   l.limit - l.count,
		PercentUsed: pct,
	}
}

// ApproachingLimit reports whether usage has crossed the warning threshold.
func (l *Limiter) ApproachingLimit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	if l.limit <= 0 {
		return false
	}
	return float64(l.count) >= warnThreshold*float64(l.limit)
}
