// Package jobs runs the background maintenance loops: cache sweeping,
// budget-aware watchlist refresh, and periodic usage reporting.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/observ"
	"github.com/jmcasey/stockdash/internal/store"
)

// Specs holds the cron expressions for each job.
type Specs struct {
	Cleanup string
	Refresh string
	Usage   string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	gw     *marketdata.Gateway
	st     *store.Store
	ledger *costs.Ledger
	log    zerolog.Logger
}

// New builds the scheduler but does not start it.
func New(gw *marketdata.Gateway, st *store.Store, ledger *costs.Ledger, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		gw:     gw,
		st:     st,
		ledger: ledger,
		log:    log.With().Str("component", "jobs").Logger(),
	}
}

// Start registers the jobs and launches the runner.
func (s *Scheduler) Start(specs Specs) error {
	if _, err := s.cron.AddFunc(specs.Cleanup, s.sweepCaches); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(specs.Refresh, s.refreshWatchlist); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(specs.Usage, s.reportUsage); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) sweepCaches() {
	if n := s.gw.Cleanup(); n > 0 {
		s.log.Debug().Int("evicted", n).Msg("swept expired cache entries")
	}
	// Touching the ledger here gives the lazy month rollover a tick even
	// when no cost lands near the boundary.
	s.ledger.Rollover()
}

// refreshWatchlist keeps watched quotes warm so page loads hit the cache.
// It backs off once the daily call budget is 80% spent; interactive
// requests get the remaining headroom.
func (s *Scheduler) refreshWatchlist() {
	if s.gw.ApproachingLimit() {
		s.log.Warn().Msg("skipping watchlist refresh, call budget nearly spent")
		observ.IncCounter("watchlist_refresh_skipped_total", map[string]string{"reason": "budget"})
		return
	}
	list, err := s.st.Watchlist()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load watchlist")
		return
	}
	if len(list) == 0 {
		return
	}
	symbols := make([]string, 0, len(list))
	for _, e := range list {
		symbols = append(symbols, e.Symbol)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, _, err := s.gw.BatchQuotes(ctx, symbols); err != nil {
		s.log.Warn().Err(err).Msg("watchlist refresh failed")
		return
	}
	observ.IncCounter("watchlist_refresh_total", map[string]string{})
}

func (s *Scheduler) reportUsage() {
	u := s.gw.Usage()
	c := s.ledger.CurrentUsage()
	s.log.Info().
		Int("data_calls_used", u.Used).
		Int("data_calls_limit", u.Limit).
		Str("month_spend", c.TotalCost.StringFixed(2)).
		Float64("budget_pct", c.PercentOfBudget).
		Msg("usage report")
}
