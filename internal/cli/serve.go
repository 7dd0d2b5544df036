package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jmcasey/stockdash/internal/analysis"
	"github.com/jmcasey/stockdash/internal/budget"
	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/config"
	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/jobs"
	"github.com/jmcasey/stockdash/internal/macro"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/observ"
	"github.com/jmcasey/stockdash/internal/quality"
	"github.com/jmcasey/stockdash/internal/server"
	"github.com/jmcasey/stockdash/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background jobs",
	RunE:  runServe,
}

func loadConfig() (config.Root, error) {
	config.LoadDotenv()
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := observ.NewLogger(cfg.Logging.Level, logPretty || cfg.Logging.Pretty)
	clk := clock.Wall{}

	src, err := marketdata.NewSource(cfg.Source, log)
	if err != nil {
		return err
	}
	limiter := budget.New(src.Name(), cfg.Budget.DataDailyCap, clk, log)
	ledger := costs.New(decimal.NewFromFloat(cfg.Budget.MonthlyBudgetUSD), clk, log)
	gw := marketdata.NewGateway(src, limiter, cfg.TTLs(), clk, log).
		WithCostLedger(ledger, decimal.NewFromFloat(cfg.Budget.CostPerDataCall))

	mp := macro.NewGatewayProvider(gw, log)

	rc := cfg.Analysis.Reasoner
	reasoner, err := analysis.NewReasoner(rc.Provider, analysis.HTTPReasonerConfig{
		BaseURL:        rc.BaseURL,
		APIKey:         os.Getenv(rc.APIKeyEnv),
		Model:          rc.Model,
		TimeoutSeconds: rc.TimeoutSeconds,
	}, log)
	if err != nil {
		return err
	}
	pricing := analysis.Pricing{
		InputPerMTok:  decimal.NewFromFloat(rc.InputPerMTokUSD),
		OutputPerMTok: decimal.NewFromFloat(rc.OutputPerMTokUSD),
	}

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ttl, drift, vix, yield, dollar := cfg.Policy()
	policy := analysis.Policy{
		TTL:           ttl,
		MaxPriceDrift: drift,
		MaxVIXMove:    vix,
		MaxYieldMove:  yield,
		MaxDollarMove: dollar,
	}
	prober := analysis.NewGatewayProber(gw, mp)
	cache := analysis.NewCache(policy, prober, clk, log, func(old analysis.Record) {
		if err := st.MarkSuperseded(old.ID, clk.Now()); err != nil {
			log.Warn().Err(err).Str("id", old.ID).Msg("failed to mark analysis superseded")
		}
	})
	svc := analysis.NewService(cache, gw, mp, reasoner, pricing, ledger, st, clk, log)

	sched := jobs.New(gw, st, ledger, log)
	if err := sched.Start(jobs.Specs{
		Cleanup: cfg.Jobs.CleanupSpec,
		Refresh: cfg.Jobs.RefreshSpec,
		Usage:   cfg.Jobs.UsageSpec,
	}); err != nil {
		return err
	}
	defer sched.Stop()

	qt := quality.Thresholds{
		MinMarketCap:     cfg.Quality.MinMarketCap,
		MinPrice:         cfg.Quality.MinPrice,
		MinVolume:        cfg.Quality.MinVolume,
		AllowedExchanges: cfg.Quality.AllowedExchanges,
	}
	srv := server.New(gw, svc, st, ledger, qt, clk, log)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(cfg.Server.CORSOrigins),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("source", src.Name()).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
