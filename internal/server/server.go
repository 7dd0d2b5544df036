// Package server exposes the freshness/cost core over HTTP for the
// dashboard frontend.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/analysis"
	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/costs"
	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/observ"
	"github.com/jmcasey/stockdash/internal/quality"
	"github.com/jmcasey/stockdash/internal/store"
)

// Server bundles the core components behind the HTTP API.
type Server struct {
	gw      *marketdata.Gateway
	svc     *analysis.Service
	st      *store.Store
	ledger  *costs.Ledger
	quality quality.Thresholds
	clk     clock.Clock
	log     zerolog.Logger
}

// New builds a server over the wired core.
func New(gw *marketdata.Gateway, svc *analysis.Service, st *store.Store, ledger *costs.Ledger,
	qt quality.Thresholds, clk clock.Clock, log zerolog.Logger) *Server {
	return &Server{
		gw:      gw,
		svc:     svc,
		st:      st,
		ledger:  ledger,
		quality: qt,
		clk:     clk,
		log:     log.With().Str("component", "server").Logger(),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observ.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/quote/{symbol}", s.handleQuote)
		r.Get("/quotes", s.handleBatchQuotes)
		r.Get("/fundamentals/{symbol}", s.handleFundamentals)
		r.Get("/history/{symbol}", s.handleHistory)
		r.Get("/analysis/{symbol}", s.handleAnalysis)
		r.Get("/analysis/{symbol}/history", s.handleAnalysisHistory)
		r.Get("/usage", s.handleUsage)
		r.Get("/watchlist", s.handleWatchlistGet)
		r.Post("/watchlist/{symbol}", s.handleWatchlistAdd)
		r.Delete("/watchlist/{symbol}", s.handleWatchlistRemove)
	})
	return r
}

// envelope is the uniform success shape. Freshness is present on
// gateway-served data so the frontend can mark stale values.
type envelope struct {
	Data      any                   `json:"data"`
	Freshness *marketdata.Freshness `json:"freshness,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the failure taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch marketdata.KindOf(err) {
	case marketdata.KindQuotaExhausted:
		status = http.StatusTooManyRequests
	case marketdata.KindUpstreamUnavailable:
		status = http.StatusBadGateway
	case marketdata.KindInvalidInput:
		status = http.StatusBadRequest
	case marketdata.KindConfigurationMissing:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error":   marketdata.KindOf(err).String(),
		"message": err.Error(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"source": s.gw.SourceName(),
		"time":   s.clk.Now().UTC(),
	})
}
