package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcasey/stockdash/internal/marketdata"
	"github.com/jmcasey/stockdash/internal/quality"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	res, fresh, err := s.gw.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// quality=1 narrows to the investable universe; raw results otherwise.
	if r.URL.Query().Get("quality") == "1" {
		res = quality.Filter(res, s.quality, s.clk.Now())
	}
	writeJSON(w, http.StatusOK, envelope{Data: res, Freshness: &fresh})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, fresh, err := s.gw.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: q, Freshness: &fresh})
}

func (s *Server) handleBatchQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if strings.TrimSpace(raw) == "" {
		s.writeError(w, marketdata.ErrInput("batch_quotes", "", "symbols query parameter is required"))
		return
	}
	quotes, fresh, err := s.gw.BatchQuotes(r.Context(), strings.Split(raw, ","))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: quotes, Freshness: &fresh})
}

func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	f, fresh, err := s.gw.Fundamentals(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: f, Freshness: &fresh})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := marketdata.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	series, fresh, err := s.gw.History(r.Context(), chi.URLParam(r, "symbol"), rng)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: series, Freshness: &fresh})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	rec, err := s.svc.Analysis(r.Context(), chi.URLParam(r, "symbol"), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: rec})
}

func (s *Server) handleAnalysisHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.st.History(chi.URLParam(r, "symbol"), 20)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: recs})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data_calls":                   s.gw.Usage(),
		"data_calls_approaching_limit": s.gw.ApproachingLimit(),
		"costs":                        s.ledger.CurrentUsage(),
	})
}

func (s *Server) handleWatchlistGet(w http.ResponseWriter, r *http.Request) {
	list, err := s.st.Watchlist()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: list})
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	if err := s.st.AddWatch(chi.URLParam(r, "symbol"), s.clk.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.st.RemoveWatch(chi.URLParam(r, "symbol")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
