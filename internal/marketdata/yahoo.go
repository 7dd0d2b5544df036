package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooConfig configures the Yahoo Finance source.
type YahooConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// YahooSource implements Source (and BatchSource) against the Yahoo Finance
// chart/quote endpoints. No credential is required.
type YahooSource struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewYahooSource builds the source.
func NewYahooSource(cfg YahooConfig, log zerolog.Logger) *YahooSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = yahooBaseURL
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	return &YahooSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:     log.With().Str("component", "yahoo").Logger(),
	}
}

func (s *YahooSource) Name() string { return "yahoo" }

func (s *YahooSource) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "stockdash/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Treated by callers as a valid empty result.
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yahoo returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type yahooQuote struct {
	Symbol             string  `json:"symbol"`
	LongName           string  `json:"longName"`
	FullExchangeName   string  `json:"fullExchangeName"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
	RegularMarketChg   float64 `json:"regularMarketChange"`
	RegularMarketPct   float64 `json:"regularMarketChangePercent"`
	RegularMarketVol   int64   `json:"regularMarketVolume"`
	RegularMarketTime  int64   `json:"regularMarketTime"`
	MarketCap          float64 `json:"marketCap"`
	AvgDailyVolume3M   int64   `json:"averageDailyVolume3Month"`
	TrailingPE         float64 `json:"trailingPE"`
	EpsTrailing        float64 `json:"epsTrailingTwelveMonths"`
	DividendYield      float64 `json:"trailingAnnualDividendYield"`
	High52W            float64 `json:"fiftyTwoWeekHigh"`
	Low52W             float64 `json:"fiftyTwoWeekLow"`
}

func (s *YahooSource) fetchQuotes(ctx context.Context, symbols []string) (map[string]yahooQuote, error) {
	var payload struct {
		QuoteResponse struct {
			Result []yahooQuote `json:"result"`
			Error  *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"quoteResponse"`
	}
	params := url.Values{"symbols": {strings.Join(symbols, ",")}}
	if err := s.get(ctx, "/v7/finance/quote", params, &payload); err != nil {
		return nil, err
	}
	if e := payload.QuoteResponse.Error; e != nil {
		return nil, fmt.Errorf("yahoo: %s", e.Description)
	}
	out := make(map[string]yahooQuote, len(payload.QuoteResponse.Result))
	for _, q := range payload.QuoteResponse.Result {
		out[NormalizeSymbol(q.Symbol)] = q
	}
	return out, nil
}

func toQuote(yq yahooQuote, source string) Quote {
	return Quote{
		Symbol:    NormalizeSymbol(yq.Symbol),
		Price:     yq.RegularMarketPrice,
		Change:    yq.RegularMarketChg,
		ChangePct: yq.RegularMarketPct,
		Volume:    yq.RegularMarketVol,
		Timestamp: time.Unix(yq.RegularMarketTime, 0).UTC(),
		Source:    source,
	}
}

func (s *YahooSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	quotes, err := s.fetchQuotes(ctx, []string{symbol})
	if err != nil {
		return Quote{}, err
	}
	yq, ok := quotes[NormalizeSymbol(symbol)]
	if !ok {
		return Quote{Symbol: NormalizeSymbol(symbol)}, nil
	}
	return toQuote(yq, s.Name()), nil
}

// BatchQuotes satisfies BatchSource with a single upstream call.
func (s *YahooSource) BatchQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	quotes, err := s.fetchQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Quote, len(quotes))
	for sym, yq := range quotes {
		out[sym] = toQuote(yq, s.Name())
	}
	return out, nil
}

func (s *YahooSource) Search(ctx context.Context, query string) ([]Instrument, error) {
	var payload struct {
		Quotes []struct {
			Symbol   string `json:"symbol"`
			LongName string `json:"longname"`
			Exchange string `json:"exchange"`
		} `json:"quotes"`
	}
	params := url.Values{"q": {query}, "quotesCount": {"20"}, "newsCount": {"0"}}
	if err := s.get(ctx, "/v1/finance/search", params, &payload); err != nil {
		return nil, err
	}
	out := make([]Instrument, 0, len(payload.Quotes))
	for _, q := range payload.Quotes {
		out = append(out, Instrument{
			Symbol:   NormalizeSymbol(q.Symbol),
			Name:     q.LongName,
			Exchange: q.Exchange,
		})
	}
	return out, nil
}

func (s *YahooSource) Fundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	quotes, err := s.fetchQuotes(ctx, []string{symbol})
	if err != nil {
		return Fundamentals{}, err
	}
	yq, ok := quotes[NormalizeSymbol(symbol)]
	if !ok {
		return Fundamentals{Symbol: NormalizeSymbol(symbol)}, nil
	}
	return Fundamentals{
		Symbol:        NormalizeSymbol(yq.Symbol),
		Name:          yq.LongName,
		Exchange:      yq.FullExchangeName,
		MarketCap:     yq.MarketCap,
		PERatio:       yq.TrailingPE,
		EPS:           yq.EpsTrailing,
		DividendYield: yq.DividendYield,
		High52W:       yq.High52W,
		Low52W:        yq.Low52W,
		AvgVolume:     yq.AvgDailyVolume3M,
	}, nil
}

func (s *YahooSource) History(ctx context.Context, symbol string, r Range) ([]PricePoint, error) {
	interval := "1d"
	if r.Intraday() {
		interval = "15m"
	}
	var payload struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []float64 `json:"open"`
						High   []float64 `json:"high"`
						Low    []float64 `json:"low"`
						Close  []float64 `json:"close"`
						Volume []int64   `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	params := url.Values{"range": {string(r)}, "interval": {interval}}
	if err := s.get(ctx, "/v8/finance/chart/"+url.PathEscape(NormalizeSymbol(symbol)), params, &payload); err != nil {
		return nil, err
	}
	if e := payload.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo: %s", e.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return []PricePoint{}, nil
	}

	res := payload.Chart.Result[0]
	bars := res.Indicators.Quote[0]
	out := make([]PricePoint, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(bars.Close) {
			break
		}
		out = append(out, PricePoint{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   idx(bars.Open, i),
			High:   idx(bars.High, i),
			Low:    idx(bars.Low, i),
			Close:  idx(bars.Close, i),
			Volume: idxInt(bars.Volume, i),
		})
	}
	sortPricePoints(out)
	return out, nil
}

func idx(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func idxInt(v []int64, i int) int64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
