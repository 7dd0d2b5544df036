package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantageConfig configures the Alpha Vantage source.
type AlphaVantageConfig struct {
	APIKey             string
	BaseURL            string
	RateLimitPerMinute int
	TimeoutSeconds     int
}

// AlphaVantageSource implements Source against the Alpha Vantage API.
// The per-minute rate.Limiter smooths request pacing to stay under the
// free-tier per-minute cap; the daily call budget lives in the gateway.
type AlphaVantageSource struct {
	apiKey  string
	baseURL string
	client  *http.Client
	pace    *rate.Limiter
	log     zerolog.Logger
}

// NewAlphaVantageSource validates config and builds the source.
func NewAlphaVantageSource(cfg AlphaVantageConfig, log zerolog.Logger) (*AlphaVantageSource, error) {
	if cfg.APIKey == "" {
		return nil, ErrConfig("alphavantage API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = alphaVantageBaseURL
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 5 // free tier
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	return &AlphaVantageSource{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		pace:    rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		log:     log.With().Str("component", "alphavantage").Logger(),
	}, nil
}

func (s *AlphaVantageSource) Name() string { return "alphavantage" }

// call performs one paced GET and decodes the body into out.
func (s *AlphaVantageSource) call(ctx context.Context, params url.Values, out any) error {
	if err := s.pace.Wait(ctx); err != nil {
		return err
	}
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alphavantage returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	// Alpha Vantage reports throttling and bad requests as 200s with a
	// Note/Information/Error Message field instead of payload.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	for _, k := range []string{"Note", "Information", "Error Message"} {
		if msg, ok := probe[k]; ok {
			return fmt.Errorf("alphavantage: %s", strings.Trim(string(msg), `"`))
		}
	}
	return json.Unmarshal(body, out)
}

func (s *AlphaVantageSource) Search(ctx context.Context, query string) ([]Instrument, error) {
	var payload struct {
		BestMatches []map[string]string `json:"bestMatches"`
	}
	params := url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {query}}
	if err := s.call(ctx, params, &payload); err != nil {
		return nil, err
	}

	out := make([]Instrument, 0, len(payload.BestMatches))
	for _, m := range payload.BestMatches {
		out = append(out, Instrument{
			Symbol:   NormalizeSymbol(m["1. symbol"]),
			Name:     m["2. name"],
			Exchange: m["4. region"],
		})
	}
	return out, nil
}

func (s *AlphaVantageSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	var payload struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	params := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}
	if err := s.call(ctx, params, &payload); err != nil {
		return Quote{}, err
	}
	gq := payload.GlobalQuote
	if len(gq) == 0 || gq["01. symbol"] == "" {
		// Unknown symbol: valid empty result, not an error.
		return Quote{Symbol: symbol}, nil
	}

	price := avFloat(gq["05. price"])
	ts, _ := time.Parse("2006-01-02", gq["07. latest trading day"])
	return Quote{
		Symbol:    NormalizeSymbol(gq["01. symbol"]),
		Price:     price,
		Change:    avFloat(gq["09. change"]),
		ChangePct: avFloat(strings.TrimSuffix(gq["10. change percent"], "%")),
		Volume:    avInt(gq["06. volume"]),
		Timestamp: ts,
		Source:    s.Name(),
	}, nil
}

func (s *AlphaVantageSource) Fundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	var ov map[string]string
	params := url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}}
	if err := s.call(ctx, params, &ov); err != nil {
		return Fundamentals{}, err
	}
	if ov["Symbol"] == "" {
		return Fundamentals{Symbol: NormalizeSymbol(symbol)}, nil
	}

	listed, _ := time.Parse("2006-01-02", ov["IPODate"])
	return Fundamentals{
		Symbol:        NormalizeSymbol(ov["Symbol"]),
		Name:          ov["Name"],
		Exchange:      ov["Exchange"],
		Sector:        ov["Sector"],
		Industry:      ov["Industry"],
		MarketCap:     avFloat(ov["MarketCapitalization"]),
		PERatio:       avFloat(ov["PERatio"]),
		EPS:           avFloat(ov["EPS"]),
		DividendYield: avFloat(ov["DividendYield"]),
		Beta:          avFloat(ov["Beta"]),
		High52W:       avFloat(ov["52WeekHigh"]),
		Low52W:        avFloat(ov["52WeekLow"]),
		ListedAt:      listed,
	}, nil
}

func (s *AlphaVantageSource) History(ctx context.Context, symbol string, r Range) ([]PricePoint, error) {
	params := url.Values{"symbol": {symbol}, "outputsize": {"compact"}}
	seriesKey := "Time Series (Daily)"
	layout := "2006-01-02"
	if r.Intraday() {
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", "15min")
		seriesKey = "Time Series (15min)"
		layout = "2006-01-02 15:04:05"
	} else {
		params.Set("function", "TIME_SERIES_DAILY")
		if r == Range1Y || r == Range5Y {
			params.Set("outputsize", "full")
		}
	}

	var payload map[string]json.RawMessage
	if err := s.call(ctx, params, &payload); err != nil {
		return nil, err
	}
	raw, ok := payload[seriesKey]
	if !ok {
		return []PricePoint{}, nil
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("malformed series: %w", err)
	}

	out := make([]PricePoint, 0, len(series))
	for stamp, bar := range series {
		ts, err := time.Parse(layout, stamp)
		if err != nil {
			continue
		}
		out = append(out, PricePoint{
			Time:   ts,
			Open:   avFloat(bar["1. open"]),
			High:   avFloat(bar["2. high"]),
			Low:    avFloat(bar["3. low"]),
			Close:  avFloat(bar["4. close"]),
			Volume: avInt(bar["5. volume"]),
		})
	}
	sortPricePoints(out)
	return clipRange(out, r, time.Now()), nil
}

func avFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func avInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return int64(avFloat(s))
	}
	return n
}
