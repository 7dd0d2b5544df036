package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jmcasey/stockdash/internal/marketdata"
)

// Completion is the opaque output of one reasoning call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Reasoner is the external reasoning capability. Retries and backoff, if
// any, belong to the calling layer, not here.
type Reasoner interface {
	Generate(ctx context.Context, prompt string) (Completion, error)
}

// Pricing converts token usage to money.
type Pricing struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

// Cost prices a completion's token usage.
func (p Pricing) Cost(u TokenUsage) decimal.Decimal {
	mtok := decimal.NewFromInt(1_000_000)
	in := decimal.NewFromInt(int64(u.InputTokens)).Div(mtok).Mul(p.InputPerMTok)
	out := decimal.NewFromInt(int64(u.OutputTokens)).Div(mtok).Mul(p.OutputPerMTok)
	return in.Add(out)
}

// HTTPReasonerConfig configures the chat-completions reasoner.
type HTTPReasonerConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// HTTPReasoner calls an OpenAI-compatible chat completions endpoint.
type HTTPReasoner struct {
	cfg    HTTPReasonerConfig
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPReasoner validates config and builds the reasoner.
func NewHTTPReasoner(cfg HTTPReasonerConfig, log zerolog.Logger) (*HTTPReasoner, error) {
	if cfg.APIKey == "" {
		return nil, marketdata.ErrConfig("reasoner API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	return &HTTPReasoner{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:    log.With().Str("component", "reasoner").Logger(),
	}, nil
}

func (r *HTTPReasoner) Generate(ctx context.Context, prompt string) (Completion, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": r.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return Completion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return Completion{}, marketdata.ErrUpstream("reasoning", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Completion{}, marketdata.ErrUpstream("reasoning", "", fmt.Errorf("reasoner returned HTTP %d", resp.StatusCode))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Completion{}, marketdata.ErrUpstream("reasoning", "", err)
	}
	if len(payload.Choices) == 0 {
		return Completion{}, marketdata.ErrUpstream("reasoning", "", fmt.Errorf("empty choices"))
	}
	return Completion{
		Text:         payload.Choices[0].Message.Content,
		InputTokens:  payload.Usage.PromptTokens,
		OutputTokens: payload.Usage.CompletionTokens,
	}, nil
}
