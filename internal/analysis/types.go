package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmcasey/stockdash/internal/macro"
)

// TokenUsage is what a reasoning call consumed.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Record is one AI-generated analysis plus the market state it was
// generated against. Created only by a successful reasoning call; it is
// never patched in place. PriceAtGeneration and MacroAtGeneration must
// describe the same moment as the thesis they justify, which is why
// replacement is always wholesale.
type Record struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	GeneratedAt       time.Time       `json:"generated_at"`
	PriceAtGeneration float64         `json:"price_at_generation"`
	MacroAtGeneration macro.Snapshot  `json:"macro_at_generation"`
	Confidence        int             `json:"confidence"` // 1..5
	Thesis            string          `json:"thesis"`
	BullishFactors    []string        `json:"bullish_factors"`
	BearishFactors    []string        `json:"bearish_factors"`
	TechnicalSetup    string          `json:"technical_setup"`
	Catalysts         []string        `json:"catalysts"`
	BottomLine        string          `json:"bottom_line"`
	TokenUsage        TokenUsage      `json:"token_usage"`
	EstimatedCost     decimal.Decimal `json:"estimated_cost"`
}
