package analysis

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jmcasey/stockdash/internal/marketdata"
)

// StaticReasoner produces a canned completion without calling any external
// service. Used in dev mode so the full pipeline can run offline and cost
// accounting still has tokens to price.
type StaticReasoner struct{}

func (StaticReasoner) Generate(_ context.Context, prompt string) (Completion, error) {
	text := `CONFIDENCE: 3
THESIS: Placeholder analysis generated offline. Swap the reasoner provider to get a real take.
BULLISH:
- Pipeline wired end to end
BEARISH:
- No external reasoning behind this output
TECHNICAL: Not evaluated in offline mode.
CATALYSTS:
- Enabling a real reasoner provider
BOTTOM_LINE: Offline placeholder, not investment research.
`
	return Completion{
		Text:         text,
		InputTokens:  len(strings.Fields(prompt)),
		OutputTokens: len(strings.Fields(text)),
	}, nil
}

// NewReasoner picks a Reasoner implementation by provider name.
func NewReasoner(provider string, cfg HTTPReasonerConfig, log zerolog.Logger) (Reasoner, error) {
	switch provider {
	case "mock":
		return StaticReasoner{}, nil
	case "", "openai":
		return NewHTTPReasoner(cfg, log)
	default:
		return nil, marketdata.ErrConfig("unknown reasoner provider: " + provider)
	}
}
