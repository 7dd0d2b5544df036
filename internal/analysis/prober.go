package analysis

import (
	"context"
	"errors"

	"github.com/jmcasey/stockdash/internal/macro"
	"github.com/jmcasey/stockdash/internal/marketdata"
)

// GatewayProber verifies analysis freshness through the market data
// gateway. A stale-marked degraded quote is not verification: the drift
// test needs the current price, so the prober fails closed on it.
type GatewayProber struct {
	gw    *marketdata.Gateway
	macro macro.Provider
}

// NewGatewayProber wires a prober.
func NewGatewayProber(gw *marketdata.Gateway, mp macro.Provider) *GatewayProber {
	return &GatewayProber{gw: gw, macro: mp}
}

var errUnverifiable = errors.New("current price unavailable for freshness check")

func (p *GatewayProber) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q, f, err := p.gw.Quote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if f.Stale || q.Empty() {
		return 0, errUnverifiable
	}
	return q.Price, nil
}

func (p *GatewayProber) CurrentMacro(ctx context.Context) (macro.Snapshot, error) {
	return p.macro.Snapshot(ctx)
}
