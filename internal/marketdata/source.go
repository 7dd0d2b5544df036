package marketdata

import "context"

// Source is the uniform capability every upstream data provider implements.
// Multiple interchangeable implementations may exist; the gateway is
// indifferent to which one is active. Sources do their own transport-level
// concerns (per-minute pacing, timeouts) but never own the daily call
// budget or the TTL cache — that is gateway policy, applied uniformly.
type Source interface {
	Name() string
	Search(ctx context.Context, query string) ([]Instrument, error)
	Quote(ctx context.Context, symbol string) (Quote, error)
	Fundamentals(ctx context.Context, symbol string) (Fundamentals, error)
	History(ctx context.Context, symbol string, r Range) ([]PricePoint, error)
}

// BatchSource is implemented by providers that can answer a multi-symbol
// quote request in a single upstream call. Batching is a provider
// capability, not a gateway policy: the gateway works either way and must
// not double-count calls when batching is used.
type BatchSource interface {
	Source
	BatchQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}
