package marketdata

import (
	"sort"
	"time"
)

// sortPricePoints orders a series oldest-first.
func sortPricePoints(pp []PricePoint) {
	sort.Slice(pp, func(i, j int) bool { return pp[i].Time.Before(pp[j].Time) })
}

// clipRange trims a series to the window r ending at now.
func clipRange(pp []PricePoint, r Range, now time.Time) []PricePoint {
	var span time.Duration
	switch r {
	case Range1D:
		span = 24 * time.Hour
	case Range5D:
		span = 5 * 24 * time.Hour
	case Range1M:
		span = 31 * 24 * time.Hour
	case Range3M:
		span = 92 * 24 * time.Hour
	case Range6M:
		span = 183 * 24 * time.Hour
	case Range1Y:
		span = 366 * 24 * time.Hour
	case Range5Y:
		span = 5 * 366 * 24 * time.Hour
	default:
		return pp
	}
	cutoff := now.Add(-span)
	i := sort.Search(len(pp), func(i int) bool { return !pp[i].Time.Before(cutoff) })
	return pp[i:]
}
