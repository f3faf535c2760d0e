package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/5TFG4/weaver/domain"
)

// BarRepository is the read side the bar cache preloads from. Grounded
// on the historical-bar half of live.ExchangeAdapter, generalized into
// its own narrow contract since the backtest service has no adapter at
// all, only a data source.
type BarRepository interface {
	GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error)
}

// barCache holds one run's preloaded bars, keyed by symbol then
// timestamp, generalizing the per-symbol map-of-slices shape into a
// map-of-maps so advance_to's per-tick lookup is O(1) instead of a
// scan. Read-only after Load.
type barCache struct {
	bySymbol map[string]map[time.Time]domain.Bar
	sorted   map[string][]domain.Bar
}

func newBarCache() *barCache {
	return &barCache{
		bySymbol: make(map[string]map[time.Time]domain.Bar),
		sorted:   make(map[string][]domain.Bar),
	}
}

// Load preloads bars for every symbol over [start, end] from repo.
func (c *barCache) Load(ctx context.Context, repo BarRepository, symbols []string, timeframe string, start, end time.Time) error {
	for _, symbol := range symbols {
		bars, err := repo.GetBars(ctx, symbol, timeframe, start, end)
		if err != nil {
			return err
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		byTs := make(map[time.Time]domain.Bar, len(bars))
		for _, b := range bars {
			byTs[b.Timestamp] = b
		}
		c.bySymbol[symbol] = byTs
		c.sorted[symbol] = bars
	}
	return nil
}

// At returns the bar for symbol at exactly ts, if preloaded.
func (c *barCache) At(symbol string, ts time.Time) (domain.Bar, bool) {
	byTs, ok := c.bySymbol[symbol]
	if !ok {
		return domain.Bar{}, false
	}
	b, ok := byTs[ts]
	return b, ok
}

// Window returns at most lookback bars for symbol with timestamp <=
// asOf, in ascending order. If asOf is zero, the latest lookback bars
// are returned instead.
func (c *barCache) Window(symbol string, lookback int, asOf time.Time) []domain.Bar {
	bars := c.sorted[symbol]
	if len(bars) == 0 {
		return nil
	}

	var eligible []domain.Bar
	if asOf.IsZero() {
		eligible = bars
	} else {
		idx := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(asOf) })
		eligible = bars[:idx]
	}

	if lookback <= 0 || lookback >= len(eligible) {
		out := make([]domain.Bar, len(eligible))
		copy(out, eligible)
		return out
	}
	start := len(eligible) - lookback
	out := make([]domain.Bar, lookback)
	copy(out, eligible[start:])
	return out
}
