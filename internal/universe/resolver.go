// Package universe implements UniverseResolver (spec.md §4.1): the
// point-in-time membership, sector and market-cap source every rebalance
// begins from. The core optimizer is agnostic to how membership is
// sourced (spec.md §4.8 "the core is agnostic"); this package ships a
// static, fixture-driven implementation suitable for backtests over a
// fixed constituents list.
package universe

import (
	"context"
	"sort"

	"github.com/quantedge/alphacore/internal/domain/market"
)

// Resolver yields the eligible tickers, sectors and market caps as of a
// given date.
type Resolver interface {
	Resolve(ctx context.Context, asOf market.AsOfDate) (market.Universe, error)
}

// membership is one ticker's effective date range within the static list.
type membership struct {
	ticker market.Ticker
	sector market.Sector
	from   market.AsOfDate
	to     *market.AsOfDate // nil means "still a constituent"
}

// Static resolves membership from an in-memory, manually curated
// constituents list — the "historical constituents file" case spec.md §4.1
// names explicitly, registered up front via Add rather than scraped live.
// Resolve fills each Constituent's Ticker and Sector only; MarketCap is left
// zero.
type Static struct {
	members []membership
}

// NewStatic builds a Static resolver with no members; populate via Add.
func NewStatic() *Static {
	return &Static{}
}

// Add registers a ticker's membership window. to == nil means the ticker
// remains a constituent through the end of the backtest.
func (s *Static) Add(ticker market.Ticker, sector market.Sector, from market.AsOfDate, to *market.AsOfDate) {
	s.members = append(s.members, membership{ticker: ticker, sector: sector, from: from, to: to})
}

// Resolve implements Resolver.
func (s *Static) Resolve(_ context.Context, asOf market.AsOfDate) (market.Universe, error) {
	var constituents []market.Constituent
	for _, m := range s.members {
		if m.from.After(asOf) {
			continue
		}
		if m.to != nil && m.to.Before(asOf) {
			continue
		}
		constituents = append(constituents, market.Constituent{
			Ticker: m.ticker,
			Sector: m.sector,
		})
	}
	sort.Slice(constituents, func(i, j int) bool { return constituents[i].Ticker < constituents[j].Ticker })
	return market.Universe{AsOf: asOf, Constituents: constituents}, nil
}
