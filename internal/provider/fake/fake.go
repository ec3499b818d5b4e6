// Package fake provides an in-memory MarketDataProvider for tests, and a
// point-in-time trap decorator that fails any read dated after the as-of
// argument it was called with. This is the direct implementation of the
// "no future reads" property test in spec.md §8, modeled on the teacher's
// injectable Clock in internal/backtest/smoke90/runner.go.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// Provider is a fully in-memory MarketDataProvider, built for tests and for
// deterministic scenario fixtures (spec.md §8 S1-S6).
type Provider struct {
	PriceSeries  map[market.Ticker]market.PriceSeries
	fundamentals map[market.Ticker][]market.FundamentalSnapshot // sorted by AsOf ascending; populate via PutFundamentals
	Benchmark    market.PriceSeries
	CAPESeries   map[string]float64 // date string -> CAPE
	FFWindows    map[provider.FFFactor]provider.FFWindow
	Indices      map[string]market.PriceSeries
	VIX          map[string]provider.VIXTermStructure
}

// New returns an empty fake provider ready for fixture population.
func New() *Provider {
	return &Provider{
		PriceSeries:  make(map[market.Ticker]market.PriceSeries),
		fundamentals: make(map[market.Ticker][]market.FundamentalSnapshot),
		CAPESeries:   make(map[string]float64),
		FFWindows:    make(map[provider.FFFactor]provider.FFWindow),
		Indices:      make(map[string]market.PriceSeries),
		VIX:          make(map[string]provider.VIXTermStructure),
	}
}

// Prices implements provider.MarketDataProvider.
func (p *Provider) Prices(_ context.Context, ticker market.Ticker, start, end market.AsOfDate) (market.PriceSeries, error) {
	series, ok := p.PriceSeries[ticker]
	if !ok {
		return market.PriceSeries{}, fmt.Errorf("%w: no prices for %s", apperrors.ErrDataUnavailable, ticker)
	}
	windowed := market.PriceSeries{Ticker: ticker, Points: series.Window(start.AddDays(-1), end)}
	if len(windowed.Points) == 0 || series.CountThrough(end) < 252 {
		return market.PriceSeries{}, fmt.Errorf("%w: fewer than 252 rows before %s for %s", apperrors.ErrDataUnavailable, end, ticker)
	}
	return windowed, nil
}

// Fundamentals implements provider.MarketDataProvider.
func (p *Provider) Fundamentals(_ context.Context, ticker market.Ticker, asOf market.AsOfDate) (market.FundamentalSnapshot, error) {
	snaps, ok := p.fundamentals[ticker]
	if !ok {
		return market.FundamentalSnapshot{}, fmt.Errorf("%w: no fundamentals for %s", apperrors.ErrDataUnavailable, ticker)
	}
	var best *market.FundamentalSnapshot
	for i := range snaps {
		if snaps[i].AsOf.After(asOf) {
			break
		}
		best = &snaps[i]
	}
	if best == nil {
		return market.FundamentalSnapshot{}, fmt.Errorf("%w: no fundamentals observable by %s for %s", apperrors.ErrDataUnavailable, asOf, ticker)
	}
	return *best, nil
}

// MarketCaps implements provider.MarketDataProvider.
func (p *Provider) MarketCaps(ctx context.Context, tickers []market.Ticker, asOf market.AsOfDate) (map[market.Ticker]float64, error) {
	out := make(map[market.Ticker]float64, len(tickers))
	for _, t := range tickers {
		snap, err := p.Fundamentals(ctx, t, asOf)
		if err != nil || snap.SharesOutstanding == nil {
			continue
		}
		series, ok := p.PriceSeries[t]
		if !ok {
			continue
		}
		point, ok := series.Last(asOf)
		if !ok {
			continue
		}
		out[t] = *snap.SharesOutstanding * point.AdjustedClose
	}
	return out, nil
}

// BenchmarkPrices implements provider.MarketDataProvider.
func (p *Provider) BenchmarkPrices(_ context.Context, start, end market.AsOfDate) (market.PriceSeries, error) {
	if len(p.Benchmark.Points) == 0 {
		return market.PriceSeries{}, fmt.Errorf("%w: no benchmark series configured", apperrors.ErrProviderUnavailable)
	}
	return market.PriceSeries{Ticker: p.Benchmark.Ticker, Points: p.Benchmark.Window(start.AddDays(-1), end)}, nil
}

// CAPE implements provider.MarketDataProvider.
func (p *Provider) CAPE(_ context.Context, asOf market.AsOfDate) (*float64, error) {
	v, ok := p.CAPESeries[asOf.String()]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// FFFactorWindow implements provider.MarketDataProvider.
func (p *Provider) FFFactorWindow(_ context.Context, _ market.AsOfDate, months int) (map[provider.FFFactor]provider.FFWindow, error) {
	out := make(map[provider.FFFactor]provider.FFWindow, len(p.FFWindows))
	for f, w := range p.FFWindows {
		trailing := w.TrailingMonthly
		if len(trailing) > months {
			trailing = trailing[len(trailing)-months:]
		}
		out[f] = provider.FFWindow{
			TrailingMonthly:   trailing,
			FullHistoryMean:   w.FullHistoryMean,
			FullHistoryStdDev: w.FullHistoryStdDev,
		}
	}
	return out, nil
}

// IndexHistory implements provider.MarketDataProvider.
func (p *Provider) IndexHistory(_ context.Context, symbol string, end market.AsOfDate, lookbackDays int) (market.PriceSeries, error) {
	series, ok := p.Indices[symbol]
	if !ok {
		return market.PriceSeries{}, fmt.Errorf("%w: no index history for %s", apperrors.ErrDataUnavailable, symbol)
	}
	points := series.Window(end.AddDays(-lookbackDays-5), end)
	if len(points) > lookbackDays {
		points = points[len(points)-lookbackDays:]
	}
	return market.PriceSeries{Ticker: series.Ticker, Points: points}, nil
}

// VIXStructure implements provider.MarketDataProvider.
func (p *Provider) VIXStructure(_ context.Context, end market.AsOfDate) (provider.VIXTermStructure, error) {
	v, ok := p.VIX[end.String()]
	if !ok {
		return provider.VIXTermStructure{}, nil
	}
	return v, nil
}

// PutPrices sorts and installs a price series fixture.
func (p *Provider) PutPrices(ticker market.Ticker, points []market.PricePoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	p.PriceSeries[ticker] = market.PriceSeries{Ticker: ticker, Points: points}
}

// PutFundamentals appends and keeps a fundamentals fixture sorted by AsOf.
func (p *Provider) PutFundamentals(snap market.FundamentalSnapshot) {
	snaps := p.fundamentals[snap.Ticker]
	snaps = append(snaps, snap)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].AsOf.Before(snaps[j].AsOf) })
	p.fundamentals[snap.Ticker] = snaps
}

// PITTrap wraps a MarketDataProvider and fails any call whose implied read
// window extends past its as-of argument — the test harness for spec.md §8's
// "no read of any price record with date > D" property.
type PITTrap struct {
	Inner provider.MarketDataProvider
	OnViolation func(msg string)
}

func (t *PITTrap) trap(asOf market.AsOfDate, seen market.AsOfDate, op string) error {
	if seen.After(asOf) {
		msg := fmt.Sprintf("point-in-time violation: %s read %s while as-of was %s", op, seen, asOf)
		if t.OnViolation != nil {
			t.OnViolation(msg)
		}
		return errors.New(msg)
	}
	return nil
}

// Prices traps end > asOf is nonsensical since end IS the as-of for prices;
// instead it verifies the returned series never carries a date past end.
func (t *PITTrap) Prices(ctx context.Context, ticker market.Ticker, start, end market.AsOfDate) (market.PriceSeries, error) {
	series, err := t.Inner.Prices(ctx, ticker, start, end)
	if err != nil {
		return series, err
	}
	for _, pt := range series.Points {
		if err := t.trap(end, market.NewAsOfDate(pt.Date), "Prices"); err != nil {
			return market.PriceSeries{}, err
		}
	}
	return series, nil
}

func (t *PITTrap) Fundamentals(ctx context.Context, ticker market.Ticker, asOf market.AsOfDate) (market.FundamentalSnapshot, error) {
	snap, err := t.Inner.Fundamentals(ctx, ticker, asOf)
	if err != nil {
		return snap, err
	}
	if err := t.trap(asOf, snap.AsOf, "Fundamentals"); err != nil {
		return market.FundamentalSnapshot{}, err
	}
	return snap, nil
}

func (t *PITTrap) MarketCaps(ctx context.Context, tickers []market.Ticker, asOf market.AsOfDate) (map[market.Ticker]float64, error) {
	return t.Inner.MarketCaps(ctx, tickers, asOf)
}

func (t *PITTrap) BenchmarkPrices(ctx context.Context, start, end market.AsOfDate) (market.PriceSeries, error) {
	series, err := t.Inner.BenchmarkPrices(ctx, start, end)
	if err != nil {
		return series, err
	}
	for _, pt := range series.Points {
		if err := t.trap(end, market.NewAsOfDate(pt.Date), "BenchmarkPrices"); err != nil {
			return market.PriceSeries{}, err
		}
	}
	return series, nil
}

func (t *PITTrap) CAPE(ctx context.Context, asOf market.AsOfDate) (*float64, error) {
	return t.Inner.CAPE(ctx, asOf)
}

func (t *PITTrap) FFFactorWindow(ctx context.Context, end market.AsOfDate, months int) (map[provider.FFFactor]provider.FFWindow, error) {
	return t.Inner.FFFactorWindow(ctx, end, months)
}

func (t *PITTrap) IndexHistory(ctx context.Context, symbol string, end market.AsOfDate, lookbackDays int) (market.PriceSeries, error) {
	series, err := t.Inner.IndexHistory(ctx, symbol, end, lookbackDays)
	if err != nil {
		return series, err
	}
	for _, pt := range series.Points {
		if err := t.trap(end, market.NewAsOfDate(pt.Date), "IndexHistory"); err != nil {
			return market.PriceSeries{}, err
		}
	}
	return series, nil
}

func (t *PITTrap) VIXStructure(ctx context.Context, end market.AsOfDate) (provider.VIXTermStructure, error) {
	return t.Inner.VIXStructure(ctx, end)
}

var _ provider.MarketDataProvider = (*Provider)(nil)
var _ provider.MarketDataProvider = (*PITTrap)(nil)
