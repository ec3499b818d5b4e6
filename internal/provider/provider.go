// Package provider defines the MarketDataProvider boundary (spec.md §4.1,
// §6) — the sole external dependency of the core. Everything downstream of
// this interface (factor engine, posterior, optimizer, backtest driver) only
// ever calls through it, so a conforming implementation can be a static
// fixture, a Postgres-backed reader, or a cached/circuit-broken decorator
// stacked in front of either.
package provider

import (
	"context"
	"time"

	"github.com/quantedge/alphacore/internal/domain/market"
)

// FFFactor names one of the four Fama-French series the core consumes.
type FFFactor string

const (
	FactorHML   FFFactor = "HML"
	FactorRMW   FFFactor = "RMW"
	FactorSMB   FFFactor = "SMB"
	FactorMktRF FFFactor = "Mkt-RF"
)

// VIXTermStructure is the (9-day, 30-day, 3-month) VIX curve at an as-of
// date; a nil pointer on any leg means that leg is unavailable.
type VIXTermStructure struct {
	VIX9D *float64
	VIX30D *float64
	VIX3M *float64
}

// Complete reports whether all three legs are present.
func (v VIXTermStructure) Complete() bool {
	return v.VIX9D != nil && v.VIX30D != nil && v.VIX3M != nil
}

// FFWindow is one Fama-French factor's trailing monthly return window plus
// the full-history mean/stddev baseline the FactorRegimeAdjuster z-scores
// the trailing mean against (spec.md §4.4 step 2).
type FFWindow struct {
	TrailingMonthly   []float64
	FullHistoryMean   float64
	FullHistoryStdDev float64
}

// MarketDataProvider supplies point-in-time prices, fundamentals and macro
// series. Every operation is parameterized by an as-of date; implementations
// must never return an observation dated after it (spec.md invariant).
type MarketDataProvider interface {
	// Prices returns the adjusted-close series for ticker over [start, end].
	// DataUnavailable when the series is empty or has fewer than 252 rows
	// before end.
	Prices(ctx context.Context, ticker market.Ticker, start, end market.AsOfDate) (market.PriceSeries, error)

	// Fundamentals returns the most-recent snapshot observable by asOf.
	Fundamentals(ctx context.Context, ticker market.Ticker, asOf market.AsOfDate) (market.FundamentalSnapshot, error)

	// MarketCaps returns point-in-time shares x price for each ticker.
	// Tickers the provider cannot price are simply absent from the result.
	MarketCaps(ctx context.Context, tickers []market.Ticker, asOf market.AsOfDate) (map[market.Ticker]float64, error)

	// BenchmarkPrices returns the benchmark index adjusted-close series.
	BenchmarkPrices(ctx context.Context, start, end market.AsOfDate) (market.PriceSeries, error)

	// CAPE returns the Shiller CAPE value observable by asOf, or nil if
	// unavailable.
	CAPE(ctx context.Context, asOf market.AsOfDate) (*float64, error)

	// FFFactorWindow returns, for each of HML/RMW/SMB/Mkt-RF, the trailing
	// `months` monthly returns (last observation <= end) together with the
	// factor's full-history mean and standard deviation as of end — the
	// FactorRegimeAdjuster z-scores the trailing mean against that
	// full-history baseline (spec.md §4.4 step 2).
	FFFactorWindow(ctx context.Context, end market.AsOfDate, months int) (map[FFFactor]FFWindow, error)

	// IndexHistory returns lookbackDays of adjusted-close history for symbol
	// ending at end (default symbol is the caller's concern, not the
	// provider's).
	IndexHistory(ctx context.Context, symbol string, end market.AsOfDate, lookbackDays int) (market.PriceSeries, error)

	// VIXStructure returns the VIX term structure at end, or a zero value
	// with Complete()==false when unavailable.
	VIXStructure(ctx context.Context, end market.AsOfDate) (VIXTermStructure, error)
}

// FetchWindow is a convenience (Start, End) date pair. No package in this
// module references it.
type FetchWindow struct {
	Start, End market.AsOfDate
}

// Clock abstracts time.Now for components that need "now" outside of an
// as-of-parameterized computation (e.g. cache TTLs) — modeled on the
// teacher's injectable Clock interface in internal/backtest/smoke90/runner.go.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock with the real wall clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }
