// Package postgres is a reference MarketDataProvider reading prices,
// fundamentals and macro series from Postgres tables. It is the
// point-in-time-correct analogue of the teacher's
// internal/persistence/postgres package: sqlx.DB-backed repositories with a
// per-call context timeout, parameterized queries and pq error unwrapping,
// generalized here from trade history to daily price bars and quarterly
// fundamentals snapshots.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// Provider implements provider.MarketDataProvider against a Postgres
// schema of (prices, fundamentals, benchmark_prices, index_prices,
// vix_term_structure, cape_ratios, fama_french_factors) tables, every read
// constrained to rows observable by the caller's as-of date.
type Provider struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an already-opened *sqlx.DB. Open the connection with
// sqlx.Connect("postgres", dsn) the way the teacher opens its trades
// repository's underlying *sqlx.DB before constructing the repo.
func New(db *sqlx.DB, timeout time.Duration) *Provider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Provider{db: db, timeout: timeout}
}

type priceRow struct {
	Date          time.Time `db:"date"`
	AdjustedClose float64   `db:"adjusted_close"`
}

// Prices implements provider.MarketDataProvider.
func (p *Provider) Prices(ctx context.Context, ticker market.Ticker, start, end market.AsOfDate) (market.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT date, adjusted_close
		FROM prices
		WHERE ticker = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC`

	var rows []priceRow
	if err := p.db.SelectContext(ctx, &rows, query, ticker, start.Time(), end.Time()); err != nil {
		return market.PriceSeries{}, fmt.Errorf("%w: query prices for %s: %v", apperrors.ErrProviderUnavailable, ticker, err)
	}
	if len(rows) == 0 {
		return market.PriceSeries{}, fmt.Errorf("%w: no prices for %s", apperrors.ErrDataUnavailable, ticker)
	}

	const countQuery = `SELECT count(*) FROM prices WHERE ticker = $1 AND date <= $2`
	var count int
	if err := p.db.GetContext(ctx, &count, countQuery, ticker, end.Time()); err != nil {
		return market.PriceSeries{}, fmt.Errorf("%w: count prices for %s: %v", apperrors.ErrProviderUnavailable, ticker, err)
	}
	if count < 252 {
		return market.PriceSeries{}, fmt.Errorf("%w: fewer than 252 rows before %s for %s", apperrors.ErrDataUnavailable, end, ticker)
	}

	points := make([]market.PricePoint, len(rows))
	for i, r := range rows {
		points[i] = market.PricePoint{Date: r.Date, AdjustedClose: r.AdjustedClose}
	}
	return market.PriceSeries{Ticker: ticker, Points: points}, nil
}

type fundamentalsRow struct {
	AsOf               time.Time       `db:"as_of"`
	FreeCashFlowTTM    sql.NullFloat64 `db:"free_cash_flow_ttm"`
	EBITTTM            sql.NullFloat64 `db:"ebit_ttm"`
	RevenueTTM         sql.NullFloat64 `db:"revenue_ttm"`
	GrossProfitTTM     sql.NullFloat64 `db:"gross_profit_ttm"`
	TotalAssets        sql.NullFloat64 `db:"total_assets"`
	CurrentLiabilities sql.NullFloat64 `db:"current_liabilities"`
	SharesOutstanding  sql.NullFloat64 `db:"shares_outstanding"`
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	val := v.Float64
	return &val
}

// Fundamentals implements provider.MarketDataProvider.
func (p *Provider) Fundamentals(ctx context.Context, ticker market.Ticker, asOf market.AsOfDate) (market.FundamentalSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT as_of, free_cash_flow_ttm, ebit_ttm, revenue_ttm, gross_profit_ttm,
		       total_assets, current_liabilities, shares_outstanding
		FROM fundamentals
		WHERE ticker = $1 AND as_of <= $2
		ORDER BY as_of DESC
		LIMIT 1`

	var row fundamentalsRow
	if err := p.db.GetContext(ctx, &row, query, ticker, asOf.Time()); err != nil {
		if err == sql.ErrNoRows {
			return market.FundamentalSnapshot{}, fmt.Errorf("%w: no fundamentals observable by %s for %s", apperrors.ErrDataUnavailable, asOf, ticker)
		}
		return market.FundamentalSnapshot{}, fmt.Errorf("%w: query fundamentals for %s: %v", apperrors.ErrProviderUnavailable, ticker, err)
	}

	return market.FundamentalSnapshot{
		Ticker:             ticker,
		AsOf:               market.NewAsOfDate(row.AsOf),
		FreeCashFlowTTM:    nullable(row.FreeCashFlowTTM),
		EBITTTM:            nullable(row.EBITTTM),
		RevenueTTM:         nullable(row.RevenueTTM),
		GrossProfitTTM:     nullable(row.GrossProfitTTM),
		TotalAssets:        nullable(row.TotalAssets),
		CurrentLiabilities: nullable(row.CurrentLiabilities),
		SharesOutstanding:  nullable(row.SharesOutstanding),
	}, nil
}

// MarketCaps implements provider.MarketDataProvider: shares outstanding as
// of asOf, times the most recent adjusted close on or before asOf.
func (p *Provider) MarketCaps(ctx context.Context, tickers []market.Ticker, asOf market.AsOfDate) (map[market.Ticker]float64, error) {
	out := make(map[market.Ticker]float64, len(tickers))
	for _, t := range tickers {
		snap, err := p.Fundamentals(ctx, t, asOf)
		if err != nil || snap.SharesOutstanding == nil {
			continue
		}
		var close float64
		const query = `SELECT adjusted_close FROM prices WHERE ticker = $1 AND date <= $2 ORDER BY date DESC LIMIT 1`
		if err := p.db.GetContext(ctx, &close, query, t, asOf.Time()); err != nil {
			continue
		}
		out[t] = *snap.SharesOutstanding * close
	}
	return out, nil
}

// BenchmarkPrices implements provider.MarketDataProvider.
func (p *Provider) BenchmarkPrices(ctx context.Context, start, end market.AsOfDate) (market.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT date, adjusted_close
		FROM benchmark_prices
		WHERE date > $1 AND date <= $2
		ORDER BY date ASC`

	var rows []priceRow
	if err := p.db.SelectContext(ctx, &rows, query, start.Time(), end.Time()); err != nil {
		return market.PriceSeries{}, fmt.Errorf("%w: query benchmark prices: %v", apperrors.ErrProviderUnavailable, err)
	}
	points := make([]market.PricePoint, len(rows))
	for i, r := range rows {
		points[i] = market.PricePoint{Date: r.Date, AdjustedClose: r.AdjustedClose}
	}
	return market.PriceSeries{Points: points}, nil
}

// CAPE implements provider.MarketDataProvider.
func (p *Provider) CAPE(ctx context.Context, asOf market.AsOfDate) (*float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `SELECT cape FROM cape_ratios WHERE as_of <= $1 ORDER BY as_of DESC LIMIT 1`
	var cape float64
	if err := p.db.GetContext(ctx, &cape, query, asOf.Time()); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query cape: %v", apperrors.ErrProviderUnavailable, err)
	}
	return &cape, nil
}

type ffRow struct {
	Factor string    `db:"factor"`
	Date   time.Time `db:"date"`
	Return float64   `db:"monthly_return"`
}

// FFFactorWindow implements provider.MarketDataProvider.
func (p *Provider) FFFactorWindow(ctx context.Context, end market.AsOfDate, months int) (map[provider.FFFactor]provider.FFWindow, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT factor, date, monthly_return
		FROM fama_french_factors
		WHERE date <= $1
		ORDER BY factor, date ASC`

	var rows []ffRow
	if err := p.db.SelectContext(ctx, &rows, query, end.Time()); err != nil {
		return nil, fmt.Errorf("%w: query fama-french factors: %v", apperrors.ErrProviderUnavailable, err)
	}

	byFactor := make(map[provider.FFFactor][]float64)
	for _, r := range rows {
		byFactor[provider.FFFactor(r.Factor)] = append(byFactor[provider.FFFactor(r.Factor)], r.Return)
	}

	out := make(map[provider.FFFactor]provider.FFWindow, len(byFactor))
	for factor, series := range byFactor {
		mean, stddev := meanStdDev(series)
		trailing := series
		if len(trailing) > months {
			trailing = trailing[len(trailing)-months:]
		}
		out[factor] = provider.FFWindow{TrailingMonthly: trailing, FullHistoryMean: mean, FullHistoryStdDev: stddev}
	}
	return out, nil
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		stddev += (x - mean) * (x - mean)
	}
	stddev /= float64(len(xs))
	return mean, sqrt(stddev)
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// IndexHistory implements provider.MarketDataProvider.
func (p *Provider) IndexHistory(ctx context.Context, symbol string, end market.AsOfDate, lookbackDays int) (market.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT date, adjusted_close
		FROM index_prices
		WHERE symbol = $1 AND date <= $2
		ORDER BY date DESC
		LIMIT $3`

	var rows []priceRow
	if err := p.db.SelectContext(ctx, &rows, query, symbol, end.Time(), lookbackDays); err != nil {
		return market.PriceSeries{}, fmt.Errorf("%w: query index history for %s: %v", apperrors.ErrProviderUnavailable, symbol, err)
	}
	points := make([]market.PricePoint, len(rows))
	for i := range rows {
		points[i] = market.PricePoint{Date: rows[len(rows)-1-i].Date, AdjustedClose: rows[len(rows)-1-i].AdjustedClose}
	}
	return market.PriceSeries{Points: points}, nil
}

type vixRow struct {
	VIX9D  sql.NullFloat64 `db:"vix_9d"`
	VIX30D sql.NullFloat64 `db:"vix_30d"`
	VIX3M  sql.NullFloat64 `db:"vix_3m"`
}

// VIXStructure implements provider.MarketDataProvider.
func (p *Provider) VIXStructure(ctx context.Context, end market.AsOfDate) (provider.VIXTermStructure, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `SELECT vix_9d, vix_30d, vix_3m FROM vix_term_structure WHERE date <= $1 ORDER BY date DESC LIMIT 1`
	var row vixRow
	if err := p.db.GetContext(ctx, &row, query, end.Time()); err != nil {
		if err == sql.ErrNoRows {
			return provider.VIXTermStructure{}, nil
		}
		return provider.VIXTermStructure{}, fmt.Errorf("%w: query vix term structure: %v", apperrors.ErrProviderUnavailable, err)
	}
	return provider.VIXTermStructure{VIX9D: nullable(row.VIX9D), VIX30D: nullable(row.VIX30D), VIX3M: nullable(row.VIX3M)}, nil
}

var _ provider.MarketDataProvider = (*Provider)(nil)
