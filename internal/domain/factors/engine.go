// Package factors implements the FactorEngine (spec.md §4.2): raw factor
// derivation, missing-data imputation, winsorization, z-scoring and the
// weighted composite. The pipeline mirrors the teacher's
// internal/domain/scoring.CompositeScorer in shape — compute raw rows,
// transform the whole batch together, emit one audited result per ticker —
// but the transform itself (winsorize, z-score, clip) has no teacher
// analogue and is grounded directly in spec.md §4.2 steps 1-8.
package factors

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// Engine computes market.FactorScores for a universe at an as-of date.
type Engine struct {
	provider provider.MarketDataProvider
	weights  market.FactorWeights
	log      zerolog.Logger
}

// New builds a FactorEngine against a MarketDataProvider and a validated
// set of composite weights.
func New(p provider.MarketDataProvider, weights market.FactorWeights, log zerolog.Logger) *Engine {
	return &Engine{
		provider: p,
		weights:  weights,
		log:      log.With().Str("component", "factor_engine").Logger(),
	}
}

// regimeTilts, when non-nil, multiply each z-column before the composite
// step (spec.md §4.2 step 6).
type regimeTilts struct {
	value, quality, momentum float64
}

// Score computes FactorScores over the universe as of asOf. It never fails
// globally: a ticker with missing inputs gets z=0 and an
// market.FlagInsufficientData audit entry, and remains eligible for
// optimization (spec.md §4.2 "Error semantics").
func (e *Engine) Score(ctx context.Context, u market.Universe, asOf market.AsOfDate) market.FactorScores {
	return e.score(ctx, u, asOf, nil)
}

// ScoreWithTilts is Score with a FactorRegimeAdjuster's per-factor tilt
// already resolved by the caller (spec.md §4.2 step 6 / §4.4).
func (e *Engine) ScoreWithTilts(ctx context.Context, u market.Universe, asOf market.AsOfDate, valueTilt, qualityTilt, momentumTilt float64) market.FactorScores {
	return e.score(ctx, u, asOf, &regimeTilts{value: valueTilt, quality: qualityTilt, momentum: momentumTilt})
}

func (e *Engine) score(ctx context.Context, u market.Universe, asOf market.AsOfDate, tilts *regimeTilts) market.FactorScores {
	raw := make(map[market.Ticker]rawRow, len(u.Constituents))
	for _, c := range u.Constituents {
		raw[c.Ticker] = e.computeRaw(ctx, c.Ticker, asOf)
	}

	imputeMissing(raw)

	values := collect(raw, func(r rawRow) float64 { return r.value })
	qualities := collect(raw, func(r rawRow) float64 { return r.quality })
	momentums := collect(raw, func(r rawRow) float64 { return r.momentum })

	winsorize(values)
	winsorize(qualities)
	winsorize(momentums)

	order := u.Tickers()
	zValue, meanV, stdV := zScore(order, values)
	zQuality, meanQ, stdQ := zScore(order, qualities)
	zMomentum, meanM, stdM := zScore(order, momentums)

	if tilts != nil {
		applyTilt(zValue, tilts.value)
		applyTilt(zQuality, tilts.quality)
		applyTilt(zMomentum, tilts.momentum)
	}

	scores := make(map[market.Ticker]market.TickerScore, len(order))
	for _, t := range order {
		r := raw[t]
		zv, zq, zm := zValue[t], zQuality[t], zMomentum[t]
		if r.valueMissing {
			zv = 0
		}
		if r.qualityMissing {
			zq = 0
		}
		if r.momentumMissing {
			zm = 0
		}
		flags := r.flags
		if stdV == 0 || stdQ == 0 || stdM == 0 {
			flags = append(flags, market.FlagStdDevZero)
		}
		contribV := e.weights.Value * zv
		contribQ := e.weights.Quality * zq
		contribM := e.weights.Momentum * zm
		total := contribV + contribQ + contribM

		audit := market.FactorAudit{
			Ticker:               t,
			RawValue:             values[t],
			RawQuality:           qualities[t],
			RawMomentum:          momentums[t],
			UniverseMeanValue:    meanV,
			UniverseStdValue:     stdV,
			UniverseMeanQuality:  meanQ,
			UniverseStdQuality:   stdQ,
			UniverseMeanMomentum: meanM,
			UniverseStdMomentum:  stdM,
			ZValue:               zv,
			ZQuality:             zq,
			ZMomentum:            zm,
			ContributionValue:    contribV,
			ContributionQuality:  contribQ,
			ContributionMomentum: contribM,
			Flags:                flags,
		}

		scores[t] = market.TickerScore{
			Ticker:    t,
			ZValue:    zv,
			ZQuality:  zq,
			ZMomentum: zm,
			Total:     total,
			Audit:     audit,
		}
	}

	return market.FactorScores{AsOf: asOf, Weights: e.weights, Scores: scores}
}

// rawRow holds the three raw composite inputs plus the per-ticker
// sub-metrics and diagnostic flags needed to recover median imputation.
type rawRow struct {
	value, quality, momentum float64
	valueMissing, qualityMissing, momentumMissing bool
	flags []string

	fcfYield, earningsYield, roic, grossMargin, mom12m *float64
}

func (e *Engine) computeRaw(ctx context.Context, t market.Ticker, asOf market.AsOfDate) rawRow {
	var row rawRow

	fundamentals, fErr := e.provider.Fundamentals(ctx, t, asOf)
	prices, pErr := e.provider.Prices(ctx, t, asOf.AddDays(-730), asOf)

	if fErr != nil || pErr != nil || prices.CountThrough(asOf) < 252 {
		row.flags = append(row.flags, market.FlagInsufficientData)
		row.valueMissing, row.qualityMissing, row.momentumMissing = true, true, true
		return row
	}

	row.fcfYield = ratio(fundamentals.FreeCashFlowTTM, fundamentals.SharesOutstanding, priceAt(prices, asOf))
	row.earningsYield = ratio(fundamentals.EBITTTM, fundamentals.SharesOutstanding, priceAt(prices, asOf))

	if fundamentals.EBITTTM != nil && fundamentals.TotalAssets != nil && fundamentals.CurrentLiabilities != nil {
		denom := *fundamentals.TotalAssets - *fundamentals.CurrentLiabilities
		if denom > 0 {
			v := *fundamentals.EBITTTM / denom
			row.roic = &v
		} else {
			row.flags = append(row.flags, market.FlagNonPositiveDenom)
		}
	}

	if fundamentals.GrossProfitTTM != nil && fundamentals.RevenueTTM != nil && *fundamentals.RevenueTTM != 0 {
		v := *fundamentals.GrossProfitTTM / *fundamentals.RevenueTTM
		row.grossMargin = &v
	}

	if priceNow, ok := prices.Last(asOf); ok {
		if older, ok := priceAt252(prices, asOf); ok && older.AdjustedClose != 0 {
			v := priceNow.AdjustedClose/older.AdjustedClose - 1
			row.mom12m = &v
		}
	}

	row.value = combine2(row.fcfYield, row.earningsYield, &row.valueMissing)
	row.quality = combine2(row.roic, row.grossMargin, &row.qualityMissing)
	if row.mom12m != nil {
		row.momentum = *row.mom12m
	} else {
		row.momentumMissing = true
	}

	if row.valueMissing || row.qualityMissing || row.momentumMissing {
		row.flags = append(row.flags, market.FlagInsufficientData)
	}
	return row
}

// combine2 applies the fixed 0.5/0.5 weights to two optional sub-metrics. A
// single missing sub-metric contributes zero, so the composite is half the
// one that is present; no per-sub-metric median is substituted. Only when
// both are missing is *missing set true, and imputeMissing then fills the
// whole composite with its universe median.
func combine2(a, b *float64, missing *bool) float64 {
	switch {
	case a != nil && b != nil:
		return 0.5**a + 0.5**b
	case a != nil:
		return 0.5 * *a
	case b != nil:
		return 0.5 * *b
	default:
		*missing = true
		return 0
	}
}

func ratio(numer, shares *float64, price float64) *float64 {
	if numer == nil || shares == nil || *shares == 0 || price == 0 {
		return nil
	}
	v := *numer / (*shares * price)
	return &v
}

func priceAt(series market.PriceSeries, asOf market.AsOfDate) float64 {
	p, ok := series.Last(asOf)
	if !ok {
		return 0
	}
	return p.AdjustedClose
}

// priceAt252 returns the price 252 trading rows before the row nearest asOf.
func priceAt252(series market.PriceSeries, asOf market.AsOfDate) (market.PricePoint, bool) {
	idx := -1
	for i, pt := range series.Points {
		if pt.Date.After(asOf.Time()) {
			break
		}
		idx = i
	}
	target := idx - 252
	if target < 0 {
		return market.PricePoint{}, false
	}
	return series.Points[target], true
}

// imputeMissing fills each missing composite (value, quality or momentum)
// with the universe median of that composite over the tickers that have it,
// and flags the row market.FlagImputedMedian. It works on composites only;
// individual sub-metrics are never imputed. score still gives a missing
// composite z=0, so the imputed raw value shows only in the audit.
func imputeMissing(raw map[market.Ticker]rawRow) {
	medianValue := median(collectPresent(raw, func(r rawRow) (float64, bool) { return r.value, !r.valueMissing }))
	medianQuality := median(collectPresent(raw, func(r rawRow) (float64, bool) { return r.quality, !r.qualityMissing }))
	medianMomentum := median(collectPresent(raw, func(r rawRow) (float64, bool) { return r.momentum, !r.momentumMissing }))

	for t, r := range raw {
		if r.valueMissing {
			r.value = medianValue
			r.flags = append(r.flags, market.FlagImputedMedian)
		}
		if r.qualityMissing {
			r.quality = medianQuality
			r.flags = append(r.flags, market.FlagImputedMedian)
		}
		if r.momentumMissing {
			r.momentum = medianMomentum
			r.flags = append(r.flags, market.FlagImputedMedian)
		}
		raw[t] = r
	}
}

func collect(raw map[market.Ticker]rawRow, pick func(rawRow) float64) map[market.Ticker]float64 {
	out := make(map[market.Ticker]float64, len(raw))
	for t, r := range raw {
		out[t] = pick(r)
	}
	return out
}

func collectPresent(raw map[market.Ticker]rawRow, pick func(rawRow) (float64, bool)) []float64 {
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		if v, ok := pick(r); ok {
			out = append(out, v)
		}
	}
	return out
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// winsorize clips each value in-place to the 1st/99th percentile band
// (spec.md §4.2 step 4). Idempotent under re-application (spec.md §8).
func winsorize(values map[market.Ticker]float64) {
	if len(values) == 0 {
		return
	}
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		xs = append(xs, v)
	}
	sort.Float64s(xs)
	lo := percentile(xs, 0.01)
	hi := percentile(xs, 0.99)
	for t, v := range values {
		if v < lo {
			values[t] = lo
		} else if v > hi {
			values[t] = hi
		}
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// zScore standardizes values and clips to [-3, 3] (spec.md §4.2 step 5). If
// stddev is 0, every z is 0.
func zScore(order []market.Ticker, values map[market.Ticker]float64) (map[market.Ticker]float64, float64, float64) {
	n := float64(len(order))
	if n == 0 {
		return map[market.Ticker]float64{}, 0, 0
	}
	var sum float64
	for _, t := range order {
		sum += values[t]
	}
	mean := sum / n
	var sqSum float64
	for _, t := range order {
		d := values[t] - mean
		sqSum += d * d
	}
	std := math.Sqrt(sqSum / n)

	out := make(map[market.Ticker]float64, len(order))
	for _, t := range order {
		if std == 0 {
			out[t] = 0
			continue
		}
		z := (values[t] - mean) / std
		out[t] = clip(z, -3, 3)
	}
	return out, mean, std
}

// applyTilt scales each z-score by tilt and re-clips to [-3, 3]: the z-score
// bound (spec.md §8) must hold for every value FactorEngine produces, and the
// tilt multiply happens inside the engine's own pipeline before the
// composite step (spec.md §4.2 step 6), so a tilted value is still subject
// to it.
func applyTilt(z map[market.Ticker]float64, tilt float64) {
	for t, v := range z {
		z[t] = clip(v*tilt, -3, 3)
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
