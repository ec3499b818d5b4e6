// Package optimizer implements PortfolioOptimizer (spec.md §4.7): a
// constrained mean-variance solver over the Black-Litterman posterior, run
// via projected gradient search the way the retrieved corpus's own
// portfolio optimizers iterate toward a target rather than call out to an
// external QP library.
package optimizer

import (
	"fmt"
	"math"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
)

const (
	maxIterations  = 2000
	tieBreakEps    = 1e-9 // added to the quadratic term so constrained faces have a unique interior point
	sectorPasses   = 25
	minSharpeRetry = 0.95
)

// Result is one Optimize call's full output: the resolved weights plus the
// diagnostics spec.md §4.7's minimum-Sharpe floor requires surfacing.
type Result struct {
	Weights        market.Weights
	ExpectedReturn float64
	Volatility     float64
	Sharpe         float64
	Warning        string
}

// Optimizer solves the constrained mean-variance problem described by a
// Posterior, objective and constraint set.
type Optimizer struct {
	cfg config.Config
}

// New builds an Optimizer against cfg.
func New(cfg config.Config) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Optimize runs the configured objective over post, respecting weight
// bounds, sector caps and the long/short mode (spec.md §4.7).
func (o *Optimizer) Optimize(post market.Posterior, sectorOf map[market.Ticker]market.Sector, scores map[market.Ticker]market.TickerScore) (Result, error) {
	if len(post.Order) == 0 {
		return Result{}, apperrors.ErrEmptyOptimizationSet
	}

	if o.cfg.Mode.LongShort {
		return o.optimizeLongShort(post, sectorOf, scores)
	}
	return o.optimizeSingleBook(post, sectorOf, o.cfg.Mode.NetExposure(), o.cfg.WeightBounds, o.cfg.Objective, true, true)
}

// optimizeSingleBook solves one book (long-only, or one leg of a 130/30
// split) with budget net and per-ticker bounds. When applyMinSharpeFloor is
// set and the objective is MaxSharpe, an achieved Sharpe below 95% of
// MinTargetSharpe sets Result.Warning; the weights returned are the solution
// found without the floor, and no second solve is run. applySectorCap
// enforces the sector cap on this book alone: the long/short caller passes
// false here and caps the combined long+short gross exposure itself once
// both legs are solved, since a sector's cap binds on the two legs together,
// not on each leg independently (spec.md §4.7, DESIGN.md Open Question
// decisions).
func (o *Optimizer) optimizeSingleBook(
	post market.Posterior,
	sectorOf map[market.Ticker]market.Sector,
	net float64,
	bounds config.Bounds,
	objective config.Objective,
	applyMinSharpeFloor bool,
	applySectorCap bool,
) (Result, error) {
	n := len(post.Order)
	w := initialWeights(n, net)

	obj := objectiveFor(objective, post, o.cfg, net)

	step := 0.5 / float64(n)
	for iter := 0; iter < maxIterations; iter++ {
		grad := obj.gradient(w)
		lr := step / (1 + float64(iter)*0.01)
		next := make([]float64, n)
		for i := range w {
			next[i] = w[i] + lr*grad[i]
		}
		next = project(next, bounds, net)
		if applySectorCap {
			next = projectSectors(next, post.Order, sectorOf, o.cfg.SectorCap, net)
		}
		w = next
	}

	ret := portfolioReturn(w, post.Mean)
	vol := portfolioVolatility(w, post.Covariance)
	sharpe := sharpeRatio(ret, vol)

	result := Result{
		Weights:        toWeights(post.Order, w),
		ExpectedReturn: ret,
		Volatility:     vol,
		Sharpe:         sharpe,
	}

	if applyMinSharpeFloor && objective == config.ObjectiveMaxSharpe && o.cfg.MinTargetSharpe != nil {
		floor := minSharpeRetry * (*o.cfg.MinTargetSharpe)
		if sharpe < floor {
			result.Warning = fmt.Sprintf("achieved Sharpe %.4f below %.0f%% of target %.4f; returning unconstrained-floor solution", sharpe, minSharpeRetry*100, *o.cfg.MinTargetSharpe)
		}
	}
	return result, nil
}

// optimizeLongShort implements the 130/30-style decomposition (spec.md
// §4.7 "Long/short mode").
func (o *Optimizer) optimizeLongShort(post market.Posterior, sectorOf map[market.Ticker]market.Sector, scores map[market.Ticker]market.TickerScore) (Result, error) {
	var longOrder, shortOrder []market.Ticker
	for _, t := range post.Order {
		if scores[t].Total >= 0 {
			longOrder = append(longOrder, t)
		} else {
			shortOrder = append(shortOrder, t)
		}
	}

	longPost := subPosterior(post, longOrder)
	shortPost := subPosterior(post, shortOrder)
	negate(shortPost.Mean)

	legBounds := config.Bounds{Min: 0, Max: o.cfg.WeightBounds.Max}
	// Sector caps are deliberately not applied per-leg here (applySectorCap
	// = false): a cap binds on the long and short legs' combined gross
	// exposure in the same sector, not on each leg in isolation.
	longResult, err := o.optimizeSingleBook(longPost, sectorOf, o.cfg.Mode.LongExposure, legBounds, config.ObjectiveMaxSharpe, false, false)
	if err != nil {
		return Result{}, err
	}
	shortResult, err := o.optimizeSingleBook(shortPost, sectorOf, o.cfg.Mode.ShortExposure, legBounds, config.ObjectiveMaxSharpe, false, false)
	if err != nil {
		return Result{}, err
	}

	combined := make(market.Weights, len(post.Order))
	for t, v := range longResult.Weights {
		combined[t] = v
	}
	for t, v := range shortResult.Weights {
		combined[t] -= v // short leg weights are solved as |w-|, net back in with a negative sign
	}

	combinedW := make([]float64, len(post.Order))
	for i, t := range post.Order {
		combinedW[i] = combined[t]
	}
	combinedW = projectSectors(combinedW, post.Order, sectorOf, o.cfg.SectorCap, o.cfg.Mode.NetExposure())
	for i, t := range post.Order {
		combined[t] = combinedW[i]
	}

	ret := 0.0
	for _, t := range post.Order {
		ret += combined[t] * meanOf(post, t)
	}
	covFull := toFullCov(post)
	vol := portfolioVolatilityMap(combined, post.Order, covFull)

	return Result{
		Weights:        combined,
		ExpectedReturn: ret,
		Volatility:     vol,
		Sharpe:         sharpeRatio(ret, vol),
	}, nil
}

func meanOf(post market.Posterior, t market.Ticker) float64 {
	for i, o := range post.Order {
		if o == t {
			return post.Mean[i]
		}
	}
	return 0
}

func toFullCov(post market.Posterior) map[market.Ticker]map[market.Ticker]float64 {
	out := make(map[market.Ticker]map[market.Ticker]float64, len(post.Order))
	for i, ti := range post.Order {
		row := make(map[market.Ticker]float64, len(post.Order))
		for j, tj := range post.Order {
			row[tj] = post.Covariance[i][j]
		}
		out[ti] = row
	}
	return out
}

func portfolioVolatilityMap(w market.Weights, order []market.Ticker, cov map[market.Ticker]map[market.Ticker]float64) float64 {
	var acc float64
	for _, ti := range order {
		for _, tj := range order {
			acc += w[ti] * w[tj] * cov[ti][tj]
		}
	}
	if acc < 0 {
		acc = 0
	}
	return math.Sqrt(acc)
}

func negate(xs []float64) {
	for i := range xs {
		xs[i] = -xs[i]
	}
}

// subPosterior restricts a posterior's mean/covariance to a ticker subset,
// preserving relative ordering.
func subPosterior(post market.Posterior, subset []market.Ticker) market.Posterior {
	index := make(map[market.Ticker]int, len(post.Order))
	for i, t := range post.Order {
		index[t] = i
	}
	n := len(subset)
	mean := make([]float64, n)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i, ti := range subset {
		mean[i] = post.Mean[index[ti]]
		for j, tj := range subset {
			cov[i][j] = post.Covariance[index[ti]][index[tj]]
		}
	}
	return market.Posterior{Order: subset, Mean: mean, Covariance: cov}
}

func initialWeights(n int, net float64) []float64 {
	w := make([]float64, n)
	if n == 0 {
		return w
	}
	each := net / float64(n)
	for i := range w {
		w[i] = each
	}
	return w
}

func toWeights(order []market.Ticker, w []float64) market.Weights {
	out := make(market.Weights, len(order))
	for i, t := range order {
		out[t] = w[i]
	}
	return out
}

func portfolioReturn(w, mean []float64) float64 {
	var acc float64
	for i := range w {
		acc += w[i] * mean[i]
	}
	return acc
}

func portfolioVolatility(w []float64, cov [][]float64) float64 {
	var acc float64
	for i := range w {
		for j := range w {
			acc += w[i] * w[j] * cov[i][j]
		}
	}
	if acc < 0 {
		acc = 0
	}
	return math.Sqrt(acc)
}

func sharpeRatio(ret, vol float64) float64 {
	if vol == 0 {
		return 0
	}
	return ret / vol
}

// project clamps w to [bounds.Min, bounds.Max] and rescales the shift so the
// sum equals net exactly, via bisection on a uniform shift theta (the
// standard box+equality Euclidean projection). The tie-break regularization
// that keeps the fixed point unique is applied to the covariance in
// objective.go's regularized, not here.
func project(w []float64, bounds config.Bounds, net float64) []float64 {
	lo, hi := -10.0, 10.0
	clip := func(theta float64) []float64 {
		out := make([]float64, len(w))
		for i, v := range w {
			out[i] = clamp(v-theta, bounds.Min, bounds.Max)
		}
		return out
	}
	sumAt := func(theta float64) float64 {
		var s float64
		for _, v := range clip(theta) {
			s += v
		}
		return s
	}
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if sumAt(mid) > net {
			lo = mid
		} else {
			hi = mid
		}
	}
	return clip((lo + hi) / 2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// projectSectors iteratively rescales any sector whose gross exposure
// exceeds cap, then redistributes the budget freed by that scale-down into
// tickers in sectors that still have slack (never back into a capped
// sector, which would simply undo the cap). When every ticker shares a
// single over-cap sector there is nowhere to redistribute to, so the book
// is left under-invested at the cap rather than forced back to net exposure
// (spec.md §8 Scenario S2: an all-one-sector universe ends up with total
// weight at the cap, not at 1.0). This is a heuristic alternating
// projection, not an exact solve, but converges in practice within
// sectorPasses given the corpus's typical universe sizes.
func projectSectors(w []float64, order []market.Ticker, sectorOf map[market.Ticker]market.Sector, cap float64, net float64) []float64 {
	if cap <= 0 {
		return w
	}
	out := append([]float64(nil), w...)
	for pass := 0; pass < sectorPasses; pass++ {
		gross := make(map[market.Sector]float64)
		for i, t := range order {
			gross[sectorOf[t]] += math.Abs(out[i])
		}
		capped := make(map[market.Sector]bool)
		violated := false
		for sector, g := range gross {
			if g > cap {
				violated = true
				capped[sector] = true
				scale := cap / g
				for i, t := range order {
					if sectorOf[t] == sector {
						out[i] *= scale
					}
				}
			}
		}
		if !violated {
			break
		}
		out = redistributeSlack(out, order, sectorOf, capped, net)
	}
	return out
}

// redistributeSlack adds any budget shortfall against net back into tickers
// outside a just-capped sector, proportional to their current share of that
// slack. A negative or zero shortfall (nothing freed, or no slack to absorb
// it into) is a no-op.
func redistributeSlack(w []float64, order []market.Ticker, sectorOf map[market.Ticker]market.Sector, capped map[market.Sector]bool, net float64) []float64 {
	var sum, slackSum float64
	for i, v := range w {
		sum += v
		if !capped[sectorOf[order[i]]] {
			slackSum += v
		}
	}
	shortfall := net - sum
	if shortfall <= 0 || slackSum == 0 {
		return w
	}
	out := append([]float64(nil), w...)
	for i, t := range order {
		if !capped[sectorOf[t]] {
			out[i] += shortfall * (w[i] / slackSum)
		}
	}
	return out
}

