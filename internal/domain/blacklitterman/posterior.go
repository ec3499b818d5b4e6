package blacklitterman

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
)

const psdEpsilon = 1e-8

// Posterior builds the Black-Litterman prior, absolute factor views, and
// blended posterior (spec.md §4.6). It holds no per-call state; every method
// takes its as-of snapshot of covariance, market caps and scores as
// arguments, so running it twice on the same inputs is bit-identical
// (spec.md §8 idempotence property).
type Posterior struct {
	cfg config.Config
}

// New builds a Posterior against cfg.
func New(cfg config.Config) *Posterior {
	return &Posterior{cfg: cfg}
}

// Compute runs the full prior -> views -> confidence -> blend pipeline over
// tickers, returning the posterior mean and covariance in a single
// deterministic ticker order.
func (p *Posterior) Compute(
	tickers []market.Ticker,
	marketCaps map[market.Ticker]float64,
	dailyReturns map[market.Ticker][]float64,
	scores map[market.Ticker]market.TickerScore,
	macroScalar float64,
) (market.Posterior, error) {
	return p.compute(tickers, marketCaps, dailyReturns, scores, macroScalar, EnsurePSD)
}

// ComputeShrunk runs the same pipeline as Compute but forces the covariance
// through EnsurePSDForced instead of EnsurePSD: BacktestDriver's single
// per-date retry after Compute fails with CovarianceIllConditioned (spec.md
// §7).
func (p *Posterior) ComputeShrunk(
	tickers []market.Ticker,
	marketCaps map[market.Ticker]float64,
	dailyReturns map[market.Ticker][]float64,
	scores map[market.Ticker]market.TickerScore,
	macroScalar float64,
) (market.Posterior, error) {
	return p.compute(tickers, marketCaps, dailyReturns, scores, macroScalar, EnsurePSDForced)
}

func (p *Posterior) compute(
	tickers []market.Ticker,
	marketCaps map[market.Ticker]float64,
	dailyReturns map[market.Ticker][]float64,
	scores map[market.Ticker]market.TickerScore,
	macroScalar float64,
	ensurePSD func(*mat.SymDense, float64) (*mat.SymDense, error),
) (market.Posterior, error) {
	if len(tickers) == 0 {
		return market.Posterior{}, apperrors.ErrEmptyOptimizationSet
	}

	order := make([]market.Ticker, len(tickers))
	copy(order, tickers)
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	n := len(order)

	sample, err := SampleCovariance(dailyReturns, order)
	if err != nil {
		return market.Posterior{}, err
	}
	sigma, err := ensurePSD(sample, psdEpsilon)
	if err != nil {
		return market.Posterior{}, err
	}

	wMkt := marketWeights(order, marketCaps)
	pi := equilibriumReturns(sigma, wMkt, macroScalar, p.cfg.RiskAversion)

	q := make([]float64, n)
	confidence := make([]float64, n)
	for i, t := range order {
		sc := scores[t]
		sigmaI := math.Sqrt(sigma.At(i, i))
		q[i] = sc.Total * sigmaI * p.cfg.AlphaScalar
		confidence[i] = confidenceFor(sc.ZValue, sc.ZQuality, sc.ZMomentum)
	}

	mean, post, err := blend(sigma, pi, q, confidence, p.cfg.BLTau)
	if err != nil {
		return market.Posterior{}, err
	}

	covOut := make([][]float64, n)
	for i := 0; i < n; i++ {
		covOut[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			covOut[i][j] = post.At(i, j)
		}
	}
	return market.Posterior{Order: order, Mean: mean, Covariance: covOut}, nil
}

// marketWeights normalizes market caps restricted to order; tickers absent
// from marketCaps contribute zero weight.
func marketWeights(order []market.Ticker, marketCaps map[market.Ticker]float64) []float64 {
	w := make([]float64, len(order))
	var total float64
	for i, t := range order {
		w[i] = marketCaps[t]
		total += w[i]
	}
	if total > 0 {
		for i := range w {
			w[i] /= total
		}
	}
	return w
}

// equilibriumReturns computes pi = s * delta * Sigma * w_mkt (spec.md §4.6).
func equilibriumReturns(sigma *mat.SymDense, wMkt []float64, macroScalar, riskAversion float64) []float64 {
	n := len(wMkt)
	wVec := mat.NewVecDense(n, wMkt)
	var piVec mat.VecDense
	piVec.MulVec(sigma, wVec)
	pi := make([]float64, n)
	for i := 0; i < n; i++ {
		pi[i] = macroScalar * riskAversion * piVec.AtVec(i)
	}
	return pi
}

// confidenceFor maps the dispersion of a ticker's three z-components to an
// Idzorek confidence level (spec.md §4.6 table).
func confidenceFor(zValue, zQuality, zMomentum float64) float64 {
	mean := (zValue + zQuality + zMomentum) / 3
	var sqSum float64
	for _, z := range []float64{zValue, zQuality, zMomentum} {
		d := z - mean
		sqSum += d * d
	}
	d := math.Sqrt(sqSum / 3)
	switch {
	case d < 0.5:
		return 0.80
	case d < 1.0:
		return 0.60
	case d < 1.5:
		return 0.40
	default:
		return 0.20
	}
}

// blend performs the standard Black-Litterman update with an identity view
// matrix (one absolute view per ticker, spec.md §4.6). Idzorek's method sets
// each view's uncertainty Omega_ii so that the posterior weight placed on
// view i equals confidence_i relative to the prior; with P = I this reduces
// to Omega_ii = tau * Sigma_ii * (1-confidence_i)/confidence_i.
func blend(sigma *mat.SymDense, pi, q, confidence []float64, tau float64) ([]float64, *mat.SymDense, error) {
	n := len(pi)

	tauSigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			tauSigma.SetSym(i, j, tau*sigma.At(i, j))
		}
	}

	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, tauSigma.At(i, j))
		}
		omegaII := tauSigma.At(i, i) * (1 - confidence[i]) / confidence[i]
		a.Set(i, i, a.At(i, i)+omegaII)
	}

	var aInv mat.Dense
	if err := aInv.Inverse(a); err != nil {
		return nil, nil, fmt.Errorf("%w: Black-Litterman system is singular: %v", apperrors.ErrCovarianceIllConditioned, err)
	}

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = q[i] - pi[i]
	}
	diffVec := mat.NewVecDense(n, diff)

	var tmp mat.VecDense
	tmp.MulVec(&aInv, diffVec)

	var adj mat.VecDense
	adj.MulVec(tauSigmaDense(tauSigma), &tmp)

	mean := make([]float64, n)
	for i := 0; i < n; i++ {
		mean[i] = pi[i] + adj.AtVec(i)
	}

	var tauSigmaAinv mat.Dense
	tauSigmaAinv.Mul(tauSigmaDense(tauSigma), &aInv)
	var reduction mat.Dense
	reduction.Mul(&tauSigmaAinv, tauSigmaDense(tauSigma))

	post := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := sigma.At(i, j) + tauSigma.At(i, j) - reduction.At(i, j)
			post.SetSym(i, j, v)
		}
	}
	return mean, post, nil
}

func tauSigmaDense(s *mat.SymDense) *mat.Dense {
	n, _ := s.Dims()
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.Set(i, j, s.At(i, j))
		}
	}
	return d
}
