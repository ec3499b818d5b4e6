// Package blacklitterman implements the BlackLittermanPosterior: a
// market-cap equilibrium prior blended with factor-implied absolute views
// via Idzorek confidence mapping (spec.md §4.6). Covariance estimation
// follows the teacher-adjacent Ledoit-Wolf shrinkage pattern used across the
// retrieved corpus for regularizing sample covariance toward a constant-
// correlation target.
package blacklitterman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/domain/market"
)

const tradingDaysPerYear = 252.0

// SampleCovariance builds the annualized sample covariance matrix of daily
// returns for tickers, in the given order, over a shared trailing window.
func SampleCovariance(returns map[market.Ticker][]float64, order []market.Ticker) (*mat.SymDense, error) {
	n := len(order)
	if n == 0 {
		return nil, fmt.Errorf("%w: no tickers to covary", apperrors.ErrEmptyOptimizationSet)
	}
	length := -1
	for _, t := range order {
		r, ok := returns[t]
		if !ok {
			return nil, fmt.Errorf("%w: no return series for %s", apperrors.ErrInsufficientData, t)
		}
		if length == -1 {
			length = len(r)
		}
		if len(r) != length {
			return nil, fmt.Errorf("%w: mismatched return window lengths for %s", apperrors.ErrInsufficientData, t)
		}
	}
	if length < 2 {
		return nil, fmt.Errorf("%w: need at least 2 daily observations, got %d", apperrors.ErrInsufficientData, length)
	}

	means := make([]float64, n)
	for i, t := range order {
		var sum float64
		for _, v := range returns[t] {
			sum += v
		}
		means[i] = sum / float64(length)
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		ri := returns[order[i]]
		for j := i; j < n; j++ {
			rj := returns[order[j]]
			var acc float64
			for k := 0; k < length; k++ {
				acc += (ri[k] - means[i]) * (rj[k] - means[j])
			}
			v := (acc / float64(length-1)) * tradingDaysPerYear
			cov.SetSym(i, j, v)
		}
	}
	return cov, nil
}

// MinEigenvalue returns the smallest eigenvalue of a symmetric matrix.
func MinEigenvalue(m *mat.SymDense) float64 {
	var eig mat.EigenSym
	if !eig.Factorize(m, false) {
		return 0
	}
	values := eig.Values(nil)
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// constantCorrelationTarget builds the Ledoit-Wolf shrinkage target: a
// matrix with the sample's average variance on the diagonal and its average
// covariance everywhere off it.
func constantCorrelationTarget(sample *mat.SymDense) *mat.SymDense {
	n, _ := sample.Dims()
	var avgVar, avgCov float64
	offDiagCount := 0
	for i := 0; i < n; i++ {
		avgVar += sample.At(i, i)
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample.At(i, j)
				offDiagCount++
			}
		}
	}
	avgVar /= float64(n)
	if offDiagCount > 0 {
		avgCov /= float64(offDiagCount)
	}

	target := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				target.SetSym(i, j, avgVar)
			} else {
				target.SetSym(i, j, avgCov)
			}
		}
	}
	return target
}

// shrinkToward blends sample with target by intensity (0 = sample
// unchanged, 1 = target exactly).
func shrinkToward(sample, target *mat.SymDense, intensity float64) *mat.SymDense {
	n, _ := sample.Dims()
	result := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1-intensity)*sample.At(i, j) + intensity*target.At(i, j)
			result.SetSym(i, j, v)
		}
	}
	return result
}

// LedoitWolfShrink shrinks a sample covariance toward a constant-correlation
// target, the regularization spec.md §4.6 invokes when the sample
// covariance's minimum eigenvalue is below epsilon. The shrinkage intensity
// is estimated from the sample itself and capped at 0.5.
func LedoitWolfShrink(sample *mat.SymDense) *mat.SymDense {
	n, _ := sample.Dims()
	if n == 0 {
		return sample
	}
	target := constantCorrelationTarget(sample)

	var sumSqDiff, sumSqSample, meanSample float64
	count := float64(n * n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			diff := sample.At(i, j) - target.At(i, j)
			sumSqDiff += diff * diff
			v := sample.At(i, j)
			sumSqSample += v * v
			meanSample += v
		}
	}
	meanSample /= count
	varSample := sumSqSample/count - meanSample*meanSample
	meanSqDiff := sumSqDiff / count

	shrinkage := 0.2
	if varSample > 0 && meanSqDiff > 0 {
		shrinkage = varSample / (varSample + meanSqDiff)
		if shrinkage > 0.5 {
			shrinkage = 0.5
		}
		if shrinkage < 0 {
			shrinkage = 0
		}
	}
	return shrinkToward(sample, target, shrinkage)
}

// EnsurePSD returns sample unmodified if well-conditioned, or its
// Ledoit-Wolf shrinkage estimate if the minimum eigenvalue falls below eps.
// Fails with CovarianceIllConditioned if shrinkage cannot rescue it.
func EnsurePSD(sample *mat.SymDense, eps float64) (*mat.SymDense, error) {
	if MinEigenvalue(sample) >= eps {
		return sample, nil
	}
	shrunk := LedoitWolfShrink(sample)
	if MinEigenvalue(shrunk) < eps {
		return nil, apperrors.ErrCovarianceIllConditioned
	}
	return shrunk, nil
}

// EnsurePSDForced skips the adaptive shrinkage estimate and blends sample
// fully toward its constant-correlation target (spec.md §7's "retry with
// shrinkage-adjusted covariance"): a stronger regularization than EnsurePSD's
// capped intensity, used as BacktestDriver's single per-date retry after a
// first CovarianceIllConditioned failure. Still fails with
// CovarianceIllConditioned if even the full-target blend isn't PSD.
func EnsurePSDForced(sample *mat.SymDense, eps float64) (*mat.SymDense, error) {
	shrunk := shrinkToward(sample, constantCorrelationTarget(sample), 1.0)
	if MinEigenvalue(shrunk) < eps {
		return nil, apperrors.ErrCovarianceIllConditioned
	}
	return shrunk, nil
}
