package optimizer

import (
	"math"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
)

// riskFreeRate is fixed at zero: spec.md §4.7 names r_f in the MaxSharpe
// formula but exposes no configuration knob for it, and every scenario in
// spec.md §8 is expressed in excess-return terms already.
const riskFreeRate = 0.0

const penaltyWeight = 1e4

// objective exposes the ascent direction (the gradient of the quantity the
// solver maximizes) at a given weight vector.
type objective interface {
	gradient(w []float64) []float64
}

func objectiveFor(kind config.Objective, post market.Posterior, cfg config.Config, net float64) objective {
	cov := regularized(post.Covariance)
	switch kind {
	case config.ObjectiveMinVariance:
		return &minVarianceObjective{cov: cov}
	case config.ObjectiveMaxQuadUtility:
		return &quadUtilityObjective{mean: post.Mean, cov: cov, delta: cfg.RiskAversion}
	case config.ObjectiveEfficientRisk:
		return &efficientRiskObjective{mean: post.Mean, cov: cov, targetVol: cfg.TargetVol}
	case config.ObjectiveEfficientReturn:
		return &efficientReturnObjective{mean: post.Mean, cov: cov, targetRet: cfg.TargetRet}
	default:
		return &maxSharpeObjective{mean: post.Mean, cov: cov}
	}
}

// regularized adds a tiny epsilon to the diagonal (spec.md §4.7
// "Tie-breaking"): when a constraint is active and the feasible set is a
// face, this selects that face's unique interior point.
func regularized(cov [][]float64) [][]float64 {
	n := len(cov)
	out := make([][]float64, n)
	for i := range cov {
		out[i] = append([]float64(nil), cov[i]...)
		out[i][i] += tieBreakEps
	}
	return out
}

func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range m {
		var acc float64
		for j := range v {
			acc += m[i][j] * v[j]
		}
		out[i] = acc
	}
	return out
}

func dot(a, b []float64) float64 {
	var acc float64
	for i := range a {
		acc += a[i] * b[i]
	}
	return acc
}

type maxSharpeObjective struct {
	mean []float64
	cov  [][]float64
}

func (o *maxSharpeObjective) gradient(w []float64) []float64 {
	sigmaW := matVec(o.cov, w)
	variance := dot(w, sigmaW)
	sigma := math.Sqrt(math.Max(variance, 1e-12))
	excess := dot(o.mean, w) - riskFreeRate

	grad := make([]float64, len(w))
	for i := range w {
		grad[i] = o.mean[i]/sigma - excess*sigmaW[i]/(sigma*sigma*sigma)
	}
	return grad
}

type minVarianceObjective struct {
	cov [][]float64
}

func (o *minVarianceObjective) gradient(w []float64) []float64 {
	sigmaW := matVec(o.cov, w)
	grad := make([]float64, len(w))
	for i := range w {
		grad[i] = -2 * sigmaW[i]
	}
	return grad
}

type quadUtilityObjective struct {
	mean  []float64
	cov   [][]float64
	delta float64
}

func (o *quadUtilityObjective) gradient(w []float64) []float64 {
	sigmaW := matVec(o.cov, w)
	grad := make([]float64, len(w))
	for i := range w {
		grad[i] = o.mean[i] - o.delta*sigmaW[i]
	}
	return grad
}

// efficientRiskObjective maximizes mean'w subject to volatility <= targetVol
// via a quadratic exterior penalty on the violation.
type efficientRiskObjective struct {
	mean      []float64
	cov       [][]float64
	targetVol float64
}

func (o *efficientRiskObjective) gradient(w []float64) []float64 {
	sigmaW := matVec(o.cov, w)
	variance := dot(w, sigmaW)
	sigma := math.Sqrt(math.Max(variance, 1e-12))
	violation := math.Max(0, sigma-o.targetVol)

	grad := make([]float64, len(w))
	for i := range w {
		grad[i] = o.mean[i] - penaltyWeight*2*violation*sigmaW[i]/sigma
	}
	return grad
}

// efficientReturnObjective minimizes variance subject to mean'w >= targetRet
// via a quadratic exterior penalty on the violation.
type efficientReturnObjective struct {
	mean      []float64
	cov       [][]float64
	targetRet float64
}

func (o *efficientReturnObjective) gradient(w []float64) []float64 {
	sigmaW := matVec(o.cov, w)
	achieved := dot(o.mean, w)
	violation := math.Max(0, o.targetRet-achieved)

	grad := make([]float64, len(w))
	for i := range w {
		grad[i] = -2*sigmaW[i] + penaltyWeight*2*violation*o.mean[i]
	}
	return grad
}
