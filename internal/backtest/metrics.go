package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const periodsPerYear = 12.0 // rebalance-period return series (spec.md §4.8 step 3)

// Metrics is the terminal performance record computed over the
// concatenated rebalance-period return series (spec.md §4.8
// "Performance metrics").
type Metrics struct {
	TotalReturn  float64
	CAGR         float64
	Volatility   float64
	Sharpe       float64
	Sortino      float64
	Calmar       float64
	MaxDrawdown  float64
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
	Alpha        float64
	Beta         float64
}

// ComputeMetrics summarizes portfolioReturns (one entry per rebalance
// period) against benchmarkReturns of the same length.
func ComputeMetrics(portfolioReturns, benchmarkReturns []float64) Metrics {
	if len(portfolioReturns) == 0 {
		return Metrics{}
	}

	m := Metrics{}
	m.TotalReturn = compound(portfolioReturns)
	years := float64(len(portfolioReturns)) / periodsPerYear
	if years > 0 {
		m.CAGR = math.Pow(1+m.TotalReturn, 1/years) - 1
	}
	m.Volatility = stat.StdDev(portfolioReturns, nil) * math.Sqrt(periodsPerYear)

	mean := stat.Mean(portfolioReturns, nil)
	if m.Volatility > 0 {
		m.Sharpe = (mean * periodsPerYear) / m.Volatility
	}

	m.Sortino = sortino(portfolioReturns, mean)

	drawdown := maxDrawdown(portfolioReturns)
	m.MaxDrawdown = drawdown
	if drawdown != 0 {
		m.Calmar = m.CAGR / math.Abs(drawdown)
	}

	wins, losses := 0, 0
	var winSum, lossSum float64
	for _, r := range portfolioReturns {
		if r > 0 {
			wins++
			winSum += r
		} else if r < 0 {
			losses++
			lossSum += r
		}
	}
	if len(portfolioReturns) > 0 {
		m.WinRate = float64(wins) / float64(len(portfolioReturns))
	}
	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
	}
	if lossSum != 0 {
		m.ProfitFactor = winSum / math.Abs(lossSum)
	}

	if len(benchmarkReturns) == len(portfolioReturns) && len(benchmarkReturns) > 1 {
		m.Alpha, m.Beta = alphaBeta(portfolioReturns, benchmarkReturns)
	}

	return m
}

func compound(returns []float64) float64 {
	v := 1.0
	for _, r := range returns {
		v *= 1 + r
	}
	return v - 1
}

// sortino annualizes mean excess return over downside semideviation (the
// teacher-adjacent pack convention: zero downside observations yields a
// zero ratio rather than a division by zero).
func sortino(returns []float64, mean float64) float64 {
	var downsideSq float64
	var downsideCount int
	for _, r := range returns {
		if r < 0 {
			downsideSq += r * r
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0
	}
	dd := math.Sqrt(downsideSq / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return (mean * periodsPerYear) / (dd * math.Sqrt(periodsPerYear))
}

// maxDrawdown returns the largest peak-to-trough decline (negative, or
// zero) of the cumulative equity curve implied by returns.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		dd := (equity - peak) / peak
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// alphaBeta regresses portfolio returns on benchmark returns: beta is the
// covariance/variance slope, alpha the mean residual, both expressed per
// period (not annualized, matching the per-rebalance-period return series
// they're computed from).
func alphaBeta(portfolio, benchmark []float64) (alpha, beta float64) {
	covar := stat.Covariance(portfolio, benchmark, nil)
	variance := stat.Variance(benchmark, nil)
	if variance == 0 {
		return 0, 0
	}
	beta = covar / variance
	alpha = stat.Mean(portfolio, nil) - beta*stat.Mean(benchmark, nil)
	return alpha, beta
}
