package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetricsEmptySeries(t *testing.T) {
	m := ComputeMetrics(nil, nil)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.Sharpe)
}

func TestComputeMetricsAllPositiveReturnsHaveFullWinRateAndNoDrawdown(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.015, 0.005}
	m := ComputeMetrics(returns, nil)

	assert.Equal(t, 1.0, m.WinRate)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.AvgLoss)
	assert.Greater(t, m.TotalReturn, 0.0)
}

func TestComputeMetricsDrawdownIsNegative(t *testing.T) {
	returns := []float64{0.05, -0.10, 0.02}
	m := ComputeMetrics(returns, nil)
	assert.Less(t, m.MaxDrawdown, 0.0)
}

func TestComputeMetricsAlphaBetaAgainstIdenticalBenchmark(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.00}
	m := ComputeMetrics(returns, returns)
	assert.InDelta(t, 1.0, m.Beta, 1e-9)
	assert.InDelta(t, 0.0, m.Alpha, 1e-9)
}
