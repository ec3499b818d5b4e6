package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
)

func samplePosterior() market.Posterior {
	return market.Posterior{
		Order: []market.Ticker{"AAA", "BBB", "CCC"},
		Mean:  []float64{0.08, 0.05, 0.02},
		Covariance: [][]float64{
			{0.04, 0.01, 0.00},
			{0.01, 0.03, 0.00},
			{0.00, 0.00, 0.02},
		},
	}
}

func sampleSectors() map[market.Ticker]market.Sector {
	return map[market.Ticker]market.Sector{
		"AAA": market.SectorTechnology,
		"BBB": market.SectorTechnology,
		"CCC": market.SectorHealthcare,
	}
}

func TestOptimizeMinVarianceRespectsBoundsAndBudget(t *testing.T) {
	cfg := config.Default()
	cfg.Objective = config.ObjectiveMinVariance
	// Sidestep the sector cap and the default 0.30 per-ticker bound here:
	// samplePosterior has three tickers in two sectors, so either the default
	// 0.35 cap on each sector or 3 x 0.30 would make net=1.0 infeasible.
	// Sector cap behavior has its own test.
	cfg.SectorCap = 1.0
	cfg.WeightBounds = config.Bounds{Min: 0, Max: 0.5}
	o := New(cfg)

	result, err := o.Optimize(samplePosterior(), sampleSectors(), nil)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Weights.Sum(), 1e-3)
	for _, v := range result.Weights {
		assert.GreaterOrEqual(t, v, cfg.WeightBounds.Min-1e-6)
		assert.LessOrEqual(t, v, cfg.WeightBounds.Max+1e-6)
	}
}

func TestOptimizeRespectsSectorCap(t *testing.T) {
	cfg := config.Default()
	cfg.Objective = config.ObjectiveMaxQuadUtility
	cfg.SectorCap = 0.5
	o := New(cfg)

	result, err := o.Optimize(samplePosterior(), sampleSectors(), nil)
	require.NoError(t, err)

	bySector := result.Weights.BySector(sampleSectors())
	for sector, gross := range bySector {
		assert.LessOrEqualf(t, math.Abs(gross), cfg.SectorCap+1e-2, "sector %s exceeded cap", sector)
	}
}

func TestOptimizeEmptyUniverseFails(t *testing.T) {
	o := New(config.Default())
	_, err := o.Optimize(market.Posterior{}, nil, nil)
	require.Error(t, err)
}

func TestDiscreteAllocateLargestRemainder(t *testing.T) {
	w := market.Weights{"AAA": 0.6, "BBB": 0.4}
	prices := map[market.Ticker]float64{"AAA": 30, "BBB": 45}

	alloc := DiscreteAllocate(w, prices, 1000)

	spent := float64(alloc.Shares["AAA"])*prices["AAA"] + float64(alloc.Shares["BBB"])*prices["BBB"]
	assert.InDelta(t, 1000, spent+alloc.LeftoverCash, 1e-6)
	assert.Less(t, alloc.LeftoverCash, prices["AAA"])
	assert.Less(t, alloc.LeftoverCash, prices["BBB"])
}

func TestDiscreteAllocateIgnoresZeroAndMissingPrices(t *testing.T) {
	w := market.Weights{"AAA": 0.5, "BBB": 0}
	prices := map[market.Ticker]float64{"AAA": 100}

	alloc := DiscreteAllocate(w, prices, 500)

	_, ok := alloc.Shares["BBB"]
	assert.False(t, ok)
	assert.Equal(t, 5, alloc.Shares["AAA"])
}
