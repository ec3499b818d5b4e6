package regime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/provider"
	"github.com/quantedge/alphacore/internal/provider/fake"
)

func TestNeutralIsAllOnes(t *testing.T) {
	assert.Equal(t, FactorTilts{Value: 1, Quality: 1, Momentum: 1}, Neutral())
}

func TestFactorRegimeAdjusterTiltsUpOnStrongHML(t *testing.T) {
	p := fake.New()
	p.FFWindows[provider.FactorHML] = provider.FFWindow{
		TrailingMonthly:   []float64{0.05, 0.06, 0.055},
		FullHistoryMean:   0.0,
		FullHistoryStdDev: 0.01,
	}

	cfg := config.Default()
	cfg.FFWindowMonths = 3
	cfg.TiltStrength = 1.0
	a := NewFactorRegimeAdjuster(p, cfg)

	tilts, err := a.Tilts(context.Background(), asOf("2023-01-01"))
	require.NoError(t, err)
	assert.Greater(t, tilts.Value, 1.0)
	assert.Equal(t, 1.0, tilts.Quality)
	assert.Equal(t, 1.0, tilts.Momentum)
}

func TestFactorRegimeAdjusterTiltsDownOnWeakRMW(t *testing.T) {
	p := fake.New()
	p.FFWindows[provider.FactorRMW] = provider.FFWindow{
		TrailingMonthly:   []float64{-0.05, -0.06, -0.055},
		FullHistoryMean:   0.0,
		FullHistoryStdDev: 0.01,
	}

	cfg := config.Default()
	cfg.FFWindowMonths = 3
	cfg.TiltStrength = 1.0
	a := NewFactorRegimeAdjuster(p, cfg)

	tilts, err := a.Tilts(context.Background(), asOf("2023-01-01"))
	require.NoError(t, err)
	assert.Less(t, tilts.Quality, 1.0)
	assert.Equal(t, 1.0, tilts.Value)
}

func TestFactorRegimeAdjusterTiltStrengthSoftensMagnitude(t *testing.T) {
	p := fake.New()
	p.FFWindows[provider.FactorHML] = provider.FFWindow{
		TrailingMonthly:   []float64{0.05, 0.06, 0.055},
		FullHistoryMean:   0.0,
		FullHistoryStdDev: 0.01,
	}

	cfg := config.Default()
	cfg.FFWindowMonths = 3
	cfg.TiltStrength = 0.5
	a := NewFactorRegimeAdjuster(p, cfg)

	tilts, err := a.Tilts(context.Background(), asOf("2023-01-01"))
	require.NoError(t, err)
	assert.InDelta(t, 1.15, tilts.Value, 1e-9)
}

func TestFactorRegimeAdjusterReturnsNeutralWithNoFactorWindows(t *testing.T) {
	p := fake.New() // no FF windows installed at all: still returns an empty, non-error map
	cfg := config.Default()
	a := NewFactorRegimeAdjuster(p, cfg)

	tilts, err := a.Tilts(context.Background(), asOf("2023-01-01"))
	require.NoError(t, err)
	assert.Equal(t, Neutral(), tilts)
}
