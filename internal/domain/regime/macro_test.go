package regime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/provider/fake"
)

func TestMacroAdjusterScalarAtOrBelowFloorIsMax(t *testing.T) {
	p := fake.New()
	d := asOf("2023-01-01")
	p.CAPESeries[d.String()] = 10

	cfg := config.Default() // CAPEThresholds{15,35}, CAPEScalars{1.20,0.70}
	a := NewMacroAdjuster(p, cfg)

	scalar, err := a.Scalar(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, cfg.CAPEScalars.Min, scalar)
}

func TestMacroAdjusterScalarAtOrAboveCeilingIsMin(t *testing.T) {
	p := fake.New()
	d := asOf("2023-01-01")
	p.CAPESeries[d.String()] = 40

	cfg := config.Default()
	a := NewMacroAdjuster(p, cfg)

	scalar, err := a.Scalar(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, cfg.CAPEScalars.Max, scalar)
}

func TestMacroAdjusterScalarInterpolatesBetweenThresholds(t *testing.T) {
	p := fake.New()
	d := asOf("2023-01-01")
	p.CAPESeries[d.String()] = 25 // midpoint of [15,35]

	cfg := config.Default()
	a := NewMacroAdjuster(p, cfg)

	scalar, err := a.Scalar(context.Background(), d)
	require.NoError(t, err)
	want := (cfg.CAPEScalars.Min + cfg.CAPEScalars.Max) / 2
	assert.InDelta(t, want, scalar, 1e-9)
}

func TestMacroAdjusterDefaultsToOneWhenCAPEMissing(t *testing.T) {
	p := fake.New()
	cfg := config.Default()
	a := NewMacroAdjuster(p, cfg)

	scalar, err := a.Scalar(context.Background(), asOf("2023-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, scalar)
}
