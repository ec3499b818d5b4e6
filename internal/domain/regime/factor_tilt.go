package regime

import (
	"context"
	"math"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// FactorTilts are the per-composite-factor multipliers produced by
// FactorRegimeAdjuster (spec.md §4.4): HML maps to Value, RMW maps to
// Quality, Momentum has no Fama-French analogue and defaults to 1.0.
type FactorTilts struct {
	Value, Quality, Momentum float64
}

// Neutral returns the no-op tilt set.
func Neutral() FactorTilts { return FactorTilts{Value: 1, Quality: 1, Momentum: 1} }

// FactorRegimeAdjuster maps trailing Fama-French factor returns to per-factor
// tilts (spec.md §4.4).
type FactorRegimeAdjuster struct {
	provider provider.MarketDataProvider
	cfg      config.Config
}

// NewFactorRegimeAdjuster builds a FactorRegimeAdjuster.
func NewFactorRegimeAdjuster(p provider.MarketDataProvider, cfg config.Config) *FactorRegimeAdjuster {
	return &FactorRegimeAdjuster{provider: p, cfg: cfg}
}

// Tilts computes the (value, quality, momentum) tilt triple at asOf.
func (a *FactorRegimeAdjuster) Tilts(ctx context.Context, asOf market.AsOfDate) (FactorTilts, error) {
	window, err := a.provider.FFFactorWindow(ctx, asOf, a.cfg.FFWindowMonths)
	if err != nil {
		return Neutral(), nil // optional macro feed
	}

	tilts := Neutral()
	if hml, ok := window[provider.FactorHML]; ok && len(hml.TrailingMonthly) > 0 {
		tilts.Value = a.tiltFor(hml)
	}
	if rmw, ok := window[provider.FactorRMW]; ok && len(rmw.TrailingMonthly) > 0 {
		tilts.Quality = a.tiltFor(rmw)
	}
	return tilts, nil
}

// tiltFor computes one factor's final tilt: z-score the trailing mean
// against the full-history mean/stddev, map through the piecewise table,
// then soften by tilt_strength (spec.md §4.4 steps 2-4).
func (a *FactorRegimeAdjuster) tiltFor(w provider.FFWindow) float64 {
	trailingMean, _ := meanStd(w.TrailingMonthly)

	var z float64
	if w.FullHistoryStdDev != 0 {
		z = (trailingMean - w.FullHistoryMean) / w.FullHistoryStdDev
	}
	raw := tiltTable(z)
	return 1 + a.cfg.TiltStrength*(raw-1)
}

func tiltTable(z float64) float64 {
	switch {
	case z >= 1.5:
		return 1.30
	case z >= 0.5:
		return 1.15
	case z > -0.5:
		return 1.00
	case z > -1.5:
		return 0.85
	default:
		return 0.70
	}
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sqSum float64
	for _, x := range xs {
		d := x - mean
		sqSum += d * d
	}
	return mean, math.Sqrt(sqSum / float64(len(xs)))
}
