package regime

import (
	"context"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// Detector classifies market state from index SMA and VIX term structure,
// point-in-time (spec.md §4.5). Every call is parameterized by an as-of
// date; there is no "current regime" concept anywhere in this type, by
// design (spec.md §9 design note).
type Detector struct {
	provider        provider.MarketDataProvider
	benchmarkSymbol string
}

// NewDetector builds a RegimeDetector against symbol (default "SPY").
func NewDetector(p provider.MarketDataProvider, symbol string) *Detector {
	if symbol == "" {
		symbol = "SPY"
	}
	return &Detector{provider: p, benchmarkSymbol: symbol}
}

// Classify implements spec.md §4.5's three methods.
func (d *Detector) Classify(ctx context.Context, asOf market.AsOfDate, method config.RegimeMethod) (market.Regime, error) {
	switch method {
	case config.RegimeMethodSMA:
		return d.sma(ctx, asOf)
	case config.RegimeMethodVIX:
		return d.vix(ctx, asOf)
	case config.RegimeMethodCombined:
		return d.combined(ctx, asOf)
	default:
		return market.RegimeUnknown, nil
	}
}

// sma computes the 200-trading-day SMA ending at asOf; RiskOn iff the
// latest close is above it.
func (d *Detector) sma(ctx context.Context, asOf market.AsOfDate) (market.Regime, error) {
	series, err := d.provider.IndexHistory(ctx, d.benchmarkSymbol, asOf, 200)
	if err != nil || len(series.Points) < 200 {
		return market.RegimeUnknown, nil
	}
	var sum float64
	for _, pt := range series.Points[len(series.Points)-200:] {
		sum += pt.AdjustedClose
	}
	sma := sum / 200
	last := series.Points[len(series.Points)-1].AdjustedClose
	if last > sma {
		return market.RegimeRiskOn, nil
	}
	return market.RegimeRiskOff, nil
}

// vix classifies by the VIX9D/30D/3M term structure.
func (d *Detector) vix(ctx context.Context, asOf market.AsOfDate) (market.Regime, error) {
	v, err := d.provider.VIXStructure(ctx, asOf)
	if err != nil || !v.Complete() {
		return market.RegimeUnknown, nil
	}
	s, m, l := *v.VIX9D, *v.VIX30D, *v.VIX3M
	switch {
	case s > m:
		return market.RegimeRiskOff, nil
	case m > l:
		return market.RegimeCaution, nil
	default:
		return market.RegimeRiskOn, nil
	}
}

// combined blends the SMA and VIX votes per spec.md §4.5.
func (d *Detector) combined(ctx context.Context, asOf market.AsOfDate) (market.Regime, error) {
	smaRegime, _ := d.sma(ctx, asOf)
	vixRegime, _ := d.vix(ctx, asOf)

	if vixRegime == market.RegimeUnknown {
		return smaRegime, nil
	}
	if smaRegime == market.RegimeUnknown {
		return vixRegime, nil
	}
	if vixRegime == market.RegimeRiskOff {
		return market.RegimeRiskOff, nil
	}
	if smaRegime == market.RegimeRiskOn && vixRegime == market.RegimeRiskOn {
		return market.RegimeRiskOn, nil
	}
	return market.RegimeCaution, nil
}

// ExposureFor looks up the configured gross-exposure multiplier for a regime
// (spec.md §4.8 step f). RiskOn and Unknown both map to full exposure by
// default.
func ExposureFor(r market.Regime, exposures config.RegimeExposures) float64 {
	switch r {
	case market.RegimeRiskOff:
		return exposures.RiskOff
	case market.RegimeCaution:
		return exposures.Caution
	default:
		return exposures.RiskOn
	}
}
