// Package regime implements the MacroAdjuster, FactorRegimeAdjuster and
// RegimeDetector (spec.md §4.3-4.5). Each is a small, pure, as-of-parameterized
// function over data read through provider.MarketDataProvider — the
// teacher's rule that every external read takes an as_of argument
// (spec.md §9 design note) is load-bearing here more than anywhere else in
// the system, since this is exactly where the teacher's own history shows a
// "current regime in a historical backtest" bug (spec.md §9).
package regime

import (
	"context"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// MacroAdjuster maps a CAPE level to a scalar multiplier on equilibrium
// returns (spec.md §4.3).
type MacroAdjuster struct {
	provider provider.MarketDataProvider
	cfg      config.Config
}

// NewMacroAdjuster builds a MacroAdjuster.
func NewMacroAdjuster(p provider.MarketDataProvider, cfg config.Config) *MacroAdjuster {
	return &MacroAdjuster{provider: p, cfg: cfg}
}

// Scalar returns the macro multiplier at asOf. Missing CAPE yields 1.0, no
// warning escalated (spec.md §8 boundary behavior).
func (m *MacroAdjuster) Scalar(ctx context.Context, asOf market.AsOfDate) (float64, error) {
	cape, err := m.provider.CAPE(ctx, asOf)
	if err != nil {
		return 1.0, nil // optional macro feed: DataUnavailable means "feature disabled" (spec.md §4.1)
	}
	if cape == nil {
		return 1.0, nil
	}
	return scalarFor(*cape, m.cfg.CAPEThresholds.Min, m.cfg.CAPEThresholds.Max, m.cfg.CAPEScalars.Min, m.cfg.CAPEScalars.Max), nil
}

func scalarFor(cape, low, high, scalarLow, scalarHigh float64) float64 {
	if cape <= low {
		return scalarLow
	}
	if cape >= high {
		return scalarHigh
	}
	frac := (cape - low) / (high - low)
	return scalarLow + frac*(scalarHigh-scalarLow)
}
