package regime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
	"github.com/quantedge/alphacore/internal/provider/fake"
)

func asOf(s string) market.AsOfDate {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return market.NewAsOfDate(t)
}

func seedIndexTrend(p *fake.Provider, symbol string, start time.Time, days int, drift float64) {
	pts := make([]market.PricePoint, 0, days)
	price := 100.0
	for i := 0; i < days; i++ {
		price += drift
		pts = append(pts, market.PricePoint{Date: start.AddDate(0, 0, i), AdjustedClose: price})
	}
	p.Indices[symbol] = market.PriceSeries{Ticker: market.Ticker(symbol), Points: pts}
}

func TestClassifySMARiskOnWhenAboveAverage(t *testing.T) {
	p := fake.New()
	seedIndexTrend(p, "SPY", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 260, 0.1)

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), asOf("2022-09-20"), config.RegimeMethodSMA)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeRiskOn, regime)
}

func TestClassifySMARiskOffWhenBelowAverage(t *testing.T) {
	p := fake.New()
	seedIndexTrend(p, "SPY", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 260, -0.1)

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), asOf("2022-09-20"), config.RegimeMethodSMA)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeRiskOff, regime)
}

func TestClassifySMAUnknownOnInsufficientHistory(t *testing.T) {
	p := fake.New()
	seedIndexTrend(p, "SPY", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 30, 0.1)

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), asOf("2022-02-01"), config.RegimeMethodSMA)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeUnknown, regime)
}

func vixf(v float64) *float64 { return &v }

func TestClassifyVIXRiskOffOnInvertedTermStructure(t *testing.T) {
	p := fake.New()
	d0 := asOf("2022-06-01")
	p.VIX[d0.String()] = provider.VIXTermStructure{VIX9D: vixf(35), VIX30D: vixf(28), VIX3M: vixf(22)}

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), d0, config.RegimeMethodVIX)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeRiskOff, regime)
}

func TestClassifyVIXCautionOnMidTermAboveLongTerm(t *testing.T) {
	p := fake.New()
	d0 := asOf("2022-06-01")
	p.VIX[d0.String()] = provider.VIXTermStructure{VIX9D: vixf(15), VIX30D: vixf(20), VIX3M: vixf(18)}

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), d0, config.RegimeMethodVIX)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeCaution, regime)
}

func TestClassifyVIXRiskOnOnContango(t *testing.T) {
	p := fake.New()
	d0 := asOf("2022-06-01")
	p.VIX[d0.String()] = provider.VIXTermStructure{VIX9D: vixf(14), VIX30D: vixf(16), VIX3M: vixf(19)}

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), d0, config.RegimeMethodVIX)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeRiskOn, regime)
}

func TestClassifyCombinedFallsBackToSMAWhenVIXUnknown(t *testing.T) {
	p := fake.New()
	seedIndexTrend(p, "SPY", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 260, 0.1)

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), asOf("2022-09-20"), config.RegimeMethodCombined)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeRiskOn, regime)
}

func TestClassifyCombinedRiskOffWhenEitherVotesRiskOff(t *testing.T) {
	p := fake.New()
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	seedIndexTrend(p, "SPY", start, 260, 0.1) // SMA votes RiskOn
	d0 := asOf("2022-09-20")
	p.VIX[d0.String()] = provider.VIXTermStructure{VIX9D: vixf(35), VIX30D: vixf(28), VIX3M: vixf(22)} // VIX votes RiskOff

	d := NewDetector(p, "SPY")
	regime, err := d.Classify(context.Background(), d0, config.RegimeMethodCombined)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeRiskOff, regime)
}

func TestExposureForMapsEachRegime(t *testing.T) {
	exposures := config.RegimeExposures{RiskOff: 0.5, Caution: 0.75, RiskOn: 1.0}
	assert.Equal(t, 0.5, ExposureFor(market.RegimeRiskOff, exposures))
	assert.Equal(t, 0.75, ExposureFor(market.RegimeCaution, exposures))
	assert.Equal(t, 1.0, ExposureFor(market.RegimeRiskOn, exposures))
	assert.Equal(t, 1.0, ExposureFor(market.RegimeUnknown, exposures))
}
