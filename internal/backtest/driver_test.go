package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/metrics"
	"github.com/quantedge/alphacore/internal/provider/fake"
	"github.com/quantedge/alphacore/internal/universe"
)

var driverTestTickers = []market.Ticker{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}

func f64(v float64) *float64 { return &v }

// buildFixture seeds three years of synthetic daily prices, quarterly
// fundamentals and a benchmark series for driverTestTickers, so the driver
// can rebalance monthly across 2023-2024 with a full 730-day lookback
// available from day one.
func buildFixture(t *testing.T) (*fake.Provider, *universe.Static) {
	t.Helper()
	p := fake.New()

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	for i, ticker := range driverTestTickers {
		var points []market.PricePoint
		price := 50.0 + float64(i)*7
		drift := 0.0003 + 0.00005*float64(i)
		day := 0
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			wiggle := math.Sin(float64(day)/17.0+float64(i)) * 0.01
			price *= 1 + drift + wiggle*0.05
			points = append(points, market.PricePoint{Date: d, AdjustedClose: price})
			day++
		}
		p.PutPrices(ticker, points)

		for y := 2021; y <= 2024; y++ {
			for _, m := range []time.Month{time.March, time.June, time.September, time.December} {
				asOf := market.NewAsOfDate(time.Date(y, m, 15, 0, 0, 0, 0, time.UTC))
				base := 100.0 + float64(i)*20 + float64(y-2021)*5
				p.PutFundamentals(market.FundamentalSnapshot{
					Ticker:             ticker,
					AsOf:               asOf,
					FreeCashFlowTTM:    f64(base * 0.08),
					EBITTTM:            f64(base * 0.12),
					RevenueTTM:         f64(base),
					GrossProfitTTM:     f64(base * 0.4),
					TotalAssets:        f64(base * 2),
					CurrentLiabilities: f64(base * 0.3),
					SharesOutstanding:  f64(1_000_000 + float64(i)*100_000),
				})
			}
		}
	}

	var benchPoints []market.PricePoint
	benchPrice := 100.0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		benchPrice *= 1.00025
		benchPoints = append(benchPoints, market.PricePoint{Date: d, AdjustedClose: benchPrice})
	}
	p.Benchmark = market.PriceSeries{Ticker: "SPY", Points: benchPoints}
	p.Indices["SPY"] = p.Benchmark

	resolver := universe.NewStatic()
	sectors := []market.Sector{
		market.SectorTechnology, market.SectorTechnology, market.SectorHealthcare,
		market.SectorHealthcare, market.SectorEnergy, market.SectorEnergy,
	}
	for i, ticker := range driverTestTickers {
		resolver.Add(ticker, sectors[i], market.NewAsOfDate(start), nil)
	}

	return p, resolver
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestDriverRunProducesLedgerAndMetrics(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	cfg.TopN = 6

	driver, err := New(p, resolver, cfg, testLogger())
	require.NoError(t, err)

	start := market.NewAsOfDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	end := market.NewAsOfDate(time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))

	result, err := driver.Run(context.Background(), start, end, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Ledger)

	for _, rec := range result.Ledger {
		sum := rec.Weights.GrossExposure()
		assert.LessOrEqual(t, sum, cfg.WeightBounds.Max*float64(len(rec.Weights))+1e-6)
		assert.LessOrEqual(t, rec.Weights.Sum(), 1.0+1e-6)
	}
}

func TestDriverRunHonorsCancellation(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	cfg.TopN = 6

	driver, err := New(p, resolver, cfg, testLogger())
	require.NoError(t, err)

	start := market.NewAsOfDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	end := market.NewAsOfDate(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC))

	calls := 0
	cancel := func() bool {
		calls++
		return calls > 1
	}

	result, err := driver.Run(context.Background(), start, end, cancel)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Diagnostics)
	assert.LessOrEqual(t, len(result.Ledger), 1)
}

func TestDriverRunSkipsInsufficientUniverse(t *testing.T) {
	p, _ := buildFixture(t)
	resolver := universe.NewStatic()
	// Only three members: below minimumUniverseSize, so every rebalance date
	// should be skipped with a diagnostic and an empty ledger.
	for i := 0; i < 3; i++ {
		resolver.Add(driverTestTickers[i], market.SectorTechnology, market.NewAsOfDate(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	}
	cfg := config.Default()

	driver, err := New(p, resolver, cfg, testLogger())
	require.NoError(t, err)

	start := market.NewAsOfDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	end := market.NewAsOfDate(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC))

	result, err := driver.Run(context.Background(), start, end, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Ledger)
	for _, diag := range result.Diagnostics {
		assert.Contains(t, diag, "InsufficientUniverse")
	}
}

func TestDriverRunWithRegimeAndMacroAdjustmentsCompletes(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	cfg.TopN = 6
	cfg.UseRegimeAdjustment = true
	cfg.UseMacro = true
	cfg.UseFactorRegimes = true

	driver, err := New(p, resolver, cfg, testLogger())
	require.NoError(t, err)

	start := market.NewAsOfDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	end := market.NewAsOfDate(time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))

	result, err := driver.Run(context.Background(), start, end, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Ledger)
	for _, rec := range result.Ledger {
		assert.NotEqual(t, market.Regime(""), rec.Regime)
		assert.Greater(t, rec.Exposure, 0.0)
	}
}

func TestDriverRunRejectsInvalidConfig(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	cfg.FactorWeightValue = 0.9 // weights no longer sum to 1

	_, err := New(p, resolver, cfg, testLogger())
	assert.Error(t, err)
}

func TestDriverRunRecordsMetrics(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	cfg.TopN = 6

	driver, err := New(p, resolver, cfg, testLogger())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	driver.WithMetrics(m)

	start := market.NewAsOfDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	end := market.NewAsOfDate(time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))

	_, err = driver.Run(context.Background(), start, end, nil)
	require.NoError(t, err)

	booked, err := m.RebalancesTotal.GetMetricWithLabelValues("booked")
	require.NoError(t, err)
	out := &dto.Metric{}
	require.NoError(t, booked.Write(out))
	assert.Greater(t, out.GetCounter().GetValue(), 0.0)
}

func TestDriverRunUsesPITTrapWithoutViolation(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	cfg.TopN = 6

	var violations []string
	trap := &fake.PITTrap{Inner: p, OnViolation: func(msg string) { violations = append(violations, msg) }}

	driver, err := New(trap, resolver, cfg, testLogger())
	require.NoError(t, err)

	start := market.NewAsOfDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	end := market.NewAsOfDate(time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC))

	_, err = driver.Run(context.Background(), start, end, nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

// TestRelaxedSharpeFloorHalvesTarget covers the retry Driver.rebalance falls
// back to when the optimizer's first attempt at a date fails: the floor an
// unconstrained retry is judged against is half of MinTargetSharpe, not the
// same floor the first attempt already missed.
func TestRelaxedSharpeFloorHalvesTarget(t *testing.T) {
	cfg := config.Default()
	target := 0.8
	cfg.MinTargetSharpe = &target

	relaxed := relaxedSharpeFloor(cfg)
	require.NotNil(t, relaxed.MinTargetSharpe)
	assert.InDelta(t, 0.4, *relaxed.MinTargetSharpe, 1e-9)
	assert.InDelta(t, 0.8, *cfg.MinTargetSharpe, 1e-9, "original config must be unmodified")
}

func TestRelaxedSharpeFloorNoopWhenUnset(t *testing.T) {
	cfg := config.Default()
	cfg.MinTargetSharpe = nil
	relaxed := relaxedSharpeFloor(cfg)
	assert.Nil(t, relaxed.MinTargetSharpe)
}

// TestNewBuildsRetryOptimizerWithRelaxedFloor covers that New wires a second
// Optimizer for Driver.rebalance's solver retry, parameterized by the
// relaxed floor rather than sharing the primary Optimizer's config.
func TestNewBuildsRetryOptimizerWithRelaxedFloor(t *testing.T) {
	p, resolver := buildFixture(t)
	cfg := config.Default()
	target := 1.0
	cfg.MinTargetSharpe = &target

	driver, err := New(p, resolver, cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, driver.retryOptimizer)
	assert.NotSame(t, driver.optimizer, driver.retryOptimizer)
}
