// Package backtest implements BacktestDriver (spec.md §4.8): the
// rebalance-date state machine, ledger bookkeeping and performance
// metrics that walk a strategy forward against point-in-time data.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/blacklitterman"
	"github.com/quantedge/alphacore/internal/domain/factors"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/domain/optimizer"
	"github.com/quantedge/alphacore/internal/domain/regime"
	"github.com/quantedge/alphacore/internal/metrics"
	"github.com/quantedge/alphacore/internal/provider"
	"github.com/quantedge/alphacore/internal/universe"
)

// fetchConcurrency bounds how many constituents' price/fundamentals reads
// run in flight at once during fetchData, so a large universe doesn't open
// an unbounded number of simultaneous provider calls.
const fetchConcurrency = 16

const minimumUniverseSize = 5

// Result is the driver's full user-visible output (spec.md §7 "structured
// result containing the ledger, the terminal metrics, and a diagnostics
// record").
type Result struct {
	Ledger      []market.LedgerRecord
	Metrics     Metrics
	Diagnostics []string
}

// Driver walks a strategy forward over a date range, rebalancing at the
// configured frequency.
type Driver struct {
	provider       provider.MarketDataProvider
	resolver       universe.Resolver
	engine         *factors.Engine
	macro          *regime.MacroAdjuster
	tilt           *regime.FactorRegimeAdjuster
	detector       *regime.Detector
	posterior      *blacklitterman.Posterior
	optimizer      *optimizer.Optimizer
	retryOptimizer *optimizer.Optimizer
	cfg            config.Config
	log            zerolog.Logger
	metrics        *metrics.Registry
}

// relaxedSharpeFloor halves MinTargetSharpe, if set, for the one retry a
// solver failure gets at a rebalance date (spec.md §7 "relaxed minimum-Sharpe
// floor").
func relaxedSharpeFloor(cfg config.Config) config.Config {
	if cfg.MinTargetSharpe != nil {
		relaxed := *cfg.MinTargetSharpe / 2
		cfg.MinTargetSharpe = &relaxed
	}
	return cfg
}

// WithMetrics attaches a Prometheus registry that Run records rebalance,
// drop and solver-retry counters against. Optional: a Driver built without
// it records nothing.
func (d *Driver) WithMetrics(m *metrics.Registry) *Driver {
	d.metrics = m
	return d
}

// New validates cfg and builds a Driver (spec.md §7: "Configuration
// violations are caught at driver construction and refuse to start").
func New(p provider.MarketDataProvider, resolver universe.Resolver, cfg config.Config, log zerolog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	weights := market.FactorWeights{Value: cfg.FactorWeightValue, Quality: cfg.FactorWeightQuality, Momentum: cfg.FactorWeightMomentum}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		provider:       p,
		resolver:       resolver,
		engine:         factors.New(p, weights, log),
		macro:          regime.NewMacroAdjuster(p, cfg),
		tilt:           regime.NewFactorRegimeAdjuster(p, cfg),
		detector:       regime.NewDetector(p, "SPY"),
		posterior:      blacklitterman.New(cfg),
		optimizer:      optimizer.New(cfg),
		retryOptimizer: optimizer.New(relaxedSharpeFloor(cfg)),
		cfg:            cfg,
		log:            log.With().Str("component", "backtest_driver").Logger(),
	}, nil
}

// Run executes the walk-forward backtest between start and end. cancel, if
// non-nil, is polled at each rebalance date (spec.md §5 "cooperative
// cancellation flag").
func (d *Driver) Run(ctx context.Context, start, end market.AsOfDate, cancel func() bool) (Result, error) {
	if d.metrics != nil {
		runStart := time.Now()
		defer func() { d.metrics.RunDuration.Observe(time.Since(runStart).Seconds()) }()
	}
	dates := RebalanceDates(start, end, d.cfg.RebalanceFrequency)

	var diagnostics []string
	var ledger []market.LedgerRecord
	var portfolioReturns, benchmarkReturns []float64

	currentWeights := market.Weights{}
	var prevDate *market.AsOfDate

	for _, D := range dates {
		if cancel != nil && cancel() {
			diagnostics = append(diagnostics, fmt.Sprintf("cancelled before %s", D))
			break
		}

		var periodPortfolioReturn, periodBenchmarkReturn float64
		if prevDate != nil {
			pr, br, err := d.periodReturn(ctx, currentWeights, *prevDate, D)
			if err != nil {
				return Result{}, fmt.Errorf("%w: benchmark unreachable over (%s, %s]", apperrors.ErrProviderUnavailable, *prevDate, D)
			}
			periodPortfolioReturn, periodBenchmarkReturn = pr, br
			portfolioReturns = append(portfolioReturns, pr)
			benchmarkReturns = append(benchmarkReturns, br)
		}

		record, newWeights, diag, err := d.rebalance(ctx, D, currentWeights)
		diagnostics = append(diagnostics, diag...)
		if err != nil {
			return Result{}, err
		}
		if record != nil {
			record.PortfolioReturn = periodPortfolioReturn
			record.BenchmarkReturn = periodBenchmarkReturn
			ledger = append(ledger, *record)
			currentWeights = newWeights
		}
		next := D
		prevDate = &next
	}

	metrics := ComputeMetrics(portfolioReturns, benchmarkReturns)
	return Result{Ledger: ledger, Metrics: metrics, Diagnostics: diagnostics}, nil
}

// rebalance runs one ResolveUniverse -> FetchData -> Score -> Optimize ->
// AdjustRegime -> Book cycle. A nil record with no error means the date was
// skipped (InsufficientUniverse, or OptimizationFailed after the one retry);
// held is unchanged in that case.
func (d *Driver) rebalance(ctx context.Context, D market.AsOfDate, held market.Weights) (*market.LedgerRecord, market.Weights, []string, error) {
	var diagnostics []string

	u, err := d.resolver.Resolve(ctx, D)
	if err != nil {
		return nil, nil, diagnostics, fmt.Errorf("%w: universe resolution failed at %s: %v", apperrors.ErrProviderUnavailable, D, err)
	}
	if len(u.Tickers()) < minimumUniverseSize {
		diagnostics = append(diagnostics, fmt.Sprintf("%s: InsufficientUniverse (%d < %d)", D, len(u.Tickers()), minimumUniverseSize))
		d.recordOutcome("skipped_universe")
		return nil, held, diagnostics, nil
	}

	survivors, dailyReturns := d.fetchData(ctx, u, D)
	if len(survivors.Constituents) < minimumUniverseSize {
		diagnostics = append(diagnostics, fmt.Sprintf("%s: InsufficientUniverse after data fetch (%d survivors)", D, len(survivors.Constituents)))
		d.recordOutcome("skipped_universe")
		return nil, held, diagnostics, nil
	}

	macroScalar := 1.0
	if d.cfg.UseMacro {
		macroScalar, _ = d.macro.Scalar(ctx, D)
	}
	tilts := regime.Neutral()
	if d.cfg.UseFactorRegimes {
		tilts, _ = d.tilt.Tilts(ctx, D)
	}
	scores := d.engine.ScoreWithTilts(ctx, survivors, D, tilts.Value, tilts.Quality, tilts.Momentum)

	ranked := scores.Ranked()
	if len(ranked) > d.cfg.TopN {
		ranked = ranked[:d.cfg.TopN]
	}
	topSet := make(map[market.Ticker]bool, len(ranked))
	for _, t := range ranked {
		topSet[t] = true
	}
	topReturns := make(map[market.Ticker][]float64, len(ranked))
	for t, r := range dailyReturns {
		if topSet[t] {
			topReturns[t] = r
		}
	}

	sectorOf := make(map[market.Ticker]market.Sector, len(survivors.Constituents))
	for _, c := range survivors.Constituents {
		sectorOf[c.Ticker] = c.Sector
	}

	marketCaps, err := d.provider.MarketCaps(ctx, ranked, D)
	if err != nil {
		marketCaps = map[market.Ticker]float64{}
	}

	post, err := d.posterior.Compute(ranked, marketCaps, topReturns, scores.Scores, macroScalar)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("%s: solver error (%v), retrying with shrinkage-adjusted covariance", D, err))
		if d.metrics != nil {
			d.metrics.SolverRetries.Inc()
		}
		post, err = d.posterior.ComputeShrunk(ranked, marketCaps, topReturns, scores.Scores, macroScalar)
		if err != nil {
			wrapped := fmt.Errorf("%w: %s: posterior retry failed: %v", apperrors.ErrOptimizationFailed, D, err)
			diagnostics = append(diagnostics, wrapped.Error())
			d.log.Error().Err(wrapped).Str("date", D.String()).Msg("optimization failed after retry, carrying prior weights")
			d.recordOutcome("skipped_optimization")
			if d.metrics != nil {
				d.metrics.SolverFailures.Inc()
			}
			return nil, held, diagnostics, nil
		}
	}

	result, err := d.optimizer.Optimize(post, sectorOf, scores.Scores)
	if err != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("%s: solver error (%v), retrying with relaxed Sharpe floor", D, err))
		if d.metrics != nil {
			d.metrics.SolverRetries.Inc()
		}
		result, err = d.retryOptimizer.Optimize(post, sectorOf, scores.Scores)
		if err != nil {
			wrapped := fmt.Errorf("%w: %s: optimizer retry failed: %v", apperrors.ErrOptimizationFailed, D, err)
			diagnostics = append(diagnostics, wrapped.Error())
			d.log.Error().Err(wrapped).Str("date", D.String()).Msg("optimization failed after retry, carrying prior weights")
			d.recordOutcome("skipped_optimization")
			if d.metrics != nil {
				d.metrics.SolverFailures.Inc()
			}
			return nil, held, diagnostics, nil
		}
	}
	if result.Warning != "" {
		diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", D, result.Warning))
		if d.metrics != nil {
			d.metrics.SolverRetries.Inc()
		}
	}

	regimeVal := market.RegimeUnknown
	exposure := 1.0
	if d.cfg.UseRegimeAdjustment {
		regimeVal, _ = d.detector.Classify(ctx, D, d.cfg.RegimeMethod)
		exposure = regime.ExposureFor(regimeVal, d.cfg.RegimeExposures)
	}
	if d.metrics != nil {
		d.metrics.RegimeDistribution.WithLabelValues(string(regimeVal)).Inc()
	}

	scaled := make(market.Weights, len(result.Weights))
	for t, w := range result.Weights {
		scaled[t] = w * exposure
	}

	record := &market.LedgerRecord{
		Date:           D.Time(),
		Weights:        scaled,
		Regime:         regimeVal,
		Exposure:       exposure,
		ExpectedReturn: result.ExpectedReturn,
		Volatility:     result.Volatility,
		Sharpe:         result.Sharpe,
		Diagnostics:    diagnostics,
	}
	d.recordOutcome("booked")
	return record, scaled, diagnostics, nil
}

// recordOutcome increments the per-date rebalance outcome counter when a
// metrics registry is attached; a no-op otherwise.
func (d *Driver) recordOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.RebalancesTotal.WithLabelValues(outcome).Inc()
	}
}

// recordDrop increments the per-reason dropped-ticker counter when a metrics
// registry is attached; a no-op otherwise.
func (d *Driver) recordDrop(reason string) {
	if d.metrics != nil {
		d.metrics.TickersDropped.WithLabelValues(reason).Inc()
	}
}

// fetchDataResult is the per-constituent outcome of a concurrent fetch: at
// most one of returns/dropReason is populated.
type fetchDataResult struct {
	returns    []float64
	dropReason string
}

// fetchData drops tickers the provider cannot supply 252 days of prices and
// a fundamentals snapshot for (spec.md §4.8 step b), and returns each
// survivor's trailing two years of daily returns for covariance estimation.
func (d *Driver) fetchData(ctx context.Context, u market.Universe, D market.AsOfDate) (market.Universe, map[market.Ticker][]float64) {
	start := D.AddDays(-730)
	results := make([]fetchDataResult, len(u.Constituents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, c := range u.Constituents {
		i, c := i, c
		g.Go(func() error {
			series, err := d.provider.Prices(gctx, c.Ticker, start, D)
			if err != nil {
				results[i] = fetchDataResult{dropReason: "insufficient_history"}
				return nil
			}
			if _, err := d.provider.Fundamentals(gctx, c.Ticker, D); err != nil {
				results[i] = fetchDataResult{dropReason: "missing_fundamentals"}
				return nil
			}
			r := dailyReturns(series)
			if len(r) < 251 {
				results[i] = fetchDataResult{dropReason: "insufficient_history"}
				return nil
			}
			results[i] = fetchDataResult{returns: r}
			return nil
		})
	}
	// Every goroutine above only ever returns nil: fetch failures are
	// recorded as drop reasons, not propagated as errors, so a single
	// bad ticker never aborts the rest of the universe's fetch.
	_ = g.Wait()

	var survivors []market.Constituent
	returns := make(map[market.Ticker][]float64)
	for i, c := range u.Constituents {
		res := results[i]
		if res.dropReason != "" {
			d.recordDrop(res.dropReason)
			continue
		}
		survivors = append(survivors, c)
		returns[c.Ticker] = res.returns
	}
	return market.Universe{AsOf: D, Constituents: survivors}, returns
}

func dailyReturns(series market.PriceSeries) []float64 {
	pts := series.Points
	if len(pts) < 2 {
		return nil
	}
	out := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		prev := pts[i-1].AdjustedClose
		if prev == 0 {
			continue
		}
		out = append(out, (pts[i].AdjustedClose-prev)/prev)
	}
	return out
}

// periodReturn computes the portfolio and benchmark returns over (from, to]
// using weights fixed at `from` (spec.md §4.8 step 3). Cash (1 - sum(w))
// earns zero. An optional flat slippage charge is subtracted, proportional
// to turnover; since weights are already fixed for the period, turnover
// here is approximated as the book's gross exposure, matching the "flat
// per-turnover slippage" the spec treats as optional and implementation
// defined.
func (d *Driver) periodReturn(ctx context.Context, weights market.Weights, from, to market.AsOfDate) (float64, float64, error) {
	var portfolioReturn float64
	for t, w := range weights {
		if w == 0 {
			continue
		}
		series, err := d.provider.Prices(ctx, t, from, to)
		if err != nil || len(series.Points) < 2 {
			continue
		}
		first := series.Points[0].AdjustedClose
		last := series.Points[len(series.Points)-1].AdjustedClose
		if first == 0 {
			continue
		}
		portfolioReturn += w * (last - first) / first
	}

	if d.cfg.SlippageBps > 0 {
		portfolioReturn -= weights.GrossExposure() * d.cfg.SlippageBps / 10000.0
	}

	benchmarkSeries, err := d.provider.BenchmarkPrices(ctx, from, to)
	if err != nil {
		return 0, 0, err
	}
	var benchmarkReturn float64
	if len(benchmarkSeries.Points) >= 2 {
		first := benchmarkSeries.Points[0].AdjustedClose
		last := benchmarkSeries.Points[len(benchmarkSeries.Points)-1].AdjustedClose
		if first != 0 {
			benchmarkReturn = (last - first) / first
		}
	}
	return portfolioReturn, benchmarkReturn, nil
}
