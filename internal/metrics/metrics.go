// Package metrics defines the Prometheus instrumentation surface around the
// backtest driver: rebalances processed, tickers dropped per reason, solver
// retries, and regime distribution. The registry shape (one struct holding
// every collector, constructed once and MustRegister'd together) follows the
// teacher's internal/interfaces/http.MetricsRegistry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector the backtest driver and CLI report on.
type Registry struct {
	RebalancesTotal    *prometheus.CounterVec
	TickersDropped     *prometheus.CounterVec
	SolverRetries      prometheus.Counter
	SolverFailures     prometheus.Counter
	RegimeDistribution *prometheus.CounterVec
	RunDuration        prometheus.Histogram
}

// NewRegistry builds and registers the collectors against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// repeated construction in tests safe from "duplicate metrics collector"
// panics, the same isolation the teacher's tests avoid by constructing a
// MetricsRegistry exactly once per process.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RebalancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alphacore_rebalances_total",
				Help: "Total number of rebalance dates processed, by outcome.",
			},
			[]string{"outcome"}, // "booked", "skipped_universe", "skipped_optimization"
		),
		TickersDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alphacore_tickers_dropped_total",
				Help: "Total number of tickers dropped from a rebalance, by reason.",
			},
			[]string{"reason"}, // "insufficient_history", "missing_fundamentals"
		),
		SolverRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "alphacore_solver_retries_total",
				Help: "Total number of per-date solver retries (posterior with forced shrinkage, optimizer with relaxed Sharpe floor) plus minimum-Sharpe-floor warnings.",
			},
		),
		SolverFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "alphacore_solver_failures_total",
				Help: "Total number of rebalances where the optimizer failed and prior weights were carried forward.",
			},
		),
		RegimeDistribution: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alphacore_regime_total",
				Help: "Count of rebalance dates classified into each market regime.",
			},
			[]string{"regime"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alphacore_backtest_run_duration_seconds",
				Help:    "Wall-clock duration of a full BacktestDriver.Run call.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(
		r.RebalancesTotal,
		r.TickersDropped,
		r.SolverRetries,
		r.SolverFailures,
		r.RegimeDistribution,
		r.RunDuration,
	)
	return r
}
