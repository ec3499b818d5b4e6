// Package apperrors collects the sentinel error codes surfaced at the core's
// boundary (spec.md §6). Callers should wrap these with fmt.Errorf("...: %w")
// and test with errors.Is, the same convention the teacher uses throughout
// internal/domain/scoring and internal/config/regime.
package apperrors

import "errors"

var (
	// ErrDataUnavailable is returned by a MarketDataProvider when a
	// requested series or snapshot has no observations.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInsufficientData marks a per-ticker failure: fewer than the
	// required rows of history, or missing fundamentals, at a rebalance.
	ErrInsufficientData = errors.New("insufficient data for ticker")

	// ErrInsufficientUniverse marks a per-date failure: fewer than 5
	// tickers survived to the optimization set.
	ErrInsufficientUniverse = errors.New("insufficient universe size")

	// ErrCovarianceIllConditioned is returned when sample covariance and
	// its Ledoit-Wolf shrinkage fallback both fail to be PSD.
	ErrCovarianceIllConditioned = errors.New("covariance ill-conditioned")

	// ErrOptimizationFailed marks a per-date solver failure that survived
	// its single retry.
	ErrOptimizationFailed = errors.New("optimization failed")

	// ErrSolverInfeasible is returned when the constraint set has no
	// feasible point.
	ErrSolverInfeasible = errors.New("solver infeasible")

	// ErrConfigurationInvalid is returned at driver construction when the
	// supplied config violates an invariant (weights not summing to 1,
	// inconsistent long/short exposure, ...).
	ErrConfigurationInvalid = errors.New("configuration invalid")

	// ErrProviderUnavailable is a run-level failure: the provider could
	// not answer a mandatory request (benchmark series, universe).
	ErrProviderUnavailable = errors.New("market data provider unavailable")

	// ErrEmptyOptimizationSet is returned by the Black-Litterman posterior
	// when the ticker set to optimize over is empty.
	ErrEmptyOptimizationSet = errors.New("empty optimization set")
)
