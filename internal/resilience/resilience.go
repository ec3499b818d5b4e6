// Package resilience decorates a MarketDataProvider with rate limiting and
// circuit breaking. It follows the teacher's CircuitBreakerManager
// (internal/infrastructure/providers/circuitbreakers.go, sony/gobreaker) and
// RateLimiter (internal/infrastructure/providers/ratelimit.go,
// golang.org/x/time/rate), collapsed from a per-named-provider map down to
// one breaker/limiter pair since a Provider here wraps exactly one
// underlying MarketDataProvider.
package resilience

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantedge/alphacore/internal/apperrors"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// Config tunes the breaker's trip condition and the limiter's throughput.
type Config struct {
	// ConsecutiveFailures opens the breaker after this many failures in a
	// row. Zero disables tripping: the breaker never opens.
	ConsecutiveFailures uint32
	// RequestsPerSecond and Burst bound outbound calls to the underlying
	// provider. Zero disables rate limiting (unlimited).
	RequestsPerSecond float64
	Burst             int
}

// Provider wraps a MarketDataProvider with a circuit breaker and a token
// bucket rate limiter, opening on repeated ErrProviderUnavailable/
// ErrDataUnavailable the way the teacher's breaker trips on consecutive
// upstream failures.
type Provider struct {
	inner   provider.MarketDataProvider
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
}

// New builds a resilience decorator around inner.
func New(inner provider.MarketDataProvider, cfg Config) *Provider {
	settings := gobreaker.Settings{
		Name: "market_data_provider",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures == 0 {
				return false
			}
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}

	p := &Provider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func execute[T any](ctx context.Context, p *Provider, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.wait(ctx); err != nil {
		return zero, fmt.Errorf("%w: rate limiter: %v", apperrors.ErrProviderUnavailable, err)
	}
	result, err := p.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, fmt.Errorf("%w: circuit open", apperrors.ErrProviderUnavailable)
		}
		return zero, err
	}
	return result.(T), nil
}

// Prices implements provider.MarketDataProvider.
func (p *Provider) Prices(ctx context.Context, ticker market.Ticker, start, end market.AsOfDate) (market.PriceSeries, error) {
	return execute(ctx, p, func() (market.PriceSeries, error) {
		return p.inner.Prices(ctx, ticker, start, end)
	})
}

// Fundamentals implements provider.MarketDataProvider.
func (p *Provider) Fundamentals(ctx context.Context, ticker market.Ticker, asOf market.AsOfDate) (market.FundamentalSnapshot, error) {
	return execute(ctx, p, func() (market.FundamentalSnapshot, error) {
		return p.inner.Fundamentals(ctx, ticker, asOf)
	})
}

// MarketCaps implements provider.MarketDataProvider.
func (p *Provider) MarketCaps(ctx context.Context, tickers []market.Ticker, asOf market.AsOfDate) (map[market.Ticker]float64, error) {
	return execute(ctx, p, func() (map[market.Ticker]float64, error) {
		return p.inner.MarketCaps(ctx, tickers, asOf)
	})
}

// BenchmarkPrices implements provider.MarketDataProvider.
func (p *Provider) BenchmarkPrices(ctx context.Context, start, end market.AsOfDate) (market.PriceSeries, error) {
	return execute(ctx, p, func() (market.PriceSeries, error) {
		return p.inner.BenchmarkPrices(ctx, start, end)
	})
}

// CAPE implements provider.MarketDataProvider.
func (p *Provider) CAPE(ctx context.Context, asOf market.AsOfDate) (*float64, error) {
	return execute(ctx, p, func() (*float64, error) {
		return p.inner.CAPE(ctx, asOf)
	})
}

// FFFactorWindow implements provider.MarketDataProvider.
func (p *Provider) FFFactorWindow(ctx context.Context, end market.AsOfDate, months int) (map[provider.FFFactor]provider.FFWindow, error) {
	return execute(ctx, p, func() (map[provider.FFFactor]provider.FFWindow, error) {
		return p.inner.FFFactorWindow(ctx, end, months)
	})
}

// IndexHistory implements provider.MarketDataProvider.
func (p *Provider) IndexHistory(ctx context.Context, symbol string, end market.AsOfDate, lookbackDays int) (market.PriceSeries, error) {
	return execute(ctx, p, func() (market.PriceSeries, error) {
		return p.inner.IndexHistory(ctx, symbol, end, lookbackDays)
	})
}

// VIXStructure implements provider.MarketDataProvider.
func (p *Provider) VIXStructure(ctx context.Context, end market.AsOfDate) (provider.VIXTermStructure, error) {
	return execute(ctx, p, func() (provider.VIXTermStructure, error) {
		return p.inner.VIXStructure(ctx, end)
	})
}

var _ provider.MarketDataProvider = (*Provider)(nil)
