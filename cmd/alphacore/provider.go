package main

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/quantedge/alphacore/internal/cache"
	"github.com/quantedge/alphacore/internal/provider"
	"github.com/quantedge/alphacore/internal/provider/postgres"
	"github.com/quantedge/alphacore/internal/resilience"
)

// providerStackFlags are the flags shared by every subcommand that reads
// market data: the Postgres DSN and the optional cache/resilience tuning
// knobs layered in front of it.
type providerStackFlags struct {
	dsn              string
	redisAddr        string
	rateLimitRPS     float64
	breakerThreshold uint32
}

func registerProviderFlags(cmd *cobra.Command, f *providerStackFlags) {
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "Postgres connection string (required)")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", "", "Redis address for the PIT cache (empty uses an in-process LRU)")
	cmd.Flags().Float64Var(&f.rateLimitRPS, "rate-limit-rps", 0, "Provider requests/sec (0 disables rate limiting)")
	cmd.Flags().Uint32Var(&f.breakerThreshold, "breaker-threshold", 5, "Consecutive provider failures before the circuit opens")
}

// buildProviderStack opens the Postgres connection and wraps it with the
// cache and resilience decorators, in the order reads pass through them:
// resilience (rate limit + breaker) innermost around the real provider,
// cache outermost so a cache hit never touches the limiter or breaker.
func buildProviderStack(f providerStackFlags) (provider.MarketDataProvider, error) {
	if f.dsn == "" {
		return nil, fmt.Errorf("--dsn is required")
	}
	db, err := sqlx.Connect("postgres", f.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	var p provider.MarketDataProvider = postgres.New(db, 10*time.Second)
	p = resilience.New(p, resilience.Config{
		ConsecutiveFailures: f.breakerThreshold,
		RequestsPerSecond:   f.rateLimitRPS,
		Burst:               int(f.rateLimitRPS),
	})
	p = cache.New(p, cache.Config{RedisAddr: f.redisAddr})
	return p, nil
}
