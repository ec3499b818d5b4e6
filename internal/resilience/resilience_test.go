package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider/fake"
)

func TestProviderPassesThroughOnSuccess(t *testing.T) {
	inner := fake.New()
	points := make([]market.PricePoint, 0, 260)
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 10.0
	for i := 0; i < 260; i++ {
		points = append(points, market.PricePoint{Date: day, AdjustedClose: price})
		day = day.AddDate(0, 0, 1)
		price += 0.1
	}
	inner.PutPrices("AAA", points)

	p := New(inner, Config{})
	end := market.NewAsOfDate(day.AddDate(0, 0, -1))
	series, err := p.Prices(context.Background(), "AAA", end.AddDays(-200), end)
	require.NoError(t, err)
	assert.NotEmpty(t, series.Points)
}

func TestProviderOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	inner := fake.New() // has no "ZZZ" fixture, every call errors
	p := New(inner, Config{ConsecutiveFailures: 2})

	ctx := context.Background()
	_, err1 := p.Fundamentals(ctx, "ZZZ", market.NewAsOfDate(time.Now()))
	require.Error(t, err1)
	_, err2 := p.Fundamentals(ctx, "ZZZ", market.NewAsOfDate(time.Now()))
	require.Error(t, err2)

	_, err3 := p.Fundamentals(ctx, "ZZZ", market.NewAsOfDate(time.Now()))
	require.Error(t, err3)
	assert.Contains(t, err3.Error(), "circuit open")
}

func TestProviderRateLimiterBlocksBurst(t *testing.T) {
	inner := fake.New()
	p := New(inner, Config{RequestsPerSecond: 1, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.CAPE(ctx, market.NewAsOfDate(time.Now()))
	require.NoError(t, err)
	_, err = p.CAPE(ctx, market.NewAsOfDate(time.Now()))
	// The first call spends the burst of one and the next token is a second
	// away, past the 50ms deadline, so the limiter refuses the second call.
	assert.Error(t, err)
}
