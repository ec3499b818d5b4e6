package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
)

func d(y int, m time.Month, day int) market.AsOfDate {
	return market.NewAsOfDate(time.Date(y, m, day, 0, 0, 0, 0, time.UTC))
}

func TestRebalanceDatesMonthlyAlignsToMonthEnd(t *testing.T) {
	dates := RebalanceDates(d(2024, 1, 1), d(2024, 3, 31), config.Monthly)
	assert.Len(t, dates, 3)
	assert.Equal(t, "2024-01-31", dates[0].String())
	assert.Equal(t, "2024-02-29", dates[1].String())
	assert.Equal(t, "2024-03-29", dates[2].String()) // 2024-03-31 is a Sunday
}

func TestRebalanceDatesQuarterlySkipsToQuarterEnd(t *testing.T) {
	dates := RebalanceDates(d(2024, 1, 1), d(2024, 12, 31), config.Quarterly)
	require := assert.New(t)
	require.Len(dates, 4)
	require.Equal("2024-03-29", dates[0].String())
	require.Equal("2024-06-28", dates[1].String())
	require.Equal("2024-09-30", dates[2].String())
	require.Equal("2024-12-31", dates[3].String())
}

func TestRebalanceDatesAreStrictlyIncreasing(t *testing.T) {
	dates := RebalanceDates(d(2023, 6, 15), d(2024, 6, 15), config.Monthly)
	for i := 1; i < len(dates); i++ {
		assert.True(t, dates[i].After(dates[i-1]))
	}
}
