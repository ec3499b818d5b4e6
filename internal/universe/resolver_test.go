package universe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/alphacore/internal/domain/market"
)

func date(s string) market.AsOfDate {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return market.NewAsOfDate(t)
}

func TestStaticResolveIncludesOngoingMembers(t *testing.T) {
	s := NewStatic()
	s.Add("AAA", market.SectorTechnology, date("2020-01-01"), nil)

	u, err := s.Resolve(context.Background(), date("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, u.Constituents, 1)
	assert.Equal(t, market.Ticker("AAA"), u.Constituents[0].Ticker)
}

func TestStaticResolveExcludesBeforeFromDate(t *testing.T) {
	s := NewStatic()
	s.Add("AAA", market.SectorTechnology, date("2022-01-01"), nil)

	u, err := s.Resolve(context.Background(), date("2021-06-01"))
	require.NoError(t, err)
	assert.Empty(t, u.Constituents)
}

func TestStaticResolveExcludesAfterToDate(t *testing.T) {
	s := NewStatic()
	to := date("2022-12-31")
	s.Add("AAA", market.SectorTechnology, date("2020-01-01"), &to)

	before, err := s.Resolve(context.Background(), date("2022-06-01"))
	require.NoError(t, err)
	assert.Len(t, before.Constituents, 1)

	after, err := s.Resolve(context.Background(), date("2023-01-01"))
	require.NoError(t, err)
	assert.Empty(t, after.Constituents)
}

func TestStaticResolveReturnsSortedByTicker(t *testing.T) {
	s := NewStatic()
	s.Add("ZZZ", market.SectorEnergy, date("2020-01-01"), nil)
	s.Add("AAA", market.SectorTechnology, date("2020-01-01"), nil)
	s.Add("MMM", market.SectorHealthcare, date("2020-01-01"), nil)

	u, err := s.Resolve(context.Background(), date("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, u.Constituents, 3)
	assert.Equal(t, market.Ticker("AAA"), u.Constituents[0].Ticker)
	assert.Equal(t, market.Ticker("MMM"), u.Constituents[1].Ticker)
	assert.Equal(t, market.Ticker("ZZZ"), u.Constituents[2].Ticker)
}

func TestStaticResolveStampsAsOf(t *testing.T) {
	s := NewStatic()
	s.Add("AAA", market.SectorTechnology, date("2020-01-01"), nil)

	d := date("2023-05-05")
	u, err := s.Resolve(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, d, u.AsOf)
}
