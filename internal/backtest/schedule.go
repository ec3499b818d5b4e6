package backtest

import (
	"time"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
)

// RebalanceDates computes the ordered set of rebalance dates between start
// and end at the given frequency, calendar month-end or quarter-end aligned
// to the prior trading day (spec.md §4.8 step 1). "Trading day" here means
// "not a weekend" — the driver has no holiday calendar, so it treats every
// weekday as tradable, which is the conservative approximation: it may emit
// a rebalance date on a market holiday, but FetchData's InsufficientData
// handling absorbs the resulting empty read just like any other data gap.
func RebalanceDates(start, end market.AsOfDate, freq config.RebalanceFrequency) []market.AsOfDate {
	var dates []market.AsOfDate
	var cursor time.Time
	if freq == config.Quarterly {
		cursor = quarterEnd(start.Time())
	} else {
		cursor = monthEnd(start.Time())
	}
	for !cursor.After(end.Time()) {
		if !cursor.Before(start.Time()) {
			dates = append(dates, market.NewAsOfDate(priorTradingDay(cursor)))
		}
		cursor = nextPeriodEnd(cursor, freq)
	}
	return dates
}

func monthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	firstOfNext := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1)
}

func quarterEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	qMonth := ((int(m)-1)/3)*3 + 3 // 3, 6, 9, or 12
	firstOfNext := time.Date(y, time.Month(qMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1)
}

// nextPeriodEnd advances from a month-end cursor to the following period's
// end. It steps from the first of current's month rather than from current
// itself: current is always a day-28..31 month-end, and adding a calendar
// month directly to e.g. Jan 31 normalizes (per time.Date) to Mar 2 rather
// than Feb 29, silently skipping February. Stepping from the 1st avoids the
// overflow.
func nextPeriodEnd(current time.Time, freq config.RebalanceFrequency) time.Time {
	next := firstOfMonth(current).AddDate(0, 1, 0)
	switch freq {
	case config.Quarterly:
		return quarterEnd(next)
	default:
		return monthEnd(next)
	}
}

func firstOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// priorTradingDay rolls a weekend date back to the preceding Friday.
func priorTradingDay(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
