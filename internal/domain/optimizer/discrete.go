package optimizer

import (
	"math"
	"sort"

	"github.com/quantedge/alphacore/internal/domain/market"
)

// Allocation is the result of converting continuous weights into integer
// share counts for a cash budget (spec.md §4.7 "Discrete allocation").
type Allocation struct {
	Shares       map[market.Ticker]int
	LeftoverCash float64
}

// DiscreteAllocate converts weights into integer share counts via the
// largest-remainder method on B*w_i/price_i. This is pure bookkeeping; it
// never adjusts the continuous weights themselves.
func DiscreteAllocate(w market.Weights, prices map[market.Ticker]float64, budget float64) Allocation {
	type row struct {
		ticker    market.Ticker
		exact     float64
		whole     int
		remainder float64
	}

	order := make([]market.Ticker, 0, len(w))
	for t := range w {
		order = append(order, t)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	rows := make([]row, 0, len(order))
	var spentOnWhole float64
	for _, t := range order {
		price, ok := prices[t]
		if !ok || price <= 0 || w[t] <= 0 {
			continue
		}
		exact := budget * w[t] / price
		whole := int(math.Floor(exact))
		rows = append(rows, row{ticker: t, exact: exact, whole: whole, remainder: exact - float64(whole)})
		spentOnWhole += float64(whole) * price
	}

	remainingCash := budget - spentOnWhole
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].remainder > rows[j].remainder })

	shares := make(map[market.Ticker]int, len(rows))
	for i := range rows {
		shares[rows[i].ticker] = rows[i].whole
	}
	for bought := true; bought; {
		bought = false
		for i := range rows {
			price := prices[rows[i].ticker]
			if remainingCash >= price {
				shares[rows[i].ticker]++
				remainingCash -= price
				bought = true
			}
		}
	}

	return Allocation{Shares: shares, LeftoverCash: remainingCash}
}
