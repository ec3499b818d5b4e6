package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/universe"
)

// loadUniverseCSV builds a universe.Static from a CSV of
// ticker,sector,from,to rows (to may be blank, meaning "still a
// constituent"). This is the CLI's on-disk analogue of the "historical
// constituents file" spec.md §4.1 names as a valid UniverseResolver source.
func loadUniverseCSV(path string) (*universe.Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse universe file %s: %w", path, err)
	}

	resolver := universe.NewStatic()
	for i, row := range records {
		if i == 0 && len(row) > 0 && row[0] == "ticker" {
			continue // header
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("universe file %s: row %d has fewer than 3 columns", path, i+1)
		}
		from, err := time.Parse("2006-01-02", row[2])
		if err != nil {
			return nil, fmt.Errorf("universe file %s: row %d: invalid from date %q: %w", path, i+1, row[2], err)
		}
		var to *market.AsOfDate
		if len(row) >= 4 && row[3] != "" {
			t, err := time.Parse("2006-01-02", row[3])
			if err != nil {
				return nil, fmt.Errorf("universe file %s: row %d: invalid to date %q: %w", path, i+1, row[3], err)
			}
			d := market.NewAsOfDate(t)
			to = &d
		}
		resolver.Add(market.Ticker(row[0]), market.Sector(row[1]), market.NewAsOfDate(from), to)
	}
	return resolver, nil
}
