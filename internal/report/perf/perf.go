// Package perf renders a backtest.Result to the fixed ledger/metrics schema
// spec.md §6 names: one row per (date, ticker) plus a trailing metrics
// record. Layout and the JSON/CSV split follow the teacher's
// internal/report/perf package and its cmd/cryptorun/cmd_report.go
// MarshalIndent/csv.Writer pair — the wire format is implementation-defined,
// the schema is fixed.
package perf

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/quantedge/alphacore/internal/backtest"
	"github.com/quantedge/alphacore/internal/domain/market"
)

// LedgerRow is one (date, ticker) weight record, the fixed column set from
// spec.md §6.
type LedgerRow struct {
	Date           string  `json:"date" csv:"date"`
	Ticker         string  `json:"ticker" csv:"ticker"`
	Weight         float64 `json:"weight" csv:"weight"`
	Regime         string  `json:"regime" csv:"regime"`
	Exposure       float64 `json:"exposure" csv:"exposure"`
	ExpectedReturn float64 `json:"expected_return" csv:"expected_return"`
	Volatility     float64 `json:"volatility" csv:"volatility"`
	Sharpe         float64 `json:"sharpe" csv:"sharpe"`
}

// MetricsRow is the trailing performance-summary record that follows the
// ledger rows (spec.md §6 "a parallel metrics record at the end").
type MetricsRow struct {
	RunID        string  `json:"run_id"`
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`
	Calmar       float64 `json:"calmar"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
}

// Report is the full rendered output: the flattened ledger rows, the
// trailing metrics record, and the diagnostics trail carried alongside it.
type Report struct {
	RunID       string      `json:"run_id"`
	Rows        []LedgerRow `json:"rows"`
	Metrics     MetricsRow  `json:"metrics"`
	Diagnostics []string    `json:"diagnostics"`
}

// Build flattens a backtest.Result into the fixed ledger/metrics schema,
// stamping a fresh run identifier the way the teacher stamps BacktestLedger
// entries with a uuid.New() RunID.
func Build(result backtest.Result) Report {
	runID := uuid.New().String()
	rows := make([]LedgerRow, 0, len(result.Ledger))
	for _, rec := range result.Ledger {
		rows = append(rows, flatten(rec)...)
	}
	return Report{
		RunID: runID,
		Rows:  rows,
		Metrics: MetricsRow{
			RunID:        runID,
			TotalReturn:  result.Metrics.TotalReturn,
			CAGR:         result.Metrics.CAGR,
			Volatility:   result.Metrics.Volatility,
			Sharpe:       result.Metrics.Sharpe,
			Sortino:      result.Metrics.Sortino,
			Calmar:       result.Metrics.Calmar,
			MaxDrawdown:  result.Metrics.MaxDrawdown,
			WinRate:      result.Metrics.WinRate,
			AvgWin:       result.Metrics.AvgWin,
			AvgLoss:      result.Metrics.AvgLoss,
			ProfitFactor: result.Metrics.ProfitFactor,
			Alpha:        result.Metrics.Alpha,
			Beta:         result.Metrics.Beta,
		},
		Diagnostics: result.Diagnostics,
	}
}

func flatten(rec market.LedgerRecord) []LedgerRow {
	date := rec.Date.Format("2006-01-02")
	rows := make([]LedgerRow, 0, len(rec.Weights))
	for ticker, w := range rec.Weights {
		rows = append(rows, LedgerRow{
			Date:           date,
			Ticker:         string(ticker),
			Weight:         w,
			Regime:         string(rec.Regime),
			Exposure:       rec.Exposure,
			ExpectedReturn: rec.ExpectedReturn,
			Volatility:     rec.Volatility,
			Sharpe:         rec.Sharpe,
		})
	}
	return rows
}

// WriteJSON marshals the report as indented JSON, matching the teacher's
// json.MarshalIndent(metrics, "", "  ") convention in cmd_report.go.
func WriteJSON(w io.Writer, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// WriteCSV writes the ledger rows as CSV, one row per (date, ticker), with
// the trailing metrics appended as a final labeled row — the csv.Writer
// convention the teacher uses for trade exports in cmd_report.go.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"date", "ticker", "weight", "regime", "exposure", "expected_return", "volatility", "sharpe"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range r.Rows {
		record := []string{
			row.Date,
			row.Ticker,
			strconv.FormatFloat(row.Weight, 'f', -1, 64),
			row.Regime,
			strconv.FormatFloat(row.Exposure, 'f', -1, 64),
			strconv.FormatFloat(row.ExpectedReturn, 'f', -1, 64),
			strconv.FormatFloat(row.Volatility, 'f', -1, 64),
			strconv.FormatFloat(row.Sharpe, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	metricsRecord := []string{
		"METRICS", r.Metrics.RunID,
		strconv.FormatFloat(r.Metrics.TotalReturn, 'f', -1, 64),
		strconv.FormatFloat(r.Metrics.Sharpe, 'f', -1, 64),
		strconv.FormatFloat(r.Metrics.Sortino, 'f', -1, 64),
		strconv.FormatFloat(r.Metrics.MaxDrawdown, 'f', -1, 64),
	}
	return cw.Write(metricsRecord)
}
