package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/quantedge/alphacore/internal/backtest"
	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/log"
	"github.com/quantedge/alphacore/internal/metrics"
	"github.com/quantedge/alphacore/internal/report/perf"
)

func newBacktestCmd(logLevel *string, jsonLogs *bool) *cobra.Command {
	var (
		configPath  string
		universeCSV string
		startStr    string
		endStr      string
		outPath     string
		format      string
		stack       providerStackFlags
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a walk-forward backtest and emit the ledger and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.Config{Level: *logLevel, JSON: *jsonLogs})

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			resolver, err := loadUniverseCSV(universeCSV)
			if err != nil {
				return err
			}

			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("invalid --start %q: %w", startStr, err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("invalid --end %q: %w", endStr, err)
			}

			p, err := buildProviderStack(stack)
			if err != nil {
				return err
			}

			driver, err := backtest.New(p, resolver, cfg, logger)
			if err != nil {
				return err
			}
			driver.WithMetrics(metrics.NewRegistry(prometheus.NewRegistry()))

			result, err := driver.Run(cmd.Context(), market.NewAsOfDate(start), market.NewAsOfDate(end), nil)
			if err != nil {
				return err
			}

			report := perf.Build(result)

			var out = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output file %s: %w", outPath, err)
				}
				defer f.Close()
				out = f
			}

			switch format {
			case "csv":
				return perf.WriteCSV(out, report)
			default:
				return perf.WriteJSON(out, report)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to config.Default())")
	cmd.Flags().StringVar(&universeCSV, "universe", "", "Path to a universe CSV (ticker,sector,from,to)")
	cmd.Flags().StringVar(&startStr, "start", "", "Backtest start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&endStr, "end", "", "Backtest end date, YYYY-MM-DD")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (defaults to stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json|csv")
	cmd.MarkFlagRequired("universe")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	registerProviderFlags(cmd, &stack)

	return cmd
}
