package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantedge/alphacore/internal/config"
	"github.com/quantedge/alphacore/internal/domain/factors"
	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/log"
)

func newScoreCmd(logLevel *string, jsonLogs *bool) *cobra.Command {
	var (
		configPath  string
		universeCSV string
		asOf        string
		stack       providerStackFlags
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a universe's factor composite as of a single date",
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

			date, err := time.Parse("2006-01-02", asOf)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", asOf, err)
			}
			d := market.NewAsOfDate(date)

			p, err := buildProviderStack(stack)
			if err != nil {
				return err
			}

			universeSet, err := resolver.Resolve(cmd.Context(), d)
			if err != nil {
				return fmt.Errorf("resolve universe: %w", err)
			}

			weights := market.FactorWeights{Value: cfg.FactorWeightValue, Quality: cfg.FactorWeightQuality, Momentum: cfg.FactorWeightMomentum}
			engine := factors.New(p, weights, logger)
			scores := engine.Score(cmd.Context(), universeSet, d)

			return json.NewEncoder(os.Stdout).Encode(scores)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to config.Default())")
	cmd.Flags().StringVar(&universeCSV, "universe", "", "Path to a universe CSV (ticker,sector,from,to)")
	cmd.Flags().StringVar(&asOf, "date", "", "As-of date, YYYY-MM-DD")
	cmd.MarkFlagRequired("universe")
	cmd.MarkFlagRequired("date")
	registerProviderFlags(cmd, &stack)

	return cmd
}
