package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

func main() {
	var (
		logLevel string
		jsonLogs bool
	)

	root := &cobra.Command{
		Use:     "alphacore",
		Short:   "Systematic equity factor scoring and walk-forward backtesting",
		Version: version,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit structured JSON logs instead of console output")

	root.AddCommand(newScoreCmd(&logLevel, &jsonLogs))
	root.AddCommand(newBacktestCmd(&logLevel, &jsonLogs))
	root.AddCommand(newServeCmd(&logLevel, &jsonLogs))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
