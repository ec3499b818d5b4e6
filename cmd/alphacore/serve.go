package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/quantedge/alphacore/internal/httpserver"
	"github.com/quantedge/alphacore/internal/log"
	"github.com/quantedge/alphacore/internal/metrics"
)

func newServeCmd(logLevel *string, jsonLogs *bool) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only health and metrics HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.Config{Level: *logLevel, JSON: *jsonLogs})

			reg := prometheus.NewRegistry()
			metrics.NewRegistry(reg)

			cfg := httpserver.DefaultConfig()
			if host != "" {
				cfg.Host = host
			}
			if port != 0 {
				cfg.Port = port
			}

			srv, err := httpserver.New(cfg, reg, logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				logger.Info().Msg("shutting down")
				return srv.Shutdown(context.Background())
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (defaults to 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (defaults to 8080)")

	return cmd
}
