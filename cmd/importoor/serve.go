package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/importoor/pkg/api"
	"github.com/ethpandaops/importoor/pkg/archive"
	"github.com/ethpandaops/importoor/pkg/importer"
	"github.com/ethpandaops/importoor/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start the importoor HTTP API: file upload, result queries and Prometheus metrics.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	archiver, err := archive.New(log, cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating archiver: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	imp := importer.New(log, st,
		importer.WithArchiver(archiver),
		importer.WithMetrics(importer.NewMetrics(reg)),
	)

	srv, err := api.NewServer(log, cfg, st, imp, reg)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
