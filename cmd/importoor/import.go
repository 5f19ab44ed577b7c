package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/importoor/pkg/archive"
	"github.com/ethpandaops/importoor/pkg/importer"
	"github.com/ethpandaops/importoor/pkg/store"
)

var importConcurrency int

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import measurement files from disk",
	Long: `Import one or more measurement files directly into the database. Each file
is imported independently under its base name without extension; a failing
file does not affect the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().IntVar(&importConcurrency, "concurrency", 4,
		"Number of files imported in parallel")
}

func runImport(cmd *cobra.Command, args []string) error {
	if importConcurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	// Two paths with the same logical name would race for the same slot.
	names := make(map[string]string, len(args))
	for _, path := range args {
		name := importer.FileNameFromUpload(path)
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%s and %s both import as %q", prev, path, name)
		}

		names[name] = path
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	maxSize, err := cfg.Import.MaxUploadBytes()
	if err != nil {
		return err
	}

	timeout, err := cfg.Import.TimeoutDuration()
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

	imp := importer.New(log, st, importer.WithArchiver(archiver))

	var (
		g      errgroup.Group
		failed atomic.Int64
	)

	g.SetLimit(importConcurrency)

	for _, path := range args {
		g.Go(func() error {
			fileLog := log.WithField("path", path)

			if err := importFile(ctx, imp, path, maxSize, timeout, fileLog); err != nil {
				fileLog.WithError(err).Error("Import failed")
				failed.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d imports failed", n, len(args))
	}

	log.WithField("files", len(args)).Info("All files imported")

	return nil
}

func importFile(
	ctx context.Context,
	imp *importer.Importer,
	path string,
	maxSize int64,
	timeout time.Duration,
	fileLog logrus.FieldLogger,
) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	if info.Size() > maxSize {
		return fmt.Errorf("file is %d bytes, larger than the %d byte limit", info.Size(), maxSize)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := imp.Import(ctx, importer.FileNameFromUpload(path), f)
	if err != nil {
		return fmt.Errorf("importing as %q: %w", importer.FileNameFromUpload(path), err)
	}

	fileLog.WithFields(logrus.Fields{
		"file_name":          result.FileName,
		"avg_value":          result.AvgValue,
		"median_value":       result.MedianValue,
		"avg_execution_time": result.AvgExecutionTime,
	}).Info("File imported")

	return nil
}
