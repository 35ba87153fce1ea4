package main

import (
	"context"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func syncCmd(lg *zap.Logger, opts *options) *cobra.Command {
	var (
		baseURL     string
		pageSize    int
		concurrency int
		snapshot    string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy the upstream catalog into the mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), lg, opts, catalog.Config{
				BaseURL:     baseURL,
				PageSize:    pageSize,
				Concurrency: concurrency,
				Timeout:     opts.timeout,
			}, snapshot)
		},
	}
	cmd.Flags().StringVar(&baseURL, "catalog-url", "https://dummyjson.com", "upstream catalog base URL")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "products per upstream page")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "concurrent page requests")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "also write the mirrored catalog to this gzip file")
	return cmd
}

func runSync(ctx context.Context, lg *zap.Logger, opts *options, cfg catalog.Config, snapshot string) error {
	client, err := catalog.NewClient(cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		return errors.Wrap(err, "create catalog client")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewProductRepository(pool)
	mirror, err := catalog.NewMirror(ctx, client, repo)
	if err != nil {
		return errors.Wrap(err, "create mirror")
	}

	lg.Info("Syncing catalog", zap.String("url", cfg.BaseURL))
	n, err := mirror.Sync(ctx)
	if err != nil {
		return errors.Wrap(err, "sync")
	}
	lg.Info("Catalog mirrored", zap.Int("products", n))

	if snapshot == "" {
		return nil
	}

	products, err := repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list mirrored products")
	}
	f, err := os.Create(snapshot)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if err := catalog.WriteSnapshot(f, products); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	lg.Info("Snapshot written", zap.String("path", snapshot), zap.Int("products", len(products)))
	return nil
}
