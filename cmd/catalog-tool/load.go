package main

import (
	"context"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const loadBatchSize = 500

func loadCmd(lg *zap.Logger, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load <snapshot.gz>",
		Short: "Load a gzip snapshot into the mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), lg, opts, args[0])
		},
	}
}

func runLoad(ctx context.Context, lg *zap.Logger, opts *options, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}
	defer func() { _ = f.Close() }()

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	n, err := catalog.LoadSnapshot(zctx.Base(ctx, lg), f, postgres.NewProductRepository(pool), loadBatchSize)
	if err != nil {
		return err
	}
	lg.Info("Snapshot loaded", zap.String("path", path), zap.Int("products", n))
	return nil
}
