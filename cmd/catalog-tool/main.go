// Command catalog-tool copies the upstream product catalog into the
// PostgreSQL mirror and moves it in and out of gzip snapshots.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	databaseURL string
	timeout     time.Duration
}

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd(lg).ExecuteContext(ctx); err != nil {
		lg.Error("catalog-tool failed", zap.Error(err))
		os.Exit(1)
	}
}

func rootCmd(lg *zap.Logger) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "catalog-tool",
		Short:         "Manage the product catalog mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.databaseURL == "" {
				opts.databaseURL = os.Getenv("DATABASE_URL")
			}
			if opts.databaseURL == "" {
				return errors.New("database URL is required: set --database-url or DATABASE_URL")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "upstream request timeout")

	cmd.AddCommand(syncCmd(lg, &opts), loadCmd(lg, &opts))
	return cmd
}
