// Package cli implements the nexura command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"nexurabuild/internal/blob"
	"nexurabuild/internal/config"
	"nexurabuild/internal/core"
	"nexurabuild/internal/observability"
	"nexurabuild/internal/payments"
)

// app carries state shared by the subcommands.
type app struct {
	envFiles []string
	cfg      config.Config
	logger   *slog.Logger
}

// NewRootCommand builds the nexura command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "nexura",
		Short:         "NexuraBuild rental backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env when present)")
	root.AddCommand(
		a.serveCmd(),
		a.seedCmd(),
		a.auditCmd(),
		a.tokenCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// openService wires the store, archive and payment processor selected by the
// configuration.
func (a *app) openService(ctx context.Context, opts ...core.Option) (*core.Service, error) {
	store, err := core.OpenDocumentStore(ctx, a.cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Storage, err)
	}
	archive, err := blob.Open(ctx, a.cfg.BlobStoreConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open agreement archive: %w", err)
	}
	base := []core.Option{
		core.WithLogger(a.logger),
		core.WithStoreTimeout(a.cfg.StoreTimeout),
		core.WithArchive(archive),
		core.WithPaymentProcessor(payments.NewDevProcessor()),
	}
	return core.NewService(store, append(base, opts...)...), nil
}
