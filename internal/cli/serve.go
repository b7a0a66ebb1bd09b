package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nexurabuild/internal/adapters/httpapi"
	"nexurabuild/internal/auth"
	"nexurabuild/internal/core"
	"nexurabuild/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var (
		port       int
		storage    string
		sqlitePath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			if cmd.Flags().Changed("storage") {
				a.cfg.Storage = storage
			}
			if cmd.Flags().Changed("sqlite-path") {
				a.cfg.SQLitePath = sqlitePath
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.cfg.RequireTokenSecret(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, nil)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&storage, "storage", "", "storage driver: memory, sqlite or postgres")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "sqlite database file")
	return cmd
}

// serve runs the API until ctx is cancelled. A nil listener binds cfg.Addr().
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	shutdownTracing, err := observability.SetupTracing(ctx, a.cfg.TracingConfig())
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	metrics := observability.NewMetrics(true)
	svc, err := a.openService(ctx,
		core.WithMetricsRecorder(metrics),
		core.WithTracer(observability.NewTracer(nil)),
	)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	issuer, err := auth.NewIssuer(a.cfg.TokenSecret, auth.WithTTL(a.cfg.TokenTTL))
	if err != nil {
		return err
	}
	handler := httpapi.NewHandler(svc, issuer,
		httpapi.WithMetrics(metrics),
		httpapi.WithCORSOrigins(a.cfg.CORSOrigins...),
		httpapi.WithLogger(a.logger),
		httpapi.WithTokenIssuance(a.cfg.TokenIssuance),
	)
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ln == nil {
		if ln, err = net.Listen("tcp", srv.Addr); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", ln.Addr().String(), "storage", a.cfg.Storage)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
