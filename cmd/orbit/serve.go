package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/internal/api"
	"github.com/ajitpratap0/orbit/internal/service"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/observability"
)

const serverIdleTimeout = 60 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		Long: `Start orbit: register the configured connectors, start the scheduler and
serve the HTTP API until SIGINT or SIGTERM.

Example:
  orbit serve --config orbit.yaml --listen :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().String("listen", "", "Address the HTTP API listens on")
	if err := viper.BindPFlag("listen", cmd.Flags().Lookup("listen")); err != nil {
		logger.Warn("failed to bind listen flag", zap.Error(err))
	}
	return cmd
}

func runServe() error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "server"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, version, cfg.Service.Environment, nil)
	if err != nil {
		return err
	}

	app, err := service.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("failed to close components", zap.Error(err))
		}
	}()

	if cfg.Scheduler.Enabled {
		app.Scheduler.Start(ctx)
	}
	if cfg.Health.Enabled {
		app.Health.Start(ctx)
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.API.Enabled {
		opts := []api.ServerOption{api.WithServiceName(cfg.Tracing.ServiceName)}
		if cfg.Metrics.Enabled {
			opts = append(opts, api.WithMetrics(cfg.Metrics.Path))
		}
		server = &http.Server{
			Addr:         cfg.API.Listen,
			Handler:      api.NewServer(app.Service, opts...),
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  serverIdleTimeout,
		}
		go func() {
			log.Info("server listening", zap.String("address", cfg.API.Listen))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	log.Info("orbit started",
		zap.String("version", version),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.Bool("api", cfg.API.Enabled))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serverErr:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if server != nil {
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("server forced to shutdown", zap.Error(shutdownErr))
		}
	}
	app.Scheduler.Stop()
	app.Health.Stop()
	if tracingErr := shutdownTracing(shutdownCtx); tracingErr != nil {
		log.Warn("failed to flush traces", zap.Error(tracingErr))
	}
	return err
}
