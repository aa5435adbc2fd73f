package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	reconcilerapp "github.com/stacklok/npm-step-reconciler/internal/app"
	"github.com/stacklok/npm-step-reconciler/internal/telemetry"
	"github.com/stacklok/npm-step-reconciler/internal/versions"
)

const telemetryShutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation loop",
		Long: `Run the reconciliation loop until interrupted.

At startup the step CLI is bootstrapped against the CA and the process logs in to
Nginx Proxy Manager; wrong credentials stop the process. Each due pass issues
certificates for proxy hosts without HTTPS and renews certificates near expiry.`,
		Args: cobra.NoArgs,
		RunE: runReconciler,
	}
}

func runReconciler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	SetLogLevel(cfg.LogLevel)

	info := versions.GetVersionInfo()
	slog.Info("Starting npm-step-reconciler",
		"version", info.Version,
		"schedule", cfg.Schedule,
		"step_ca", cfg.Authority.URL(),
		"proxy_manager", cfg.ProxyManager.BaseURL())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	reconciler, err := reconcilerapp.NewReconcilerApp(ctx,
		reconcilerapp.WithConfig(cfg),
		reconcilerapp.WithMeterProvider(tel.MeterProvider()),
		reconcilerapp.WithTracerProvider(tel.TracerProvider()),
		reconcilerapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	if err := reconciler.Run(ctx); err != nil {
		slog.Error("Reconciler stopped with an unrecoverable error", "error", err)
		return err
	}
	return nil
}
