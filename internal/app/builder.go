package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/npm-step-reconciler/internal/api"
	"github.com/stacklok/npm-step-reconciler/internal/authority"
	"github.com/stacklok/npm-step-reconciler/internal/config"
	"github.com/stacklok/npm-step-reconciler/internal/coordinator"
	"github.com/stacklok/npm-step-reconciler/internal/httpclient"
	"github.com/stacklok/npm-step-reconciler/internal/npm"
	"github.com/stacklok/npm-step-reconciler/internal/reconciler"
	"github.com/stacklok/npm-step-reconciler/internal/schedule"
	"github.com/stacklok/npm-step-reconciler/internal/status"
	"github.com/stacklok/npm-step-reconciler/internal/telemetry"
)

const (
	// LockFileName is created in the secrets dir to keep a single instance running
	LockFileName = "npm-step-reconciler.lock"

	defaultRequestTimeout  = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	tracerNamePrefix = "github.com/stacklok/npm-step-reconciler/"
)

// ReconcilerAppOptions is a function that configures the reconciler app builder
type ReconcilerAppOptions func(*reconcilerAppConfig) error

// reconcilerAppConfig collects the inputs of NewReconcilerApp. Component
// overrides are used by tests; production builds everything from config.
type reconcilerAppConfig struct {
	config *config.Config

	authority    Authority
	proxyManager ProxyManager
	clock        clock.WithTicker

	middlewares     []func(http.Handler) http.Handler
	requestTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...ReconcilerAppOptions) (*reconcilerAppConfig, error) {
	cfg := &reconcilerAppConfig{
		clock:           clock.RealClock{},
		requestTimeout:  defaultRequestTimeout,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, errors.New("config cannot be nil")
	}
	return cfg, nil
}

// NewReconcilerApp builds the process: it takes the single-instance lock,
// bootstraps the authority, logs in to the proxy manager and wires the loop.
// A failure at any step releases the lock.
func NewReconcilerApp(ctx context.Context, opts ...ReconcilerAppOptions) (_ *ReconcilerApp, err error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.config.SecretsDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	lock, err := acquireLock(filepath.Join(cfg.config.SecretsDir, LockFileName))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			releaseLock(lock)
		}
	}()

	ca, err := buildAuthority(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build authority: %w", err)
	}

	pm, err := buildProxyManager(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy manager client: %w", err)
	}

	components, err := buildReconcileComponents(cfg, ca, pm)
	if err != nil {
		return nil, fmt.Errorf("failed to build reconcile components: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, components.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to build ops server: %w", err)
	}

	return &ReconcilerApp{
		config:          cfg.config,
		components:      components,
		httpServer:      httpServer,
		lock:            lock,
		shutdownTimeout: cfg.shutdownTimeout,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAuthority injects an authority instead of the step CLI client (for testing)
func WithAuthority(a Authority) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.authority = a
		return nil
	}
}

// WithProxyManager injects a proxy manager client (for testing)
func WithProxyManager(pm ProxyManager) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.proxyManager = pm
		return nil
	}
}

// WithClock sets the clock used by the loop, the scheduler and the reconciler
func WithClock(clk clock.WithTicker) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		if clk == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clk
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares for the ops server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for reconcile metrics
func WithMeterProvider(mp metric.MeterProvider) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h at /metrics on the ops server
func WithMetricsHandler(h http.Handler) ReconcilerAppOptions {
	return func(cfg *reconcilerAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildAuthority writes the provisioner password, bootstraps the step client
// and checks the CA is reachable.
func buildAuthority(ctx context.Context, b *reconcilerAppConfig) (Authority, error) {
	if b.authority == nil {
		authCfg := b.config.Authority
		passwordFile, err := authority.WriteProvisionerPassword(b.config.SecretsDir, authCfg.ProvisionerPassword)
		if err != nil {
			return nil, err
		}

		step := authority.NewStepClient(authCfg.URL(), authCfg.Fingerprint.Value(), passwordFile,
			authority.WithStepPath(authCfg.StepPath),
			authority.WithWorkDir(authCfg.WorkDir),
			authority.WithCommandTimeout(authCfg.CommandTimeout),
		)
		if err := step.CheckVersion(ctx, authority.MinStepVersion); err != nil {
			slog.Warn("Could not confirm step CLI version", "minimum", authority.MinStepVersion, "error", err)
		}
		if err := step.Bootstrap(ctx); err != nil {
			return nil, err
		}
		if err := step.Health(ctx); err != nil {
			slog.Warn("Step CA health check failed, continuing", "error", err)
		}
		return step, nil
	}

	if err := b.authority.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return b.authority, nil
}

// buildProxyManager creates the proxy manager client and logs in. Wrong
// credentials are fatal here rather than at the first pass.
func buildProxyManager(ctx context.Context, b *reconcilerAppConfig) (ProxyManager, error) {
	pm := b.proxyManager
	if pm == nil {
		pmCfg := b.config.ProxyManager

		opts := []npm.Option{
			npm.WithHTTPClient(httpclient.NewDefaultClient(pmCfg.RequestTimeout)),
			npm.WithRetryAttempts(pmCfg.RetryAttempts),
			npm.WithClock(b.clock),
		}
		if b.meterProvider != nil {
			metrics, err := telemetry.NewProxyManagerMetrics(b.meterProvider)
			if err != nil {
				return nil, fmt.Errorf("failed to create proxy manager metrics: %w", err)
			}
			opts = append(opts, npm.WithMetrics(metrics))
		}
		if b.tracerProvider != nil {
			opts = append(opts, npm.WithTracer(b.tracerProvider.Tracer(tracerNamePrefix+"npm")))
		}
		pm = npm.NewClient(pmCfg.BaseURL(), pmCfg.User, pmCfg.Password, opts...)
	}

	if err := pm.Login(ctx); err != nil {
		return nil, err
	}
	return pm, nil
}

// buildReconcileComponents builds the reconciler, scheduler and loop
func buildReconcileComponents(b *reconcilerAppConfig, ca Authority, pm ProxyManager) (*AppComponents, error) {
	slog.Info("Initializing reconcile components")

	recOpts := []reconciler.Option{
		reconciler.WithExemptProviders(b.config.ProxyManager.ExemptProviders),
		reconciler.WithClock(b.clock),
	}
	var coordOpts []coordinator.Option

	if b.meterProvider != nil {
		metrics, err := telemetry.NewReconcileMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create reconcile metrics: %w", err)
		}
		recOpts = append(recOpts, reconciler.WithMetrics(metrics))
		coordOpts = append(coordOpts, coordinator.WithMetrics(metrics))
		slog.Info("Reconcile metrics enabled")
	}
	if b.tracerProvider != nil {
		recOpts = append(recOpts, reconciler.WithTracer(b.tracerProvider.Tracer(tracerNamePrefix+"reconciler")))
	}
	rec := reconciler.New(pm, ca, recOpts...)

	timer := schedule.NewTimer(b.clock)
	if err := timer.SetScheduleString(b.config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	tracker := status.NewTracker(b.clock)
	coordOpts = append(coordOpts,
		coordinator.WithClock(b.clock),
		coordinator.WithStatusTracker(tracker),
		coordinator.WithRunOnStart(b.config.RunOnStart),
	)

	slog.Info("Reconcile components initialized",
		"schedule", b.config.Schedule,
		"next_run", timer.NextRun(),
		"exempt_providers", b.config.ProxyManager.ExemptProviders)

	return &AppComponents{
		Coordinator:  coordinator.New(rec, timer, coordOpts...),
		Reconciler:   rec,
		Status:       tracker,
		Authority:    ca,
		ProxyManager: pm,
	}, nil
}

// buildHTTPServer builds the ops server, or returns nil when no address is configured
func buildHTTPServer(b *reconcilerAppConfig, tracker *status.Tracker) (*http.Server, error) {
	address := b.config.Ops.Address
	if address == "" {
		slog.Debug("Ops server disabled")
		return nil, nil
	}
	if err := validateAddress(address); err != nil {
		return nil, err
	}

	if b.middlewares == nil {
		b.middlewares = api.DefaultMiddlewares(b.requestTimeout)
	}
	router := api.NewServer(tracker,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("Ops server configured", "address", address, "metrics", b.metricsHandler != nil)
	return server, nil
}

// validateAddress accepts host:port where host may be empty, localhost or an IP
func validateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return fmt.Errorf("address is not a valid port: %s", addr)
	}
	switch host {
	case "localhost":
		host = "127.0.0.1"
	case "":
		host = "0.0.0.0"
	}
	if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
		return fmt.Errorf("address is not a valid port: %w", err)
	}
	return nil
}
