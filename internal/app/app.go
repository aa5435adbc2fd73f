// Package app wires the reconciler process together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/npm-step-reconciler/internal/config"
)

// ReconcilerApp encapsulates all components needed to run the reconciler.
// It owns the single-instance lock until Run returns or Close is called.
type ReconcilerApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server
	lock       *flock.Flock

	shutdownTimeout time.Duration
}

// Run starts the reconciliation loop and, when configured, the ops server.
// It blocks until ctx is cancelled or a component fails; an authentication
// failure from the loop is returned.
func (app *ReconcilerApp) Run(ctx context.Context) error {
	defer app.Close()

	var ln net.Listener
	if app.httpServer != nil {
		var err error
		ln, err = net.Listen("tcp", app.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
		}
		slog.Info("Ops server listening", "address", ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.components.Coordinator.Start(gctx); err != nil {
			return fmt.Errorf("reconciliation loop failed: %w", err)
		}
		// A clean loop exit ends the process.
		return context.Canceled
	})

	if ln != nil {
		g.Go(func() error {
			if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
			defer cancel()
			if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("ops server forced to shutdown: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		slog.Info("Reconciler stopped")
		return nil
	}
	return err
}

// Close releases the single-instance lock. It is safe to call more than once.
func (app *ReconcilerApp) Close() {
	releaseLock(app.lock)
}

// GetConfig returns the application configuration
func (app *ReconcilerApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *ReconcilerApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the ops server, or nil when it is disabled
func (app *ReconcilerApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance holds the lock %s", path)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if lock == nil || !lock.Locked() {
		return
	}
	if err := lock.Unlock(); err != nil {
		slog.Warn("Failed to release lock", "path", lock.Path(), "error", err)
	}
}
