package app

import (
	"context"

	"github.com/stacklok/npm-step-reconciler/internal/coordinator"
	"github.com/stacklok/npm-step-reconciler/internal/reconciler"
	"github.com/stacklok/npm-step-reconciler/internal/status"
)

// Authority is the authority capability the process needs at startup and
// during passes.
type Authority interface {
	reconciler.Authority
	Bootstrap(ctx context.Context) error
}

// ProxyManager is the proxy manager capability the process needs at startup
// and during passes.
type ProxyManager interface {
	reconciler.ProxyManager
	Login(ctx context.Context) error
}

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator runs the reconciliation loop
	Coordinator coordinator.Coordinator

	// Reconciler runs individual passes
	Reconciler *reconciler.Reconciler

	// Status tracks the most recent pass
	Status *status.Tracker

	Authority    Authority
	ProxyManager ProxyManager
}
