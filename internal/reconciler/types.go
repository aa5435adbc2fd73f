// Package reconciler runs reconciliation passes: it issues certificates for
// proxy hosts without HTTPS and renews certificates nearing expiry.
package reconciler

import (
	"context"
	"time"

	"github.com/stacklok/npm-step-reconciler/internal/authority"
	"github.com/stacklok/npm-step-reconciler/internal/npm"
)

//go:generate mockgen -destination=mocks/mock_gateways.go -package=mocks -source=types.go ProxyManager,Authority

// ProxyManager is the proxy manager capability a pass needs.
type ProxyManager interface {
	ListProxyHosts(ctx context.Context) ([]npm.ProxyHost, error)
	ListCertificates(ctx context.Context) ([]npm.CertificateRecord, error)
	CreateCertificate(ctx context.Context, commonName string, issued *authority.IssuedCertificate) (int, error)
	DeleteCertificate(ctx context.Context, id int) error
	AssignCertificate(ctx context.Context, proxyHostID, certificateID int, force bool) error
}

// Authority issues certificates.
type Authority interface {
	IssueCertificate(ctx context.Context, commonName string, sans []string) (*authority.IssuedCertificate, error)
}

// Source records why a plan item exists.
type Source string

const (
	// SourceReuse assigns an existing certificate to a host without HTTPS
	SourceReuse Source = "reuse"
	// SourceIssue assigns a freshly issued certificate to a host without HTTPS
	SourceIssue Source = "issue"
	// SourceRenew replaces a certificate nearing expiry
	SourceRenew Source = "renew"
)

// Assignment is the intent to bind a certificate to a proxy host. Force
// overwrites an existing binding.
type Assignment struct {
	ProxyHostID   int
	CertificateID int
	Force         bool
	Domain        string
	Source        Source
}

// Plan is the ordered set of assignments produced by both phases, with at
// most one assignment per proxy host.
type Plan struct {
	Assignments []Assignment

	Issued  int
	Reused  int
	Renewed int
	Skipped int
	Failed  int
}

// ExecutionReport counts assignment outcomes.
type ExecutionReport struct {
	Assigned int
	Failed   int
}

// Result summarises one pass.
type Result struct {
	Issued       int
	Reused       int
	Renewed      int
	Skipped      int
	Failed       int
	Assigned     int
	AssignFailed int
	Duration     time.Duration
}
