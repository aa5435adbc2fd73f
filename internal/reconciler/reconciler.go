package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/npm-step-reconciler/internal/npm"
	"github.com/stacklok/npm-step-reconciler/internal/otel"
	"github.com/stacklok/npm-step-reconciler/internal/telemetry"
)

const (
	// DefaultJitterMin is the smallest renewal lead added before expiry
	DefaultJitterMin = time.Minute
	// DefaultJitterMax is the largest renewal lead added before expiry
	DefaultJitterMax = 9 * time.Minute
)

// DefaultExemptProviders are certificate providers this process never renews.
var DefaultExemptProviders = []string{"letsencrypt"}

// ErrPassInProgress is returned when Reconcile is called while a pass is running.
var ErrPassInProgress = errors.New("a reconciliation pass is already in progress")

// Reconciler runs passes against a proxy manager and an authority.
type Reconciler struct {
	npm ProxyManager
	ca  Authority

	exempt    map[string]struct{}
	jitterMin time.Duration
	jitterMax time.Duration
	randN     func(n int64) int64
	clock     clock.PassiveClock
	metrics   *telemetry.ReconcileMetrics
	tracer    trace.Tracer

	running atomic.Bool
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithExemptProviders replaces the set of providers whose certificates are
// never renewed. Matching ignores case.
func WithExemptProviders(providers []string) Option {
	return func(r *Reconciler) {
		r.exempt = make(map[string]struct{}, len(providers))
		for _, p := range providers {
			r.exempt[strings.ToLower(p)] = struct{}{}
		}
	}
}

// WithJitter sets the renewal lead range. Leads are whole minutes.
func WithJitter(minLead, maxLead time.Duration) Option {
	return func(r *Reconciler) {
		r.jitterMin, r.jitterMax = minLead, maxLead
	}
}

// WithRandomSource replaces the random source; randN must return a value in [0, n).
func WithRandomSource(randN func(n int64) int64) Option {
	return func(r *Reconciler) {
		r.randN = randN
	}
}

// WithClock sets the clock used for expiry checks
func WithClock(clk clock.PassiveClock) Option {
	return func(r *Reconciler) {
		r.clock = clk
	}
}

// WithMetrics records pass metrics
func WithMetrics(m *telemetry.ReconcileMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithTracer wraps passes in spans
func WithTracer(t trace.Tracer) Option {
	return func(r *Reconciler) {
		r.tracer = t
	}
}

// New creates a Reconciler
func New(proxyManager ProxyManager, ca Authority, opts ...Option) *Reconciler {
	r := &Reconciler{
		npm:       proxyManager,
		ca:        ca,
		jitterMin: DefaultJitterMin,
		jitterMax: DefaultJitterMax,
		randN:     rand.Int64N,
		clock:     clock.RealClock{},
	}
	WithExemptProviders(DefaultExemptProviders)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one full pass: Plan then Execute. Only one pass may run at a time.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer r.running.Store(false)

	ctx, span := otel.StartSpan(ctx, r.tracer, "reconciler.Reconcile")
	defer span.End()

	start := r.clock.Now()
	result := &Result{}

	plan, err := r.Plan(ctx)
	if plan != nil {
		result.Issued, result.Reused, result.Renewed = plan.Issued, plan.Reused, plan.Renewed
		result.Skipped, result.Failed = plan.Skipped, plan.Failed
	}
	if err == nil {
		var report ExecutionReport
		report, err = r.Execute(ctx, plan)
		result.Assigned, result.AssignFailed = report.Assigned, report.Failed
	}

	result.Duration = r.clock.Since(start)
	r.metrics.RecordPassDuration(ctx, result.Duration, err == nil)
	if err != nil {
		otel.RecordError(span, err)
		return result, err
	}

	slog.Info("Reconciliation pass complete",
		"issued", result.Issued,
		"reused", result.Reused,
		"renewed", result.Renewed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"assigned", result.Assigned,
		"assign_failed", result.AssignFailed,
		"duration", result.Duration,
	)
	return result, nil
}

// planBuilder keeps the one-item-per-host invariant while phases append.
type planBuilder struct {
	plan    *Plan
	byHost  map[int]int
	renewed map[int]bool
}

func newPlanBuilder() *planBuilder {
	return &planBuilder{plan: &Plan{}, byHost: map[int]int{}, renewed: map[int]bool{}}
}

func (b *planBuilder) add(a Assignment) {
	if i, ok := b.byHost[a.ProxyHostID]; ok {
		if b.plan.Assignments[i].Source == SourceReuse {
			b.plan.Reused--
		}
		b.plan.Assignments[i] = a
		return
	}
	b.byHost[a.ProxyHostID] = len(b.plan.Assignments)
	b.plan.Assignments = append(b.plan.Assignments, a)
}

// Plan reads current inventory and runs both phases. Issuance, upload and
// deletion of replaced certificates happen while planning; assignments are
// left for Execute. Per-host failures are counted and skipped; only an
// authentication failure or cancellation stops the plan.
func (r *Reconciler) Plan(ctx context.Context) (*Plan, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "reconciler.Plan")
	defer span.End()

	hosts, err := r.npm.ListProxyHosts(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("list proxy hosts: %w", err)
	}
	certs, err := r.npm.ListCertificates(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("list certificates: %w", err)
	}

	b := newPlanBuilder()
	if err := r.issueForPlainHosts(ctx, b, hosts, certs); err != nil {
		otel.RecordError(span, err)
		return b.plan, err
	}
	if err := r.renewExpiring(ctx, b, hosts, certs); err != nil {
		otel.RecordError(span, err)
		return b.plan, err
	}

	span.SetAttributes(otel.AttrPlanSize.Int(len(b.plan.Assignments)))
	return b.plan, nil
}

// issueForPlainHosts is phase 1: every host without HTTPS gets an existing
// certificate for its primary domain or a new one.
func (r *Reconciler) issueForPlainHosts(ctx context.Context, b *planBuilder, hosts []npm.ProxyHost, certs []npm.CertificateRecord) error {
	for _, host := range hosts {
		if host.HasHTTPS {
			continue
		}

		if cert, ok := findCertificate(certs, host.PrimaryDomain); ok {
			slog.Info("Reusing existing certificate for HTTP-only host",
				"domain", host.PrimaryDomain, "proxy_host_id", host.ID, "certificate_id", cert.ID)
			b.add(Assignment{ProxyHostID: host.ID, CertificateID: cert.ID, Domain: host.PrimaryDomain, Source: SourceReuse})
			b.plan.Reused++
			r.metrics.RecordCertificate(ctx, telemetry.ActionReused)
			continue
		}

		slog.Info("No certificate for HTTP-only host, issuing one",
			"domain", host.PrimaryDomain, "proxy_host_id", host.ID)
		id, err := r.issueAndUpload(ctx, host)
		if err != nil {
			if stop := r.hostFailed(ctx, b, host, err); stop != nil {
				return stop
			}
			continue
		}
		b.add(Assignment{ProxyHostID: host.ID, CertificateID: id, Domain: host.PrimaryDomain, Source: SourceIssue})
		b.plan.Issued++
		r.metrics.RecordCertificate(ctx, telemetry.ActionIssued)
	}
	return nil
}

// renewExpiring is phase 2: certificates whose jittered expiry has passed are
// replaced, unless their host is missing or uses an exempt provider.
func (r *Reconciler) renewExpiring(ctx context.Context, b *planBuilder, hosts []npm.ProxyHost, certs []npm.CertificateRecord) error {
	now := r.clock.Now()

	for _, cert := range certs {
		if !cert.ExpiresAt.Add(-r.jitter()).Before(now) {
			continue
		}
		slog.Info("Certificate due for renewal",
			"domain", cert.PrimaryDomain, "certificate_id", cert.ID, "expires_at", cert.ExpiresAt)

		host, ok := findHost(hosts, cert.PrimaryDomain)
		if !ok {
			slog.Info("No proxy host uses the certificate's domain, skipping",
				"domain", cert.PrimaryDomain, "certificate_id", cert.ID)
			b.plan.Skipped++
			continue
		}
		if _, exempt := r.exempt[strings.ToLower(host.CertificateProvider)]; exempt {
			slog.Info("Proxy host uses an externally managed certificate, skipping",
				"domain", host.PrimaryDomain, "proxy_host_id", host.ID, "provider", host.CertificateProvider)
			b.plan.Skipped++
			continue
		}
		if b.renewed[host.ID] {
			slog.Info("Proxy host already renewed this pass, skipping",
				"domain", host.PrimaryDomain, "proxy_host_id", host.ID, "certificate_id", cert.ID)
			b.plan.Skipped++
			continue
		}

		id, err := r.renew(ctx, host, cert)
		if err != nil {
			if stop := r.hostFailed(ctx, b, host, err); stop != nil {
				return stop
			}
			continue
		}
		b.add(Assignment{ProxyHostID: host.ID, CertificateID: id, Force: true, Domain: host.PrimaryDomain, Source: SourceRenew})
		b.renewed[host.ID] = true
		b.plan.Renewed++
		r.metrics.RecordCertificate(ctx, telemetry.ActionRenewed)
	}
	return nil
}

// renew issues a replacement, deletes the old record and uploads the new one.
func (r *Reconciler) renew(ctx context.Context, host npm.ProxyHost, old npm.CertificateRecord) (int, error) {
	issued, err := r.ca.IssueCertificate(ctx, host.PrimaryDomain, host.SANs)
	if err != nil {
		return 0, fmt.Errorf("issue replacement: %w", err)
	}

	// The replacement is already issued; a stale record must not block it.
	if err := r.npm.DeleteCertificate(ctx, old.ID); err != nil {
		if errors.Is(err, npm.ErrAuthenticationFailed) {
			return 0, err
		}
		slog.Warn("Failed to delete replaced certificate",
			"domain", host.PrimaryDomain, "certificate_id", old.ID, "error", err)
	}

	id, err := r.npm.CreateCertificate(ctx, host.PrimaryDomain, issued)
	if err != nil {
		return 0, fmt.Errorf("upload replacement: %w", err)
	}
	return id, nil
}

func (r *Reconciler) issueAndUpload(ctx context.Context, host npm.ProxyHost) (int, error) {
	issued, err := r.ca.IssueCertificate(ctx, host.PrimaryDomain, host.SANs)
	if err != nil {
		return 0, fmt.Errorf("issue certificate: %w", err)
	}
	id, err := r.npm.CreateCertificate(ctx, host.PrimaryDomain, issued)
	if err != nil {
		return 0, fmt.Errorf("upload certificate: %w", err)
	}
	return id, nil
}

// hostFailed records a per-host failure. It returns a non-nil error only when
// the pass must stop.
func (r *Reconciler) hostFailed(ctx context.Context, b *planBuilder, host npm.ProxyHost, err error) error {
	if fatal(ctx, err) {
		return err
	}
	slog.Error("Failed to provide certificate for proxy host",
		"domain", host.PrimaryDomain, "proxy_host_id", host.ID, "error", err)
	b.plan.Failed++
	r.metrics.RecordCertificate(ctx, telemetry.ActionFailed)
	return nil
}

// Execute applies every assignment in order. Failures are logged and do not
// stop later assignments; only an authentication failure or cancellation
// ends execution early.
func (r *Reconciler) Execute(ctx context.Context, plan *Plan) (ExecutionReport, error) {
	var report ExecutionReport
	if plan == nil {
		return report, nil
	}

	ctx, span := otel.StartSpan(ctx, r.tracer, "reconciler.Execute",
		trace.WithAttributes(otel.AttrPlanSize.Int(len(plan.Assignments))))
	defer span.End()

	for _, a := range plan.Assignments {
		err := r.npm.AssignCertificate(ctx, a.ProxyHostID, a.CertificateID, a.Force)
		r.metrics.RecordAssignment(ctx, err == nil)
		if err == nil {
			report.Assigned++
			continue
		}
		if fatal(ctx, err) {
			otel.RecordError(span, err)
			return report, err
		}
		slog.Error("Failed to assign certificate",
			"domain", a.Domain, "proxy_host_id", a.ProxyHostID, "certificate_id", a.CertificateID,
			"force", a.Force, "error", err)
		report.Failed++
	}
	return report, nil
}

// jitter draws a renewal lead in whole minutes within [jitterMin, jitterMax].
func (r *Reconciler) jitter() time.Duration {
	span := int64((r.jitterMax - r.jitterMin) / time.Minute)
	if span <= 0 {
		return r.jitterMin
	}
	return r.jitterMin + time.Duration(r.randN(span+1))*time.Minute
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, npm.ErrAuthenticationFailed) || ctx.Err() != nil
}

func findCertificate(certs []npm.CertificateRecord, domain string) (npm.CertificateRecord, bool) {
	for _, c := range certs {
		if c.PrimaryDomain == domain {
			return c, true
		}
	}
	return npm.CertificateRecord{}, false
}

func findHost(hosts []npm.ProxyHost, domain string) (npm.ProxyHost, bool) {
	for _, h := range hosts {
		if h.PrimaryDomain == domain {
			return h, true
		}
	}
	return npm.ProxyHost{}, false
}
