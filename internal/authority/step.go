package authority

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/google/uuid"

	"github.com/stacklok/npm-step-reconciler/internal/versions"
)

const (
	// DefaultStepPath is the step binary looked up on PATH
	DefaultStepPath = "step"

	// DefaultCommandTimeout bounds a single step invocation
	DefaultCommandTimeout = 30 * time.Second

	// MinStepVersion is the oldest step CLI accepted at startup
	MinStepVersion = "0.24.0"
)

// StepClient implements Authority on top of the step CLI.
type StepClient struct {
	runner       CommandRunner
	stepPath     string
	caURL        string
	fingerprint  string
	passwordFile string
	workDir      string
	timeout      time.Duration
	newName      func() string

	bootstrapped atomic.Bool
}

var _ Authority = (*StepClient)(nil)

// StepOption configures a StepClient
type StepOption func(*StepClient)

// WithRunner replaces the command runner
func WithRunner(r CommandRunner) StepOption {
	return func(c *StepClient) {
		c.runner = r
	}
}

// WithStepPath sets the step binary path
func WithStepPath(path string) StepOption {
	return func(c *StepClient) {
		if path != "" {
			c.stepPath = path
		}
	}
}

// WithWorkDir sets where transient certificate and key files are written.
// Empty means the OS temp dir.
func WithWorkDir(dir string) StepOption {
	return func(c *StepClient) {
		c.workDir = dir
	}
}

// WithCommandTimeout bounds each step invocation
func WithCommandTimeout(d time.Duration) StepOption {
	return func(c *StepClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewStepClient creates a client for the CA at caURL. passwordFile is the
// provisioner password file written by WriteProvisionerPassword.
func NewStepClient(caURL, fingerprint, passwordFile string, opts ...StepOption) *StepClient {
	c := &StepClient{
		runner:       ExecRunner{},
		stepPath:     DefaultStepPath,
		caURL:        caURL,
		fingerprint:  fingerprint,
		passwordFile: passwordFile,
		timeout:      DefaultCommandTimeout,
		newName:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bootstrap runs `step ca bootstrap`, trusting the CA root identified by the fingerprint.
func (c *StepClient) Bootstrap(ctx context.Context) error {
	slog.Info("Bootstrapping step client", "ca_url", c.caURL)

	if err := c.run(ctx, "ca", "bootstrap", "--ca-url", c.caURL, "--fingerprint", c.fingerprint, "--force"); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	c.bootstrapped.Store(true)
	slog.Info("Step client bootstrapped", "ca_url", c.caURL)
	return nil
}

// Health runs `step ca health`.
func (c *StepClient) Health(ctx context.Context) error {
	if !c.bootstrapped.Load() {
		return ErrNotBootstrapped
	}
	if err := c.run(ctx, "ca", "health"); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// Version runs `step version` and returns the CLI's semantic version,
// e.g. "0.28.2" from "Smallstep CLI/0.28.2 (linux/amd64)".
func (c *StepClient) Version(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "version")
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	return parseStepVersion(string(out))
}

// CheckVersion fails when the installed step CLI is older than minimum.
func (c *StepClient) CheckVersion(ctx context.Context, minimum string) error {
	version, err := c.Version(ctx)
	if err != nil {
		return err
	}
	ok, err := versions.AtLeast(version, minimum)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("step CLI %s is older than the required %s", version, minimum)
	}
	slog.Debug("Step CLI version accepted", "version", version, "minimum", minimum)
	return nil
}

func parseStepVersion(out string) (string, error) {
	fields := strings.Fields(out)
	for _, f := range fields {
		if _, v, ok := strings.Cut(f, "/"); ok && v != "" && v[0] >= '0' && v[0] <= '9' {
			return v, nil
		}
	}
	return "", fmt.Errorf("unrecognised step version output %q", strings.TrimSpace(out))
}

// IssueCertificate requests a certificate for commonName. The common name is
// always the first SAN because step replaces the subject SAN when --san is given.
func (c *StepClient) IssueCertificate(ctx context.Context, commonName string, sans []string) (*IssuedCertificate, error) {
	if !c.bootstrapped.Load() {
		return nil, ErrNotBootstrapped
	}
	if commonName == "" {
		return nil, errors.New("common name is required")
	}

	dir := c.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	base := filepath.Join(dir, c.newName())
	crtPath, keyPath := base+".crt", base+".key"
	defer removeQuietly(crtPath)
	defer removeQuietly(keyPath)

	args := []string{"ca", "certificate"}
	for _, san := range subjectAltNames(commonName, sans) {
		args = append(args, "--san", san)
	}
	args = append(args,
		"--provisioner-password-file", c.passwordFile,
		"--force",
		commonName, crtPath, keyPath,
	)

	slog.Debug("Requesting certificate", "domain", commonName, "sans", sans)
	if err := c.run(ctx, args...); err != nil {
		return nil, fmt.Errorf("issue certificate for %s: %w", commonName, err)
	}

	bundle, err := os.ReadFile(crtPath)
	if err != nil {
		return nil, fmt.Errorf("read issued certificate: %w", err)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read issued key: %w", err)
	}

	issued, err := ParseBundle(bundle, key)
	if err != nil {
		return nil, fmt.Errorf("parse issued material for %s: %w", commonName, err)
	}
	slog.Info("Certificate issued", "domain", commonName, "not_after", issued.NotAfter)
	return issued, nil
}

func (c *StepClient) run(ctx context.Context, args ...string) error {
	_, err := c.output(ctx, args...)
	return err
}

func (c *StepClient) output(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	command := c.stepPath + " " + strings.Join(args[:min(2, len(args))], " ")
	stdout, stderr, code, err := c.runner.Run(ctx, c.stepPath, args...)
	if err == nil && code == 0 {
		return stdout, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", command, ctx.Err())
	}
	if code == 0 {
		code = 1
	}
	perr := newProcessError(command, code, stderr)
	slog.Debug("Step command failed", "command", command, "exit_code", code, "stderr", perr.Stderr)
	return nil, perr
}

// subjectAltNames returns commonName followed by the distinct remaining names.
func subjectAltNames(commonName string, sans []string) []string {
	out := []string{commonName}
	for _, san := range sans {
		if san != "" && !slices.Contains(out, san) {
			out = append(out, san)
		}
	}
	return out
}

// ParseBundle splits a PEM chain into leaf and intermediates and normalizes the
// private key to PKCS#8.
func ParseBundle(bundle, key []byte) (*IssuedCertificate, error) {
	certs, err := certcrypto.ParsePEMBundle(bundle)
	if err != nil {
		return nil, fmt.Errorf("certificate bundle: %w", err)
	}

	privateKey, err := certcrypto.ParsePEMPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	issued := &IssuedCertificate{
		Certificate: certcrypto.PEMEncode(certcrypto.DERCertificateBytes(certs[0].Raw)),
		PrivateKey:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		NotAfter:    certs[0].NotAfter,
	}
	for _, intermediate := range certs[1:] {
		issued.Intermediates = append(issued.Intermediates,
			certcrypto.PEMEncode(certcrypto.DERCertificateBytes(intermediate.Raw))...)
	}
	return issued, nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove transient file", "path", path, "error", err)
	}
}
