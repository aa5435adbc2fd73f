package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/npm-step-reconciler/internal/authority"
	"github.com/stacklok/npm-step-reconciler/internal/config"
	"github.com/stacklok/npm-step-reconciler/internal/httpclient"
	"github.com/stacklok/npm-step-reconciler/internal/otel"
	"github.com/stacklok/npm-step-reconciler/internal/telemetry"
)

const (
	// DefaultRetryAttempts is the shared attempt budget per operation
	DefaultRetryAttempts = 3

	// DefaultRetryInterval is the pause between attempts
	DefaultRetryInterval = 500 * time.Millisecond

	// DefaultRequestTimeout bounds a single API request
	DefaultRequestTimeout = 5 * time.Second

	tokensPath       = "/api/tokens"
	proxyHostsPath   = "/api/nginx/proxy-hosts"
	certificatesPath = "/api/nginx/certificates"
)

// Client talks to the Nginx Proxy Manager API. The bearer token is owned by
// the client and only replaced by Login.
type Client struct {
	baseURL  string
	user     string
	password config.Secret

	http          httpclient.Client
	attempts      int
	retryInterval time.Duration
	clock         clock.PassiveClock
	metrics       *telemetry.ProxyManagerMetrics
	tracer        trace.Tracer

	loginMu sync.Mutex
	mu      sync.RWMutex
	token   string
	expiry  time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP executor
func WithHTTPClient(h httpclient.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithRetryAttempts sets the attempt budget; values below 1 are ignored
func WithRetryAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.attempts = n
		}
	}
}

// WithRetryInterval sets the pause between attempts
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// WithClock sets the clock used for token expiry
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithMetrics records attempt and login counters
func WithMetrics(m *telemetry.ProxyManagerMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer wraps each operation in a span
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient creates a client for the proxy manager at baseURL (scheme://host:port).
func NewClient(baseURL, user string, password config.Secret, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		user:          user,
		password:      password,
		http:          httpclient.NewDefaultClient(DefaultRequestTimeout),
		attempts:      DefaultRetryAttempts,
		retryInterval: DefaultRetryInterval,
		clock:         clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges the configured credentials for a bearer token. Rejected
// credentials return ErrAuthenticationFailed.
func (c *Client) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	ctx, span := otel.StartSpan(ctx, c.tracer, "npm.Login")
	defer span.End()

	endpoint := http.MethodPost + " " + tokensPath
	payload, err := json.Marshal(map[string]string{
		"identity": c.user,
		"secret":   c.password.Value(),
	})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}

	slog.Debug("Logging in to proxy manager", "endpoint", endpoint, "user", c.user)
	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.baseURL + tokensPath,
		Body:        bytes.NewReader(payload),
		ContentType: "application/json",
	})
	if err != nil {
		c.metrics.RecordLogin(ctx, false)
		err = c.loginError(endpoint, err)
		otel.RecordError(span, err)
		return err
	}

	token := gjson.GetBytes(resp.Body, "token").String()
	if token == "" {
		c.metrics.RecordLogin(ctx, false)
		err := fmt.Errorf("%s: %w: no token in response", endpoint, errMalformedResponse)
		otel.RecordError(span, err)
		return err
	}
	advertised, _ := parseTimestamp(gjson.GetBytes(resp.Body, "expires").String())

	c.mu.Lock()
	c.token = token
	c.expiry = tokenExpiry(token, advertised)
	c.mu.Unlock()

	c.metrics.RecordLogin(ctx, true)
	slog.Debug("Logged in to proxy manager", "user", c.user)
	return nil
}

func (c *Client) loginError(endpoint string, err error) error {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	switch httpErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		slog.Error("Proxy manager rejected the login credentials", "user", c.user)
		return fmt.Errorf("%w: user %s", ErrAuthenticationFailed, c.user)
	default:
		return &UnexpectedResponseError{
			Endpoint:   endpoint,
			StatusCode: httpErr.StatusCode,
			Message:    errorMessage(httpErr.Body),
		}
	}
}

// ensureToken logs in when there is no token or it is about to expire.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.RLock()
	token, expiry := c.token, c.expiry
	c.mu.RUnlock()

	if token != "" && (expiry.IsZero() || c.clock.Now().Add(tokenRefreshWindow).Before(expiry)) {
		return nil
	}
	if token != "" {
		slog.Debug("Proxy manager token about to expire, logging in again", "expires", expiry)
	}
	return c.Login(ctx)
}

// do executes one authenticated request and maps failures onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	endpoint := endpointName(method, path)

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	slog.Debug("Proxy manager request", "endpoint", endpoint)
	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method:      method,
		URL:         c.baseURL + path,
		Header:      header,
		Body:        body,
		ContentType: contentType,
	})
	if err == nil {
		return resp.Body, nil
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%s: %w", endpoint, ErrNotAuthenticated)
		}
		return nil, &UnexpectedResponseError{
			Endpoint:   endpoint,
			StatusCode: httpErr.StatusCode,
			Message:    errorMessage(httpErr.Body),
		}
	}
	return nil, fmt.Errorf("%s: %w", endpoint, err)
}

// endpointName drops the query string so errors and logs name the resource.
func endpointName(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return method + " " + path
}

// ListProxyHosts returns every proxy host with a domain name.
func (c *Client) ListProxyHosts(ctx context.Context) ([]ProxyHost, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "npm.ListProxyHosts")
	defer span.End()

	path := proxyHostsPath + "?expand=certificate"
	var hosts []ProxyHost
	err := c.withRetry(ctx, "list_proxy_hosts", endpointName(http.MethodGet, path), func(ctx context.Context) error {
		body, err := c.do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return err
		}
		hosts, err = parseProxyHosts(body)
		return err
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(hosts)))
	return hosts, nil
}

// ListCertificates returns every certificate with a parseable expiry.
func (c *Client) ListCertificates(ctx context.Context) ([]CertificateRecord, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "npm.ListCertificates")
	defer span.End()

	var certs []CertificateRecord
	err := c.withRetry(ctx, "list_certificates", endpointName(http.MethodGet, certificatesPath), func(ctx context.Context) error {
		body, err := c.do(ctx, http.MethodGet, certificatesPath, nil, "")
		if err != nil {
			return err
		}
		certs, err = parseCertificates(body)
		return err
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(certs)))
	return certs, nil
}

// GetProxyHost reads the current state of one proxy host.
func (c *Client) GetProxyHost(ctx context.Context, id int) (*ProxyHost, error) {
	path := fmt.Sprintf("%s/%d?expand=certificate", proxyHostsPath, id)
	var host ProxyHost
	err := c.withRetry(ctx, "get_proxy_host", endpointName(http.MethodGet, path), func(ctx context.Context) error {
		body, err := c.do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return err
		}
		res := gjson.ParseBytes(body)
		if !gjson.ValidBytes(body) || !res.IsObject() {
			return fmt.Errorf("%w: proxy host %d is not a JSON object", errMalformedResponse, id)
		}
		// A host without domains still has an assignment to inspect.
		host, _ = parseProxyHost(res)
		host.ID = id
		host.CertificateID = int(res.Get("certificate_id").Int())
		host.HasHTTPS = host.CertificateID != 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

// CreateCertificate registers a custom certificate named commonName and
// uploads the issued material to it, returning the new certificate id.
//
// The intermediates are concatenated into the certificate field because the
// proxy manager drops the separate intermediate_certificate upload field.
// This is a workaround for that defect, not a format choice.
func (c *Client) CreateCertificate(ctx context.Context, commonName string, issued *authority.IssuedCertificate) (int, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "npm.CreateCertificate",
		trace.WithAttributes(otel.AttrDomain.String(commonName)))
	defer span.End()

	if issued == nil {
		return 0, errors.New("no certificate material to upload")
	}

	payload, err := json.Marshal(map[string]string{"nice_name": commonName, "provider": "other"})
	if err != nil {
		return 0, fmt.Errorf("encode certificate: %w", err)
	}

	var id int
	err = c.withRetry(ctx, "create_certificate", endpointName(http.MethodPost, certificatesPath), func(ctx context.Context) error {
		body, err := c.do(ctx, http.MethodPost, certificatesPath, bytes.NewReader(payload), "application/json")
		if err != nil {
			return err
		}
		id, err = parseID(body, "created certificate")
		return err
	})
	if err != nil {
		otel.RecordError(span, err)
		return 0, err
	}
	span.SetAttributes(otel.AttrCertificateID.Int(id))
	slog.Debug("Certificate placeholder created", "domain", commonName, "certificate_id", id)

	form, contentType, err := uploadForm(issued)
	if err != nil {
		return 0, err
	}
	uploadPath := fmt.Sprintf("%s/%d/upload", certificatesPath, id)
	err = c.withRetry(ctx, "upload_certificate", endpointName(http.MethodPost, uploadPath), func(ctx context.Context) error {
		_, err := c.do(ctx, http.MethodPost, uploadPath, bytes.NewReader(form), contentType)
		return err
	})
	if err != nil {
		otel.RecordError(span, err)
		if errors.Is(err, ErrAuthenticationFailed) {
			return 0, err
		}
		// Do not leave an empty placeholder behind.
		if derr := c.DeleteCertificate(ctx, id); derr != nil {
			slog.Warn("Failed to remove certificate placeholder after upload failure",
				"domain", commonName, "certificate_id", id, "error", derr)
		}
		return 0, fmt.Errorf("upload certificate %d: %w", id, err)
	}

	slog.Info("Certificate uploaded", "domain", commonName, "certificate_id", id)
	return id, nil
}

func uploadForm(issued *authority.IssuedCertificate) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	chain := append(append([]byte{}, issued.Certificate...), issued.Intermediates...)
	parts := []struct {
		field, file string
		data        []byte
	}{
		{"certificate", "certificate.pem", chain},
		{"certificate_key", "certificate_key.pem", issued.PrivateKey},
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.file)
		if err != nil {
			return nil, "", fmt.Errorf("build upload form: %w", err)
		}
		if _, err := fw.Write(p.data); err != nil {
			return nil, "", fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("build upload form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// DeleteCertificate removes a certificate. It is a single request; a
// certificate that is already gone counts as deleted.
func (c *Client) DeleteCertificate(ctx context.Context, id int) error {
	ctx, span := otel.StartSpan(ctx, c.tracer, "npm.DeleteCertificate",
		trace.WithAttributes(otel.AttrCertificateID.Int(id)))
	defer span.End()

	if err := c.ensureToken(ctx); err != nil {
		otel.RecordError(span, err)
		return err
	}

	path := fmt.Sprintf("%s/%d", certificatesPath, id)
	_, err := c.do(ctx, http.MethodDelete, path, nil, "")
	var unexpected *UnexpectedResponseError
	if errors.As(err, &unexpected) && unexpected.StatusCode == http.StatusNotFound {
		slog.Debug("Certificate already deleted", "certificate_id", id)
		return nil
	}
	if err != nil {
		otel.RecordError(span, err)
		return err
	}
	slog.Info("Certificate deleted", "certificate_id", id)
	return nil
}

// AssignCertificate binds certificateID to the proxy host with HSTS and
// forced SSL. Without force, a host that already has a certificate is left
// untouched and the call succeeds.
func (c *Client) AssignCertificate(ctx context.Context, proxyHostID, certificateID int, force bool) error {
	ctx, span := otel.StartSpan(ctx, c.tracer, "npm.AssignCertificate",
		trace.WithAttributes(otel.AttrProxyHostID.Int(proxyHostID), otel.AttrCertificateID.Int(certificateID)))
	defer span.End()

	host, err := c.GetProxyHost(ctx, proxyHostID)
	if err != nil {
		otel.RecordError(span, err)
		return err
	}
	if host.CertificateID != 0 && !force {
		slog.Info("Proxy host already has a certificate assigned, skipping",
			"domain", host.PrimaryDomain, "proxy_host_id", proxyHostID, "certificate_id", host.CertificateID)
		return nil
	}

	if err := c.ensureToken(ctx); err != nil {
		otel.RecordError(span, err)
		return err
	}

	payload, err := json.Marshal(struct {
		CertificateID int  `json:"certificate_id"`
		HSTSEnabled   bool `json:"hsts_enabled"`
		SSLForced     bool `json:"ssl_forced"`
	}{certificateID, true, true})
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}

	path := fmt.Sprintf("%s/%d", proxyHostsPath, proxyHostID)
	if _, err := c.do(ctx, http.MethodPut, path, bytes.NewReader(payload), "application/json"); err != nil {
		otel.RecordError(span, err)
		return err
	}

	slog.Info("Certificate assigned to proxy host",
		"domain", host.PrimaryDomain, "proxy_host_id", proxyHostID, "certificate_id", certificateID, "force", force)
	return nil
}
