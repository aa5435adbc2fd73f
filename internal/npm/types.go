// Package npm is the Nginx Proxy Manager gateway: an authenticated API client
// with automatic re-login and bounded retry.
package npm

import "time"

// ProxyHost is a snapshot of one proxy host. It is fetched fresh every pass.
type ProxyHost struct {
	ID            int
	PrimaryDomain string
	SANs          []string
	CertificateID int
	// HasHTTPS is true when a certificate is assigned.
	HasHTTPS bool
	// CertificateProvider is the provider of the assigned certificate, e.g. "letsencrypt" or "other".
	CertificateProvider string
	CreatedAt           time.Time
}

// Domains returns the primary domain followed by the SANs.
func (h ProxyHost) Domains() []string {
	return append([]string{h.PrimaryDomain}, h.SANs...)
}

// CertificateRecord is a certificate known to the proxy manager.
type CertificateRecord struct {
	ID            int
	PrimaryDomain string
	NiceName      string
	Provider      string
	ExpiresAt     time.Time
}
