package npm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
)

// expiryLayouts are the timestamp formats the proxy manager has emitted across releases.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseArray(body []byte, what string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s is not valid JSON", errMalformedResponse, what)
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: %s is not a JSON array", errMalformedResponse, what)
	}
	return res, nil
}

func stringArray(v gjson.Result) []string {
	arr := v.Array()
	out := make([]string, 0, len(arr))
	for _, s := range arr {
		out = append(out, s.String())
	}
	return out
}

func parseProxyHost(v gjson.Result) (ProxyHost, bool) {
	domains := stringArray(v.Get("domain_names"))
	if len(domains) == 0 || domains[0] == "" {
		return ProxyHost{}, false
	}
	h := ProxyHost{
		ID:                  int(v.Get("id").Int()),
		PrimaryDomain:       domains[0],
		SANs:                domains[1:],
		CertificateID:       int(v.Get("certificate_id").Int()),
		CertificateProvider: v.Get("certificate.provider").String(),
	}
	h.HasHTTPS = h.CertificateID != 0
	if created, ok := parseTimestamp(v.Get("created_on").String()); ok {
		h.CreatedAt = created
	}
	return h, true
}

func parseProxyHosts(body []byte) ([]ProxyHost, error) {
	res, err := parseArray(body, "proxy host list")
	if err != nil {
		return nil, err
	}

	hosts := make([]ProxyHost, 0, len(res.Array()))
	res.ForEach(func(_, v gjson.Result) bool {
		h, ok := parseProxyHost(v)
		if !ok {
			slog.Debug("Ignoring proxy host without domain names", "proxy_host_id", v.Get("id").Int())
			return true
		}
		hosts = append(hosts, h)
		return true
	})
	return hosts, nil
}

func parseCertificates(body []byte) ([]CertificateRecord, error) {
	res, err := parseArray(body, "certificate list")
	if err != nil {
		return nil, err
	}

	certs := make([]CertificateRecord, 0, len(res.Array()))
	res.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").Int()
		domains := stringArray(v.Get("domain_names"))
		if len(domains) == 0 {
			slog.Debug("Ignoring certificate without domain names", "certificate_id", id)
			return true
		}
		expires, ok := parseTimestamp(v.Get("expires_on").String())
		if !ok {
			slog.Debug("Ignoring certificate without a parseable expiry",
				"certificate_id", id, "expires_on", v.Get("expires_on").String())
			return true
		}
		certs = append(certs, CertificateRecord{
			ID:            int(id),
			PrimaryDomain: domains[0],
			NiceName:      v.Get("nice_name").String(),
			Provider:      v.Get("provider").String(),
			ExpiresAt:     expires,
		})
		return true
	})
	return certs, nil
}

// parseID reads the "id" of a created object.
func parseID(body []byte, what string) (int, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: %s is not valid JSON", errMalformedResponse, what)
	}
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.Int() == 0 {
		return 0, fmt.Errorf("%w: %s has no id", errMalformedResponse, what)
	}
	return int(id.Int()), nil
}

// errorMessage extracts {"error":{"message":...}} from an error body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "error.message").String()
}
