package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/stacklok/npm-step-reconciler/internal/config"
	"github.com/stacklok/npm-step-reconciler/internal/npm"
)

func TestVersionCommand_JSON(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--format", "json"})
	require.NoError(t, cmd.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		want  zapcore.Level
		known bool
	}{
		{name: "debug", want: zapcore.Level(slog.LevelDebug), known: true},
		{name: "INFO", want: zapcore.InfoLevel, known: true},
		{name: "warning", want: zapcore.WarnLevel, known: true},
		{name: "CRITICAL", want: zapcore.ErrorLevel, known: true},
		{name: "verbose", want: zapcore.InfoLevel, known: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			level, ok := parseLevel(tt.name)
			assert.Equal(t, tt.want, level)
			assert.Equal(t, tt.known, ok)
		})
	}
}

func TestRenderConfig_MasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Schedule: "10m",
		Authority: config.AuthorityConfig{
			Domain:              "ca.internal",
			Fingerprint:         "fingerprint-value",
			ProvisionerPassword: "provisioner-value",
		},
		ProxyManager: config.ProxyManagerConfig{
			Host:     "npm.internal",
			User:     "admin@example.com",
			Password: "password-value",
		},
	}

	for _, format := range []string{"yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			t.Parallel()

			out, err := renderConfig(cfg, format)
			require.NoError(t, err)
			assert.Contains(t, string(out), "npm.internal")
			assert.Contains(t, string(out), "**********")
			for _, secret := range []string{"fingerprint-value", "provisioner-value", "password-value"} {
				assert.NotContains(t, string(out), secret)
			}
		})
	}

	_, err := renderConfig(cfg, "json")
	assert.Error(t, err)
}

func TestRenderInventory(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	hosts := []npm.ProxyHost{
		{ID: 1, PrimaryDomain: "plain.example.com"},
		{ID: 2, PrimaryDomain: "secure.example.com", SANs: []string{"www.secure.example.com"}, HasHTTPS: true, CertificateID: 9, CertificateProvider: "other"},
	}
	certs := []npm.CertificateRecord{
		{ID: 9, PrimaryDomain: "secure.example.com", Provider: "other", ExpiresAt: now.Add(30 * 24 * time.Hour)},
		{ID: 8, PrimaryDomain: "old.example.com", Provider: "other", ExpiresAt: now.Add(-time.Hour)},
		{ID: 7, PrimaryDomain: "soon.example.com", Provider: "other", ExpiresAt: now.Add(5 * time.Minute)},
	}

	var out bytes.Buffer
	require.NoError(t, renderInventory(&out, hosts, certs, now))

	text := out.String()
	assert.Contains(t, text, "plain.example.com")
	assert.Contains(t, text, "www.secure.example.com")
	assert.Contains(t, text, "expired")
	assert.Contains(t, text, "renewal window")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("old.example.com")), bytes.Index(out.Bytes(), []byte("soon.example.com")))
}

func TestRequireProxyManager(t *testing.T) {
	t.Parallel()

	err := requireProxyManager(&config.ProxyManagerConfig{Host: "npm.internal"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NPM_USER")
	assert.Contains(t, err.Error(), "NPM_PASS")
	assert.NotContains(t, err.Error(), "NPM_HOST")

	assert.NoError(t, requireProxyManager(&config.ProxyManagerConfig{Host: "h", User: "u", Password: "p"}))
}
