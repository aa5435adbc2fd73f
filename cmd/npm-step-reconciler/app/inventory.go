package app

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/npm-step-reconciler/internal/config"
	"github.com/stacklok/npm-step-reconciler/internal/httpclient"
	"github.com/stacklok/npm-step-reconciler/internal/npm"
	"github.com/stacklok/npm-step-reconciler/internal/reconciler"
)

func newInventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "List proxy hosts and certificates known to Nginx Proxy Manager",
		Long: `Log in to Nginx Proxy Manager and print its proxy hosts and certificates.
Only the proxy manager settings are required; the step CA is not contacted.`,
		Args: cobra.NoArgs,
		RunE: runInventory,
	}
}

func runInventory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	SetLogLevel(cfg.LogLevel)
	if err := requireProxyManager(&cfg.ProxyManager); err != nil {
		return err
	}

	client := npm.NewClient(cfg.ProxyManager.BaseURL(), cfg.ProxyManager.User, cfg.ProxyManager.Password,
		npm.WithHTTPClient(httpclient.NewDefaultClient(cfg.ProxyManager.RequestTimeout)),
		npm.WithRetryAttempts(cfg.ProxyManager.RetryAttempts),
	)

	ctx := cmd.Context()
	if err := client.Login(ctx); err != nil {
		return err
	}
	hosts, err := client.ListProxyHosts(ctx)
	if err != nil {
		return err
	}
	certs, err := client.ListCertificates(ctx)
	if err != nil {
		return err
	}

	return renderInventory(cmd.OutOrStdout(), hosts, certs, time.Now())
}

func requireProxyManager(pm *config.ProxyManagerConfig) error {
	var missing []string
	if pm.Host == "" {
		missing = append(missing, "NPM_HOST")
	}
	if pm.User == "" {
		missing = append(missing, "NPM_USER")
	}
	if pm.Password.IsEmpty() {
		missing = append(missing, "NPM_PASS")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

func renderInventory(w io.Writer, hosts []npm.ProxyHost, certs []npm.CertificateRecord, now time.Time) error {
	hostRows := make([][]string, 0, len(hosts))
	for _, h := range hosts {
		cert := "-"
		if h.HasHTTPS {
			cert = strconv.Itoa(h.CertificateID)
		}
		hostRows = append(hostRows, []string{
			strconv.Itoa(h.ID), h.PrimaryDomain, strings.Join(h.SANs, ","), cert, h.CertificateProvider,
		})
	}

	slices.SortFunc(certs, func(a, b npm.CertificateRecord) int { return a.ExpiresAt.Compare(b.ExpiresAt) })
	certRows := make([][]string, 0, len(certs))
	for _, c := range certs {
		state := "ok"
		switch remaining := c.ExpiresAt.Sub(now); {
		case remaining <= 0:
			state = "expired"
		case remaining <= reconciler.DefaultJitterMax:
			state = "renewal window"
		}
		certRows = append(certRows, []string{
			strconv.Itoa(c.ID), c.PrimaryDomain, c.Provider,
			c.ExpiresAt.UTC().Format(time.RFC3339), state,
		})
	}

	if _, err := fmt.Fprintln(w, "Proxy hosts"); err != nil {
		return err
	}
	if err := renderTable(w, []string{"ID", "DOMAIN", "SANS", "CERTIFICATE", "PROVIDER"}, hostRows); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "\nCertificates"); err != nil {
		return err
	}
	return renderTable(w, []string{"ID", "DOMAIN", "PROVIDER", "EXPIRES", "STATE"}, certRows)
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
