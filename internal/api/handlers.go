package api

import (
	"net/http"

	"github.com/stacklok/npm-step-reconciler/internal/api/common"
	"github.com/stacklok/npm-step-reconciler/internal/versions"
)

// healthHandler reports that the process is alive
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once a reconciliation pass has completed
func readinessHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if provider == nil || !provider.Ready() {
			common.WriteErrorResponse(w, "no reconciliation pass has completed yet", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}

// statusHandler returns the state of the most recent pass
func statusHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if provider == nil {
			common.WriteErrorResponse(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, provider.Snapshot(), http.StatusOK)
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
