package httpapi

import (
	"net/http"

	"ucaep.org/internal/auth"
)

// handleDashboardSummary serves the latest aggregated summary. The poller
// refreshes in the background; requests never fan out across the kinds.
func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireRole(w, r, auth.RoleModerator) {
		return
	}
	if a.dashboard == nil {
		writeError(w, r, http.StatusServiceUnavailable, "dashboard disabled")
		return
	}

	summary, ok := a.dashboard.Latest()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "summary not ready")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
