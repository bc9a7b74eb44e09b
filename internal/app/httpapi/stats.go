package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
)

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, r, svcerrors.TransientUnavailable("scheduler", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.scheduler.Status()})
}

func (h *Handler) schedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, r, svcerrors.TransientUnavailable("scheduler", nil))
		return
	}
	jobID := mux.Vars(r)["job_id"]
	if !h.scheduler.Trigger(r.Context(), jobID) {
		writeError(w, r, svcerrors.NotFound("job", jobID))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"triggered": true, "job_id": jobID})
}

// connectionStats reports the throttle's current counters.
func (h *Handler) connectionStats(w http.ResponseWriter, r *http.Request) {
	wsConnections := 0
	if h.hub != nil {
		wsConnections = h.hub.ConnectionCount()
	}
	resp := map[string]interface{}{
		"websocket_connections": wsConnections,
	}
	if h.throttle != nil {
		resp["throttle"] = h.throttle.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
