package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/infrastructure/httputil"
	coresvc "github.com/acme-industrial/enms-analytics/internal/app/core/service"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

func (h *Handler) recentAnomalies(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	severity := r.URL.Query().Get("severity")
	hours := queryInt(r, "hours", 24)
	limit := coresvc.ClampLimit(queryInt(r, "limit", 0), 100, coresvc.MaxListLimit)

	anomalies, err := h.store.RecentAnomalies(r.Context(), machineID, severity, time.Duration(hours)*time.Hour, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *Handler) activeAnomalies(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	anomalies, err := h.store.ActiveAnomalies(r.Context(), machineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *Handler) detectAnomalies(w http.ResponseWriter, r *http.Request) {
	if h.anomaly == nil {
		writeError(w, r, svcerrors.TransientUnavailable("anomaly engine", nil))
		return
	}
	var body struct {
		MachineID    string `json:"machine_id"`
		SEUID        string `json:"seu_id"`
		EnergySource string `json:"energy_source"`
		StartTime    string `json:"start_time"`
		EndTime      string `json:"end_time"`
		UseBaseline  *bool  `json:"use_baseline"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	scope := domain.Scope{MachineID: body.MachineID, SEUID: body.SEUID}
	if body.EnergySource == "" {
		body.EnergySource = domain.EnergySourceElectricity
	}
	src, err := h.store.EnergySourceByKey(r.Context(), body.EnergySource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := parseJSONWindow(body.StartTime, body.EndTime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	useBaseline := true
	if body.UseBaseline != nil {
		useBaseline = *body.UseBaseline
	}

	anomalies, err := h.anomaly.Detect(r.Context(), scope, body.EnergySource, src.ID, window, useBaseline)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *Handler) createAnomaly(w http.ResponseWriter, r *http.Request) {
	var a domain.Anomaly
	if !httputil.DecodeJSON(w, r, &a) {
		return
	}
	if a.MachineID == "" {
		writeError(w, r, svcerrors.MissingParameter("machine_id"))
		return
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = timeNow()
	}
	if a.Status == "" {
		a.Status = domain.AnomalyStatusOpen
	}
	if a.Severity == "" {
		a.Severity = domain.ClassifySeverity(a.Deviation)
	}

	saved, created, err := h.store.SaveAnomaly(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if created && h.bus != nil {
		h.bus.Publish(r.Context(), domain.ChannelAnomalyDetected, domain.NewAnomalyDetectedEvent(saved))
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, saved)
}

func (h *Handler) resolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Note string `json:"note"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	resolved, err := h.store.ResolveAnomaly(r.Context(), id, body.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
