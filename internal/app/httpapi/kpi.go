package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// kpiPathAliases maps the kebab-case `/kpi/{kpi}` path segment to the
// domain KPI constant.
var kpiPathAliases = map[string]string{
	"sec":         domain.KPISEC,
	"peak-demand": domain.KPIPeakDemand,
	"load-factor": domain.KPILoadFactor,
	"energy-cost": domain.KPIEnergyCost,
	"carbon":      domain.KPICarbon,
}

func (h *Handler) getAllKPIs(w http.ResponseWriter, r *http.Request) {
	if h.kpi == nil {
		writeError(w, r, svcerrors.TransientUnavailable("kpi engine", nil))
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := parseWindow(r, "start", "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	energySource := r.URL.Query().Get("energy_source")
	if energySource == "" {
		energySource = domain.EnergySourceElectricity
	}
	batch, err := h.kpi.Batch(r.Context(), scope, energySource, 0, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) getKPI(w http.ResponseWriter, r *http.Request) {
	if h.kpi == nil {
		writeError(w, r, svcerrors.TransientUnavailable("kpi engine", nil))
		return
	}
	alias := mux.Vars(r)["kpi"]
	name, ok := kpiPathAliases[alias]
	if !ok {
		writeError(w, r, svcerrors.InvalidFormat("kpi", "one of sec, peak-demand, load-factor, energy-cost, carbon"))
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := parseWindow(r, "start", "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	energySource := r.URL.Query().Get("energy_source")
	if energySource == "" {
		energySource = domain.EnergySourceElectricity
	}
	batch, err := h.kpi.Batch(r.Context(), scope, energySource, 0, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, ok := batch.KPIs[name]
	if !ok {
		writeError(w, r, svcerrors.NotFound("kpi", name))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
