package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
)

func (h *Handler) listMachines(w http.ResponseWriter, r *http.Request) {
	activeOnly := strings.EqualFold(r.URL.Query().Get("active_only"), "true")
	machines, err := h.store.ListMachines(r.Context(), activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machines)
}

func (h *Handler) getMachine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := h.store.MachineByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) getMachineStatusByName(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	factoryID := r.URL.Query().Get("factory_id")
	m, err := h.store.MachineByName(r.Context(), factoryID, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := h.store.MachineStatusAt(r.Context(), m.ID, timeNow())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"machine_id": m.ID, "name": m.Name, "status": status})
}

func (h *Handler) listSEUs(w http.ResponseWriter, r *http.Request) {
	energySourceKey := r.URL.Query().Get("energy_source")
	sourceID := ""
	if energySourceKey != "" {
		src, err := h.store.EnergySourceByKey(r.Context(), energySourceKey)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sourceID = src.ID
	}
	seus, err := h.store.ListSEUs(r.Context(), sourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seus)
}

func (h *Handler) listEnergySources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListEnergySources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (h *Handler) availableFeatures(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("energy_source")
	if key == "" {
		writeError(w, r, svcerrors.MissingParameter("energy_source"))
		return
	}
	src, err := h.store.EnergySourceByKey(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	feats, err := h.store.FeaturesForSource(r.Context(), src.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feats)
}
