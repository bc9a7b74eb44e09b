package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/services/features"
)

// metricToKPI maps a `/timeseries/{metric}` path segment to the KPI name the
// per-bucket series is derived from.
var metricToKPI = map[string]string{
	"sec":         domain.KPISEC,
	"cost":        domain.KPIEnergyCost,
	"carbon":      domain.KPICarbon,
	"load-factor": domain.KPILoadFactor,
}

func (h *Handler) getTimeseries(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		writeError(w, r, svcerrors.MissingParameter("machine_id"))
		return
	}
	window, err := parseWindow(r, "start_time", "end_time")
	if err != nil {
		writeError(w, r, err)
		return
	}
	gran, err := parseGranularity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch metric {
	case "energy", "power":
		rows, err := h.store.EnergyAggregate(r.Context(), machineID, "", window, gran)
		if err != nil {
			writeError(w, r, err)
			return
		}
		points := make([]domain.SeriesPoint, 0, len(rows))
		for _, row := range rows {
			v := row.EnergyKWh
			if metric == "power" {
				v = row.PowerKW
			}
			points = append(points, domain.SeriesPoint{Time: row.Time, Value: v})
		}
		writeJSON(w, http.StatusOK, points)
		return
	default:
		kpiName, ok := metricToKPI[metric]
		if !ok {
			writeError(w, r, svcerrors.InvalidFormat("metric", "one of energy, power, sec, cost, carbon, load-factor"))
			return
		}
		points, err := h.kpiSeries(r, domain.Scope{MachineID: machineID}, kpiName, window, gran)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

// kpiSeries buckets [window.Start, window.End) at gran and evaluates kpiName
// once per bucket via the KPI Engine's batched pipeline. Buckets with a null
// KPIResult (e.g. zero production) are omitted rather than emitted as zero.
func (h *Handler) kpiSeries(r *http.Request, scope domain.Scope, kpiName string, window domain.TimeRange, gran domain.Granularity) ([]domain.SeriesPoint, error) {
	if h.kpi == nil {
		return nil, svcerrors.TransientUnavailable("kpi engine", nil)
	}
	step := gran.Duration()
	points := make([]domain.SeriesPoint, 0)
	for bucket := window.Start; bucket.Before(window.End); bucket = bucket.Add(step) {
		bucketEnd := bucket.Add(step)
		if bucketEnd.After(window.End) {
			bucketEnd = window.End
		}
		batch, err := h.kpi.Batch(r.Context(), scope, domain.EnergySourceElectricity, 0, domain.TimeRange{Start: bucket, End: bucketEnd})
		if err != nil {
			return nil, err
		}
		result, ok := batch.KPIs[kpiName]
		if !ok || result.Value == nil {
			continue
		}
		points = append(points, domain.SeriesPoint{Time: bucket, Value: *result.Value})
	}
	return points, nil
}

// latestReadingResponse augments the raw reading with any operator-declared
// metadata-sourced features (features.MetadataSourceTable) resolved against
// this reading's metadata blob, so a dashboard can surface machine-specific
// signals without the API shape changing whenever a new one is declared.
type latestReadingResponse struct {
	domain.EnergyReading
	MetadataFeatures map[string]float64 `json:"metadata_features,omitempty"`
}

func (h *Handler) getLatestReading(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["machine_id"]
	reading, err := h.store.LatestReading(r.Context(), machineID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := latestReadingResponse{EnergyReading: reading}
	if reading.EnergyType != "" {
		if src, err := h.store.EnergySourceByKey(r.Context(), reading.EnergyType); err == nil {
			if declared, err := h.store.FeaturesForSource(r.Context(), src.ID); err == nil {
				for _, feat := range declared {
					if v, ok := features.ResolveDerivedValue(feat, reading.Metadata); ok {
						if resp.MetadataFeatures == nil {
							resp.MetadataFeatures = make(map[string]float64)
						}
						resp.MetadataFeatures[feat.FeatureKey] = v
					}
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getMultiMachineEnergy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("machine_ids")
	if raw == "" {
		writeError(w, r, svcerrors.MissingParameter("machine_ids"))
		return
	}
	ids := strings.Split(raw, ",")
	window, err := parseWindow(r, "start_time", "end_time")
	if err != nil {
		writeError(w, r, err)
		return
	}
	gran, err := parseGranularity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make(map[string][]domain.EnergyReading, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		rows, err := h.store.EnergyAggregate(r.Context(), id, "", window, gran)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out[id] = rows
	}
	writeJSON(w, http.StatusOK, out)
}
