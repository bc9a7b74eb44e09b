package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/services/baseline"
	"github.com/acme-industrial/enms-analytics/internal/app/services/features"
	"github.com/acme-industrial/enms-analytics/internal/app/services/kpi"
	"github.com/acme-industrial/enms-analytics/internal/app/storage/memory"
)

// newTestRouter builds a router over an in-memory store with the baseline
// and KPI engines wired and everything optional (bus, hub, limiter) left
// nil, which is exactly the degraded wiring NewRouter documents.
func newTestRouter(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	store := memory.New()
	store.SeedEnergySource(domain.EnergySource{ID: "e1", Key: domain.EnergySourceElectricity, Unit: "kWh", Active: true})
	store.SeedMachine(domain.Machine{ID: "m1", Name: "Compressor-1", Type: domain.MachineTypeCompressor, Active: true})

	aggregator := features.New(store)
	baselineEngine := baseline.New(store, aggregator, nil, nil)
	kpiEngine := kpi.New(store, store, domain.FixedPeakOffPeakTariff{
		PeakStartHour: 8, PeakEndHour: 20, PeakRate: 0.30, OffPeakRate: 0.10,
	}, 0.4)

	router := NewRouter(Deps{
		Store:    store,
		Features: aggregator,
		Baseline: baselineEngine,
		KPI:      kpiEngine,
		Version:  "test",
	})
	return store, router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReportsHealthyWithMemoryStore(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestListMachines_ReturnsSeededMachine(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/machines", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var machines []domain.Machine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &machines))
	require.Len(t, machines, 1)
	assert.Equal(t, "Compressor-1", machines[0].Name)
}

func TestGetMachine_UnknownIDIs404(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/machines/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainBaseline_NoDataIs422(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/baseline/train", map[string]any{
		"machine_id":    "m1",
		"energy_source": "electricity",
		"start_time":    "2024-01-01T00:00:00Z",
		"end_time":      "2024-01-01T00:00:00Z",
		"features":      []string{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPredict_WithoutModelNamesTheScope(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/baseline/predict", map[string]any{
		"machine_id":    "m1",
		"energy_source": "electricity",
		"features":      map[string]float64{"avg_outdoor_temp_c": 12},
	})
	require.NotEqual(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not trained")
}

func TestCreateAnomaly_DeduplicatesOnSecondPost(t *testing.T) {
	_, router := newTestRouter(t)
	payload := map[string]any{
		"machine_id":  "m1",
		"detected_at": "2026-02-01T10:00:00Z",
		"type":        "spike",
		"severity":    "warning",
		"metric":      "power_kw",
		"actual":      400.0,
		"expected":    100.0,
	}
	first := doJSON(t, router, http.MethodPost, "/api/v1/anomaly/create", payload)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, router, http.MethodPost, "/api/v1/anomaly/create", payload)
	require.Equal(t, http.StatusOK, second.Code, "duplicate key should dedupe, not insert twice")

	var a1, a2 domain.Anomaly
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a1))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &a2))
	assert.Equal(t, a1.ID, a2.ID)
}

func TestResolveAnomaly_IsIdempotent(t *testing.T) {
	_, router := newTestRouter(t)
	created := doJSON(t, router, http.MethodPost, "/api/v1/anomaly/create", map[string]any{
		"machine_id":  "m1",
		"detected_at": "2026-02-01T10:00:00Z",
		"type":        "drop",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var a domain.Anomaly
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &a))

	first := doJSON(t, router, http.MethodPut, "/api/v1/anomaly/"+a.ID+"/resolve", map[string]any{"note": "fixed"})
	require.Equal(t, http.StatusOK, first.Code)
	var r1 domain.Anomaly
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &r1))
	require.NotNil(t, r1.ResolvedAt)

	second := doJSON(t, router, http.MethodPut, "/api/v1/anomaly/"+a.ID+"/resolve", map[string]any{"note": "again"})
	require.Equal(t, http.StatusOK, second.Code)
	var r2 domain.Anomaly
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &r2))
	require.NotNil(t, r2.ResolvedAt)
	assert.True(t, r1.ResolvedAt.Equal(*r2.ResolvedAt), "resolve must keep the original timestamp")
	assert.Equal(t, "fixed", r2.ResolutionNote)
}

func TestGetAllKPIs_ReturnsBatchWithFiveEntries(t *testing.T) {
	store, router := newTestRouter(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		store.SeedEnergyReadings([]domain.EnergyReading{{Time: ts, MachineID: "m1", EnergyType: domain.EnergySourceElectricity, PowerKW: 50, MaxPowerKW: 80, EnergyKWh: 50}})
		store.SeedProduction([]domain.ProductionPoint{{Time: ts, MachineID: "m1", Count: 10}})
	}

	rec := doJSON(t, router, http.MethodGet,
		"/api/v1/kpi/all?machine_id=m1&start=2026-02-01T00:00:00Z&end=2026-02-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var batch domain.KPIBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Len(t, batch.KPIs, 5)
	require.NotNil(t, batch.KPIs[domain.KPISEC].Value)
	assert.InDelta(t, 5.0, *batch.KPIs[domain.KPISEC].Value, 1e-9) // 1200 kWh / 240 units
}

func TestWebSocketEndpoints_DegradeTo503WithoutHub(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/ws/dashboard", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSchedulerEndpoints_DegradeTo503WithoutScheduler(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/scheduler/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestModelPerformance_UnknownModelIs404(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/baseline/model/nope/performance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAPI_DocumentListsPaths(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/baseline/train")
	assert.Contains(t, rec.Body.String(), "/ws/dashboard")
}
