package httpapi

import "net/http"

// openAPIOperation documents one route for the /openapi.json surface.
// Kept as a small hand-built struct rather than generator output: the route
// table in NewRouter is the source of truth and this mirrors it by hand,
// the same way handleDocs hand-writes the HTML landing page.
type openAPIOperation struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// handleOpenAPI serves a minimal OpenAPI 3.0 document describing the REST
// surface. It exists so API consumers and the /docs landing page have a
// machine-readable map of the available routes.
func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "EnMS Analytics Service",
			"version": h.version,
		},
		"paths": map[string]interface{}{
			"/health":                                 pathDoc("GET", "Service and dependency health", "ops"),
			"/api/v1/machines":                         pathDoc("GET", "List monitored machines", "reference"),
			"/api/v1/machines/{id}":                    pathDoc("GET", "Get one machine", "reference"),
			"/api/v1/machines/status/{name}":           pathDoc("GET", "Latest status for a named machine", "reference"),
			"/api/v1/seus":                              pathDoc("GET", "List significant energy users", "reference"),
			"/api/v1/energy-sources":                    pathDoc("GET", "List energy sources", "reference"),
			"/api/v1/ovos/available-features":           pathDoc("GET", "Feature catalog for model training", "ovos"),
			"/api/v1/timeseries/{metric}":                pathDoc("GET", "Time-series read over a window", "timeseries"),
			"/api/v1/timeseries/latest/{machine_id}":     pathDoc("GET", "Latest reading for a machine", "timeseries"),
			"/api/v1/timeseries/multi-machine/energy":    pathDoc("GET", "Energy comparison across machines", "timeseries"),
			"/api/v1/kpi/all":                            pathDoc("GET", "All KPIs for a scope and window", "kpi"),
			"/api/v1/kpi/{kpi}":                          pathDoc("GET", "One KPI for a scope and window", "kpi"),
			"/api/v1/baseline/models":                    pathDoc("GET", "List trained baseline models", "baseline"),
			"/api/v1/baseline/model/{model_id}":          pathDoc("GET", "Get one baseline model", "baseline"),
			"/api/v1/baseline/model/{model_id}/performance": pathDoc("GET", "Fit statistics for one model version", "baseline"),
			"/api/v1/baseline/train":                     pathDoc("POST", "Train a new baseline model", "baseline"),
			"/api/v1/baseline/predict":                   pathDoc("POST", "Predict expected consumption from features", "baseline"),
			"/api/v1/baseline/deviation":                 pathDoc("GET", "Actual-vs-baseline deviation", "baseline"),
			"/api/v1/anomaly/recent":                     pathDoc("GET", "Recently detected anomalies", "anomaly"),
			"/api/v1/anomaly/active":                     pathDoc("GET", "Currently unresolved anomalies", "anomaly"),
			"/api/v1/anomaly/detect":                     pathDoc("POST", "Run anomaly detection over a window", "anomaly"),
			"/api/v1/anomaly/create":                     pathDoc("POST", "Record a manually flagged anomaly", "anomaly"),
			"/api/v1/anomaly/{id}/resolve":                pathDoc("PUT", "Mark an anomaly resolved", "anomaly"),
			"/api/v1/ovos/train-baseline":                 pathDoc("POST", "Voice-assistant baseline training shortcut", "ovos"),
			"/api/v1/scheduler/status":                    pathDoc("GET", "Recurring job status", "scheduler"),
			"/api/v1/scheduler/trigger/{job_id}":          pathDoc("POST", "Trigger a job immediately", "scheduler"),
			"/api/v1/stats/connections":                   pathDoc("GET", "WebSocket and connection-throttle counters", "ops"),
			"/ws/dashboard":                                pathDoc("GET", "WebSocket: dashboard topic", "websocket"),
			"/ws/anomalies":                                pathDoc("GET", "WebSocket: anomalies topic", "websocket"),
			"/ws/training":                                 pathDoc("GET", "WebSocket: training topic", "websocket"),
			"/ws/events":                                   pathDoc("GET", "WebSocket: events topic", "websocket"),
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func pathDoc(method, summary, tag string) map[string]interface{} {
	return map[string]interface{}{
		method: openAPIOperation{Summary: summary, Tags: []string{tag}},
	}
}
