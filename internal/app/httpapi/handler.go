// Package httpapi implements the HTTP API surface: request validation,
// rate-limiting, dispatch to the engines, response shaping, and event
// publication.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/acme-industrial/enms-analytics/infrastructure/logging"
	"github.com/acme-industrial/enms-analytics/infrastructure/middleware"
	appratelimit "github.com/acme-industrial/enms-analytics/infrastructure/ratelimit"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
	"github.com/acme-industrial/enms-analytics/internal/app/ratelimit"
	"github.com/acme-industrial/enms-analytics/internal/app/services/anomaly"
	"github.com/acme-industrial/enms-analytics/internal/app/services/baseline"
	"github.com/acme-industrial/enms-analytics/internal/app/services/eventbus"
	"github.com/acme-industrial/enms-analytics/internal/app/services/features"
	"github.com/acme-industrial/enms-analytics/internal/app/services/kpi"
	"github.com/acme-industrial/enms-analytics/internal/app/services/scheduler"
	"github.com/acme-industrial/enms-analytics/internal/app/services/wsfanout"
	"github.com/acme-industrial/enms-analytics/internal/app/storage"
)

// Deps collects everything the HTTP surface needs to serve requests. Every
// field besides Store is optional: a nil engine/hub/limiter degrades the
// endpoints that need it to a 503 instead of crashing.
type Deps struct {
	Store     storage.Store
	Features  *features.Aggregator
	Baseline  *baseline.Engine
	Anomaly   *anomaly.Engine
	KPI       *kpi.Engine
	Scheduler *scheduler.Scheduler
	Hub       *wsfanout.Hub
	Bus       *eventbus.Bus
	Limiter   *ratelimit.Limiter
	Throttle  *ratelimit.ConnectionThrottle
	Fallback  *appratelimit.RateLimiter
	Auth      AuthConfig
	Version   string
	Log       *logrus.Entry

	// AppLogger feeds the recovery and request-logging middleware; when nil
	// (tests) those layers are skipped.
	AppLogger *logging.Logger
}

// Handler holds the dependencies every route handler closes over.
type Handler struct {
	store     storage.Store
	features  *features.Aggregator
	baseline  *baseline.Engine
	anomaly   *anomaly.Engine
	kpi       *kpi.Engine
	scheduler *scheduler.Scheduler
	hub       *wsfanout.Hub
	bus       *eventbus.Bus
	limiter   *ratelimit.Limiter
	throttle  *ratelimit.ConnectionThrottle
	fallback  *appratelimit.RateLimiter
	auth      AuthConfig
	log       *logrus.Entry
	version   string
	startedAt time.Time
}

// NewRouter builds the full gorilla/mux router for the REST and WebSocket
// surface.
func NewRouter(deps Deps) *mux.Router {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Handler{
		store: deps.Store, features: deps.Features, baseline: deps.Baseline,
		anomaly: deps.Anomaly, kpi: deps.KPI, scheduler: deps.Scheduler,
		hub: deps.Hub, bus: deps.Bus, limiter: deps.Limiter, throttle: deps.Throttle,
		fallback: deps.Fallback, auth: deps.Auth, log: log, version: deps.Version, startedAt: time.Now().UTC(),
	}

	r := mux.NewRouter()
	if deps.AppLogger != nil {
		r.Use(middleware.NewRecoveryMiddleware(deps.AppLogger).Handler)
		r.Use(middleware.LoggingMiddleware(deps.AppLogger))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	r.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: []string{"*"}}).Handler)
	r.Use(middleware.NewValidationMiddleware(middleware.DefaultValidationConfig()).Handler)
	r.Use(middleware.NewBodyLimitMiddleware(maxRequestBodyBytes).Handler)
	if deps.Limiter == nil {
		// No Redis-backed limiter configured: fall back to the in-process
		// per-key limiter so the surface is never entirely unthrottled.
		perKey := middleware.NewRateLimiterFromConfig(middleware.DefaultRateLimiterConfig(deps.AppLogger))
		r.Use(perKey.Handler)
	}
	r.Use(connectionThrottleMiddlewareWithBypass(deps.Throttle, deps.Auth.BypassSecretHash))
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/livez", middleware.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", h.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", h.handleDocs).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(deps.Auth))

	std := timeoutWrap(requestTimeout)
	long := timeoutWrap(trainingTimeout)

	api.HandleFunc("/machines", std(h.rateLimited(ratelimit.CategoryNormal, h.listMachines))).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}", std(h.rateLimited(ratelimit.CategoryNormal, h.getMachine))).Methods(http.MethodGet)
	api.HandleFunc("/machines/status/{name}", std(h.rateLimited(ratelimit.CategoryNormal, h.getMachineStatusByName))).Methods(http.MethodGet)
	api.HandleFunc("/seus", std(h.rateLimited(ratelimit.CategoryNormal, h.listSEUs))).Methods(http.MethodGet)
	api.HandleFunc("/energy-sources", std(h.rateLimited(ratelimit.CategoryNormal, h.listEnergySources))).Methods(http.MethodGet)
	api.HandleFunc("/ovos/available-features", std(h.rateLimited(ratelimit.CategoryNormal, h.availableFeatures))).Methods(http.MethodGet)

	api.HandleFunc("/timeseries/{metric}", std(h.rateLimited(ratelimit.CategoryHeavy, h.getTimeseries))).Methods(http.MethodGet)
	api.HandleFunc("/timeseries/latest/{machine_id}", std(h.rateLimited(ratelimit.CategoryNormal, h.getLatestReading))).Methods(http.MethodGet)
	api.HandleFunc("/timeseries/multi-machine/energy", std(h.rateLimited(ratelimit.CategoryHeavy, h.getMultiMachineEnergy))).Methods(http.MethodGet)

	api.HandleFunc("/kpi/all", std(h.rateLimited(ratelimit.CategoryHeavy, h.getAllKPIs))).Methods(http.MethodGet)
	api.HandleFunc("/kpi/{kpi}", std(h.rateLimited(ratelimit.CategoryHeavy, h.getKPI))).Methods(http.MethodGet)

	api.HandleFunc("/baseline/models", std(h.rateLimited(ratelimit.CategoryNormal, h.listBaselineModels))).Methods(http.MethodGet)
	api.HandleFunc("/baseline/model/{model_id}", std(h.rateLimited(ratelimit.CategoryNormal, h.getBaselineModel))).Methods(http.MethodGet)
	api.HandleFunc("/baseline/model/{model_id}/performance", std(h.rateLimited(ratelimit.CategoryNormal, h.getBaselineModelPerformance))).Methods(http.MethodGet)
	api.HandleFunc("/baseline/train", long(h.rateLimited(ratelimit.CategoryCritical, h.trainBaseline))).Methods(http.MethodPost)
	api.HandleFunc("/baseline/predict", std(h.rateLimited(ratelimit.CategoryNormal, h.predictBaseline))).Methods(http.MethodPost)
	api.HandleFunc("/baseline/deviation", std(h.rateLimited(ratelimit.CategoryHeavy, h.getBaselineDeviation))).Methods(http.MethodGet)

	api.HandleFunc("/anomaly/recent", std(h.rateLimited(ratelimit.CategoryNormal, h.recentAnomalies))).Methods(http.MethodGet)
	api.HandleFunc("/anomaly/active", std(h.rateLimited(ratelimit.CategoryNormal, h.activeAnomalies))).Methods(http.MethodGet)
	api.HandleFunc("/anomaly/detect", long(h.rateLimited(ratelimit.CategoryCritical, h.detectAnomalies))).Methods(http.MethodPost)
	api.HandleFunc("/anomaly/create", std(h.rateLimited(ratelimit.CategoryNormal, h.createAnomaly))).Methods(http.MethodPost)
	api.HandleFunc("/anomaly/{id}/resolve", std(h.rateLimited(ratelimit.CategoryNormal, h.resolveAnomaly))).Methods(http.MethodPut)

	api.HandleFunc("/ovos/train-baseline", long(h.rateLimited(ratelimit.CategoryCritical, h.ovosTrainBaseline))).Methods(http.MethodPost)

	api.HandleFunc("/scheduler/status", std(h.rateLimited(ratelimit.CategoryNormal, h.schedulerStatus))).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/trigger/{job_id}", std(h.rateLimited(ratelimit.CategoryCritical, h.schedulerTrigger))).Methods(http.MethodPost)

	api.HandleFunc("/stats/connections", std(h.rateLimited(ratelimit.CategoryNormal, h.connectionStats))).Methods(http.MethodGet)

	r.HandleFunc("/ws/dashboard", h.serveWS(wsfanout.TopicDashboard))
	r.HandleFunc("/ws/anomalies", h.serveWS(wsfanout.TopicAnomalies))
	r.HandleFunc("/ws/training", h.serveWS(wsfanout.TopicTraining))
	r.HandleFunc("/ws/events", h.serveWS(wsfanout.TopicEvents))

	return r
}

func (h *Handler) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!doctype html><html><head><title>EnMS Analytics API</title></head>` +
		`<body><h1>EnMS Analytics API</h1><p>See <a href="/openapi.json">/openapi.json</a>.</p></body></html>`))
}
