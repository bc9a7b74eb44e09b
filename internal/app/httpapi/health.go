package httpapi

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/acme-industrial/enms-analytics/infrastructure/middleware"
)

// healthResponse is the `GET /health` body: service status plus
// dependencies, feature flags, and a scheduler summary.
type healthResponse struct {
	Status       string                 `json:"status"`
	Version      string                 `json:"version"`
	UptimeSecs   float64                `json:"uptime_seconds"`
	Dependencies map[string]string      `json:"dependencies"`
	Features     map[string]bool        `json:"features"`
	Scheduler    interface{}            `json:"scheduler,omitempty"`
	Runtime      map[string]interface{} `json:"runtime,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{"store": "ok"}
	status := "healthy"

	if err := h.store.Ping(r.Context()); err != nil {
		deps["store"] = "unavailable"
		status = "degraded"
	}
	if h.bus != nil {
		deps["event_bus"] = "ok"
	} else {
		deps["event_bus"] = "disabled"
	}

	runtime := middleware.RuntimeStats()
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		runtime["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		runtime["memory_used_percent"] = vm.UsedPercent
	}

	var schedulerSummary interface{}
	if h.scheduler != nil {
		schedulerSummary = h.scheduler.Status()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		Version:    h.version,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Dependencies: deps,
		Features: map[string]bool{
			"websocket_enabled":  h.hub != nil,
			"event_bus_enabled":  h.bus != nil,
			"rate_limit_enabled": h.limiter != nil,
		},
		Scheduler: schedulerSummary,
		Runtime:   runtime,
	})
}
