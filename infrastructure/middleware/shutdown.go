// Package middleware provides HTTP middleware for the service layer.
package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/acme-industrial/enms-analytics/infrastructure/httputil"
)

// DrainGate rejects new requests once the server has begun draining, so
// in-flight work can finish while load balancers and clients are told to
// retry elsewhere. Health probes stay reachable so orchestrators can watch
// the drain progress.
type DrainGate struct {
	draining   atomic.Bool
	allowPaths map[string]bool
}

// NewDrainGate creates a drain gate. allowPaths (e.g. "/health", "/livez")
// keep responding even while draining.
func NewDrainGate(allowPaths ...string) *DrainGate {
	allowed := make(map[string]bool, len(allowPaths))
	for _, p := range allowPaths {
		allowed[p] = true
	}
	return &DrainGate{allowPaths: allowed}
}

// StartDraining flips the gate; every subsequent request outside allowPaths
// receives 503. Idempotent.
func (g *DrainGate) StartDraining() {
	g.draining.Store(true)
}

// Draining reports whether the gate has been flipped.
func (g *DrainGate) Draining() bool {
	return g.draining.Load()
}

// Handler returns the drain-gate middleware handler.
func (g *DrainGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.draining.Load() && !g.allowPaths[r.URL.Path] {
			w.Header().Set("Retry-After", "5")
			httputil.WriteErrorResponse(
				w,
				r,
				http.StatusServiceUnavailable,
				"SHUTTING_DOWN",
				"server is shutting down",
				map[string]any{"retry_after": 5},
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}
