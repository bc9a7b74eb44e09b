package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/acme-industrial/enms-analytics/infrastructure/httputil"
	"github.com/acme-industrial/enms-analytics/infrastructure/middleware"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
	"github.com/acme-industrial/enms-analytics/internal/app/ratelimit"
)

// timeoutWrap returns a per-route deadline wrapper. Training-class routes
// get a longer budget than the default; WebSocket upgrades are never
// wrapped since their connections outlive any request deadline.
func timeoutWrap(d time.Duration) func(http.HandlerFunc) http.HandlerFunc {
	tm := middleware.NewTimeoutMiddleware(d)
	return func(next http.HandlerFunc) http.HandlerFunc {
		wrapped := tm.Handler(next)
		return func(w http.ResponseWriter, r *http.Request) {
			wrapped.ServeHTTP(w, r)
		}
	}
}

// bypassHeader lets trusted internal callers (the scheduler's own HTTP
// calls, health probes) skip the rate limiter.
const bypassHeader = "X-Internal-Bypass"

// connectionThrottleMiddlewareWithBypass enforces the per-IP/global
// concurrent connection cap ahead of any rate-limit or handler logic.
// Applied globally to every route, including WebSocket upgrades, since an
// open WS connection holds a slot for its lifetime. Requests presenting a
// valid bypass secret skip the cap.
func connectionThrottleMiddlewareWithBypass(throttle *ratelimit.ConnectionThrottle, bypassSecretHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if throttle == nil || bypassAllowed(r, bypassSecretHash) {
				next.ServeHTTP(w, r)
				return
			}

			ip := httputil.ClientIP(r)
			release, err := throttle.Acquire(ip)
			if err != nil {
				metrics.RecordRateLimitRejection("connections")
				writeError(w, r, err)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimited wraps next with the per-IP, per-category Redis limiter. When
// the limiter is nil (Redis not configured, e.g. tests), requests pass
// through unthrottled.
func (h *Handler) rateLimited(category ratelimit.Category, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil || bypassAllowed(r, h.auth.BypassSecretHash) {
			next(w, r)
			return
		}

		ip := httputil.ClientIP(r)
		if h.limiter.Whitelisted(ip) {
			next(w, r)
			return
		}

		decision, err := h.limiter.Check(r.Context(), ip, category)
		if err != nil {
			// Redis is down: degrade to the in-process fallback limiter
			// rather than failing the request outright.
			if h.fallback != nil && !h.fallback.Allow() {
				metrics.RecordRateLimitRejection("redis_down")
				writeError(w, r, ratelimit.ResponseError(category, ratelimit.Decision{
					Allowed: false, Limit: ratelimit.LimitForCategory(category),
				}))
				return
			}
			next(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(decision.ResetIn.Seconds())))

		if !decision.Allowed {
			metrics.RecordRateLimitRejection("per_ip")
			writeError(w, r, ratelimit.ResponseError(category, decision))
			return
		}
		next(w, r)
	}
}
