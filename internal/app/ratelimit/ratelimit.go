// Package ratelimit implements the request rate-limit and
// connection-throttle layer: a per-IP, per-category limiter backed by a
// Redis atomic increment + expiry window, plus an in-process
// concurrent-connection throttle. Keeping the counters in Redis shares the
// limits across replicas instead of holding them in one process's memory.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
)

// Category is an endpoint class with its own per-IP budget.
type Category string

const (
	CategoryCritical Category = "critical"
	CategoryNormal   Category = "normal"
	CategoryHeavy    Category = "heavy"
	CategoryDefault  Category = "default"
)

// categoryLimits maps each category to its per-minute budget.
var categoryLimits = map[Category]int{
	CategoryCritical: 100,
	CategoryNormal:   60,
	CategoryHeavy:    20,
	CategoryDefault:  30,
}

// GlobalPerIPLimit is the cap across all categories combined for one IP.
const GlobalPerIPLimit = 120

const window = time.Minute

// LimitForCategory returns a category's per-minute budget, defaulting to
// CategoryDefault's if the category is unrecognized.
func LimitForCategory(c Category) int {
	if limit, ok := categoryLimits[c]; ok {
		return limit
	}
	return categoryLimits[CategoryDefault]
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter is the per-IP, per-category Redis fixed-window limiter: each
// counter resets one window after the first request that created it, and
// requests from the previous window are not carried over.
type Limiter struct {
	client    *redis.Client
	whitelist map[string]bool
	mu        sync.RWMutex
}

func New(client *redis.Client, whitelistIPs []string) *Limiter {
	l := &Limiter{client: client, whitelist: make(map[string]bool, len(whitelistIPs))}
	for _, ip := range whitelistIPs {
		l.whitelist[ip] = true
	}
	return l
}

// Whitelisted reports whether ip is exempt from limiting.
func (l *Limiter) Whitelisted(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.whitelist[ip]
}

// Check increments the (ip, category) and (ip, global) windows atomically
// and reports whether the request is allowed under both the per-category
// budget and the 120/min/IP global cap.
func (l *Limiter) Check(ctx context.Context, ip string, category Category) (Decision, error) {
	categoryCount, categoryTTL, err := l.incrementWindow(ctx, categoryKey(ip, category))
	if err != nil {
		return Decision{}, err
	}
	globalCount, globalTTL, err := l.incrementWindow(ctx, globalKey(ip))
	if err != nil {
		return Decision{}, err
	}

	limit := LimitForCategory(category)
	remaining := limit - categoryCount
	resetIn := categoryTTL
	if globalCount > GlobalPerIPLimit {
		limit = GlobalPerIPLimit
		remaining = GlobalPerIPLimit - globalCount
		resetIn = globalTTL
	}
	if remaining < 0 {
		remaining = 0
	}

	allowed := categoryCount <= limit && globalCount <= GlobalPerIPLimit
	return Decision{Allowed: allowed, Limit: limit, Remaining: remaining, ResetIn: resetIn}, nil
}

// incrementWindow applies the INCR-then-EXPIRE-on-first-increment pattern:
// the key's TTL is set only the first time it's created, so the window
// resets exactly `window` after the first request in it.
func (l *Limiter) incrementWindow(ctx context.Context, key string) (count int, ttl time.Duration, err error) {
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		return int(n), window, nil
	}
	remaining, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if remaining <= 0 {
		remaining = window
	}
	return int(n), remaining, nil
}

func categoryKey(ip string, category Category) string {
	return "ratelimit:cat:" + string(category) + ":" + ip
}

func globalKey(ip string) string {
	return "ratelimit:global:" + ip
}

// ResponseError builds the standardized 429 body for an exceeded category.
func ResponseError(category Category, decision Decision) *svcerrors.ServiceError {
	err := svcerrors.RateLimitExceeded(decision.Limit, window.String())
	return err.WithDetails("category", string(category)).
		WithDetails("retry_after", int(decision.ResetIn.Seconds()))
}

// ConnectionThrottle caps concurrent in-flight requests per IP and
// overall. Unlike Limiter, this never touches Redis: a connection is
// process-local by definition.
type ConnectionThrottle struct {
	perIPLimit int
	totalLimit int

	mu      sync.Mutex
	perIP   map[string]int
	total   int
}

func NewConnectionThrottle(perIPLimit, totalLimit int) *ConnectionThrottle {
	return &ConnectionThrottle{perIPLimit: perIPLimit, totalLimit: totalLimit, perIP: make(map[string]int)}
}

// Acquire reserves a connection slot for ip. Release must be called exactly
// once for every successful Acquire.
func (c *ConnectionThrottle) Acquire(ip string) (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.total >= c.totalLimit {
		return nil, tooManyConnectionsError("global", c.totalLimit)
	}
	if c.perIP[ip] >= c.perIPLimit {
		return nil, tooManyConnectionsError(ip, c.perIPLimit)
	}

	c.total++
	c.perIP[ip]++
	released := false
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if released {
			return
		}
		released = true
		c.total--
		c.perIP[ip]--
		if c.perIP[ip] <= 0 {
			delete(c.perIP, ip)
		}
	}, nil
}

// ThrottleStats is the introspection snapshot served at
// GET /stats/connections.
type ThrottleStats struct {
	Total      int `json:"total_connections"`
	TotalLimit int `json:"total_limit"`
	PerIPLimit int `json:"per_ip_limit"`
	UniqueIPs  int `json:"unique_ips"`
}

func (c *ConnectionThrottle) Stats() ThrottleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ThrottleStats{
		Total:      c.total,
		TotalLimit: c.totalLimit,
		PerIPLimit: c.perIPLimit,
		UniqueIPs:  len(c.perIP),
	}
}

// tooManyConnectionsError builds the 503 connection-throttle body
// (distinct HTTP status from the 429 request-rate-limit error, even though
// both constructors live in infrastructure/errors).
func tooManyConnectionsError(scope string, limit int) *svcerrors.ServiceError {
	err := svcerrors.TooManyConnections(scope, limit)
	err.HTTPStatus = http.StatusServiceUnavailable
	return err
}
