package middleware

import (
	"context"

	"github.com/acme-industrial/enms-analytics/infrastructure/logging"
)

// GetUserID returns the authenticated user ID from the request context, set
// by the optional JWT bearer-auth hook. Empty when auth is disabled or the
// request is unauthenticated.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole returns the authenticated user's role from the request context.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}
