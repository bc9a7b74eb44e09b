package httpapi

import (
	"net/http"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/infrastructure/httputil"
)

// writeError renders any error as the uniform `{error, message, details,
// trace_id}` envelope. Callers anywhere in the engines raise
// *errors.ServiceError; anything else is treated as an unclassified internal
// failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := svcerrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = svcerrors.Internal("unexpected error", err)
	}
	httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// writeJSON is a thin re-export so handler files only import this package.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSON(w, status, data)
}
