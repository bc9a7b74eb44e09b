package httpapi

import (
	"net/http"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
)

// serveWS binds a WebSocket route to one fan-out topic. When the
// hub is disabled (WEBSOCKET_ENABLED=false) every topic degrades to 503
// rather than panicking on a nil hub.
func (h *Handler) serveWS(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.hub == nil {
			writeError(w, r, svcerrors.TransientUnavailable("websocket", nil))
			return
		}
		if err := h.hub.ServeWS(w, r, topic); err != nil {
			h.log.WithError(err).WithField("topic", topic).Warn("websocket upgrade failed")
		}
	}
}
