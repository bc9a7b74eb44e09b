package httpapi

import (
	"net/http"
	"strconv"
	"time"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

func timeNow() time.Time { return time.Now().UTC() }

// parseWindow reads start/end query params (RFC3339), defaulting end to now
// and start to 24h before end when absent.
func parseWindow(r *http.Request, startKey, endKey string) (domain.TimeRange, error) {
	end := timeNow()
	if raw := r.URL.Query().Get(endKey); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, svcerrors.InvalidFormat(endKey, "RFC3339 timestamp")
		}
		end = parsed.UTC()
	}
	start := end.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get(startKey); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, svcerrors.InvalidFormat(startKey, "RFC3339 timestamp")
		}
		start = parsed.UTC()
	}
	return domain.TimeRange{Start: start, End: end}, nil
}

// parseGranularity maps the `interval` query param to a Granularity,
// defaulting to 1hour.
func parseGranularity(r *http.Request) (domain.Granularity, error) {
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		return domain.Granularity1Hour, nil
	}
	gran := domain.Granularity(raw)
	if !gran.Valid() {
		return "", svcerrors.InvalidFormat("interval", "one of 1min, 15min, 1hour, 1day")
	}
	return gran, nil
}

// parseScope resolves a machine_id or seu_id query param into a Scope.
func parseScope(r *http.Request) (domain.Scope, error) {
	if seuID := r.URL.Query().Get("seu_id"); seuID != "" {
		return domain.Scope{SEUID: seuID}, nil
	}
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		return domain.Scope{}, svcerrors.MissingParameter("machine_id")
	}
	return domain.Scope{MachineID: machineID}, nil
}

// parseJSONWindow parses start/end RFC3339 strings from a decoded JSON body,
// defaulting end to now and start to 14 days before end (the baseline
// training floor) when absent.
func parseJSONWindow(startRaw, endRaw string) (domain.TimeRange, error) {
	end := timeNow()
	if endRaw != "" {
		parsed, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return domain.TimeRange{}, svcerrors.InvalidFormat("end_time", "RFC3339 timestamp")
		}
		end = parsed.UTC()
	}
	start := end.Add(-14 * 24 * time.Hour)
	if startRaw != "" {
		parsed, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return domain.TimeRange{}, svcerrors.InvalidFormat("start_time", "RFC3339 timestamp")
		}
		start = parsed.UTC()
	}
	return domain.TimeRange{Start: start, End: end}, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
