package features

import (
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// MetadataSourceTable is the EnergySourceFeature.SourceTable sentinel an
// operator uses to declare a feature computed from a reading's free-form
// `metadata` blob rather than from a fixed
// aggregate column. SourceColumn is then a JSON path evaluated against the
// reading's decoded metadata, e.g. "$.compressor.duty_cycle". This is what
// lets a deployment add a machine-specific signal without a code change or
// a new continuous aggregate.
const MetadataSourceTable = "metadata"

// ResolveDerivedValue evaluates a metadata-sourced feature declaration
// against one reading's decoded metadata map, returning ok=false when the
// declaration isn't metadata-sourced, the path doesn't resolve, or the
// resolved value isn't numeric. Coverage filtering treats any of these as
// "absent" for that bucket, not an error.
func ResolveDerivedValue(feature domain.EnergySourceFeature, metadata map[string]any) (float64, bool) {
	if feature.SourceTable != MetadataSourceTable || metadata == nil {
		return 0, false
	}
	path := feature.SourceColumn
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	v, err := jsonpath.Get(path, map[string]any(metadata))
	if err != nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
