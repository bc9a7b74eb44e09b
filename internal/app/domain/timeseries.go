package domain

import "time"

// Granularity is a continuous-aggregate resolution. Each granularity is
// materialized directly from the raw hypertable, never stacked from a
// coarser or finer aggregate.
type Granularity string

const (
	Granularity1Min  Granularity = "1min"
	Granularity15Min Granularity = "15min"
	Granularity1Hour Granularity = "1hour"
	Granularity1Day  Granularity = "1day"
)

// granularityOrder lists granularities from coarsest to finest; used by the
// Feature Aggregator to walk from coarse to fine looking for the first that
// satisfies a minimum sample count.
var granularityOrder = []Granularity{Granularity1Day, Granularity1Hour, Granularity15Min, Granularity1Min}

// Granularities returns the supported granularities, coarsest first.
func Granularities() []Granularity {
	out := make([]Granularity, len(granularityOrder))
	copy(out, granularityOrder)
	return out
}

// SubDailyGranularities returns the granularities at 1hour or finer,
// coarsest first. Model training and anomaly detection select from these:
// daily buckets flatten the production and weather variation a regression
// needs, producing models that fit poorly.
func SubDailyGranularities() []Granularity {
	return []Granularity{Granularity1Hour, Granularity15Min, Granularity1Min}
}

// Duration returns the bucket width of a granularity, or 0 if unrecognized.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Granularity1Min:
		return time.Minute
	case Granularity15Min:
		return 15 * time.Minute
	case Granularity1Hour:
		return time.Hour
	case Granularity1Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether g is one of the four supported granularities.
func (g Granularity) Valid() bool {
	return g.Duration() > 0
}

// TimeRange is an inclusive-start/exclusive-end UTC window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FeatureRow is one bucket's worth of resolved feature values, as produced
// by the Feature Aggregator.
type FeatureRow struct {
	Bucket   time.Time          `json:"bucket"`
	Features map[string]float64 `json:"features"`
}

// FeatureTable is an ascending-bucket-ordered sequence of FeatureRow, plus
// bookkeeping about the query that produced it.
type FeatureTable struct {
	Scope           Scope             `json:"scope"`
	Granularity     Granularity       `json:"granularity"`
	Rows            []FeatureRow      `json:"rows"`
	DroppedFeatures map[string]string `json:"dropped_features,omitempty"` // feature_key -> reason
}

// EnergyReading is one raw (or continuous-aggregate) row of the unified
// multi-energy telemetry stream.
type EnergyReading struct {
	Time        time.Time      `json:"time" db:"time"`
	MachineID   string         `json:"machine_id" db:"machine_id"`
	EnergyType  string         `json:"energy_type" db:"energy_type"`
	PowerKW     float64        `json:"power_kw" db:"power_kw"`
	MaxPowerKW  float64        `json:"max_power_kw" db:"max_power_kw"`
	MinPowerKW  float64        `json:"min_power_kw" db:"min_power_kw"`
	EnergyKWh   float64        `json:"energy_kwh" db:"energy_kwh"`
	Voltage     *float64       `json:"voltage,omitempty" db:"voltage"`
	Current     *float64       `json:"current,omitempty" db:"current"`
	PowerFactor *float64       `json:"power_factor,omitempty" db:"power_factor"`
	Frequency   *float64       `json:"frequency,omitempty" db:"frequency"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"-"`
}

// ProductionPoint is one raw/aggregate row of the production stream.
type ProductionPoint struct {
	Time       time.Time `json:"time" db:"time"`
	MachineID  string    `json:"machine_id" db:"machine_id"`
	Count      float64   `json:"count" db:"count"`
	Good       float64   `json:"good" db:"good"`
	Defective  float64   `json:"defective" db:"defective"`
	Throughput float64   `json:"throughput" db:"throughput"`
}

// EnvironmentalPoint is one raw/aggregate row of the environmental stream.
type EnvironmentalPoint struct {
	Time            time.Time `json:"time" db:"time"`
	MachineID       string    `json:"machine_id" db:"machine_id"`
	OutdoorTempC    float64   `json:"outdoor_temp_c" db:"outdoor_temp_c"`
	IndoorTempC     float64   `json:"indoor_temp_c" db:"indoor_temp_c"`
	MachineTempC    float64   `json:"machine_temp_c" db:"machine_temp_c"`
	HumidityPercent float64   `json:"humidity_percent" db:"humidity_percent"`
	PressureBar     float64   `json:"pressure_bar" db:"pressure_bar"`
}

// SeriesPoint is a generic (timestamp, value) pair used by the timeseries
// REST endpoints (energy/power/sec/cost/carbon/load-factor).
type SeriesPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}
