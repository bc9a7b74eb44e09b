// Package features implements the Feature Aggregator: given a
// scope, time range, and requested feature keys, returns a dense,
// time-ordered table joining energy, production, environmental, and
// derived signals, picking the coarsest granularity that satisfies a
// minimum sample floor.
package features

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	coresvc "github.com/acme-industrial/enms-analytics/internal/app/core/service"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
)

// DefaultBaseTempC is the balance-point temperature used for heating/cooling
// degree-day derivation when the caller does not override it.
const DefaultBaseTempC = 18.0

// Minimum sample floors per caller class.
const (
	MinSamplesBaseline = 50
	MinSamplesAnomaly  = 20
	MinSamplesAdHoc    = 1
)

// CoverageThreshold is the fraction of non-null buckets a feature's coverage
// over the window must exceed to be retained.
const CoverageThreshold = 0.10

// timeSeriesSource is the subset of storage.TimeSeriesStore/ReferenceStore
// the aggregator needs; narrowed here so it can be exercised with a fake in
// tests without pulling in the whole storage.Store surface.
type timeSeriesSource interface {
	EnergyAggregate(ctx context.Context, machineID, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error)
	ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error)
	EnvironmentalAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnvironmentalPoint, error)
	FeaturesForSource(ctx context.Context, sourceID string) ([]domain.EnergySourceFeature, error)
	SEUByID(ctx context.Context, id string) (domain.SEU, error)
}

// Aggregator resolves feature tables for the Baseline and Anomaly engines.
type Aggregator struct {
	store timeSeriesSource
	hooks coresvc.ObservationHooks
}

func New(store timeSeriesSource) *Aggregator {
	return &Aggregator{store: store}
}

// WithHooks attaches observation hooks fired around every table build and
// returns the aggregator for chaining.
func (a *Aggregator) WithHooks(hooks coresvc.ObservationHooks) *Aggregator {
	a.hooks = hooks
	return a
}

// resolveMachines expands a scope to the set of machine IDs it covers: a
// single machine for a machine-scope, or SEU.MachineIDs for an SEU-scope.
func (a *Aggregator) resolveMachines(ctx context.Context, scope domain.Scope) ([]string, error) {
	if !scope.IsSEU() {
		return []string{scope.MachineID}, nil
	}
	seu, err := a.store.SEUByID(ctx, scope.SEUID)
	if err != nil {
		return nil, err
	}
	return seu.MachineIDs, nil
}

// Features builds a FeatureTable for the given scope/window/keys, picking
// the coarsest granularity satisfying minSamples. Unknown feature keys are
// rejected; the energySourceID is used to resolve declared features
// against EnergySourceFeature rows.
func (a *Aggregator) Features(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int) (domain.FeatureTable, error) {
	return a.FeaturesAt(ctx, scope, energySourceID, window, requestedKeys, minSamples, domain.Granularities())
}

// FeaturesAt is Features with an explicit candidate granularity list,
// walked coarsest-first. The Baseline and Anomaly engines pass
// domain.SubDailyGranularities() so daily buckets are never selected for
// model fitting.
func (a *Aggregator) FeaturesAt(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int, candidates []domain.Granularity) (domain.FeatureTable, error) {
	finish := coresvc.StartObservation(ctx, a.hooks, map[string]string{"machine_id": scope.MachineID})
	table, err := a.featuresAt(ctx, scope, energySourceID, window, requestedKeys, minSamples, candidates)
	finish(err)
	return table, err
}

func (a *Aggregator) featuresAt(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int, candidates []domain.Granularity) (domain.FeatureTable, error) {
	if !window.End.After(window.Start) {
		return domain.FeatureTable{}, errors.InsufficientData("feature aggregation", 0, minSamples)
	}
	declared, err := a.store.FeaturesForSource(ctx, energySourceID)
	if err != nil {
		return domain.FeatureTable{}, err
	}
	declaredSet := make(map[string]domain.EnergySourceFeature, len(declared))
	for _, f := range declared {
		declaredSet[f.FeatureKey] = f
	}
	for _, key := range requestedKeys {
		if isDerivedFeature(key) {
			continue
		}
		if _, ok := declaredSet[key]; !ok {
			return domain.FeatureTable{}, errors.BadRequest("unknown feature key: " + key)
		}
	}

	machines, err := a.resolveMachines(ctx, scope)
	if err != nil {
		return domain.FeatureTable{}, err
	}

	var chosen domain.Granularity
	var rows []domain.FeatureRow
	for i, gran := range candidates {
		candidate, err := a.buildRows(ctx, machines, window, gran)
		if err != nil {
			return domain.FeatureTable{}, err
		}
		if len(candidate) >= minSamples {
			chosen, rows = gran, candidate
			break
		}
		if i == len(candidates)-1 {
			return domain.FeatureTable{}, errors.InsufficientData("feature aggregation", len(candidate), minSamples)
		}
	}

	dropped, coverage := dropLowCoverage(rows, requestedKeys)
	if !scope.IsSEU() {
		metrics.SetFeatureCoverage(scope.MachineID, string(chosen), coverage)
	}

	table := domain.FeatureTable{
		Scope:           scope,
		Granularity:     chosen,
		Rows:            rows,
		DroppedFeatures: dropped,
	}
	return table, nil
}

// buildRows joins energy/production/environmental aggregates across all of
// a scope's machines by bucket, then layers in derived features.
func (a *Aggregator) buildRows(ctx context.Context, machineIDs []string, window domain.TimeRange, gran domain.Granularity) ([]domain.FeatureRow, error) {
	byBucket := make(map[int64]map[string]float64)
	var order []int64

	addPoint := func(bucketUnix int64, key string, value float64) {
		row, ok := byBucket[bucketUnix]
		if !ok {
			row = make(map[string]float64)
			byBucket[bucketUnix] = row
			order = append(order, bucketUnix)
		}
		row[key] += value
	}

	for _, machineID := range machineIDs {
		energy, err := a.store.EnergyAggregate(ctx, machineID, "", window, gran)
		if err != nil {
			return nil, err
		}
		for _, e := range energy {
			t := e.Time.Unix()
			addPoint(t, "avg_power_kw", e.PowerKW)
			addPoint(t, "total_energy_kwh", e.EnergyKWh)
			if e.MaxPowerKW > 0 {
				addPoint(t, "avg_load_factor", e.PowerKW/e.MaxPowerKW)
			}
		}

		production, err := a.store.ProductionAggregate(ctx, machineID, window, gran)
		if err != nil {
			return nil, err
		}
		for _, p := range production {
			t := p.Time.Unix()
			addPoint(t, "total_production_count", p.Count)
			addPoint(t, "avg_throughput", p.Throughput)
		}

		environmental, err := a.store.EnvironmentalAggregate(ctx, machineID, window, gran)
		if err != nil {
			return nil, err
		}
		for _, env := range environmental {
			t := env.Time.Unix()
			addPoint(t, "avg_outdoor_temp_c", env.OutdoorTempC)
			addPoint(t, "avg_indoor_temp_c", env.IndoorTempC)
			addPoint(t, "avg_machine_temp_c", env.MachineTempC)
			addPoint(t, "avg_humidity_percent", env.HumidityPercent)
			addPoint(t, "avg_pressure_bar", env.PressureBar)
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	rows := make([]domain.FeatureRow, 0, len(order))
	for _, bucketUnix := range order {
		rows = append(rows, domain.FeatureRow{
			Bucket:   time.Unix(bucketUnix, 0).UTC(),
			Features: byBucket[bucketUnix],
		})
	}
	applyDerivedFeatures(rows, DefaultBaseTempC)
	return rows, nil
}

// isDerivedFeature reports whether a key is computed in-process rather than
// resolved against EnergySourceFeature declarations.
func isDerivedFeature(key string) bool {
	switch key {
	case "is_weekend", "heating_degree_days", "cooling_degree_days":
		return true
	}
	return false
}

// applyDerivedFeatures fills in the computed feature columns.
func applyDerivedFeatures(rows []domain.FeatureRow, baseTempC float64) {
	for i := range rows {
		t := rows[i].Bucket.UTC()
		weekday := t.Weekday()
		if weekday == 0 || weekday == 6 {
			rows[i].Features["is_weekend"] = 1
		} else {
			rows[i].Features["is_weekend"] = 0
		}
		if outdoor, ok := rows[i].Features["avg_outdoor_temp_c"]; ok {
			rows[i].Features["heating_degree_days"] = math.Max(0, baseTempC-outdoor)
			rows[i].Features["cooling_degree_days"] = math.Max(0, outdoor-baseTempC)
		}
	}
}

// dropLowCoverage measures non-null coverage per requested feature across
// the window and strips any below CoverageThreshold. It returns a
// feature_key -> reason map of what was dropped plus the mean coverage
// ratio across the requested features.
func dropLowCoverage(rows []domain.FeatureRow, requestedKeys []string) (map[string]string, float64) {
	if len(rows) == 0 || len(requestedKeys) == 0 {
		return nil, 0
	}
	dropped := make(map[string]string)
	var coverageSum float64
	for _, key := range requestedKeys {
		present := 0
		for _, row := range rows {
			if _, ok := row.Features[key]; ok {
				present++
			}
		}
		coverage := float64(present) / float64(len(rows))
		coverageSum += coverage
		if coverage <= CoverageThreshold {
			dropped[key] = "coverage below threshold"
			for _, row := range rows {
				delete(row.Features, key)
			}
		}
	}
	mean := coverageSum / float64(len(requestedKeys))
	if len(dropped) == 0 {
		return nil, mean
	}
	return dropped, mean
}
