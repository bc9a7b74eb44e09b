// Package anomaly implements the Anomaly Engine: an
// Isolation-Forest-style unsupervised detector over per-bucket feature
// vectors, optionally augmented by baseline deviation, with severity
// classification and persist+publish on first sighting.
package anomaly

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
)

// DefaultContamination is the expected fraction of anomalous points in a
// detection window.
const DefaultContamination = 0.1

// machineStatusSource resolves the external machine-status signal used to
// gate detection: buckets where the machine was under
// maintenance or faulted are excluded before scoring.
type machineStatusSource interface {
	MachineStatusAt(ctx context.Context, machineID string, at time.Time) (string, error)
}

// featureAggregator is the subset of features.Aggregator the engine needs.
type featureAggregator interface {
	FeaturesAt(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int, candidates []domain.Granularity) (domain.FeatureTable, error)
}

// baselineDeviation is the subset of the Baseline Engine needed to augment
// feature vectors with |actual-predicted|.
type baselineDeviation interface {
	Deviation(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange) (domain.DeviationResult, error)
}

// anomalyStore is the subset of storage.Store the engine needs.
type anomalyStore interface {
	SaveAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, bool, error)
}

// Engine is the Anomaly Engine.
type Engine struct {
	aggregator    featureAggregator
	baseline      baselineDeviation
	status        machineStatusSource
	store         anomalyStore
	contamination float64
	publish       func(event string, payload any)
	rng           *rand.Rand
}

func New(aggregator featureAggregator, baseline baselineDeviation, status machineStatusSource, store anomalyStore, publish func(event string, payload any)) *Engine {
	if publish == nil {
		publish = func(string, any) {}
	}
	return &Engine{
		aggregator:    aggregator,
		baseline:      baseline,
		status:        status,
		store:         store,
		contamination: DefaultContamination,
		publish:       publish,
		rng:           rand.New(rand.NewSource(1)),
	}
}

// excludeGatedBuckets drops rows whose bucket falls while the machine was
// under maintenance or faulted: such buckets are expected
// to deviate and would otherwise pollute both the forest fit and the
// baseline residuals.
func (e *Engine) excludeGatedBuckets(ctx context.Context, machineID string, rows []domain.FeatureRow) []domain.FeatureRow {
	kept := make([]domain.FeatureRow, 0, len(rows))
	for _, row := range rows {
		status, err := e.status.MachineStatusAt(ctx, machineID, row.Bucket)
		if err == nil && (status == domain.MachineStatusMaintenance || status == domain.MachineStatusFault) {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

// detectionFeatureKeys is the fixed feature set fed to the forest.
var detectionFeatureKeys = []string{
	"avg_power_kw", "avg_outdoor_temp_c", "avg_machine_temp_c", "avg_pressure_bar", "avg_throughput",
}

const minDetectionSamples = 20

// Detect runs one detection pass over scope/window, persisting and
// publishing any newly observed anomalies.
func (e *Engine) Detect(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, useBaseline bool) (anomalies []domain.Anomaly, err error) {
	start := time.Now()
	defer func() { metrics.RecordDetection(time.Since(start), err == nil) }()
	return e.detect(ctx, scope, energySourceKey, energySourceID, window, useBaseline)
}

func (e *Engine) detect(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, useBaseline bool) ([]domain.Anomaly, error) {
	table, err := e.aggregator.FeaturesAt(ctx, scope, energySourceID, window, detectionFeatureKeys, minDetectionSamples, domain.SubDailyGranularities())
	if err != nil {
		return nil, err
	}

	if e.status != nil && !scope.IsSEU() {
		table.Rows = e.excludeGatedBuckets(ctx, scope.MachineID, table.Rows)
	}

	var deviationByBucket map[int64]float64
	if useBaseline {
		deviation, err := e.baseline.Deviation(ctx, scope, energySourceKey, energySourceID, window)
		if err == nil {
			deviationByBucket = make(map[int64]float64, len(deviation.Points))
			for _, p := range deviation.Points {
				deviationByBucket[p.Bucket.Unix()] = absFloat(p.Delta)
			}
		}
		// A missing/untrained baseline degrades gracefully: detection
		// proceeds without the extra feature.
	}

	keys := append([]string(nil), detectionFeatureKeys...)
	if deviationByBucket != nil {
		keys = append(keys, "baseline_deviation")
	}

	points := make([][]float64, 0, len(table.Rows))
	rows := make([]domain.FeatureRow, 0, len(table.Rows))
	for _, row := range table.Rows {
		vec := make([]float64, 0, len(keys))
		complete := true
		for _, k := range keys {
			if k == "baseline_deviation" {
				v, ok := deviationByBucket[row.Bucket.Unix()]
				if !ok {
					complete = false
					break
				}
				vec = append(vec, v)
				continue
			}
			v, ok := row.Features[k]
			if !ok {
				complete = false
				break
			}
			vec = append(vec, v)
		}
		if !complete {
			continue
		}
		points = append(points, vec)
		rows = append(rows, row)
	}
	if len(points) == 0 {
		return nil, nil
	}

	forest := NewForest(points, e.rng)
	scores := make([]float64, len(points))
	for i, p := range points {
		scores[i] = forest.Score(p)
	}
	threshold := ContaminationThreshold(scores, e.contamination)

	powerSeries := columnOf(points, keys, "avg_power_kw")
	powerMean, powerStd := meanStdDev(powerSeries)

	var detected []domain.Anomaly
	for i, score := range scores {
		if score < threshold {
			continue
		}
		row := rows[i]
		power := points[i][indexOf(keys, "avg_power_kw")]
		zscore := 0.0
		if powerStd > 0 {
			zscore = (power - powerMean) / powerStd
		}

		anomalyType, metric, actual, expected := classify(keys, points[i], powerMean, zscore, deviationByBucket, row)
		severity := domain.ClassifySeverity(absFloat(zscore))

		deviation := actual - expected
		deviationPct := 0.0
		if expected != 0 {
			deviationPct = deviation / expected * 100
		}

		a := domain.Anomaly{
			MachineID:        scope.MachineID,
			DetectedAt:       row.Bucket,
			Type:             anomalyType,
			Severity:         severity,
			Metric:           metric,
			Actual:           actual,
			Expected:         expected,
			Deviation:        deviation,
			DeviationPercent: deviationPct,
			Confidence:       score,
			Status:           domain.AnomalyStatusOpen,
		}

		saved, created, err := e.store.SaveAnomaly(ctx, a)
		if err != nil {
			return nil, err
		}
		if created {
			e.publish(domain.ChannelAnomalyDetected, domain.NewAnomalyDetectedEvent(saved))
		}
		detected = append(detected, saved)
	}

	detected = classifyDrift(detected)
	return detected, nil
}

// classify assigns an anomaly type and identifies the dominant metric:
// baseline deviation first (if present and dominant), then power spike/drop
// by z-score, then the single strongest typed feature.
func classify(keys []string, vec []float64, powerMean, powerZScore float64, deviationByBucket map[int64]float64, row domain.FeatureRow) (anomalyType, metric string, actual, expected float64) {
	if deviationByBucket != nil {
		if d, ok := deviationByBucket[row.Bucket.Unix()]; ok && d > 0 {
			idx := indexOf(keys, "baseline_deviation")
			if idx >= 0 && vec[idx] >= absFloat(powerMean-vec[indexOf(keys, "avg_power_kw")]) {
				return domain.AnomalyTypeBaselineDeviation, "energy_kwh", vec[idx], 0
			}
		}
	}

	power := vec[indexOf(keys, "avg_power_kw")]
	if absFloat(powerZScore) >= domain.WarningZScore {
		if powerZScore > 0 {
			return domain.AnomalyTypeSpike, "power_kw", power, powerMean
		}
		return domain.AnomalyTypeDrop, "power_kw", power, powerMean
	}

	type candidate struct {
		key, metric, anomalyType string
	}
	candidates := []candidate{
		{"avg_machine_temp_c", "machine_temp_c", domain.AnomalyTypeTemperature},
		{"avg_pressure_bar", "pressure_bar", domain.AnomalyTypePressure},
		{"avg_throughput", "throughput", domain.AnomalyTypeProduction},
	}
	best := candidate{}
	bestVal := 0.0
	for _, c := range candidates {
		idx := indexOf(keys, c.key)
		if idx < 0 {
			continue
		}
		if absFloat(vec[idx]) > bestVal {
			bestVal, best = absFloat(vec[idx]), c
		}
	}
	if best.key != "" {
		idx := indexOf(keys, best.key)
		return best.anomalyType, best.metric, vec[idx], 0
	}
	return domain.AnomalyTypeUnknown, "power_kw", power, powerMean
}

// classifyDrift relabels anomalies of the same type occurring in ≥3
// consecutive detected buckets as "drift".
func classifyDrift(anomalies []domain.Anomaly) []domain.Anomaly {
	sort.Slice(anomalies, func(i, j int) bool { return anomalies[i].DetectedAt.Before(anomalies[j].DetectedAt) })
	run := 1
	for i := 1; i < len(anomalies); i++ {
		sameSign := sign(anomalies[i].Deviation) == sign(anomalies[i-1].Deviation)
		adjacent := anomalies[i].Type == anomalies[i-1].Type
		if sameSign && adjacent {
			run++
		} else {
			run = 1
		}
		if run >= 3 {
			anomalies[i].Type = domain.AnomalyTypeDrift
			anomalies[i-1].Type = domain.AnomalyTypeDrift
			anomalies[i-2].Type = domain.AnomalyTypeDrift
		}
	}
	return anomalies
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func indexOf(keys []string, key string) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

func columnOf(points [][]float64, keys []string, key string) []float64 {
	idx := indexOf(keys, key)
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p[idx]
	}
	return out
}

func meanStdDev(series []float64) (mean, stddev float64) {
	if len(series) == 0 {
		return 0, 0
	}
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))
	for _, v := range series {
		stddev += (v - mean) * (v - mean)
	}
	stddev /= float64(len(series))
	return mean, math.Sqrt(stddev)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
