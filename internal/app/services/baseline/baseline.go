// Package baseline implements the Baseline Engine: trains and
// serves per-scope multiple-linear-regression models with correlation-based
// auto-feature-selection, coverage filtering, quality gating, versioning,
// and on-disk persistence.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
)

var (
	errInsufficientRows = errors.New("insufficient rows for OLS fit")
	errSingularMatrix   = errors.New("singular normal-equations matrix")
)

// MinTrainingSamples is the post-cleaning row floor below which training
// fails with InsufficientData.
const MinTrainingSamples = 50

// correlationFloor and collinearityCeiling gate auto feature selection.
const (
	correlationFloor    = 0.05
	collinearityCeiling = 0.95
)

// canonicalCandidates is the starting feature set per energy source for
// auto-selected training. Sources without their own entry reuse the
// electricity superset and rely on coverage filtering to drop what doesn't
// apply, e.g. pressure on HVAC.
var canonicalCandidates = map[string][]string{
	domain.EnergySourceElectricity: {
		"total_production_count", "avg_outdoor_temp_c", "avg_pressure_bar",
		"avg_throughput", "avg_machine_temp_c", "avg_load_factor",
	},
}

func defaultCandidates(energySourceKey string) []string {
	if set, ok := canonicalCandidates[energySourceKey]; ok {
		return set
	}
	return canonicalCandidates[domain.EnergySourceElectricity]
}

// featureAggregator is the subset of features.Aggregator the engine needs.
type featureAggregator interface {
	FeaturesAt(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int, candidates []domain.Granularity) (domain.FeatureTable, error)
}

// baselineStore is the subset of storage.Store the engine needs.
type baselineStore interface {
	SaveBaseline(ctx context.Context, m domain.BaselineModel) (domain.BaselineModel, error)
	ActivateBaseline(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error
	ActiveBaseline(ctx context.Context, scope domain.Scope, energySourceID string) (domain.BaselineModel, error)
	NextModelVersion(ctx context.Context, scope domain.Scope, energySourceID string) (int, error)
	EnergyAggregate(ctx context.Context, machineID, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error)
}

// ModelStore persists/loads the coefficients blob referenced by
// BaselineModel.DiskBlobPath. Left as an interface so tests can use an
// in-memory fake; the production implementation writes under $MODEL_DIR.
type ModelStore interface {
	Save(scope domain.Scope, energySourceID string, version int, blob ModelBlob) (path string, err error)
	Load(path string) (ModelBlob, error)
}

// ModelBlob is the JSON-serialized record kept alongside the BaselineModel
// row: coefficients, feature order, and fit statistics.
type ModelBlob struct {
	Features     []string  `json:"features"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	RSquared     float64   `json:"r_squared"`
	RMSE         float64   `json:"rmse"`
	MAE          float64   `json:"mae"`
}

// Engine is the Baseline Engine.
type Engine struct {
	store      baselineStore
	aggregator featureAggregator
	models     ModelStore
	publish    func(event string, payload any)
}

func New(store baselineStore, aggregator featureAggregator, models ModelStore, publish func(event string, payload any)) *Engine {
	if publish == nil {
		publish = func(string, any) {}
	}
	return &Engine{store: store, aggregator: aggregator, models: models, publish: publish}
}

// Train fits a new model version for scope+energySourceID over the window.
// An empty explicitFeatures slice means auto-selection.
func (e *Engine) Train(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, explicitFeatures []string) (domain.BaselineModel, error) {
	return e.TrainWithProgress(ctx, scope, energySourceKey, energySourceID, window, explicitFeatures, nil)
}

// TrainWithProgress is Train with a stage callback, invoked as the fit moves
// through its phases so callers can relay progress to watching clients. A
// nil progress is allowed.
func (e *Engine) TrainWithProgress(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, explicitFeatures []string, progress func(pct float64, stage string)) (domain.BaselineModel, error) {
	start := time.Now()
	if progress == nil {
		progress = func(float64, string) {}
	}
	model, err := e.train(ctx, scope, energySourceKey, energySourceID, window, explicitFeatures, progress)
	metrics.RecordTraining(time.Since(start), err == nil)
	return model, err
}

func (e *Engine) train(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, explicitFeatures []string, progress func(pct float64, stage string)) (domain.BaselineModel, error) {
	candidateKeys := explicitFeatures
	auto := len(explicitFeatures) == 0
	if auto {
		candidateKeys = defaultCandidates(energySourceKey)
	}

	table, err := e.aggregator.FeaturesAt(ctx, scope, energySourceID, window, candidateKeys, MinTrainingSamples, domain.SubDailyGranularities())
	if err != nil {
		return domain.BaselineModel{}, err
	}
	progress(25, "features aggregated")

	target, err := e.targetSeries(ctx, scope, window, table)
	if err != nil {
		return domain.BaselineModel{}, err
	}

	retained := survivingFeatureKeys(candidateKeys, table)
	if auto {
		retained = correlationFilter(retained, table, target)
		retained = collinearityFilter(retained, table)
	}

	rowsX, rowsY := cleanRows(table, target, retained)
	if len(rowsY) < MinTrainingSamples {
		return domain.BaselineModel{}, svcerrors.InsufficientData("baseline training", len(rowsY), MinTrainingSamples)
	}
	progress(50, "training rows prepared")

	intercept, coeffs, err := fitOLS(rowsX, rowsY)
	if err != nil {
		return domain.BaselineModel{}, svcerrors.Internal("ols fit failed", err)
	}
	progress(75, "model fitted")

	predicted := make([]float64, len(rowsY))
	for i, x := range rowsX {
		predicted[i] = intercept
		for j, c := range coeffs {
			predicted[i] += c * x[j]
		}
	}

	version, err := e.store.NextModelVersion(ctx, scope, energySourceID)
	if err != nil {
		return domain.BaselineModel{}, err
	}

	model := domain.BaselineModel{
		MachineID:       scope.MachineID,
		SEUID:           scope.SEUID,
		EnergySourceID:  energySourceID,
		ModelVersion:    version,
		Features:        retained,
		Intercept:       intercept,
		Coefficients:    coeffs,
		RSquared:        rSquared(rowsY, predicted),
		RMSE:            rmse(rowsY, predicted),
		MAE:             mae(rowsY, predicted),
		ResidualStdDev:  residualStdDev(rowsY, predicted),
		TrainingSamples: len(rowsY),
		TrainingStart:   window.Start,
		TrainingEnd:     window.End,
		CreatedAt:       time.Now().UTC(),
	}
	model.MeetsQuality = model.RSquared >= domain.MinQualityRSquared

	if e.models != nil {
		path, err := e.models.Save(scope, energySourceID, version, ModelBlob{
			Features: retained, Intercept: intercept, Coefficients: coeffs,
			RSquared: model.RSquared, RMSE: model.RMSE, MAE: model.MAE,
		})
		if err == nil {
			model.DiskBlobPath = path
		}
	}

	saved, err := e.store.SaveBaseline(ctx, model)
	if err != nil {
		return domain.BaselineModel{}, err
	}
	progress(100, "model persisted")

	e.publish(domain.ChannelTrainingCompleted, map[string]any{
		"event_type": domain.ChannelTrainingCompleted, "scope": scope,
		"model_version": saved.ModelVersion, "status": "succeeded",
		"metrics": map[string]float64{
			"r_squared": saved.RSquared, "rmse": saved.RMSE, "mae": saved.MAE,
		},
		"published_at": time.Now().UTC(),
	})
	return saved, nil
}

// Activate promotes a trained model to active, deactivating its
// predecessor atomically.
func (e *Engine) Activate(ctx context.Context, scope domain.Scope, energySourceID, modelID string) error {
	return e.store.ActivateBaseline(ctx, scope, energySourceID, modelID)
}

// Predict evaluates the active model against a feature vector.
func (e *Engine) Predict(ctx context.Context, scope domain.Scope, energySourceID string, featureVector map[string]float64) (predicted float64, modelVersion int, message string, err error) {
	model, err := e.store.ActiveBaseline(ctx, scope, energySourceID)
	if err != nil {
		return 0, 0, "", err
	}
	if missing := model.MissingFeatures(featureVector); len(missing) > 0 {
		return 0, 0, "", svcerrors.BadRequest(fmt.Sprintf("missing required features: %v", missing))
	}
	predicted = model.Predict(featureVector)
	message = fmt.Sprintf("predicted %.2f using model version %d", predicted, model.ModelVersion)
	return predicted, model.ModelVersion, message, nil
}

// Deviation computes per-bucket actual-vs-predicted deviation using the
// active model's residual standard deviation for severity thresholds.
func (e *Engine) Deviation(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange) (domain.DeviationResult, error) {
	model, err := e.store.ActiveBaseline(ctx, scope, energySourceID)
	if err != nil {
		return domain.DeviationResult{}, err
	}

	table, err := e.aggregator.FeaturesAt(ctx, scope, energySourceID, window, model.Features, 1, domain.SubDailyGranularities())
	if err != nil {
		return domain.DeviationResult{}, err
	}

	machineID := scope.MachineID
	readings, err := e.store.EnergyAggregate(ctx, machineID, "", window, table.Granularity)
	if err != nil {
		return domain.DeviationResult{}, err
	}
	actualByBucket := make(map[int64]float64, len(readings))
	for _, r := range readings {
		actualByBucket[r.Time.Unix()] += r.EnergyKWh
	}

	var points []domain.DeviationPoint
	var summary domain.DeviationSummary
	for _, row := range table.Rows {
		actual, ok := actualByBucket[row.Bucket.Unix()]
		if !ok {
			continue
		}
		predicted := model.Predict(row.Features)
		delta := actual - predicted
		deltaPct := 0.0
		if predicted != 0 {
			deltaPct = delta / predicted * 100
		}
		zscore := 0.0
		if model.ResidualStdDev > 0 {
			zscore = delta / model.ResidualStdDev
		}
		severity := domain.ClassifySeverity(absFloat(zscore))
		if severity != domain.SeverityInfo {
			summary.AnomalyCount++
		}

		points = append(points, domain.DeviationPoint{
			Bucket: row.Bucket, Actual: actual, Predicted: predicted,
			Delta: delta, DeltaPercent: deltaPct, Severity: severity,
		})
		summary.TotalActual += actual
		summary.TotalPredicted += predicted
		if absFloat(delta) > absFloat(summary.MaxDelta) {
			summary.MaxDelta = delta
		}
	}
	if len(points) > 0 {
		var sum float64
		for _, p := range points {
			sum += p.Delta
		}
		summary.AvgDelta = sum / float64(len(points))
	}

	return domain.DeviationResult{ModelVersion: model.ModelVersion, Points: points, Summary: summary}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// targetSeries extracts the actual energy total per bucket as the
// regression target.
func (e *Engine) targetSeries(ctx context.Context, scope domain.Scope, window domain.TimeRange, table domain.FeatureTable) ([]float64, error) {
	machineID := scope.MachineID
	readings, err := e.store.EnergyAggregate(ctx, machineID, "", window, table.Granularity)
	if err != nil {
		return nil, err
	}
	byBucket := make(map[int64]float64, len(readings))
	for _, r := range readings {
		byBucket[r.Time.Unix()] += r.EnergyKWh
	}
	out := make([]float64, len(table.Rows))
	for i, row := range table.Rows {
		out[i] = byBucket[row.Bucket.Unix()]
	}
	return out, nil
}

func survivingFeatureKeys(requested []string, table domain.FeatureTable) []string {
	var out []string
	for _, key := range requested {
		if _, dropped := table.DroppedFeatures[key]; !dropped {
			out = append(out, key)
		}
	}
	return out
}

// correlationFilter drops candidates whose absolute Pearson correlation
// with the target falls below correlationFloor, and
// sorts survivors by descending |correlation| so collinearityFilter's
// first-seen-wins rule keeps the stronger predictor of a collinear pair.
func correlationFilter(keys []string, table domain.FeatureTable, target []float64) []string {
	type scored struct {
		key   string
		score float64
	}
	var candidates []scored
	for _, key := range keys {
		series := columnSeries(table, key)
		if len(series) != len(target) {
			continue
		}
		if r := absFloat(pearsonCorrelation(series, target)); r >= correlationFloor {
			candidates = append(candidates, scored{key, r})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.key
	}
	return out
}

// collinearityFilter drops one of any pair of features whose pairwise
// correlation exceeds collinearityCeiling, keeping whichever correlates
// more strongly with the target. Callers pass keys pre-sorted by target
// correlation descending.
func collinearityFilter(keys []string, table domain.FeatureTable) []string {
	kept := make([]string, 0, len(keys))
	for _, candidate := range keys {
		collinear := false
		candSeries := columnSeries(table, candidate)
		for _, alreadyKept := range kept {
			keptSeries := columnSeries(table, alreadyKept)
			if len(candSeries) == len(keptSeries) && absFloat(pearsonCorrelation(candSeries, keptSeries)) > collinearityCeiling {
				collinear = true
				break
			}
		}
		if !collinear {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func columnSeries(table domain.FeatureTable, key string) []float64 {
	out := make([]float64, 0, len(table.Rows))
	for _, row := range table.Rows {
		v, ok := row.Features[key]
		if !ok {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// cleanRows drops any row with a missing value in a retained column,
// returning parallel X/y slices.
func cleanRows(table domain.FeatureTable, target []float64, keys []string) ([][]float64, []float64) {
	var xs [][]float64
	var ys []float64
	for i, row := range table.Rows {
		vec := make([]float64, len(keys))
		complete := true
		for j, key := range keys {
			v, ok := row.Features[key]
			if !ok {
				complete = false
				break
			}
			vec[j] = v
		}
		if !complete {
			continue
		}
		xs = append(xs, vec)
		ys = append(ys, target[i])
	}
	return xs, ys
}
