package domain

import "time"

// BaselineModel is a trained multiple-linear-regression model predicting
// energy consumption from explanatory features.
type BaselineModel struct {
	ID              string    `json:"id" db:"id"`
	MachineID       string    `json:"machine_id,omitempty" db:"machine_id"`
	SEUID           string    `json:"seu_id,omitempty" db:"seu_id"`
	EnergySourceID  string    `json:"energy_source_id" db:"energy_source_id"`
	ModelVersion    int       `json:"model_version" db:"model_version"`
	Features        []string  `json:"features" db:"-"`
	Intercept       float64   `json:"intercept" db:"intercept"`
	Coefficients    []float64 `json:"coefficients" db:"-"`
	RSquared        float64   `json:"r_squared" db:"r_squared"`
	RMSE            float64   `json:"rmse" db:"rmse"`
	MAE             float64   `json:"mae" db:"mae"`
	ResidualStdDev  float64   `json:"residual_std" db:"residual_std"`
	TrainingSamples int       `json:"training_samples" db:"training_samples"`
	TrainingStart   time.Time `json:"training_window_start" db:"training_window_start"`
	TrainingEnd     time.Time `json:"training_window_end" db:"training_window_end"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	DiskBlobPath    string    `json:"disk_blob_path" db:"disk_blob_path"`
	MeetsQuality    bool      `json:"meets_quality_threshold" db:"meets_quality_threshold"`
}

// MinQualityRSquared is the R² quality gate for trained models. Models
// below this threshold are persisted and returned but flagged as
// not-quality-gated; the caller decides whether to activate.
const MinQualityRSquared = 0.80

// Scope returns the model's (machine|SEU) scope.
func (m BaselineModel) Scope() Scope {
	if m.SEUID != "" {
		return Scope{SEUID: m.SEUID}
	}
	return Scope{MachineID: m.MachineID}
}

// Predict evaluates the model against a feature vector keyed by feature
// name. Callers check MissingFeatures first; Predict itself assumes all
// m.Features are present.
func (m BaselineModel) Predict(features map[string]float64) float64 {
	sum := m.Intercept
	for i, name := range m.Features {
		if i >= len(m.Coefficients) {
			break
		}
		sum += m.Coefficients[i] * features[name]
	}
	return sum
}

// MissingFeatures returns which of m.Features are absent from the given
// vector, preserving model feature order.
func (m BaselineModel) MissingFeatures(features map[string]float64) []string {
	var missing []string
	for _, name := range m.Features {
		if _, ok := features[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// DeviationPoint is one bucket of the deviation contract.
type DeviationPoint struct {
	Bucket       time.Time `json:"bucket"`
	Actual       float64   `json:"actual"`
	Predicted    float64   `json:"predicted"`
	Delta        float64   `json:"delta"`
	DeltaPercent float64   `json:"delta_percent"`
	Severity     string    `json:"severity"`
}

// DeviationSummary aggregates a DeviationPoint sequence.
type DeviationSummary struct {
	TotalActual    float64 `json:"total_actual"`
	TotalPredicted float64 `json:"total_predicted"`
	AvgDelta       float64 `json:"avg_delta"`
	MaxDelta       float64 `json:"max_delta"`
	AnomalyCount   int     `json:"anomaly_count"`
}

// DeviationResult is the full response of the deviation contract.
type DeviationResult struct {
	ModelVersion int              `json:"model_version"`
	Points       []DeviationPoint `json:"points"`
	Summary      DeviationSummary `json:"summary"`
}

// TrainingJob tracks the lifecycle of an asynchronous model fit.
type TrainingJob struct {
	ID          string     `json:"id" db:"id"`
	MachineID   string     `json:"machine_id,omitempty" db:"machine_id"`
	SEUID       string     `json:"seu_id,omitempty" db:"seu_id"`
	ModelType   string     `json:"model_type" db:"model_type"`
	Status      string     `json:"status" db:"status"`
	ProgressPct float64    `json:"progress_pct" db:"progress_pct"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Error       string     `json:"error,omitempty" db:"error"`
	ModelID     string     `json:"model_id,omitempty" db:"model_id"`
}

// TrainingJob.ModelType values.
const (
	ModelTypeBaseline = "baseline"
	ModelTypeAnomaly  = "anomaly"
	ModelTypeForecast = "forecast"
)

// TrainingJob.Status values.
const (
	TrainingStatusPending   = "pending"
	TrainingStatusRunning   = "running"
	TrainingStatusSucceeded = "succeeded"
	TrainingStatusFailed    = "failed"
)

// Scope returns the job's (machine|SEU) scope.
func (j TrainingJob) Scope() Scope {
	if j.SEUID != "" {
		return Scope{SEUID: j.SEUID}
	}
	return Scope{MachineID: j.MachineID}
}
