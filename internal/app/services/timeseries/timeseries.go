// Package timeseries is the Time-Series Store Adapter: the only
// path between the engines and the persistent store. It adds retry-on-
// transient-failure and granularity validation on top of the raw
// storage.Store contract.
package timeseries

import (
	"context"
	"time"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	coresvc "github.com/acme-industrial/enms-analytics/internal/app/core/service"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/storage"
)

// Adapter wraps a storage.Store with the retry policy applied to read paths;
// writes (baseline activation, anomaly persistence) are left to the caller's
// own transactional discipline and are not retried here.
type Adapter struct {
	store       storage.Store
	readRetries coresvc.RetryPolicy
}

// New constructs an Adapter. readRetries governs transient-failure retries
// on read-only store calls; pass coresvc.DefaultRetryPolicy to disable.
func New(store storage.Store, readRetries coresvc.RetryPolicy) *Adapter {
	return &Adapter{store: store, readRetries: readRetries}
}

// withRetry applies the configured policy to fn, retrying only transient
// store failures. A NotFound/BadRequest is surfaced immediately rather than
// re-issued: retrying it cannot change the answer.
func (a *Adapter) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	retryErr := coresvc.Retry(ctx, a.readRetries, func() error {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return nil
		}
		return lastErr
	})
	if lastErr != nil {
		return lastErr
	}
	return retryErr
}

func retryable(err error) bool {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		return true
	}
	switch svcErr.Code {
	case errors.ErrCodeTransientUnavailable, errors.ErrCodeDatabaseError, errors.ErrCodeTimeout:
		return true
	}
	return false
}

func (a *Adapter) ListMachines(ctx context.Context, activeOnly bool) ([]domain.Machine, error) {
	var out []domain.Machine
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.ListMachines(ctx, activeOnly)
		return innerErr
	})
	return out, err
}

func (a *Adapter) MachineByID(ctx context.Context, id string) (domain.Machine, error) {
	var out domain.Machine
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.MachineByID(ctx, id)
		return innerErr
	})
	return out, err
}

func (a *Adapter) MachineByName(ctx context.Context, factoryID, name string) (domain.Machine, error) {
	var out domain.Machine
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.MachineByName(ctx, factoryID, name)
		return innerErr
	})
	return out, err
}

func (a *Adapter) ListEnergySources(ctx context.Context) ([]domain.EnergySource, error) {
	var out []domain.EnergySource
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.ListEnergySources(ctx)
		return innerErr
	})
	return out, err
}

func (a *Adapter) EnergySourceByKey(ctx context.Context, key string) (domain.EnergySource, error) {
	var out domain.EnergySource
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.EnergySourceByKey(ctx, key)
		return innerErr
	})
	return out, err
}

func (a *Adapter) ListSEUs(ctx context.Context, energySourceID string) ([]domain.SEU, error) {
	var out []domain.SEU
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.ListSEUs(ctx, energySourceID)
		return innerErr
	})
	return out, err
}

func (a *Adapter) SEUByID(ctx context.Context, id string) (domain.SEU, error) {
	var out domain.SEU
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.SEUByID(ctx, id)
		return innerErr
	})
	return out, err
}

// EnergyAggregate enforces the "each continuous aggregate is built directly
// from the raw hypertable" rule by rejecting unsupported
// granularities before ever reaching the driver.
func (a *Adapter) EnergyAggregate(ctx context.Context, machineID, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error) {
	if !gran.Valid() {
		return nil, errors.BadRequest("unsupported granularity")
	}
	var out []domain.EnergyReading
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.EnergyAggregate(ctx, machineID, energyType, window, gran)
		return innerErr
	})
	return out, err
}

func (a *Adapter) ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error) {
	if !gran.Valid() {
		return nil, errors.BadRequest("unsupported granularity")
	}
	var out []domain.ProductionPoint
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.ProductionAggregate(ctx, machineID, window, gran)
		return innerErr
	})
	return out, err
}

func (a *Adapter) EnvironmentalAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnvironmentalPoint, error) {
	if !gran.Valid() {
		return nil, errors.BadRequest("unsupported granularity")
	}
	var out []domain.EnvironmentalPoint
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.EnvironmentalAggregate(ctx, machineID, window, gran)
		return innerErr
	})
	return out, err
}

func (a *Adapter) LatestReading(ctx context.Context, machineID string) (domain.EnergyReading, error) {
	var out domain.EnergyReading
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.LatestReading(ctx, machineID)
		return innerErr
	})
	return out, err
}

func (a *Adapter) FeaturesForSource(ctx context.Context, sourceID string) ([]domain.EnergySourceFeature, error) {
	var out []domain.EnergySourceFeature
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.FeaturesForSource(ctx, sourceID)
		return innerErr
	})
	return out, err
}

func (a *Adapter) MachineStatusAt(ctx context.Context, machineID string, at time.Time) (string, error) {
	var out string
	err := a.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = a.store.MachineStatusAt(ctx, machineID, at)
		return innerErr
	})
	return out, err
}

// Write paths delegate without retry: baseline activation and training-job
// transitions are transactional and anomaly/KPI writes are idempotent
// upserts, so the caller decides whether re-issuing is safe.

func (a *Adapter) SaveBaseline(ctx context.Context, m domain.BaselineModel) (domain.BaselineModel, error) {
	return a.store.SaveBaseline(ctx, m)
}

func (a *Adapter) ActivateBaseline(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error {
	return a.store.ActivateBaseline(ctx, scope, energySourceID, modelID)
}

func (a *Adapter) ActiveBaseline(ctx context.Context, scope domain.Scope, energySourceID string) (domain.BaselineModel, error) {
	return a.store.ActiveBaseline(ctx, scope, energySourceID)
}

func (a *Adapter) BaselineByID(ctx context.Context, modelID string) (domain.BaselineModel, error) {
	return a.store.BaselineByID(ctx, modelID)
}

func (a *Adapter) ListBaselines(ctx context.Context, scope domain.Scope) ([]domain.BaselineModel, error) {
	return a.store.ListBaselines(ctx, scope)
}

func (a *Adapter) NextModelVersion(ctx context.Context, scope domain.Scope, energySourceID string) (int, error) {
	return a.store.NextModelVersion(ctx, scope, energySourceID)
}

func (a *Adapter) CreateTrainingJob(ctx context.Context, job domain.TrainingJob) (domain.TrainingJob, error) {
	return a.store.CreateTrainingJob(ctx, job)
}

func (a *Adapter) UpdateTrainingJob(ctx context.Context, job domain.TrainingJob) error {
	return a.store.UpdateTrainingJob(ctx, job)
}

func (a *Adapter) TrainingJobByID(ctx context.Context, id string) (domain.TrainingJob, error) {
	return a.store.TrainingJobByID(ctx, id)
}

func (a *Adapter) RunningTrainingJob(ctx context.Context, scope domain.Scope, modelType string) (domain.TrainingJob, bool, error) {
	return a.store.RunningTrainingJob(ctx, scope, modelType)
}

func (a *Adapter) StuckTrainingJobs(ctx context.Context, olderThan time.Duration) ([]domain.TrainingJob, error) {
	return a.store.StuckTrainingJobs(ctx, olderThan)
}

func (a *Adapter) SaveAnomaly(ctx context.Context, anomaly domain.Anomaly) (domain.Anomaly, bool, error) {
	return a.store.SaveAnomaly(ctx, anomaly)
}

func (a *Adapter) ResolveAnomaly(ctx context.Context, id string, note string) (domain.Anomaly, error) {
	return a.store.ResolveAnomaly(ctx, id, note)
}

func (a *Adapter) AnomalyByID(ctx context.Context, id string) (domain.Anomaly, error) {
	return a.store.AnomalyByID(ctx, id)
}

func (a *Adapter) RecentAnomalies(ctx context.Context, machineID string, severity string, since time.Duration, limit int) ([]domain.Anomaly, error) {
	return a.store.RecentAnomalies(ctx, machineID, severity, since, limit)
}

func (a *Adapter) ActiveAnomalies(ctx context.Context, machineID string) ([]domain.Anomaly, error) {
	return a.store.ActiveAnomalies(ctx, machineID)
}

func (a *Adapter) UpsertKPICache(ctx context.Context, row domain.KPICacheRow) error {
	return a.store.UpsertKPICache(ctx, row)
}

func (a *Adapter) KPICache(ctx context.Context, machineID string, period domain.TimeRange, kpiName string) (domain.KPICacheRow, bool, error) {
	return a.store.KPICache(ctx, machineID, period, kpiName)
}

func (a *Adapter) Ping(ctx context.Context) error { return a.store.Ping(ctx) }

func (a *Adapter) Close() error { return a.store.Close() }

var _ storage.Store = (*Adapter)(nil)
