// Package storage declares the Time-Series Store Adapter contract: the
// only path between the engines and the persistent store. Reads
// flow from raw hypertables and continuous aggregates owned externally;
// writes are confined to the tables the core owns (baselines, training
// jobs, anomalies, KPI cache).
package storage

import (
	"context"
	"time"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// ReferenceStore is the read-only access path to externally-owned reference
// data (machines, factories, energy sources, SEUs, feature declarations).
type ReferenceStore interface {
	ListMachines(ctx context.Context, activeOnly bool) ([]domain.Machine, error)
	MachineByID(ctx context.Context, id string) (domain.Machine, error)
	MachineByName(ctx context.Context, factoryID, name string) (domain.Machine, error)
	ListEnergySources(ctx context.Context) ([]domain.EnergySource, error)
	EnergySourceByKey(ctx context.Context, key string) (domain.EnergySource, error)
	FeaturesForSource(ctx context.Context, sourceID string) ([]domain.EnergySourceFeature, error)
	ListSEUs(ctx context.Context, energySourceID string) ([]domain.SEU, error)
	SEUByID(ctx context.Context, id string) (domain.SEU, error)
}

// TimeSeriesStore is the read path over raw/aggregate telemetry tables.
type TimeSeriesStore interface {
	// EnergyAggregate returns per-bucket energy statistics at the given
	// granularity, optionally filtered by energy_type (multi-energy).
	EnergyAggregate(ctx context.Context, machineID string, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error)
	ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error)
	EnvironmentalAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnvironmentalPoint, error)
	LatestReading(ctx context.Context, machineID string) (domain.EnergyReading, error)
	MachineStatusAt(ctx context.Context, machineID string, at time.Time) (string, error)
}

// BaselineStore owns baseline models and training job records.
type BaselineStore interface {
	// SaveBaseline persists a new model version. It does not activate it.
	SaveBaseline(ctx context.Context, m domain.BaselineModel) (domain.BaselineModel, error)
	// ActivateBaseline atomically deactivates the current active model for
	// the scope+source and activates the given model id, in one store-level
	// transaction.
	ActivateBaseline(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error
	ActiveBaseline(ctx context.Context, scope domain.Scope, energySourceID string) (domain.BaselineModel, error)
	BaselineByID(ctx context.Context, modelID string) (domain.BaselineModel, error)
	ListBaselines(ctx context.Context, scope domain.Scope) ([]domain.BaselineModel, error)
	NextModelVersion(ctx context.Context, scope domain.Scope, energySourceID string) (int, error)

	CreateTrainingJob(ctx context.Context, job domain.TrainingJob) (domain.TrainingJob, error)
	UpdateTrainingJob(ctx context.Context, job domain.TrainingJob) error
	TrainingJobByID(ctx context.Context, id string) (domain.TrainingJob, error)
	RunningTrainingJob(ctx context.Context, scope domain.Scope, modelType string) (domain.TrainingJob, bool, error)
	StuckTrainingJobs(ctx context.Context, olderThan time.Duration) ([]domain.TrainingJob, error)
}

// AnomalyStore owns anomaly records.
type AnomalyStore interface {
	// SaveAnomaly inserts the anomaly unless one already exists for
	// (machine, detected_at, type), in which case
	// it returns the existing row and created=false.
	SaveAnomaly(ctx context.Context, a domain.Anomaly) (saved domain.Anomaly, created bool, err error)
	ResolveAnomaly(ctx context.Context, id string, note string) (domain.Anomaly, error)
	AnomalyByID(ctx context.Context, id string) (domain.Anomaly, error)
	RecentAnomalies(ctx context.Context, machineID string, severity string, since time.Duration, limit int) ([]domain.Anomaly, error)
	ActiveAnomalies(ctx context.Context, machineID string) ([]domain.Anomaly, error)
}

// KPICacheStore owns the advisory KPI cache.
type KPICacheStore interface {
	UpsertKPICache(ctx context.Context, row domain.KPICacheRow) error
	KPICache(ctx context.Context, machineID string, period domain.TimeRange, kpiName string) (domain.KPICacheRow, bool, error)
}

// Store is the full Time-Series Store Adapter surface. Both the Postgres
// implementation and the in-memory test double implement it in full.
type Store interface {
	ReferenceStore
	TimeSeriesStore
	BaselineStore
	AnomalyStore
	KPICacheStore

	Ping(ctx context.Context) error
	Close() error
}
