// Package memory provides an in-process storage.Store implementation, used
// by engine unit tests and as the development fallback when no database DSN
// is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// Store is a mutex-guarded in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	machines      map[string]domain.Machine
	energySources map[string]domain.EnergySource
	features      map[string][]domain.EnergySourceFeature
	seus          map[string]domain.SEU

	energy  []domain.EnergyReading
	prod    []domain.ProductionPoint
	env     []domain.EnvironmentalPoint
	status  map[string]string

	baselines     map[string]domain.BaselineModel
	activeModel   map[string]string // scope.Key()+energySourceID -> model id
	trainingJobs  map[string]domain.TrainingJob

	anomalies map[string]domain.Anomaly

	kpiCache map[string]domain.KPICacheRow
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		machines:      make(map[string]domain.Machine),
		energySources: make(map[string]domain.EnergySource),
		features:      make(map[string][]domain.EnergySourceFeature),
		seus:          make(map[string]domain.SEU),
		status:        make(map[string]string),
		baselines:     make(map[string]domain.BaselineModel),
		activeModel:   make(map[string]string),
		trainingJobs:  make(map[string]domain.TrainingJob),
		anomalies:     make(map[string]domain.Anomaly),
		kpiCache:      make(map[string]domain.KPICacheRow),
	}
}

// --- Seeding helpers (test fixtures) ---------------------------------------

func (s *Store) SeedMachine(m domain.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = m
}

func (s *Store) SeedEnergySource(e domain.EnergySource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energySources[e.ID] = e
}

func (s *Store) SeedFeatures(sourceID string, feats []domain.EnergySourceFeature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[sourceID] = feats
}

func (s *Store) SeedSEU(seu domain.SEU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seus[seu.ID] = seu
}

func (s *Store) SeedEnergyReadings(rows []domain.EnergyReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energy = append(s.energy, rows...)
}

func (s *Store) SeedProduction(rows []domain.ProductionPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prod = append(s.prod, rows...)
}

func (s *Store) SeedEnvironmental(rows []domain.EnvironmentalPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = append(s.env, rows...)
}

func (s *Store) SeedMachineStatus(machineID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[machineID] = status
}

// --- ReferenceStore ---------------------------------------------------------

func (s *Store) ListMachines(ctx context.Context, activeOnly bool) ([]domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		if activeOnly && !m.Active {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MachineByID(ctx context.Context, id string) (domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return domain.Machine{}, errors.NotFound("machine", id)
	}
	return m, nil
}

func (s *Store) MachineByName(ctx context.Context, factoryID, name string) (domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.machines {
		if m.Name == name && (factoryID == "" || m.FactoryID == factoryID) {
			return m, nil
		}
	}
	return domain.Machine{}, errors.NotFound("machine", name)
}

func (s *Store) ListEnergySources(ctx context.Context) ([]domain.EnergySource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EnergySource, 0, len(s.energySources))
	for _, e := range s.energySources {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EnergySourceByKey(ctx context.Context, key string) (domain.EnergySource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.energySources {
		if e.Key == key {
			return e, nil
		}
	}
	return domain.EnergySource{}, errors.NotFound("energy_source", key)
}

func (s *Store) FeaturesForSource(ctx context.Context, sourceID string) ([]domain.EnergySourceFeature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.EnergySourceFeature(nil), s.features[sourceID]...), nil
}

func (s *Store) ListSEUs(ctx context.Context, energySourceID string) ([]domain.SEU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SEU, 0)
	for _, seu := range s.seus {
		if energySourceID == "" || seu.EnergySourceID == energySourceID {
			out = append(out, seu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SEUByID(ctx context.Context, id string) (domain.SEU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seu, ok := s.seus[id]
	if !ok {
		return domain.SEU{}, errors.NotFound("seu", id)
	}
	return seu, nil
}

// --- TimeSeriesStore ---------------------------------------------------------

func inWindow(t time.Time, w domain.TimeRange) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (s *Store) EnergyAggregate(ctx context.Context, machineID string, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EnergyReading
	for _, r := range s.energy {
		if r.MachineID != machineID || !inWindow(r.Time, window) {
			continue
		}
		if energyType != "" && r.EnergyType != energyType {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return bucketEnergy(out, gran), nil
}

func (s *Store) ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ProductionPoint
	for _, r := range s.prod {
		if r.MachineID == machineID && inWindow(r.Time, window) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return bucketProduction(out, gran), nil
}

func (s *Store) EnvironmentalAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnvironmentalPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EnvironmentalPoint
	for _, r := range s.env {
		if r.MachineID == machineID && inWindow(r.Time, window) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return bucketEnvironmental(out, gran), nil
}

func (s *Store) LatestReading(ctx context.Context, machineID string) (domain.EnergyReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest domain.EnergyReading
	found := false
	for _, r := range s.energy {
		if r.MachineID != machineID {
			continue
		}
		if !found || r.Time.After(latest.Time) {
			latest = r
			found = true
		}
	}
	if !found {
		return domain.EnergyReading{}, errors.NotFound("energy_reading", machineID)
	}
	return latest, nil
}

func (s *Store) MachineStatusAt(ctx context.Context, machineID string, at time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status, ok := s.status[machineID]; ok {
		return status, nil
	}
	return domain.MachineStatusRunning, nil
}

func bucketKey(t time.Time, gran domain.Granularity) time.Time {
	d := gran.Duration()
	if d <= 0 {
		return t
	}
	return t.Truncate(d)
}

func bucketEnergy(rows []domain.EnergyReading, gran domain.Granularity) []domain.EnergyReading {
	type acc struct {
		sumPower, sumEnergy float64
		maxPower, minPower  float64
		n                   int
		bucket              time.Time
		energyType          string
		machineID           string
	}
	buckets := make(map[time.Time]*acc)
	var order []time.Time
	for _, r := range rows {
		bk := bucketKey(r.Time, gran)
		a, ok := buckets[bk]
		if !ok {
			a = &acc{bucket: bk, energyType: r.EnergyType, machineID: r.MachineID}
			buckets[bk] = a
			order = append(order, bk)
		}
		maxSample := r.PowerKW
		if r.MaxPowerKW > maxSample {
			maxSample = r.MaxPowerKW
		}
		minSample := r.PowerKW
		if r.MinPowerKW > 0 && r.MinPowerKW < minSample {
			minSample = r.MinPowerKW
		}
		if a.n == 0 || maxSample > a.maxPower {
			a.maxPower = maxSample
		}
		if a.n == 0 || minSample < a.minPower {
			a.minPower = minSample
		}
		a.sumPower += r.PowerKW
		a.sumEnergy += r.EnergyKWh
		a.n++
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]domain.EnergyReading, 0, len(order))
	for _, bk := range order {
		a := buckets[bk]
		out = append(out, domain.EnergyReading{
			Time:       a.bucket,
			MachineID:  a.machineID,
			EnergyType: a.energyType,
			PowerKW:    a.sumPower / float64(a.n),
			MaxPowerKW: a.maxPower,
			MinPowerKW: a.minPower,
			EnergyKWh:  a.sumEnergy,
		})
	}
	return out
}

func bucketProduction(rows []domain.ProductionPoint, gran domain.Granularity) []domain.ProductionPoint {
	type acc struct {
		count, good, defective, throughput float64
		n                                  int
		bucket                             time.Time
		machineID                          string
	}
	buckets := make(map[time.Time]*acc)
	var order []time.Time
	for _, r := range rows {
		bk := bucketKey(r.Time, gran)
		a, ok := buckets[bk]
		if !ok {
			a = &acc{bucket: bk, machineID: r.MachineID}
			buckets[bk] = a
			order = append(order, bk)
		}
		a.count += r.Count
		a.good += r.Good
		a.defective += r.Defective
		a.throughput += r.Throughput
		a.n++
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]domain.ProductionPoint, 0, len(order))
	for _, bk := range order {
		a := buckets[bk]
		out = append(out, domain.ProductionPoint{
			Time:       a.bucket,
			MachineID:  a.machineID,
			Count:      a.count,
			Good:       a.good,
			Defective:  a.defective,
			Throughput: a.throughput / float64(a.n),
		})
	}
	return out
}

func bucketEnvironmental(rows []domain.EnvironmentalPoint, gran domain.Granularity) []domain.EnvironmentalPoint {
	type acc struct {
		outdoor, indoor, machine, humidity, pressure float64
		n                                            int
		bucket                                       time.Time
		machineID                                    string
	}
	buckets := make(map[time.Time]*acc)
	var order []time.Time
	for _, r := range rows {
		bk := bucketKey(r.Time, gran)
		a, ok := buckets[bk]
		if !ok {
			a = &acc{bucket: bk, machineID: r.MachineID}
			buckets[bk] = a
			order = append(order, bk)
		}
		a.outdoor += r.OutdoorTempC
		a.indoor += r.IndoorTempC
		a.machine += r.MachineTempC
		a.humidity += r.HumidityPercent
		a.pressure += r.PressureBar
		a.n++
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]domain.EnvironmentalPoint, 0, len(order))
	for _, bk := range order {
		a := buckets[bk]
		n := float64(a.n)
		out = append(out, domain.EnvironmentalPoint{
			Time:            a.bucket,
			MachineID:       a.machineID,
			OutdoorTempC:    a.outdoor / n,
			IndoorTempC:     a.indoor / n,
			MachineTempC:    a.machine / n,
			HumidityPercent: a.humidity / n,
			PressureBar:     a.pressure / n,
		})
	}
	return out
}

// --- BaselineStore ---------------------------------------------------------

func (s *Store) SaveBaseline(ctx context.Context, m domain.BaselineModel) (domain.BaselineModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.baselines[m.ID] = m
	return m, nil
}

func activeKey(scope domain.Scope, energySourceID string) string {
	return scope.Key() + "|" + energySourceID
}

func (s *Store) ActivateBaseline(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.baselines[modelID]
	if !ok {
		return errors.NotFound("baseline_model", modelID)
	}
	key := activeKey(scope, energySourceID)
	if prevID, ok := s.activeModel[key]; ok {
		if prev, ok := s.baselines[prevID]; ok {
			prev.IsActive = false
			s.baselines[prevID] = prev
		}
	}
	m.IsActive = true
	s.baselines[modelID] = m
	s.activeModel[key] = modelID
	return nil
}

func (s *Store) ActiveBaseline(ctx context.Context, scope domain.Scope, energySourceID string) (domain.BaselineModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeModel[activeKey(scope, energySourceID)]
	if !ok {
		return domain.BaselineModel{}, errors.NotTrained(scope.MachineID)
	}
	return s.baselines[id], nil
}

func (s *Store) BaselineByID(ctx context.Context, modelID string) (domain.BaselineModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.baselines[modelID]
	if !ok {
		return domain.BaselineModel{}, errors.NotFound("baseline_model", modelID)
	}
	return m, nil
}

func (s *Store) ListBaselines(ctx context.Context, scope domain.Scope) ([]domain.BaselineModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.BaselineModel
	for _, m := range s.baselines {
		if m.Scope() == scope {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelVersion < out[j].ModelVersion })
	return out, nil
}

func (s *Store) NextModelVersion(ctx context.Context, scope domain.Scope, energySourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, m := range s.baselines {
		if m.Scope() == scope && m.EnergySourceID == energySourceID && m.ModelVersion > max {
			max = m.ModelVersion
		}
	}
	return max + 1, nil
}

func (s *Store) CreateTrainingJob(ctx context.Context, job domain.TrainingJob) (domain.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	for _, existing := range s.trainingJobs {
		if existing.Status == domain.TrainingStatusRunning && existing.Scope() == job.Scope() && existing.ModelType == job.ModelType {
			return domain.TrainingJob{}, errors.Conflict("training already in progress")
		}
	}
	s.trainingJobs[job.ID] = job
	return job, nil
}

func (s *Store) UpdateTrainingJob(ctx context.Context, job domain.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trainingJobs[job.ID]; !ok {
		return errors.NotFound("training_job", job.ID)
	}
	s.trainingJobs[job.ID] = job
	return nil
}

func (s *Store) TrainingJobByID(ctx context.Context, id string) (domain.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.trainingJobs[id]
	if !ok {
		return domain.TrainingJob{}, errors.NotFound("training_job", id)
	}
	return job, nil
}

func (s *Store) RunningTrainingJob(ctx context.Context, scope domain.Scope, modelType string) (domain.TrainingJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.trainingJobs {
		if job.Status == domain.TrainingStatusRunning && job.Scope() == scope && job.ModelType == modelType {
			return job, true, nil
		}
	}
	return domain.TrainingJob{}, false, nil
}

func (s *Store) StuckTrainingJobs(ctx context.Context, olderThan time.Duration) ([]domain.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var out []domain.TrainingJob
	for _, job := range s.trainingJobs {
		if job.Status == domain.TrainingStatusRunning && job.StartedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

// --- AnomalyStore ------------------------------------------------------------

func anomalyDedupeKey(a domain.Anomaly) string {
	return a.MachineID + "|" + a.DetectedAt.UTC().Format(time.RFC3339) + "|" + a.Type
}

func (s *Store) SaveAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dedupe := anomalyDedupeKey(a)
	for _, existing := range s.anomalies {
		if anomalyDedupeKey(existing) == dedupe {
			return existing, false, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AnomalyStatusOpen
	}
	s.anomalies[a.ID] = a
	return a, true, nil
}

func (s *Store) ResolveAnomaly(ctx context.Context, id string, note string) (domain.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anomalies[id]
	if !ok {
		return domain.Anomaly{}, errors.NotFound("anomaly", id)
	}
	if a.IsResolved() {
		return a, nil
	}
	now := time.Now().UTC()
	a.Status = domain.AnomalyStatusResolved
	a.ResolvedAt = &now
	a.ResolutionNote = note
	s.anomalies[id] = a
	return a, nil
}

func (s *Store) AnomalyByID(ctx context.Context, id string) (domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anomalies[id]
	if !ok {
		return domain.Anomaly{}, errors.NotFound("anomaly", id)
	}
	return a, nil
}

func (s *Store) RecentAnomalies(ctx context.Context, machineID string, severity string, since time.Duration, limit int) ([]domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-since)
	var out []domain.Anomaly
	for _, a := range s.anomalies {
		if machineID != "" && a.MachineID != machineID {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		if a.DetectedAt.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ActiveAnomalies(ctx context.Context, machineID string) ([]domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Anomaly
	for _, a := range s.anomalies {
		if a.Status != domain.AnomalyStatusOpen {
			continue
		}
		if machineID != "" && a.MachineID != machineID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

// --- KPICacheStore -----------------------------------------------------------

func kpiCacheKey(machineID string, period domain.TimeRange, name string) string {
	return machineID + "|" + period.Start.UTC().Format(time.RFC3339) + "|" + period.End.UTC().Format(time.RFC3339) + "|" + name
}

func (s *Store) UpsertKPICache(ctx context.Context, row domain.KPICacheRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kpiCacheKey(row.MachineID, domain.TimeRange{Start: row.PeriodStart, End: row.PeriodEnd}, row.KPIName)
	s.kpiCache[key] = row
	return nil
}

func (s *Store) KPICache(ctx context.Context, machineID string, period domain.TimeRange, kpiName string) (domain.KPICacheRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.kpiCache[kpiCacheKey(machineID, period, kpiName)]
	return row, ok, nil
}

// --- lifecycle ---------------------------------------------------------------

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }
