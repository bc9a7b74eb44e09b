// Package scheduler implements the Scheduler: four cron-driven
// jobs (baseline retrain, anomaly sweep, KPI pre-compute, training-job
// cleanup), each with a single-fire guard so a slow run is never
// double-dispatched by the next tick. Triggers are cron expressions driven
// by github.com/robfig/cron/v3.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
	"github.com/acme-industrial/enms-analytics/internal/app/system"
)

// Job names.
const (
	JobBaselineRetrain = "baseline_retrain"
	JobAnomalyDetect   = "anomaly_detect"
	JobKPICalculate    = "kpi_calculate"
	JobTrainingCleanup = "training_cleanup"
)

// Cron schedules (UTC).
const (
	scheduleBaselineRetrain = "0 2 * * 0"  // weekly, Sunday 02:00
	scheduleAnomalyDetect   = "5 * * * *"  // hourly at :05
	scheduleKPICalculate    = "30 0 * * *" // daily 00:30
	scheduleTrainingCleanup = "*/15 * * * *"
)

// jobDeadlines bounds how long a single job run may take before it is
// aborted and marked failed.
var jobDeadlines = map[string]time.Duration{
	JobBaselineRetrain: time.Hour,
	JobAnomalyDetect:   10 * time.Minute,
	JobKPICalculate:    15 * time.Minute,
	JobTrainingCleanup: time.Minute,
}

// referenceSource resolves the machines/energy sources a sweep runs over.
type referenceSource interface {
	ListMachines(ctx context.Context, activeOnly bool) ([]domain.Machine, error)
	ListEnergySources(ctx context.Context) ([]domain.EnergySource, error)
}

// baselineRunner trains and conditionally activates a baseline model.
type baselineRunner interface {
	Train(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, explicitFeatures []string) (domain.BaselineModel, error)
	Activate(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error
}

// anomalyRunner runs one detection sweep.
type anomalyRunner interface {
	Detect(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange, useBaseline bool) ([]domain.Anomaly, error)
}

// kpiRunner pre-computes and caches KPIs.
type kpiRunner interface {
	CacheAndStore(ctx context.Context, machineID, energySourceKey string, carbonFactor float64, window domain.TimeRange) error
}

// trainingJobStore is the subset of storage used for cleanup.
type trainingJobStore interface {
	StuckTrainingJobs(ctx context.Context, olderThan time.Duration) ([]domain.TrainingJob, error)
	UpdateTrainingJob(ctx context.Context, job domain.TrainingJob) error
}

// minBaselineTrainingDays is the length, in days, of the trailing data window
// an automatic retrain fits on.
const minBaselineTrainingDays = 14

// Scheduler drives the four recurring jobs.
type Scheduler struct {
	reference referenceSource
	baseline  baselineRunner
	anomaly   anomalyRunner
	kpi       kpiRunner
	jobs      trainingJobStore
	log       *logrus.Entry
	publish   func(event string, payload any)

	cron *cron.Cron

	mu         sync.Mutex
	running    map[string]bool
	entryIDs   map[string]cron.EntryID
	lastRun    map[string]time.Time
	lastResult map[string]string
}

func New(reference referenceSource, baseline baselineRunner, anomaly anomalyRunner, kpi kpiRunner, jobs trainingJobStore, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		reference: reference,
		baseline:  baseline,
		anomaly:   anomaly,
		kpi:       kpi,
		jobs:      jobs,
		log:       log,
		publish:    func(string, any) {},
		cron:       cron.New(cron.WithLocation(time.UTC)),
		running:    make(map[string]bool),
		entryIDs:   make(map[string]cron.EntryID),
		lastRun:    make(map[string]time.Time),
		lastResult: make(map[string]string),
	}
}

// WithPublisher attaches the event-bus publish function and returns the
// scheduler for chaining. Cleanup sweeps that force-fail stuck jobs raise a
// system.alert so operators hear about crashed workers.
func (s *Scheduler) WithPublisher(publish func(event string, payload any)) *Scheduler {
	if publish != nil {
		s.publish = publish
	}
	return s
}

var _ system.Service = (*Scheduler)(nil)

func (s *Scheduler) Name() string { return "scheduler" }

// Start registers the four cron jobs and begins the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{JobBaselineRetrain, scheduleBaselineRetrain, s.runBaselineRetrain},
		{JobAnomalyDetect, scheduleAnomalyDetect, s.runAnomalyDetect},
		{JobKPICalculate, scheduleKPICalculate, s.runKPICalculate},
		{JobTrainingCleanup, scheduleTrainingCleanup, s.runTrainingCleanup},
	}
	for _, e := range entries {
		e := e
		id, err := s.cron.AddFunc(e.schedule, func() { s.fire(ctx, e.name, e.run) })
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.entryIDs[e.name] = id
		s.mu.Unlock()
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight job to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// JobStatus summarizes one job's schedule, whether it is currently
// in-flight, its last run, and its next scheduled fire time, for the
// scheduler status endpoint.
type JobStatus struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Running    bool       `json:"running"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

// Status returns a snapshot of all four jobs.
func (s *Scheduler) Status() []JobStatus {
	jobs := []struct{ name, schedule string }{
		{JobBaselineRetrain, scheduleBaselineRetrain},
		{JobAnomalyDetect, scheduleAnomalyDetect},
		{JobKPICalculate, scheduleKPICalculate},
		{JobTrainingCleanup, scheduleTrainingCleanup},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		status := JobStatus{
			Name:       j.name,
			Schedule:   j.schedule,
			Running:    s.running[j.name],
			LastResult: s.lastResult[j.name],
		}
		if last, ok := s.lastRun[j.name]; ok {
			t := last
			status.LastRun = &t
		}
		if id, ok := s.entryIDs[j.name]; ok {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				n := next
				status.NextRun = &n
			}
		}
		out = append(out, status)
	}
	return out
}

// Trigger runs a named job immediately, under the same single-fire guard
// as the cron dispatch.
func (s *Scheduler) Trigger(ctx context.Context, name string) bool {
	var run func(context.Context)
	switch name {
	case JobBaselineRetrain:
		run = s.runBaselineRetrain
	case JobAnomalyDetect:
		run = s.runAnomalyDetect
	case JobKPICalculate:
		run = s.runKPICalculate
	case JobTrainingCleanup:
		run = s.runTrainingCleanup
	default:
		return false
	}
	go s.fire(ctx, name, run)
	return true
}

// fire applies the single-fire guard and the job's deadline before running.
func (s *Scheduler) fire(ctx context.Context, name string, run func(context.Context)) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.WithField("job", name).Warn("scheduler: skipping tick, previous run still in flight")
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	deadline := jobDeadlines[name]
	if deadline <= 0 {
		deadline = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	run(runCtx)
	success := runCtx.Err() == nil
	metrics.RecordSchedulerJob(name, time.Since(start), success)

	result := "ok"
	if !success {
		result = "deadline exceeded"
	}
	s.mu.Lock()
	s.lastRun[name] = start.UTC()
	s.lastResult[name] = result
	s.mu.Unlock()

	s.log.WithField("job", name).WithField("duration", time.Since(start)).Info("scheduler: job completed")
}

func (s *Scheduler) runBaselineRetrain(ctx context.Context) {
	machines, err := s.reference.ListMachines(ctx, true)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: baseline_retrain list machines")
		return
	}
	sources, err := s.reference.ListEnergySources(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: baseline_retrain list energy sources")
		return
	}
	window := domain.TimeRange{Start: time.Now().Add(-minBaselineTrainingDays * 24 * time.Hour), End: time.Now()}
	for _, m := range machines {
		for _, src := range sources {
			scope := domain.Scope{MachineID: m.ID}
			model, err := s.baseline.Train(ctx, scope, src.Key, src.ID, window, nil)
			if err != nil {
				s.log.WithError(err).WithField("machine_id", m.ID).WithField("energy_source", src.Key).
					Debug("scheduler: baseline_retrain skipped")
				continue
			}
			if model.MeetsQuality {
				if err := s.baseline.Activate(ctx, scope, src.ID, model.ID); err != nil {
					s.log.WithError(err).WithField("machine_id", m.ID).Warn("scheduler: baseline_retrain activate failed")
				}
			}
		}
	}
}

func (s *Scheduler) runAnomalyDetect(ctx context.Context) {
	machines, err := s.reference.ListMachines(ctx, true)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: anomaly_detect list machines")
		return
	}
	sources, err := s.reference.ListEnergySources(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: anomaly_detect list energy sources")
		return
	}
	window := domain.TimeRange{Start: time.Now().Add(-time.Hour), End: time.Now()}
	for _, m := range machines {
		for _, src := range sources {
			scope := domain.Scope{MachineID: m.ID}
			if _, err := s.anomaly.Detect(ctx, scope, src.Key, src.ID, window, true); err != nil {
				s.log.WithError(err).WithField("machine_id", m.ID).WithField("energy_source", src.Key).
					Debug("scheduler: anomaly_detect skipped")
			}
		}
	}
}

func (s *Scheduler) runKPICalculate(ctx context.Context) {
	machines, err := s.reference.ListMachines(ctx, true)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: kpi_calculate list machines")
		return
	}
	sources, err := s.reference.ListEnergySources(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: kpi_calculate list energy sources")
		return
	}
	yesterday := time.Now().Add(-24 * time.Hour)
	window := domain.TimeRange{
		Start: time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC),
		End:   time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour),
	}
	for _, m := range machines {
		for _, src := range sources {
			carbonFactor := 0.0
			if src.CarbonFactorPerUnit != nil {
				carbonFactor = *src.CarbonFactorPerUnit
			}
			if err := s.kpi.CacheAndStore(ctx, m.ID, src.Key, carbonFactor, window); err != nil {
				s.log.WithError(err).WithField("machine_id", m.ID).WithField("energy_source", src.Key).
					Debug("scheduler: kpi_calculate skipped")
			}
		}
	}
}

// stuckTrainingJobAge is how long a job may sit in "running" before the
// cleanup job force-fails it (stale worker crash recovery).
const stuckTrainingJobAge = time.Hour

func (s *Scheduler) runTrainingCleanup(ctx context.Context) {
	stuck, err := s.jobs.StuckTrainingJobs(ctx, stuckTrainingJobAge)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: training_cleanup list stuck jobs")
		return
	}
	now := time.Now().UTC()
	failed := 0
	for _, job := range stuck {
		job.Status = domain.TrainingStatusFailed
		job.Error = "stuck"
		job.FinishedAt = &now
		if err := s.jobs.UpdateTrainingJob(ctx, job); err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Warn("scheduler: training_cleanup update failed")
			continue
		}
		failed++
	}
	if failed > 0 {
		s.publish(domain.ChannelSystemAlert, domain.SystemAlertEvent{
			EventType:   domain.ChannelSystemAlert,
			AlertType:   "training_cleanup",
			Severity:    "warning",
			Message:     fmt.Sprintf("%d stuck training jobs marked failed", failed),
			PublishedAt: now,
		})
	}
}
