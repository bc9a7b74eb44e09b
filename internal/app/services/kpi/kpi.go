// Package kpi implements the KPI Engine: a fixed suite of five
// energy-management KPIs computed over a scope/time-range from the same
// energy/production aggregates the Feature Aggregator reads, with a
// division-by-zero-safe null+reason result shape.
package kpi

import (
	"context"
	"time"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// timeSeriesSource is the subset of storage.Store the engine needs.
type timeSeriesSource interface {
	EnergyAggregate(ctx context.Context, machineID, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error)
	ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error)
	SEUByID(ctx context.Context, id string) (domain.SEU, error)
}

// cacheStore is the subset of storage.Store used for the advisory cache.
type cacheStore interface {
	UpsertKPICache(ctx context.Context, row domain.KPICacheRow) error
	KPICache(ctx context.Context, machineID string, period domain.TimeRange, kpiName string) (domain.KPICacheRow, bool, error)
}

// Engine is the KPI Engine.
type Engine struct {
	store      timeSeriesSource
	cache      cacheStore
	tariff     domain.TariffSchedule
	carbonRate float64 // kg CO2 per kWh, used when the energy source has none configured
	publish    func(event string, payload any)
}

func New(store timeSeriesSource, cache cacheStore, tariff domain.TariffSchedule, defaultCarbonFactor float64) *Engine {
	return &Engine{
		store: store, cache: cache, tariff: tariff, carbonRate: defaultCarbonFactor,
		publish: func(string, any) {},
	}
}

// WithPublisher attaches the event-bus publish function and returns the
// engine for chaining. Cached KPI values are announced on metric.updated so
// dashboards refresh without polling.
func (e *Engine) WithPublisher(publish func(event string, payload any)) *Engine {
	if publish != nil {
		e.publish = publish
	}
	return e
}

// resolveMachines expands a scope into the machine IDs it covers.
func (e *Engine) resolveMachines(ctx context.Context, scope domain.Scope) ([]string, error) {
	if !scope.IsSEU() {
		return []string{scope.MachineID}, nil
	}
	seu, err := e.store.SEUByID(ctx, scope.SEUID)
	if err != nil {
		return nil, err
	}
	return seu.MachineIDs, nil
}

// Batch computes all five KPIs for scope over window in one pass over the
// shared intermediates, so the batched endpoint costs one energy query and
// one production query per machine rather than one set per KPI.
func (e *Engine) Batch(ctx context.Context, scope domain.Scope, energySourceKey string, carbonFactorOverride float64, window domain.TimeRange) (domain.KPIBatch, error) {
	machines, err := e.resolveMachines(ctx, scope)
	if err != nil {
		return domain.KPIBatch{}, err
	}

	var energy []domain.EnergyReading
	var production []domain.ProductionPoint
	for _, m := range machines {
		er, err := e.store.EnergyAggregate(ctx, m, energySourceKey, window, domain.Granularity1Hour)
		if err != nil {
			return domain.KPIBatch{}, err
		}
		energy = append(energy, er...)
		pr, err := e.store.ProductionAggregate(ctx, m, window, domain.Granularity1Hour)
		if err != nil {
			return domain.KPIBatch{}, err
		}
		production = append(production, pr...)
	}

	carbonRate := e.carbonRate
	if carbonFactorOverride > 0 {
		carbonRate = carbonFactorOverride
	}

	batch := domain.KPIBatch{
		Scope: scope,
		Range: window,
		KPIs: map[string]domain.KPIResult{
			domain.KPISEC:        sec(energy, production),
			domain.KPIPeakDemand: peakDemand(energy),
			domain.KPILoadFactor: loadFactor(energy),
			domain.KPIEnergyCost: energyCost(energy, e.tariff),
			domain.KPICarbon:     carbon(energy, carbonRate),
		},
	}
	return batch, nil
}

func nullResult(name, unit, reason string) domain.KPIResult {
	return domain.KPIResult{Name: name, Unit: unit, Reason: reason}
}

func valueResult(name, unit string, v float64) domain.KPIResult {
	value := v
	return domain.KPIResult{Name: name, Unit: unit, Value: &value}
}

// sec is specific energy consumption: Σ energy_kwh / Σ production_count.
func sec(energy []domain.EnergyReading, production []domain.ProductionPoint) domain.KPIResult {
	var totalEnergy, totalCount float64
	for _, e := range energy {
		totalEnergy += e.EnergyKWh
	}
	for _, p := range production {
		totalCount += p.Count
	}
	if totalCount == 0 {
		return nullResult(domain.KPISEC, "kWh/unit", "zero production count in range")
	}
	return valueResult(domain.KPISEC, "kWh/unit", totalEnergy/totalCount)
}

// peakDemand is max(avg_power_kw) over buckets.
func peakDemand(energy []domain.EnergyReading) domain.KPIResult {
	if len(energy) == 0 {
		return nullResult(domain.KPIPeakDemand, "kW", "no energy readings in range")
	}
	peak := energy[0].PowerKW
	for _, e := range energy {
		if e.PowerKW > peak {
			peak = e.PowerKW
		}
	}
	return valueResult(domain.KPIPeakDemand, "kW", peak)
}

// loadFactor is avg(avg_power_kw) / max(max_power_kw) over the window's
// buckets.
func loadFactor(energy []domain.EnergyReading) domain.KPIResult {
	if len(energy) == 0 {
		return nullResult(domain.KPILoadFactor, "ratio", "no energy readings in range")
	}
	var sum, peak float64
	for _, e := range energy {
		sum += e.PowerKW
		if e.MaxPowerKW > peak {
			peak = e.MaxPowerKW
		}
	}
	avg := sum / float64(len(energy))
	if peak == 0 {
		return nullResult(domain.KPILoadFactor, "ratio", "zero peak power in range")
	}
	return valueResult(domain.KPILoadFactor, "ratio", avg/peak)
}

// energyCost is Σ (energy_kwh × tariff(bucket)).
func energyCost(energy []domain.EnergyReading, tariff domain.TariffSchedule) domain.KPIResult {
	if tariff == nil {
		return nullResult(domain.KPIEnergyCost, "currency", "no tariff schedule configured")
	}
	if len(energy) == 0 {
		return nullResult(domain.KPIEnergyCost, "currency", "no energy readings in range")
	}
	var total float64
	for _, e := range energy {
		total += e.EnergyKWh * tariff.RatePerKWh(e.Time)
	}
	return valueResult(domain.KPIEnergyCost, "currency", total)
}

// carbon is Σ energy_kwh × carbon_factor.
func carbon(energy []domain.EnergyReading, carbonFactor float64) domain.KPIResult {
	if carbonFactor <= 0 {
		return nullResult(domain.KPICarbon, "kg_co2", "no carbon factor configured")
	}
	if len(energy) == 0 {
		return nullResult(domain.KPICarbon, "kg_co2", "no energy readings in range")
	}
	var total float64
	for _, e := range energy {
		total += e.EnergyKWh * carbonFactor
	}
	return valueResult(domain.KPICarbon, "kg_co2", total)
}

// CacheAndStore pre-computes and persists all five KPIs for
// machineID/window.
func (e *Engine) CacheAndStore(ctx context.Context, machineID, energySourceKey string, carbonFactor float64, window domain.TimeRange) error {
	batch, err := e.Batch(ctx, domain.Scope{MachineID: machineID}, energySourceKey, carbonFactor, window)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for name, result := range batch.KPIs {
		if result.Value == nil {
			continue
		}
		row := domain.KPICacheRow{
			MachineID:   machineID,
			PeriodStart: window.Start,
			PeriodEnd:   window.End,
			KPIName:     name,
			Value:       *result.Value,
			Unit:        result.Unit,
			ComputedAt:  now,
		}
		if err := e.cache.UpsertKPICache(ctx, row); err != nil {
			return err
		}
		e.publish(domain.ChannelMetricUpdated, domain.MetricUpdatedEvent{
			EventType: domain.ChannelMetricUpdated, MachineID: machineID,
			Metric: name, Value: *result.Value, Timestamp: now, PublishedAt: now,
		})
	}
	return nil
}
