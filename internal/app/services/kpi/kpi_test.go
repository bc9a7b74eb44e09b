package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

type fakeStore struct {
	energy     []domain.EnergyReading
	production []domain.ProductionPoint
	seu        domain.SEU
}

func (f *fakeStore) EnergyAggregate(ctx context.Context, machineID, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error) {
	return f.energy, nil
}

func (f *fakeStore) ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error) {
	return f.production, nil
}

func (f *fakeStore) SEUByID(ctx context.Context, id string) (domain.SEU, error) {
	return f.seu, nil
}

type fakeCache struct {
	rows []domain.KPICacheRow
}

func (f *fakeCache) UpsertKPICache(ctx context.Context, row domain.KPICacheRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeCache) KPICache(ctx context.Context, machineID string, period domain.TimeRange, kpiName string) (domain.KPICacheRow, bool, error) {
	return domain.KPICacheRow{}, false, nil
}

func fixture() *fakeStore {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return &fakeStore{
		energy: []domain.EnergyReading{
			{Time: base, PowerKW: 100, MaxPowerKW: 120, EnergyKWh: 100},
			{Time: base.Add(time.Hour), PowerKW: 150, MaxPowerKW: 180, EnergyKWh: 150},
			{Time: base.Add(2 * time.Hour), PowerKW: 50, MaxPowerKW: 70, EnergyKWh: 50},
		},
		production: []domain.ProductionPoint{
			{Time: base, Count: 20},
			{Time: base.Add(time.Hour), Count: 30},
			{Time: base.Add(2 * time.Hour), Count: 10},
		},
	}
}

func TestBatch_ComputesAllFiveKPIs(t *testing.T) {
	store := fixture()
	tariff := domain.FixedPeakOffPeakTariff{PeakStartHour: 8, PeakEndHour: 20, PeakRate: 0.30, OffPeakRate: 0.10}
	engine := New(store, &fakeCache{}, tariff, 0.4)

	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(3 * time.Hour)}
	batch, err := engine.Batch(context.Background(), domain.Scope{MachineID: "m1"}, domain.EnergySourceElectricity, 0, window)
	require.NoError(t, err)

	require.NotNil(t, batch.KPIs[domain.KPISEC].Value)
	assert.InDelta(t, 300.0/60.0, *batch.KPIs[domain.KPISEC].Value, 1e-9)

	require.NotNil(t, batch.KPIs[domain.KPIPeakDemand].Value)
	assert.Equal(t, 150.0, *batch.KPIs[domain.KPIPeakDemand].Value)

	require.NotNil(t, batch.KPIs[domain.KPILoadFactor].Value)
	assert.InDelta(t, (100.0+150.0+50.0)/3/180.0, *batch.KPIs[domain.KPILoadFactor].Value, 1e-9)

	require.NotNil(t, batch.KPIs[domain.KPICarbon].Value)
	assert.InDelta(t, 300*0.4, *batch.KPIs[domain.KPICarbon].Value, 1e-9)

	require.NotNil(t, batch.KPIs[domain.KPIEnergyCost].Value)
	assert.Greater(t, *batch.KPIs[domain.KPIEnergyCost].Value, 0.0)
}

func TestBatch_ZeroProductionCountReturnsNullSECWithReason(t *testing.T) {
	store := fixture()
	store.production = nil
	engine := New(store, &fakeCache{}, domain.FixedPeakOffPeakTariff{}, 0.4)

	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(3 * time.Hour)}
	batch, err := engine.Batch(context.Background(), domain.Scope{MachineID: "m1"}, domain.EnergySourceElectricity, 0, window)
	require.NoError(t, err)

	assert.Nil(t, batch.KPIs[domain.KPISEC].Value)
	assert.NotEmpty(t, batch.KPIs[domain.KPISEC].Reason)
}

func TestBatch_NoCarbonFactorConfiguredReturnsNull(t *testing.T) {
	store := fixture()
	engine := New(store, &fakeCache{}, domain.FixedPeakOffPeakTariff{}, 0)

	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(3 * time.Hour)}
	batch, err := engine.Batch(context.Background(), domain.Scope{MachineID: "m1"}, domain.EnergySourceElectricity, 0, window)
	require.NoError(t, err)

	assert.Nil(t, batch.KPIs[domain.KPICarbon].Value)
}

func TestCacheAndStore_UpsertsOnlyNonNullKPIs(t *testing.T) {
	store := fixture()
	cache := &fakeCache{}
	engine := New(store, cache, domain.FixedPeakOffPeakTariff{PeakStartHour: 8, PeakEndHour: 20, PeakRate: 0.3, OffPeakRate: 0.1}, 0.4)

	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(3 * time.Hour)}
	require.NoError(t, engine.CacheAndStore(context.Background(), "m1", domain.EnergySourceElectricity, 0, window))
	assert.Len(t, cache.rows, 5)
}
