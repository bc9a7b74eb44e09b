package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

type fakeAggregator struct {
	table domain.FeatureTable
}

func (f *fakeAggregator) FeaturesAt(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int, candidates []domain.Granularity) (domain.FeatureTable, error) {
	return f.table, nil
}

type fakeBaseline struct {
	result domain.DeviationResult
	err    error
}

func (f *fakeBaseline) Deviation(ctx context.Context, scope domain.Scope, energySourceKey, energySourceID string, window domain.TimeRange) (domain.DeviationResult, error) {
	return f.result, f.err
}

type fakeStatus struct {
	gated map[int64]bool
}

func (f *fakeStatus) MachineStatusAt(ctx context.Context, machineID string, at time.Time) (string, error) {
	if f.gated[at.Unix()] {
		return domain.MachineStatusMaintenance, nil
	}
	return domain.MachineStatusRunning, nil
}

type fakeAnomalyStore struct {
	saved []domain.Anomaly
	seen  map[string]bool
}

func newFakeAnomalyStore() *fakeAnomalyStore {
	return &fakeAnomalyStore{seen: map[string]bool{}}
}

func (f *fakeAnomalyStore) SaveAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, bool, error) {
	key := a.MachineID + a.DetectedAt.String() + a.Type
	if f.seen[key] {
		return a, false, nil
	}
	f.seen[key] = true
	a.ID = "anom-" + key
	f.saved = append(f.saved, a)
	return a, true, nil
}

// steadyWithSpikeFixture builds 40 hourly rows of steady power around 100kW,
// with one row spiked to 400kW, so the forest should isolate it quickly.
func steadyWithSpikeFixture(spikeIdx int) *fakeAggregator {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	table := domain.FeatureTable{Granularity: domain.Granularity1Hour}
	for i := 0; i < 40; i++ {
		power := 100.0
		if i == spikeIdx {
			power = 400.0
		}
		table.Rows = append(table.Rows, domain.FeatureRow{
			Bucket: base.Add(time.Duration(i) * time.Hour),
			Features: map[string]float64{
				"avg_power_kw":        power,
				"avg_outdoor_temp_c":  15.0,
				"avg_machine_temp_c":  60.0,
				"avg_pressure_bar":    5.0,
				"avg_throughput":      200.0,
			},
		})
	}
	return &fakeAggregator{table: table}
}

func TestDetect_FlagsInjectedPowerSpike(t *testing.T) {
	agg := steadyWithSpikeFixture(20)
	store := newFakeAnomalyStore()
	engine := New(agg, &fakeBaseline{}, nil, store, nil)

	scope := domain.Scope{MachineID: "m1"}
	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(40 * time.Hour)}

	anomalies, err := engine.Detect(context.Background(), scope, domain.EnergySourceElectricity, "e1", window, false)
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)

	found := false
	for _, a := range anomalies {
		if a.Type == domain.AnomalyTypeSpike || a.Type == domain.AnomalyTypeDrift {
			found = true
		}
	}
	assert.True(t, found, "expected the injected spike to surface as spike or drift")
}

func TestDetect_ExcludesGatedMaintenanceBuckets(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	spikeAt := base.Add(20 * time.Hour)
	agg := steadyWithSpikeFixture(20)
	status := &fakeStatus{gated: map[int64]bool{spikeAt.Unix(): true}}
	store := newFakeAnomalyStore()
	engine := New(agg, &fakeBaseline{}, status, store, nil)

	scope := domain.Scope{MachineID: "m1"}
	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(40 * time.Hour)}

	anomalies, err := engine.Detect(context.Background(), scope, domain.EnergySourceElectricity, "e1", window, false)
	require.NoError(t, err)
	for _, a := range anomalies {
		assert.False(t, a.DetectedAt.Equal(spikeAt), "gated bucket should never surface as an anomaly")
	}
}

func TestDetect_IsIdempotentOnRepeatedRuns(t *testing.T) {
	agg := steadyWithSpikeFixture(20)
	store := newFakeAnomalyStore()
	engine := New(agg, &fakeBaseline{}, nil, store, nil)

	scope := domain.Scope{MachineID: "m1"}
	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(40 * time.Hour)}

	first, err := engine.Detect(context.Background(), scope, domain.EnergySourceElectricity, "e1", window, false)
	require.NoError(t, err)
	second, err := engine.Detect(context.Background(), scope, domain.EnergySourceElectricity, "e1", window, false)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
	assert.Len(t, store.saved, len(first))
}
