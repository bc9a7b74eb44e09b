package baseline

import (
	"context"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// fakeAggregator returns a fixed FeatureTable regardless of inputs, letting
// tests control the exact rows fed to the fitter.
type fakeAggregator struct {
	table domain.FeatureTable
}

func (f *fakeAggregator) FeaturesAt(ctx context.Context, scope domain.Scope, energySourceID string, window domain.TimeRange, requestedKeys []string, minSamples int, candidates []domain.Granularity) (domain.FeatureTable, error) {
	return f.table, nil
}

type fakeStore struct {
	baselines map[string]domain.BaselineModel
	versions  map[string]int
	active    map[string]string
	energy    []domain.EnergyReading
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		baselines: map[string]domain.BaselineModel{},
		versions:  map[string]int{},
		active:    map[string]string{},
	}
}

func (f *fakeStore) SaveBaseline(ctx context.Context, m domain.BaselineModel) (domain.BaselineModel, error) {
	m.ID = "model-" + m.Scope().Key() + "-v" + strconv.Itoa(m.ModelVersion)
	f.baselines[m.ID] = m
	return m, nil
}

func (f *fakeStore) ActivateBaseline(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error {
	f.active[scope.Key()+energySourceID] = modelID
	return nil
}

func (f *fakeStore) ActiveBaseline(ctx context.Context, scope domain.Scope, energySourceID string) (domain.BaselineModel, error) {
	id, ok := f.active[scope.Key()+energySourceID]
	if !ok {
		return domain.BaselineModel{}, assertNotTrained{}
	}
	return f.baselines[id], nil
}

func (f *fakeStore) NextModelVersion(ctx context.Context, scope domain.Scope, energySourceID string) (int, error) {
	key := scope.Key() + energySourceID
	f.versions[key]++
	return f.versions[key], nil
}

func (f *fakeStore) EnergyAggregate(ctx context.Context, machineID, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error) {
	return f.energy, nil
}

type assertNotTrained struct{}

func (assertNotTrained) Error() string { return "not trained" }

// linearFixture builds a feature table + matching energy readings where
// energy = 3 + 2*x, exactly, so OLS should recover intercept=3, coeff=2,
// R²=1.
func linearFixture(n int) (*fakeAggregator, *fakeStore) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := domain.FeatureTable{Granularity: domain.Granularity1Hour}
	store := newFakeStore()
	for i := 0; i < n; i++ {
		bucket := base.Add(time.Duration(i) * time.Hour)
		x := float64(i)
		table.Rows = append(table.Rows, domain.FeatureRow{
			Bucket:   bucket,
			Features: map[string]float64{"avg_outdoor_temp_c": x},
		})
		store.energy = append(store.energy, domain.EnergyReading{
			Time: bucket, EnergyKWh: 3 + 2*x,
		})
	}
	return &fakeAggregator{table: table}, store
}

func TestTrain_RecoversExactLinearRelationship(t *testing.T) {
	agg, store := linearFixture(60)
	engine := New(store, agg, nil, nil)

	model, err := engine.Train(context.Background(), domain.Scope{MachineID: "m1"}, domain.EnergySourceElectricity, "e1",
		domain.TimeRange{Start: time.Now(), End: time.Now().Add(60 * time.Hour)},
		[]string{"avg_outdoor_temp_c"})
	require.NoError(t, err)

	assert.InDelta(t, 3.0, model.Intercept, 1e-6)
	require.Len(t, model.Coefficients, 1)
	assert.InDelta(t, 2.0, model.Coefficients[0], 1e-6)
	assert.InDelta(t, 1.0, model.RSquared, 1e-6)
	assert.True(t, model.MeetsQuality)
	assert.Equal(t, 1, model.ModelVersion)
}

func TestTrain_SecondCallIncrementsVersion(t *testing.T) {
	agg, store := linearFixture(60)
	engine := New(store, agg, nil, nil)
	ctx := context.Background()
	scope := domain.Scope{MachineID: "m1"}
	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(60 * time.Hour)}

	m1, err := engine.Train(ctx, scope, domain.EnergySourceElectricity, "e1", window, []string{"avg_outdoor_temp_c"})
	require.NoError(t, err)
	m2, err := engine.Train(ctx, scope, domain.EnergySourceElectricity, "e1", window, []string{"avg_outdoor_temp_c"})
	require.NoError(t, err)
	assert.Greater(t, m2.ModelVersion, m1.ModelVersion)
}

func TestPredict_RoundTripsWithinTolerance(t *testing.T) {
	agg, store := linearFixture(60)
	engine := New(store, agg, nil, nil)
	ctx := context.Background()
	scope := domain.Scope{MachineID: "m1"}
	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(60 * time.Hour)}

	model, err := engine.Train(ctx, scope, domain.EnergySourceElectricity, "e1", window, []string{"avg_outdoor_temp_c"})
	require.NoError(t, err)
	require.NoError(t, engine.Activate(ctx, scope, "e1", model.ID))

	predicted, version, _, err := engine.Predict(ctx, scope, "e1", map[string]float64{"avg_outdoor_temp_c": 10})
	require.NoError(t, err)
	assert.Equal(t, model.ModelVersion, version)
	assert.True(t, math.Abs(predicted-(3+2*10)) < 1e-6)
}

func TestPredict_MissingFeatureIsBadRequest(t *testing.T) {
	agg, store := linearFixture(60)
	engine := New(store, agg, nil, nil)
	ctx := context.Background()
	scope := domain.Scope{MachineID: "m1"}
	window := domain.TimeRange{Start: time.Now(), End: time.Now().Add(60 * time.Hour)}

	model, err := engine.Train(ctx, scope, domain.EnergySourceElectricity, "e1", window, []string{"avg_outdoor_temp_c"})
	require.NoError(t, err)
	require.NoError(t, engine.Activate(ctx, scope, "e1", model.ID))

	_, _, _, err = engine.Predict(ctx, scope, "e1", map[string]float64{})
	assert.Error(t, err)
}
