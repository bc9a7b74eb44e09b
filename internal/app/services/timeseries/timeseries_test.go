package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	coresvc "github.com/acme-industrial/enms-analytics/internal/app/core/service"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/storage/memory"
)

// flakyStore fails reads a configured number of times before delegating to
// the in-memory store, to exercise the adapter's transient-retry path.
type flakyStore struct {
	*memory.Store
	failures int
	calls    int
	err      error
}

func (f *flakyStore) ListMachines(ctx context.Context, activeOnly bool) ([]domain.Machine, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Store.ListMachines(ctx, activeOnly)
}

func retryThrice() coresvc.RetryPolicy {
	return coresvc.RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1}
}

func TestListMachines_RetriesTransientFailures(t *testing.T) {
	backend := &flakyStore{
		Store:    memory.New(),
		failures: 2,
		err:      errors.TransientUnavailable("postgres", nil),
	}
	backend.SeedMachine(domain.Machine{ID: "m1", Name: "Compressor-1", Active: true})

	adapter := New(backend, retryThrice())
	machines, err := adapter.ListMachines(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, machines, 1)
	assert.Equal(t, 3, backend.calls)
}

func TestListMachines_ExhaustedRetriesSurfaceTheError(t *testing.T) {
	backend := &flakyStore{
		Store:    memory.New(),
		failures: 10,
		err:      errors.TransientUnavailable("postgres", nil),
	}
	adapter := New(backend, retryThrice())
	_, err := adapter.ListMachines(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 3, backend.calls)
}

func TestListMachines_NotFoundIsNotRetried(t *testing.T) {
	backend := &flakyStore{
		Store:    memory.New(),
		failures: 10,
		err:      errors.NotFound("machine", "m1"),
	}
	adapter := New(backend, retryThrice())
	_, err := adapter.ListMachines(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 1, backend.calls, "a NotFound answer cannot change; retrying it wastes the budget")
}

func TestEnergyAggregate_RejectsUnsupportedGranularity(t *testing.T) {
	adapter := New(memory.New(), coresvc.DefaultRetryPolicy)
	_, err := adapter.EnergyAggregate(context.Background(), "m1", "",
		domain.TimeRange{Start: time.Now().Add(-time.Hour), End: time.Now()}, domain.Granularity("5min"))
	require.Error(t, err)
	svcErr := errors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, errors.ErrCodeBadRequest, svcErr.Code)
}

func TestAdapter_WritePathsDelegate(t *testing.T) {
	backend := memory.New()
	adapter := New(backend, coresvc.DefaultRetryPolicy)
	ctx := context.Background()

	saved, err := adapter.SaveBaseline(ctx, domain.BaselineModel{
		MachineID: "m1", EnergySourceID: "e1", ModelVersion: 1,
	})
	require.NoError(t, err)
	require.NoError(t, adapter.ActivateBaseline(ctx, domain.Scope{MachineID: "m1"}, "e1", saved.ID))

	active, err := adapter.ActiveBaseline(ctx, domain.Scope{MachineID: "m1"}, "e1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, active.ID)
}
