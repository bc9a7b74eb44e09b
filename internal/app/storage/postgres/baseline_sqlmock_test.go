package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestActivateBaseline_DeactivatesThenActivatesInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE energy_baselines SET is_active = false`).
		WithArgs("m1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE energy_baselines SET is_active = true WHERE id`).
		WithArgs("model-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ActivateBaseline(context.Background(), domain.Scope{MachineID: "m1"}, "e1", "model-2")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateBaseline_UnknownModelRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE energy_baselines SET is_active = false`).
		WithArgs("m1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE energy_baselines SET is_active = true WHERE id`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.ActivateBaseline(context.Background(), domain.Scope{MachineID: "m1"}, "e1", "missing")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnomaly_ConflictReturnsExistingRow(t *testing.T) {
	store, mock := newMockStore(t)
	detectedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO anomalies`).
		WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING hit

	rows := sqlmock.NewRows([]string{
		"id", "machine_id", "detected_at", "type", "severity", "metric", "actual", "expected",
		"deviation", "deviation_percent", "confidence", "status", "resolution_note", "resolved_at",
	}).AddRow("existing-id", "m1", detectedAt, "spike", "warning", "power_kw", 400.0, 100.0,
		300.0, 300.0, 0.9, "open", "", nil)
	mock.ExpectQuery(`SELECT .+ FROM anomalies WHERE machine_id`).
		WithArgs("m1", detectedAt, "spike").
		WillReturnRows(rows)

	saved, created, err := store.SaveAnomaly(context.Background(), domain.Anomaly{
		MachineID: "m1", DetectedAt: detectedAt, Type: "spike",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing-id", saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTrainingJob_SecondRunningJobConflicts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM model_training_history`).
		WithArgs("m1", domain.ModelTypeBaseline, domain.TrainingStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.CreateTrainingJob(context.Background(), domain.TrainingJob{
		MachineID: "m1", ModelType: domain.ModelTypeBaseline, Status: domain.TrainingStatusRunning,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training already in progress")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertKPICache_IssuesSingleUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO kpi_cache`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertKPICache(context.Background(), domain.KPICacheRow{
		MachineID: "m1", KPIName: domain.KPISEC, Value: 5,
		PeriodStart: time.Now().UTC().Add(-24 * time.Hour), PeriodEnd: time.Now().UTC(),
		ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
