package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

func (s *Store) SaveBaseline(ctx context.Context, m domain.BaselineModel) (domain.BaselineModel, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	coeffJSON, err := json.Marshal(m.Coefficients)
	if err != nil {
		return domain.BaselineModel{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO energy_baselines
			(id, machine_id, seu_id, energy_source_id, model_version, features, intercept, coefficients,
			 r_squared, rmse, mae, residual_std, training_samples, training_window_start, training_window_end,
			 created_at, is_active, disk_blob_path, meets_quality_threshold)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, m.ID, nullString(m.MachineID), nullString(m.SEUID), m.EnergySourceID, m.ModelVersion,
		pq.StringArray(m.Features), m.Intercept, coeffJSON,
		m.RSquared, m.RMSE, m.MAE, m.ResidualStdDev, m.TrainingSamples, m.TrainingStart, m.TrainingEnd,
		m.CreatedAt, m.IsActive, m.DiskBlobPath, m.MeetsQuality)
	if err != nil {
		return domain.BaselineModel{}, wrapQueryErr("save_baseline", err)
	}
	return m, nil
}

// ActivateBaseline deactivates the current active model for the scope and
// energy source and activates the given one, inside a single transaction.
func (s *Store) ActivateBaseline(ctx context.Context, scope domain.Scope, energySourceID string, modelID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapQueryErr("activate_baseline_begin", err)
	}
	defer tx.Rollback()

	scopeCol, scopeVal := scopeColumn(scope)
	_, err = tx.ExecContext(ctx, `
		UPDATE energy_baselines SET is_active = false
		WHERE `+scopeCol+` = $1 AND energy_source_id = $2 AND is_active = true`, scopeVal, energySourceID)
	if err != nil {
		return wrapQueryErr("deactivate_baseline", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE energy_baselines SET is_active = true WHERE id = $1`, modelID)
	if err != nil {
		return wrapQueryErr("activate_baseline", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("baseline_model", modelID)
	}

	return tx.Commit()
}

func scopeColumn(scope domain.Scope) (column, value string) {
	if scope.IsSEU() {
		return "seu_id", scope.SEUID
	}
	return "machine_id", scope.MachineID
}

func (s *Store) ActiveBaseline(ctx context.Context, scope domain.Scope, energySourceID string) (domain.BaselineModel, error) {
	scopeCol, scopeVal := scopeColumn(scope)
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, machine_id, seu_id, energy_source_id, model_version, features, intercept, coefficients,
		       r_squared, rmse, mae, residual_std, training_samples, training_window_start, training_window_end,
		       created_at, is_active, disk_blob_path, meets_quality_threshold
		FROM energy_baselines
		WHERE `+scopeCol+` = $1 AND energy_source_id = $2 AND is_active = true`, scopeVal, energySourceID)
	m, err := scanBaseline(row)
	if err == sql.ErrNoRows {
		return domain.BaselineModel{}, errors.NotTrained(scope.MachineID)
	}
	return m, err
}

func (s *Store) BaselineByID(ctx context.Context, modelID string) (domain.BaselineModel, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, machine_id, seu_id, energy_source_id, model_version, features, intercept, coefficients,
		       r_squared, rmse, mae, residual_std, training_samples, training_window_start, training_window_end,
		       created_at, is_active, disk_blob_path, meets_quality_threshold
		FROM energy_baselines WHERE id = $1`, modelID)
	m, err := scanBaseline(row)
	if err == sql.ErrNoRows {
		return domain.BaselineModel{}, errors.NotFound("baseline_model", modelID)
	}
	return m, err
}

func (s *Store) ListBaselines(ctx context.Context, scope domain.Scope) ([]domain.BaselineModel, error) {
	scopeCol, scopeVal := scopeColumn(scope)
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, machine_id, seu_id, energy_source_id, model_version, features, intercept, coefficients,
		       r_squared, rmse, mae, residual_std, training_samples, training_window_start, training_window_end,
		       created_at, is_active, disk_blob_path, meets_quality_threshold
		FROM energy_baselines WHERE `+scopeCol+` = $1 ORDER BY model_version ASC`, scopeVal)
	if err != nil {
		return nil, wrapQueryErr("list_baselines", err)
	}
	defer rows.Close()

	var out []domain.BaselineModel
	for rows.Next() {
		m, err := scanBaseline(rows)
		if err != nil {
			return nil, wrapQueryErr("scan_baseline", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) NextModelVersion(ctx context.Context, scope domain.Scope, energySourceID string) (int, error) {
	scopeCol, scopeVal := scopeColumn(scope)
	var max sql.NullInt64
	err := s.db.GetContext(ctx, &max, `
		SELECT MAX(model_version) FROM energy_baselines WHERE `+scopeCol+` = $1 AND energy_source_id = $2`, scopeVal, energySourceID)
	if err != nil {
		return 0, wrapQueryErr("next_model_version", err)
	}
	return int(max.Int64) + 1, nil
}

func scanBaseline(scanner rowScanner) (domain.BaselineModel, error) {
	var (
		m                    domain.BaselineModel
		machineID, seuID     sql.NullString
		features             pq.StringArray
		coeffRaw             []byte
	)
	err := scanner.Scan(&m.ID, &machineID, &seuID, &m.EnergySourceID, &m.ModelVersion, &features, &m.Intercept, &coeffRaw,
		&m.RSquared, &m.RMSE, &m.MAE, &m.ResidualStdDev, &m.TrainingSamples, &m.TrainingStart, &m.TrainingEnd,
		&m.CreatedAt, &m.IsActive, &m.DiskBlobPath, &m.MeetsQuality)
	if err != nil {
		return domain.BaselineModel{}, err
	}
	m.MachineID = machineID.String
	m.SEUID = seuID.String
	m.Features = []string(features)
	if len(coeffRaw) > 0 {
		_ = json.Unmarshal(coeffRaw, &m.Coefficients)
	}
	return m, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// --- Training jobs ----------------------------------------------------------

func (s *Store) CreateTrainingJob(ctx context.Context, job domain.TrainingJob) (domain.TrainingJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.TrainingJob{}, wrapQueryErr("create_training_job_begin", err)
	}
	defer tx.Rollback()

	scopeCol, scopeVal := scopeColumn(job.Scope())
	var runningCount int
	if err := tx.GetContext(ctx, &runningCount, `
		SELECT COUNT(*) FROM model_training_history
		WHERE `+scopeCol+` = $1 AND model_type = $2 AND status = $3`,
		scopeVal, job.ModelType, domain.TrainingStatusRunning); err != nil {
		return domain.TrainingJob{}, wrapQueryErr("check_running_training_job", err)
	}
	if runningCount > 0 {
		return domain.TrainingJob{}, errors.Conflict("training already in progress")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO model_training_history
			(id, machine_id, seu_id, model_type, status, progress_pct, started_at, finished_at, error, model_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, nullString(job.MachineID), nullString(job.SEUID), job.ModelType, job.Status, job.ProgressPct,
		job.StartedAt, job.FinishedAt, job.Error, nullString(job.ModelID))
	if err != nil {
		return domain.TrainingJob{}, wrapQueryErr("create_training_job", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.TrainingJob{}, wrapQueryErr("create_training_job_commit", err)
	}
	return job, nil
}

func (s *Store) UpdateTrainingJob(ctx context.Context, job domain.TrainingJob) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE model_training_history
		SET status = $2, progress_pct = $3, finished_at = $4, error = $5, model_id = $6
		WHERE id = $1`, job.ID, job.Status, job.ProgressPct, job.FinishedAt, job.Error, nullString(job.ModelID))
	if err != nil {
		return wrapQueryErr("update_training_job", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("training_job", job.ID)
	}
	return nil
}

func (s *Store) TrainingJobByID(ctx context.Context, id string) (domain.TrainingJob, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, machine_id, seu_id, model_type, status, progress_pct, started_at, finished_at, error, model_id
		FROM model_training_history WHERE id = $1`, id)
	job, err := scanTrainingJob(row)
	if err == sql.ErrNoRows {
		return domain.TrainingJob{}, errors.NotFound("training_job", id)
	}
	return job, err
}

func (s *Store) RunningTrainingJob(ctx context.Context, scope domain.Scope, modelType string) (domain.TrainingJob, bool, error) {
	scopeCol, scopeVal := scopeColumn(scope)
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, machine_id, seu_id, model_type, status, progress_pct, started_at, finished_at, error, model_id
		FROM model_training_history
		WHERE `+scopeCol+` = $1 AND model_type = $2 AND status = $3
		LIMIT 1`, scopeVal, modelType, domain.TrainingStatusRunning)
	job, err := scanTrainingJob(row)
	if err == sql.ErrNoRows {
		return domain.TrainingJob{}, false, nil
	}
	if err != nil {
		return domain.TrainingJob{}, false, wrapQueryErr("running_training_job", err)
	}
	return job, true, nil
}

func (s *Store) StuckTrainingJobs(ctx context.Context, olderThan time.Duration) ([]domain.TrainingJob, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, machine_id, seu_id, model_type, status, progress_pct, started_at, finished_at, error, model_id
		FROM model_training_history
		WHERE status = $1 AND started_at < $2`, domain.TrainingStatusRunning, cutoff)
	if err != nil {
		return nil, wrapQueryErr("stuck_training_jobs", err)
	}
	defer rows.Close()

	var out []domain.TrainingJob
	for rows.Next() {
		job, err := scanTrainingJob(rows)
		if err != nil {
			return nil, wrapQueryErr("scan_training_job", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanTrainingJob(scanner rowScanner) (domain.TrainingJob, error) {
	var (
		job              domain.TrainingJob
		machineID, seuID sql.NullString
		modelID          sql.NullString
	)
	err := scanner.Scan(&job.ID, &machineID, &seuID, &job.ModelType, &job.Status, &job.ProgressPct,
		&job.StartedAt, &job.FinishedAt, &job.Error, &modelID)
	if err != nil {
		return domain.TrainingJob{}, err
	}
	job.MachineID = machineID.String
	job.SEUID = seuID.String
	job.ModelID = modelID.String
	return job, nil
}
