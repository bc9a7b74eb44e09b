package postgres

import (
	"database/sql"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// SaveAnomaly inserts unless a row already exists for the (machine,
// detected_at, type) dedupe key, implemented here
// via ON CONFLICT DO NOTHING against a matching unique index.
func (s *Store) SaveAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AnomalyStatusOpen
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies
			(id, machine_id, detected_at, type, severity, metric, actual, expected,
			 deviation, deviation_percent, confidence, status, resolution_note, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (machine_id, detected_at, type) DO NOTHING`,
		a.ID, a.MachineID, a.DetectedAt, a.Type, a.Severity, a.Metric, a.Actual, a.Expected,
		a.Deviation, a.DeviationPercent, a.Confidence, a.Status, a.ResolutionNote, a.ResolvedAt)
	if err != nil {
		return domain.Anomaly{}, false, wrapQueryErr("save_anomaly", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Anomaly{}, false, wrapQueryErr("save_anomaly_rows_affected", err)
	}
	if rows == 1 {
		return a, true, nil
	}

	existing, err := s.anomalyByDedupeKey(ctx, a.MachineID, a.DetectedAt, a.Type)
	if err != nil {
		return domain.Anomaly{}, false, err
	}
	return existing, false, nil
}

func (s *Store) anomalyByDedupeKey(ctx context.Context, machineID string, detectedAt time.Time, anomalyType string) (domain.Anomaly, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, machine_id, detected_at, type, severity, metric, actual, expected,
		       deviation, deviation_percent, confidence, status, resolution_note, resolved_at
		FROM anomalies WHERE machine_id = $1 AND detected_at = $2 AND type = $3`,
		machineID, detectedAt, anomalyType)
	a, err := scanAnomaly(row)
	if err != nil {
		return domain.Anomaly{}, wrapQueryErr("anomaly_by_dedupe_key", err)
	}
	return a, nil
}

// ResolveAnomaly is idempotent: resolving an already-resolved anomaly
// returns the original resolved_at and resolution_note unchanged.
func (s *Store) ResolveAnomaly(ctx context.Context, id string, note string) (domain.Anomaly, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE anomalies
		SET status = $2, resolved_at = now(), resolution_note = $3
		WHERE id = $1 AND status != $2`,
		id, domain.AnomalyStatusResolved, note)
	if err != nil {
		return domain.Anomaly{}, wrapQueryErr("resolve_anomaly", err)
	}
	return s.AnomalyByID(ctx, id)
}

func (s *Store) AnomalyByID(ctx context.Context, id string) (domain.Anomaly, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, machine_id, detected_at, type, severity, metric, actual, expected,
		       deviation, deviation_percent, confidence, status, resolution_note, resolved_at
		FROM anomalies WHERE id = $1`, id)
	a, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return domain.Anomaly{}, errors.NotFound("anomaly", id)
	}
	if err != nil {
		return domain.Anomaly{}, wrapQueryErr("anomaly_by_id", err)
	}
	return a, nil
}

func (s *Store) RecentAnomalies(ctx context.Context, machineID string, severity string, since time.Duration, limit int) ([]domain.Anomaly, error) {
	cutoff := time.Now().UTC().Add(-since)
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, machine_id, detected_at, type, severity, metric, actual, expected,
		       deviation, deviation_percent, confidence, status, resolution_note, resolved_at
		FROM anomalies
		WHERE ($1 = '' OR machine_id = $1) AND ($2 = '' OR severity = $2) AND detected_at >= $3
		ORDER BY detected_at DESC
		LIMIT $4`, machineID, severity, cutoff, limit)
	if err != nil {
		return nil, wrapQueryErr("recent_anomalies", err)
	}
	defer rows.Close()
	return scanAnomalies(rows)
}

func (s *Store) ActiveAnomalies(ctx context.Context, machineID string) ([]domain.Anomaly, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, machine_id, detected_at, type, severity, metric, actual, expected,
		       deviation, deviation_percent, confidence, status, resolution_note, resolved_at
		FROM anomalies
		WHERE ($1 = '' OR machine_id = $1) AND status = $2
		ORDER BY detected_at DESC`, machineID, domain.AnomalyStatusOpen)
	if err != nil {
		return nil, wrapQueryErr("active_anomalies", err)
	}
	defer rows.Close()
	return scanAnomalies(rows)
}

func scanAnomalies(rows *sqlx.Rows) ([]domain.Anomaly, error) {
	var out []domain.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, wrapQueryErr("scan_anomaly", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnomaly(scanner rowScanner) (domain.Anomaly, error) {
	var a domain.Anomaly
	err := scanner.Scan(&a.ID, &a.MachineID, &a.DetectedAt, &a.Type, &a.Severity, &a.Metric, &a.Actual, &a.Expected,
		&a.Deviation, &a.DeviationPercent, &a.Confidence, &a.Status, &a.ResolutionNote, &a.ResolvedAt)
	return a, err
}
