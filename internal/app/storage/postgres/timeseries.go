package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// aggregateSuffix maps a Granularity to the continuous-aggregate table
// suffix. Each aggregate is built directly off the raw hypertable, never
// stacked on another aggregate.
func aggregateSuffix(g domain.Granularity) (string, error) {
	switch g {
	case domain.Granularity1Min:
		return "1min", nil
	case domain.Granularity15Min:
		return "15min", nil
	case domain.Granularity1Hour:
		return "1hour", nil
	case domain.Granularity1Day:
		return "1day", nil
	default:
		return "", fmt.Errorf("unsupported granularity %q", g)
	}
}

func (s *Store) EnergyAggregate(ctx context.Context, machineID string, energyType string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnergyReading, error) {
	suffix, err := aggregateSuffix(gran)
	if err != nil {
		return nil, err
	}
	table := "energy_readings_" + suffix
	query := fmt.Sprintf(`
		SELECT bucket AS time, machine_id, COALESCE(energy_type, '') AS energy_type,
		       avg_power_kw AS power_kw, max_power_kw, min_power_kw,
		       total_energy_kwh AS energy_kwh
		FROM %s
		WHERE machine_id = $1 AND bucket >= $2 AND bucket < $3 AND ($4 = '' OR energy_type = $4)
		ORDER BY bucket ASC`, table)

	var rows []domain.EnergyReading
	if err := s.db.SelectContext(ctx, &rows, query, machineID, window.Start, window.End, energyType); err != nil {
		return nil, wrapQueryErr("energy_aggregate", err)
	}
	return rows, nil
}

func (s *Store) ProductionAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.ProductionPoint, error) {
	suffix, err := aggregateSuffix(gran)
	if err != nil {
		return nil, err
	}
	table := "production_data_" + suffix
	query := fmt.Sprintf(`
		SELECT bucket AS time, machine_id, total_count AS count, total_good AS good,
		       total_defective AS defective, avg_throughput AS throughput
		FROM %s
		WHERE machine_id = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC`, table)

	var rows []domain.ProductionPoint
	if err := s.db.SelectContext(ctx, &rows, query, machineID, window.Start, window.End); err != nil {
		return nil, wrapQueryErr("production_aggregate", err)
	}
	return rows, nil
}

func (s *Store) EnvironmentalAggregate(ctx context.Context, machineID string, window domain.TimeRange, gran domain.Granularity) ([]domain.EnvironmentalPoint, error) {
	suffix, err := aggregateSuffix(gran)
	if err != nil {
		return nil, err
	}
	table := "environmental_data_" + suffix
	query := fmt.Sprintf(`
		SELECT bucket AS time, machine_id, avg_outdoor_temp_c AS outdoor_temp_c,
		       avg_indoor_temp_c AS indoor_temp_c, avg_machine_temp_c AS machine_temp_c,
		       avg_humidity_percent AS humidity_percent, avg_pressure_bar AS pressure_bar
		FROM %s
		WHERE machine_id = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC`, table)

	var rows []domain.EnvironmentalPoint
	if err := s.db.SelectContext(ctx, &rows, query, machineID, window.Start, window.End); err != nil {
		return nil, wrapQueryErr("environmental_aggregate", err)
	}
	return rows, nil
}

// latestReadingRow mirrors the raw hypertable's columns, keeping the jsonb
// metadata column as raw bytes so it can be picked apart with gjson below
// rather than round-tripped through Postgres' own `->>` operator.
type latestReadingRow struct {
	Time      time.Time `db:"time"`
	MachineID string    `db:"machine_id"`
	PowerKW   float64   `db:"power_kw"`
	EnergyKWh float64   `db:"energy_kwh"`
	Metadata  []byte    `db:"metadata"`
}

func (s *Store) LatestReading(ctx context.Context, machineID string) (domain.EnergyReading, error) {
	var row latestReadingRow
	err := s.db.GetContext(ctx, &row, `
		SELECT time, machine_id, power_kw, energy_kwh, COALESCE(metadata, '{}'::jsonb) AS metadata
		FROM energy_readings
		WHERE machine_id = $1
		ORDER BY time DESC
		LIMIT 1`, machineID)
	if err == sql.ErrNoRows {
		return domain.EnergyReading{}, errors.NotFound("energy_reading", machineID)
	}
	if err != nil {
		return domain.EnergyReading{}, wrapQueryErr("latest_reading", err)
	}

	// The metadata shape is fixed (it is the ETL front-end's own contract),
	// so a single-field gjson Get avoids unmarshalling the whole blob just
	// to read energy_type.
	energyType := gjson.GetBytes(row.Metadata, "energy_type").String()

	r := domain.EnergyReading{
		Time: row.Time, MachineID: row.MachineID, EnergyType: energyType,
		PowerKW: row.PowerKW, EnergyKWh: row.EnergyKWh,
	}
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &r.Metadata)
	}
	return r, nil
}

// MachineStatusAt looks up the external machine-status signal, if the
// deployment's ETL front-end populates one. The table is optional external
// input; absent means running.
func (s *Store) MachineStatusAt(ctx context.Context, machineID string, at time.Time) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `
		SELECT status FROM machine_status
		WHERE machine_id = $1 AND effective_at <= $2
		ORDER BY effective_at DESC
		LIMIT 1`, machineID, at)
	if err == sql.ErrNoRows {
		return domain.MachineStatusRunning, nil
	}
	if err != nil {
		return "", wrapQueryErr("machine_status_at", err)
	}
	return status, nil
}
