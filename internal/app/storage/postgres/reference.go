package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// --- Machines, factories, energy sources (read-only reference data) -------

func (s *Store) ListMachines(ctx context.Context, activeOnly bool) ([]domain.Machine, error) {
	query := `SELECT id, factory_id, name, type, rated_power_kw, data_interval_seconds, mqtt_topic, active, created_at
	          FROM machines`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	var machines []domain.Machine
	if err := s.db.SelectContext(ctx, &machines, query); err != nil {
		return nil, wrapQueryErr("list_machines", err)
	}
	return machines, nil
}

func (s *Store) MachineByID(ctx context.Context, id string) (domain.Machine, error) {
	var m domain.Machine
	err := s.db.GetContext(ctx, &m, `
		SELECT id, factory_id, name, type, rated_power_kw, data_interval_seconds, mqtt_topic, active, created_at
		FROM machines WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Machine{}, errors.NotFound("machine", id)
	}
	if err != nil {
		return domain.Machine{}, wrapQueryErr("machine_by_id", err)
	}
	return m, nil
}

func (s *Store) MachineByName(ctx context.Context, factoryID, name string) (domain.Machine, error) {
	var m domain.Machine
	err := s.db.GetContext(ctx, &m, `
		SELECT id, factory_id, name, type, rated_power_kw, data_interval_seconds, mqtt_topic, active, created_at
		FROM machines WHERE name = $1 AND ($2 = '' OR factory_id = $2)`, name, factoryID)
	if err == sql.ErrNoRows {
		return domain.Machine{}, errors.NotFound("machine", name)
	}
	if err != nil {
		return domain.Machine{}, wrapQueryErr("machine_by_name", err)
	}
	return m, nil
}

func (s *Store) ListEnergySources(ctx context.Context) ([]domain.EnergySource, error) {
	var sources []domain.EnergySource
	err := s.db.SelectContext(ctx, &sources, `
		SELECT id, key, unit, cost_per_unit, carbon_factor_per_unit, active
		FROM energy_sources ORDER BY key`)
	if err != nil {
		return nil, wrapQueryErr("list_energy_sources", err)
	}
	return sources, nil
}

func (s *Store) EnergySourceByKey(ctx context.Context, key string) (domain.EnergySource, error) {
	var e domain.EnergySource
	err := s.db.GetContext(ctx, &e, `
		SELECT id, key, unit, cost_per_unit, carbon_factor_per_unit, active
		FROM energy_sources WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return domain.EnergySource{}, errors.NotFound("energy_source", key)
	}
	if err != nil {
		return domain.EnergySource{}, wrapQueryErr("energy_source_by_key", err)
	}
	return e, nil
}

func (s *Store) FeaturesForSource(ctx context.Context, sourceID string) ([]domain.EnergySourceFeature, error) {
	var feats []domain.EnergySourceFeature
	err := s.db.SelectContext(ctx, &feats, `
		SELECT source_id, feature_key, source_table, source_column, aggregation, data_type, description
		FROM energy_source_features WHERE source_id = $1 ORDER BY feature_key`, sourceID)
	if err != nil {
		return nil, wrapQueryErr("features_for_source", err)
	}
	return feats, nil
}

func (s *Store) ListSEUs(ctx context.Context, energySourceID string) ([]domain.SEU, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, energy_source_id, machine_ids
		FROM seus WHERE $1 = '' OR energy_source_id = $1 ORDER BY name`, energySourceID)
	if err != nil {
		return nil, wrapQueryErr("list_seus", err)
	}
	defer rows.Close()

	var out []domain.SEU
	for rows.Next() {
		var seu domain.SEU
		var machineIDs pq.StringArray
		if err := rows.Scan(&seu.ID, &seu.Name, &seu.EnergySourceID, &machineIDs); err != nil {
			return nil, wrapQueryErr("scan_seu", err)
		}
		seu.MachineIDs = []string(machineIDs)
		out = append(out, seu)
	}
	return out, rows.Err()
}

func (s *Store) SEUByID(ctx context.Context, id string) (domain.SEU, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, name, energy_source_id, machine_ids FROM seus WHERE id = $1`, id)
	var seu domain.SEU
	var machineIDs pq.StringArray
	if err := row.Scan(&seu.ID, &seu.Name, &seu.EnergySourceID, &machineIDs); err != nil {
		if err == sql.ErrNoRows {
			return domain.SEU{}, errors.NotFound("seu", id)
		}
		return domain.SEU{}, wrapQueryErr("seu_by_id", err)
	}
	seu.MachineIDs = []string(machineIDs)
	return seu, nil
}
