package postgres

import (
	"context"
	"database/sql"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// UpsertKPICache writes a recomputable, advisory cache entry. The cache is
// never the source of truth, only a hint to skip recomputation.
func (s *Store) UpsertKPICache(ctx context.Context, row domain.KPICacheRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_cache (machine_id, period_start, period_end, kpi_name, value, unit, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (machine_id, period_start, period_end, kpi_name)
		DO UPDATE SET value = EXCLUDED.value, unit = EXCLUDED.unit, computed_at = EXCLUDED.computed_at`,
		row.MachineID, row.PeriodStart, row.PeriodEnd, row.KPIName, row.Value, row.Unit, row.ComputedAt)
	if err != nil {
		return wrapQueryErr("upsert_kpi_cache", err)
	}
	return nil
}

func (s *Store) KPICache(ctx context.Context, machineID string, period domain.TimeRange, kpiName string) (domain.KPICacheRow, bool, error) {
	var row domain.KPICacheRow
	err := s.db.GetContext(ctx, &row, `
		SELECT machine_id, period_start, period_end, kpi_name, value, unit, computed_at
		FROM kpi_cache
		WHERE machine_id = $1 AND period_start = $2 AND period_end = $3 AND kpi_name = $4`,
		machineID, period.Start, period.End, kpiName)
	if err == sql.ErrNoRows {
		return domain.KPICacheRow{}, false, nil
	}
	if err != nil {
		return domain.KPICacheRow{}, false, wrapQueryErr("kpi_cache", err)
	}
	return row, true, nil
}
