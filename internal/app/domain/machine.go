// Package domain holds the plain data types the analytics engines operate
// on. The core never writes Machine, EnergySource, or Factory rows; they
// are read-only projections of tables owned by the ETL front-end.
package domain

import "time"

// Machine is a factory-floor asset the core reads telemetry for. It never
// mutates machine rows; factory/ETL ownership is external.
type Machine struct {
	ID               string    `json:"id" db:"id"`
	FactoryID        string    `json:"factory_id" db:"factory_id"`
	Name             string    `json:"name" db:"name"`
	Type             string    `json:"type" db:"type"`
	RatedPowerKW     float64   `json:"rated_power_kw" db:"rated_power_kw"`
	DataIntervalSecs int       `json:"data_interval_seconds" db:"data_interval_seconds"`
	MQTTTopic        string    `json:"mqtt_topic" db:"mqtt_topic"`
	Active           bool      `json:"active" db:"active"`
	Status           string    `json:"status,omitempty" db:"-"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Known machine types; the set is open-ended in the schema, this
// list only documents the common values the engines have special-cased
// behavior for (e.g. HVAC machines routinely lack pressure sensors).
const (
	MachineTypeCompressor      = "compressor"
	MachineTypeHVAC            = "hvac"
	MachineTypeMotor           = "motor"
	MachineTypePump            = "pump"
	MachineTypeInjectionMolder = "injection_molding"
	MachineTypeBoiler          = "boiler"
)

// Machine status values used to gate anomaly detection.
// Absent/unknown status is treated as MachineStatusRunning.
const (
	MachineStatusRunning     = "running"
	MachineStatusMaintenance = "maintenance"
	MachineStatusFault       = "fault"
)

// Factory is read-only reference data; the core only needs its identity for
// display purposes.
type Factory struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Location string `json:"location" db:"location"`
}

// EnergySource identifies a metered commodity (electricity, gas, steam, …).
type EnergySource struct {
	ID                  string   `json:"id" db:"id"`
	Key                 string   `json:"key" db:"key"`
	Unit                string   `json:"unit" db:"unit"`
	CostPerUnit         *float64 `json:"cost_per_unit,omitempty" db:"cost_per_unit"`
	CarbonFactorPerUnit *float64 `json:"carbon_factor_per_unit,omitempty" db:"carbon_factor_per_unit"`
	Active              bool     `json:"active" db:"active"`
}

// Known energy source keys.
const (
	EnergySourceElectricity   = "electricity"
	EnergySourceNaturalGas    = "natural_gas"
	EnergySourceSteam         = "steam"
	EnergySourceCompressedAir = "compressed_air"
)

// EnergySourceFeature declares a feature available for a given energy
// source and how the Feature Aggregator should compute it.
type EnergySourceFeature struct {
	SourceID     string `json:"source_id" db:"source_id"`
	FeatureKey   string `json:"feature_key" db:"feature_key"`
	SourceTable  string `json:"source_table" db:"source_table"`
	SourceColumn string `json:"source_column" db:"source_column"`
	Aggregation  string `json:"aggregation" db:"aggregation"`
	DataType     string `json:"data_type" db:"data_type"`
	Description  string `json:"description" db:"description"`
}

// Aggregation kinds a declared feature can request.
const (
	AggregationSum     = "SUM"
	AggregationAvg     = "AVG"
	AggregationMin     = "MIN"
	AggregationMax     = "MAX"
	AggregationCount   = "count"
	AggregationDerived = "derived"
)

// SEU (Significant Energy Use) groups one or more machines under a single
// energy source for baseline/KPI purposes, independent of machine type.
type SEU struct {
	ID             string   `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	EnergySourceID string   `json:"energy_source_id" db:"energy_source_id"`
	MachineIDs     []string `json:"machine_ids" db:"machine_ids"`
}

// Scope identifies what a query or engine call applies to: either a single
// machine or an SEU grouping several. Exactly one of MachineID/SEUID is set.
type Scope struct {
	MachineID string `json:"machine_id,omitempty"`
	SEUID     string `json:"seu_id,omitempty"`
}

// IsSEU reports whether the scope names an SEU rather than a single machine.
func (s Scope) IsSEU() bool { return s.SEUID != "" }

// Key returns a stable string identifying the scope, used for mutex maps
// and cache keys.
func (s Scope) Key() string {
	if s.IsSEU() {
		return "seu:" + s.SEUID
	}
	return "machine:" + s.MachineID
}
