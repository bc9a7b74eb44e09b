// Package config assembles the process-wide Config struct from environment
// variables, using the typed env helpers in infrastructure/config: one flat
// struct, one Load function, env-first with sane defaults so the service
// boots standalone for local development.
package config

import (
	"github.com/acme-industrial/enms-analytics/infrastructure/config"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// HTTP
	ListenAddr string

	// Database
	DatabaseDSN     string
	DatabaseMaxConn int

	// Event bus
	BusHost           string
	BusPort           int
	BusPassword       string
	BusDB             int
	BusPubSubEnabled  bool

	// WebSocket
	WebSocketEnabled           bool
	WebSocketHeartbeatInterval int
	WebSocketMaxConnections    int

	// Rate limiting
	RateLimitWhitelist []string

	// Tariff/carbon
	TariffPeakRate    float64
	TariffOffPeakRate float64
	TariffPeakStart   int
	TariffPeakEnd     int
	CarbonFactor      float64

	// Scheduler
	SchedulerEnabled bool

	// Model persistence
	ModelDir string

	// Auth: off by
	// default, so a deployment opts into bearer-JWT verification explicitly.
	AuthEnabled   bool
	AuthJWTSecret string

	// BypassSecretHash, when set, is a bcrypt hash the X-Internal-Bypass
	// header value must match instead of mere presence being sufficient.
	BypassSecretHash string

	// Process
	Version         string
	ShutdownTimeout int // seconds
}

// Load reads every recognized option from the environment, falling back to
// documented defaults. Nothing here is required: an
// unconfigured process boots with an in-memory store, no event bus, and the
// in-process rate-limit fallback only; every optional subsystem degrades
// rather than refusing to start.
func Load() Config {
	return Config{
		ListenAddr: config.GetEnv("LISTEN_ADDR", ":8080"),

		DatabaseDSN:     config.GetEnv("DB_DSN", ""),
		DatabaseMaxConn: config.GetEnvInt("DB_MAX_CONNECTIONS", 30),

		BusHost:          config.GetEnv("BUS_HOST", "localhost"),
		BusPort:          config.GetEnvInt("BUS_PORT", 6379),
		BusPassword:      config.GetEnv("BUS_PASSWORD", ""),
		BusDB:            config.GetEnvInt("BUS_DB", 0),
		BusPubSubEnabled: config.GetEnvBool("BUS_PUBSUB_ENABLED", true),

		WebSocketEnabled:           config.GetEnvBool("WEBSOCKET_ENABLED", true),
		WebSocketHeartbeatInterval: config.GetEnvInt("WEBSOCKET_HEARTBEAT_INTERVAL", 30),
		WebSocketMaxConnections:    config.GetEnvInt("WEBSOCKET_MAX_CONNECTIONS", 1000),

		RateLimitWhitelist: config.SplitAndTrimCSV(config.GetEnv("WHITELIST", "")),

		TariffPeakRate:    config.GetEnvFloat("TARIFF_PEAK", 0.18),
		TariffOffPeakRate: config.GetEnvFloat("TARIFF_OFF_PEAK", 0.09),
		TariffPeakStart:   config.GetEnvInt("TARIFF_PEAK_START_HOUR", 8),
		TariffPeakEnd:     config.GetEnvInt("TARIFF_PEAK_END_HOUR", 20),
		CarbonFactor:      config.GetEnvFloat("CARBON_FACTOR", 0.4),

		SchedulerEnabled: config.GetEnvBool("SCHEDULER_ENABLED", true),

		ModelDir: config.GetEnv("MODEL_DIR", "./data/models"),

		AuthEnabled:      config.GetEnvBool("AUTH_ENABLED", false),
		AuthJWTSecret:    config.GetEnv("AUTH_JWT_SECRET", ""),
		BypassSecretHash: config.GetEnv("INTERNAL_BYPASS_SECRET_HASH", ""),

		Version:         config.GetEnv("SERVICE_VERSION", "dev"),
		ShutdownTimeout: config.GetEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
	}
}

// Tariff builds the TOU tariff schedule from configuration.
// FixedPeakOffPeakTariff is the shipped default; deployments with a real
// TOU calendar swap in their own domain.TariffSchedule.
func (c Config) Tariff() domain.TariffSchedule {
	return domain.FixedPeakOffPeakTariff{
		PeakStartHour: c.TariffPeakStart,
		PeakEndHour:   c.TariffPeakEnd,
		PeakRate:      c.TariffPeakRate,
		OffPeakRate:   c.TariffOffPeakRate,
	}
}
