// Command analytics-server is the Analytics Service process entry point.
// It wires the Time-Series Store Adapter, Event Bus Adapter, engines,
// Scheduler, WebSocket Fan-out, and HTTP API Surface into one
// system.Manager and drives the ordered startup/shutdown sequence.
// Configuration comes from flags plus environment (DSN resolution with an
// in-memory fallback when no database is configured); shutdown is
// signal-driven and bounded.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/acme-industrial/enms-analytics/infrastructure/logging"
	infraratelimit "github.com/acme-industrial/enms-analytics/infrastructure/ratelimit"
	"github.com/acme-industrial/enms-analytics/internal/app/config"
	coresvc "github.com/acme-industrial/enms-analytics/internal/app/core/service"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/httpapi"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
	appratelimit "github.com/acme-industrial/enms-analytics/internal/app/ratelimit"
	"github.com/acme-industrial/enms-analytics/internal/app/services/anomaly"
	"github.com/acme-industrial/enms-analytics/internal/app/services/baseline"
	"github.com/acme-industrial/enms-analytics/internal/app/services/eventbus"
	"github.com/acme-industrial/enms-analytics/internal/app/services/features"
	"github.com/acme-industrial/enms-analytics/internal/app/services/kpi"
	"github.com/acme-industrial/enms-analytics/internal/app/services/scheduler"
	"github.com/acme-industrial/enms-analytics/internal/app/services/timeseries"
	"github.com/acme-industrial/enms-analytics/internal/app/services/wsfanout"
	"github.com/acme-industrial/enms-analytics/internal/app/storage"
	"github.com/acme-industrial/enms-analytics/internal/app/storage/memory"
	"github.com/acme-industrial/enms-analytics/internal/app/storage/postgres"
	"github.com/acme-industrial/enms-analytics/internal/app/system"
	"github.com/acme-industrial/enms-analytics/internal/platform/database"
	"github.com/acme-industrial/enms-analytics/internal/platform/migrations"
)

// busService adapts eventbus.Bus's connect-on-construct/Close lifecycle to
// system.Service so the Manager starts/stops it in order: bus and
// subscriber come up before the scheduler and HTTP listener, and go down
// after them.
type busService struct {
	bus *eventbus.Bus
}

func (s *busService) Name() string                    { return "eventbus" }
func (s *busService) Start(ctx context.Context) error { return nil } // eventbus.New already dials+subscribes
func (s *busService) Stop(ctx context.Context) error  { return s.bus.Close() }

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides LISTEN_ADDR/config default)")
	dsn := flag.String("dsn", "", "PostgreSQL/TimescaleDB DSN (overrides DB_DSN; in-memory storage when empty)")
	flag.Parse()

	cfg := config.Load()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}

	log := logging.NewFromEnv("enms-analytics")
	entry := log.WithField("component", "main")

	rootCtx := context.Background()
	manager := system.NewManager()

	// --- Time-Series Store Adapter ---------------------------
	var backend storage.Store
	if cfg.DatabaseDSN != "" {
		db, err := database.Open(rootCtx, cfg.DatabaseDSN, cfg.DatabaseMaxConn)
		if err != nil {
			entry.WithError(err).Fatal("connect to store")
		}
		if err := migrations.Apply(rootCtx, db.DB); err != nil {
			entry.WithError(err).Fatal("apply core-owned table migrations")
		}
		backend = postgres.New(db)
		entry.Info("connected to PostgreSQL/TimescaleDB store")
	} else {
		backend = memory.New()
		entry.Warn("DB_DSN not set; running with the in-memory store (development only)")
	}

	// Reads retry briefly through transient store failures; writes keep
	// their transactional one-shot semantics.
	var store storage.Store = timeseries.New(backend, coresvc.RetryPolicy{
		Attempts:       3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	})

	if err := store.Ping(rootCtx); err != nil {
		entry.WithError(err).Fatal("store health check failed")
	}

	// --- Event Bus Adapter ------------------------------------
	// A single multiplexed Redis client backs both the event bus and the
	// rate limiter.
	var bus *eventbus.Bus
	var redisClient *redis.Client
	publish := func(string, any) {}

	if cfg.BusPubSubEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.BusHost, cfg.BusPort),
			Password: cfg.BusPassword,
			DB:       cfg.BusDB,
		})
		if err := redisClient.Ping(rootCtx).Err(); err != nil {
			entry.WithError(err).Warn("event bus unreachable; publishing will degrade to logged no-ops")
		}
		bus = eventbus.New(redisClient, entry.WithField("component", "eventbus")).
			WithHooks(metrics.EventBusPublishHooks())
		publish = func(event string, payload any) { bus.Publish(rootCtx, event, payload) }
		if err := manager.Register(&busService{bus: bus}); err != nil {
			entry.WithError(err).Fatal("register event bus service")
		}
	} else {
		entry.Info("BUS_PUBSUB_ENABLED=false; event publication disabled")
	}

	// --- WebSocket Fan-out ------------------------------------
	var hub *wsfanout.Hub
	if cfg.WebSocketEnabled {
		hub = wsfanout.New(
			entry.WithField("component", "wsfanout"),
			time.Duration(cfg.WebSocketHeartbeatInterval)*time.Second,
			cfg.WebSocketMaxConnections,
		)
		if bus != nil {
			for _, channel := range []string{
				domain.ChannelAnomalyDetected, domain.ChannelMetricUpdated,
				domain.ChannelTrainingStarted, domain.ChannelTrainingProgress,
				domain.ChannelTrainingCompleted, domain.ChannelSystemAlert,
			} {
				ch := channel
				if err := bus.Subscribe(ch, func(ctx context.Context, event eventbus.Event) {
					hub.BroadcastEvent(event.Channel, event.Payload)
				}); err != nil {
					entry.WithError(err).WithField("channel", ch).Error("subscribe wsfanout bridge")
				}
			}
		}
	} else {
		entry.Info("WEBSOCKET_ENABLED=false; WebSocket endpoints disabled")
	}

	// --- Engines ------------------------------------------
	aggregator := features.New(store).WithHooks(metrics.FeatureAggregationHooks())
	modelStore := baseline.NewDiskModelStore(cfg.ModelDir)
	baselineEngine := baseline.New(store, aggregator, modelStore, publish)
	anomalyEngine := anomaly.New(aggregator, baselineEngine, store, store, publish)
	kpiEngine := kpi.New(store, store, cfg.Tariff(), cfg.CarbonFactor).WithPublisher(publish)

	// --- Scheduler ---------------------------------------------
	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(store, baselineEngine, anomalyEngine, kpiEngine, store, entry.WithField("component", "scheduler")).
			WithPublisher(publish)
		if err := manager.Register(sched); err != nil {
			entry.WithError(err).Fatal("register scheduler")
		}
	} else {
		entry.Info("SCHEDULER_ENABLED=false; recurring jobs disabled")
	}

	// --- Rate-Limit & Connection-Throttle ----------------------
	var limiter *appratelimit.Limiter
	if redisClient != nil {
		limiter = appratelimit.New(redisClient, cfg.RateLimitWhitelist)
	}
	throttle := appratelimit.NewConnectionThrottle(10, 100)
	fallback := infraratelimit.New(infraratelimit.DefaultConfig())

	// --- Process-level cleanup: stuck training jobs -----------
	if stuck, err := store.StuckTrainingJobs(rootCtx, time.Hour); err != nil {
		entry.WithError(err).Warn("list stuck training jobs at startup")
	} else {
		for _, job := range stuck {
			job.Status = domain.TrainingStatusFailed
			job.Error = "stuck"
			now := time.Now().UTC()
			job.FinishedAt = &now
			if err := store.UpdateTrainingJob(rootCtx, job); err != nil {
				entry.WithError(err).WithField("job_id", job.ID).Warn("mark stuck training job failed")
			}
		}
	}

	// --- HTTP API Surface + WebSocket endpoints -----
	httpService := httpapi.NewService(cfg.ListenAddr, httpapi.Deps{
		Store:     store,
		Features:  aggregator,
		Baseline:  baselineEngine,
		Anomaly:   anomalyEngine,
		KPI:       kpiEngine,
		Scheduler: sched,
		Hub:       hub,
		Bus:       bus,
		Limiter:   limiter,
		Throttle:  throttle,
		Fallback:  fallback,
		Auth: httpapi.AuthConfig{
			Enabled:          cfg.AuthEnabled,
			JWTSecret:        []byte(cfg.AuthJWTSecret),
			BypassSecretHash: cfg.BypassSecretHash,
		},
		Version:   cfg.Version,
		Log:       entry.WithField("component", "httpapi"),
		AppLogger: log,
	})
	if err := manager.Register(httpService); err != nil {
		entry.WithError(err).Fatal("register http service")
	}

	if err := manager.Start(rootCtx); err != nil {
		entry.WithError(err).Fatal("start services")
	}
	entry.WithField("addr", cfg.ListenAddr).Info("enms-analytics started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	entry.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		entry.WithError(err).Error("shutdown error")
	}
	if err := store.Close(); err != nil {
		entry.WithError(err).Error("close store")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	entry.Info("enms-analytics stopped")
}
