package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/quickassign/internal/config"
	"github.com/ehr/quickassign/internal/domain/admin"
	"github.com/ehr/quickassign/internal/domain/assignment"
	"github.com/ehr/quickassign/internal/domain/identity"
	"github.com/ehr/quickassign/internal/domain/scheduling"
	"github.com/ehr/quickassign/internal/platform/db"
	"github.com/ehr/quickassign/internal/platform/lock"
	"github.com/ehr/quickassign/internal/platform/queue"
	"github.com/ehr/quickassign/internal/platform/telemetry"
)

var version = "dev"

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
	}
}

func assignmentConfig(cfg *config.Config) assignment.Config {
	return assignment.Config{
		Enabled:             cfg.AutoAssignEnabled,
		WindowDays:          cfg.AutoAssignWindowDays,
		MaxSlotsPerTemplate: cfg.AutoAssignMaxSlots,
		MaxAppointments:     cfg.AutoAssignMaxAppointments,
		MaxRetries:          cfg.AutoAssignMaxRetries,
		RetryDelay:          cfg.AutoAssignRetryDelay,
		AppointmentNote:     cfg.AutoAssignNote,
		LockTTL:             cfg.AutoAssignLockTTL,
	}
}

func topology(cfg *config.Config) queue.Topology {
	return queue.Topology{Exchange: cfg.RabbitExchange, Queue: cfg.RabbitQueue}
}

// app holds everything the commands share. Close releases it in reverse
// order of construction.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	events       assignment.EventRepository
	orchestrator *assignment.Orchestrator
	trigger      *assignment.Trigger

	publisher *queue.Publisher
	inprocess *queue.InProcessScheduler
	redis     *goredis.Client

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// checks lists the health probes for the backends in use.
func (a *app) checks() []db.Check {
	var out []db.Check
	if a.pool != nil {
		out = append(out, db.PoolCheck(a.pool))
	}
	if a.redis != nil {
		out = append(out, db.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}})
	}
	if a.publisher != nil {
		out = append(out, db.Check{Name: "rabbitmq", Probe: a.publisher.Ping})
	}
	return out
}

// newApp loads configuration and wires the assignment engine. Attempts are
// scheduled through RabbitMQ when RABBIT_URL is set and in-process
// otherwise; the per-patient guard lives in Redis when REDIS_URL is set.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	a := &app{cfg: cfg, logger: logger}

	shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "quickassign",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	})

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	clock := scheduling.SystemClock{Location: loc}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	logger.Info().Msg("connected to database")

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locker = lock.NewRedisLocker(rdb)
		logger.Info().Msg("connected to redis")
	}

	ac := assignmentConfig(cfg)
	resources := scheduling.NewResourceRepoPG(pool)
	slots := scheduling.NewSlotRepoPG(pool)
	patients := identity.NewPatientRepo(pool)
	selector := scheduling.NewSelector(
		resources,
		scheduling.NewAvailabilityRepoPG(pool),
		scheduling.NewMaterializer(slots, clock),
		clock,
		ac.MaxSlotsPerTemplate,
		logger,
	)
	txm := db.NewTxManager(pool)
	transactor := scheduling.NewTransactor(
		txm,
		patients,
		scheduling.NewBookingRepoPG(pool),
		slots,
		clock,
		ac.MaxAppointments,
		ac.AppointmentNote,
	)

	a.events = assignment.NewEventRepoPG(pool)
	a.orchestrator = assignment.NewOrchestrator(ac, assignment.Deps{
		Events:     a.events,
		Patients:   patients,
		Facilities: admin.NewFacilityRepoPG(pool),
		Resources:  resources,
		Finder:     selector,
		Booker:     transactor,
		Tx:         txm,
		Locker:     locker,
		Clock:      clock,
	}, logger)

	var scheduler assignment.Scheduler
	if cfg.RabbitURL != "" {
		pub, err := queue.NewPublisher(cfg.RabbitURL, topology(cfg))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, func() { _ = pub.Close() })
		scheduler = pub
		logger.Info().Str("exchange", cfg.RabbitExchange).Msg("connected to rabbitmq")
	} else {
		inp := queue.NewInProcessScheduler(logger)
		inp.Handle(a.orchestrator.AttemptAssignment)
		a.inprocess = inp
		a.closers = append(a.closers, func() {
			if n := inp.Pending(); n > 0 {
				logger.Warn().Int("pending", n).Msg("dropping scheduled attempts on exit")
			}
			inp.Close()
		})
		scheduler = inp
	}
	a.orchestrator.SetScheduler(scheduler)
	a.trigger = assignment.NewTrigger(scheduler, ac.Enabled, logger)

	return a, nil
}
