package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/budget"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/contracts"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/store"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/telemetry"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
)

// In-process bus settings.
const (
	busQueryTimeout     = 5 * time.Second
	busFailureThreshold = 5
	busCircuitCooldown  = 30 * time.Second
)

// errNoDatabase is returned by commands that need persistence when no
// database url is configured.
var errNoDatabase = errors.New("database.url is required (set VENTUREFLOW_DATABASE_URL or DATABASE_URL)")

// engine is the fully wired orchestrator and its infrastructure.
type engine struct {
	log *zap.Logger
	kv  *observability.KVLogger

	pool  *pgxpool.Pool
	store *store.Store
	bus   *commbus.InMemoryCommBus
	nc    *nats.Conn
	queue *telemetry.Queue

	tracker *budget.Tracker
	cache   *budget.Cache
	gate    *realitygate.Evaluator
	prober  *realitygate.HTTPProber

	orchestrator *kernel.Orchestrator
	runner       *runtime.VentureRunner

	detachRecorder func()
	stopTracer     func(context.Context) error
}

// openStore connects to the configured database.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, *store.Store, error) {
	if cfg.Database.URL == "" {
		return nil, nil, errNoDatabase
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, pool, log, store.WithDecisionTTL(cfg.Orchestrator.DecisionTTL))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, st, nil
}

// newEngine wires every collaborator of the orchestrator from cfg. The caller
// must Close the engine.
func newEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *engine, err error) {
	e := &engine{log: log, kv: observability.NewKVLogger(log)}
	defer func() {
		if err != nil {
			e.Close(context.Background())
		}
	}()

	if e.pool, e.store, err = openStore(ctx, cfg, log); err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		e.stopTracer, err = observability.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Environment)
		if err != nil {
			return nil, err
		}
	}

	busLog := e.kv.Named("commbus")
	e.bus = commbus.NewInMemoryCommBus(busQueryTimeout, busLog)
	e.bus.AddMiddleware(commbus.NewLoggingMiddleware(busLog))
	e.bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(busFailureThreshold, busCircuitCooldown, nil, busLog))
	e.detachRecorder = telemetry.NewRecorder(e.kv.Named("audit")).Attach(e.bus)

	sinks := []telemetry.Sink{telemetry.BusSink{Bus: e.bus}}
	if cfg.NATS.Enabled {
		if e.nc, err = telemetry.ConnectNATS(cfg.NATS, e.kv.Named("nats")); err != nil {
			return nil, err
		}
		sinks = append(sinks, telemetry.NewNATSSink(e.nc, cfg.NATS.SubjectPrefix))
	}
	e.queue = telemetry.NewQueue(cfg.Telemetry.QueueSize, e.kv.Named("telemetry"), sinks...)
	e.queue.Start()

	e.tracker = budget.NewTracker(cfg.Budget.DefaultLimitUSD, e.kv.Named("budget"), budget.WithPublisher(e.bus))
	e.cache = budget.NewCache(e.tracker, cfg.Budget.CacheTTL)
	e.tracker.AddInvalidator(budget.NewBusInvalidator(e.bus, e.kv.Named("budget")))
	if err = budget.RegisterHandlers(e.bus, e.cache, e.tracker); err != nil {
		return nil, fmt.Errorf("failed to register budget handlers: %w", err)
	}

	e.prober = realitygate.NewHTTPProber(
		realitygate.WithHostRateLimit(cfg.RealityGate.ProbeRatePerSecond, cfg.RealityGate.ProbeBurst),
	)
	e.gate = realitygate.NewEvaluator(realitygate.DefaultPolicy,
		realitygate.WithProbeTimeout(cfg.RealityGate.ProbeTimeout),
		realitygate.WithLogger(e.kv.Named("reality_gate")),
	)

	st := e.store
	e.orchestrator = kernel.NewOrchestrator(kernel.Deps{
		Ventures:    st,
		Templates:   templates.NewRegistry(st).WithAnalyzers(templates.BuiltinAnalyzers()),
		Persister:   st,
		Preferences: st,
		Runs:        st,
		Pointer:     st,
		StageGate:   stagegate.NewValidator(st, st, e.kv.Named("stage_gate")),
		RealityGate: e.gate,
		GateReader:  st,
		Prober:      e.prober,
		Recoverer:   gaterecovery.New(st, e.kv.Named("recovery"), gaterecovery.WithMaxRetries(cfg.Recovery.MaxRetries)),
		Reviewer:    stagegate.FallbackReviewer{},
		Contracts:   contracts.NewChecker(st, nil),
		Budget:      budget.NewBusSource(e.bus),
		Usage:       e.tracker,
		Telemetry:   e.queue,
		Logger:      e.kv.Named("orchestrator"),
	})

	e.runner = runtime.NewVentureRunner(e.orchestrator, st, e.kv.Named("runner"))
	e.runner.Pointer = st
	e.runner.Telemetry = e.queue

	log.Info("Engine initialized",
		zap.Bool("nats", e.nc != nil),
		zap.Bool("tracing", e.stopTracer != nil),
	)
	return e, nil
}

// Close drains telemetry and releases connections.
func (e *engine) Close(ctx context.Context) {
	if e.queue != nil {
		if err := e.queue.Close(ctx); err != nil {
			e.log.Warn("Telemetry queue did not drain", zap.Error(err), zap.Int64("dropped", e.queue.Dropped()))
		}
	}
	if e.detachRecorder != nil {
		e.detachRecorder()
	}
	if e.nc != nil {
		if err := e.nc.Drain(); err != nil {
			e.log.Warn("NATS drain failed", zap.Error(err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.stopTracer != nil {
		if err := e.stopTracer(ctx); err != nil {
			e.log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
}

// runOptions builds run-loop options from the orchestrator config.
func runOptions(cfg config.OrchestratorConfig) runtime.RunOptions {
	auto := cfg.AutoProceed
	return runtime.RunOptions{
		MaxStages:     cfg.MaxStages,
		WaitForReview: cfg.WaitForReview,
		ReviewTimeout: cfg.ReviewTimeout,
		PollInterval:  cfg.ReviewPollInterval,
		Stage: kernel.StageOptions{
			AutoProceed:     &auto,
			StrictContracts: cfg.StrictContracts,
		},
	}
}
