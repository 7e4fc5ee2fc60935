// Package server assembles the wingfox components into a runnable service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/config"
	"github.com/Ramsey-B/wingfox/internal/handlers"
	"github.com/Ramsey-B/wingfox/pkg/allocation"
	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/health"
	"github.com/Ramsey-B/wingfox/pkg/kafka"
	"github.com/Ramsey-B/wingfox/pkg/llm"
	wflogger "github.com/Ramsey-B/wingfox/pkg/logger"
	"github.com/Ramsey-B/wingfox/pkg/middleware"
	"github.com/Ramsey-B/wingfox/pkg/observer"
	"github.com/Ramsey-B/wingfox/pkg/orchestrator"
	"github.com/Ramsey-B/wingfox/pkg/queue"
	"github.com/Ramsey-B/wingfox/pkg/ratelimit"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/scheduler"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
	"github.com/Ramsey-B/wingfox/pkg/startup"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
	"github.com/Ramsey-B/wingfox/pkg/tracing/exporters"
)

// Version is reported by the health endpoints
var Version = "dev"

// Mode selects which parts of the service are started
type Mode int

const (
	// ModeServe runs the HTTP API and the background workers
	ModeServe Mode = iota
	// ModeJob wires the services for a one-shot command without serving traffic
	ModeJob
)

// Dependency names in the startup graph
const (
	DepTracing    = "tracing"
	DepDatabase   = "database"
	DepMigrations = "migrations"
	DepRedis      = "redis"
	DepKafka      = "kafka"
	DepAuth       = "auth"
	DepLLM        = "llm"
	DepServices   = "services"
	DepWorkers    = "workers"
	DepHTTP       = "http"
)

// App owns every long-lived component of the service
type App struct {
	config  *config.Config
	logger  *zap.Logger
	ecto    ectologger.Logger
	startup *startup.Startup
	health  *health.Checker

	tracer   *sdktrace.TracerProvider
	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
	events   kafka.EventPublisher
	llm      llm.Client
	verifier middleware.TokenVerifier

	streams *redis.Streams
	timers  *redis.Timers
	locker  *redis.Locker
	dlq     *redis.DeadLetterQueue

	conversations *repositories.ConversationRepository
	matches       *repositories.MatchRepository

	Scoring      *scoring.Service
	Orchestrator *orchestrator.Orchestrator
	Batch        *allocation.BatchRunner
	Sweeper      *scheduler.Sweeper

	hub       *observer.Hub
	relay     *observer.Relay
	scheduler *scheduler.Scheduler
	processor *queue.Processor
	echo      *echo.Echo

	relayCancel context.CancelFunc
	relayDone   sync.WaitGroup
}

// New builds the startup graph for mode. Nothing connects until Start.
func New(cfg *config.Config, logger *zap.Logger, mode Mode) *App {
	a := &App{
		config:  cfg,
		logger:  logger,
		ecto:    wflogger.NewEcto(logger),
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:  health.NewChecker(Version),
		events:  kafka.NoopPublisher{},
	}

	a.startup.AddDependency(&startup.Dependency{Name: DepTracing, StartFunc: a.startTracing, StopFunc: a.stopTracing})
	a.startup.AddDependency(&startup.Dependency{Name: DepDatabase, StartFunc: a.startDatabase, StopFunc: a.stopDatabase})
	a.startup.AddDependency(&startup.Dependency{Name: DepRedis, StartFunc: a.startRedis, StopFunc: a.stopRedis})
	a.startup.AddDependency(&startup.Dependency{Name: DepKafka, StartFunc: a.startKafka, StopFunc: a.stopKafka})
	a.startup.AddDependency(&startup.Dependency{Name: DepAuth, StartFunc: a.startAuth})
	a.startup.AddDependency(&startup.Dependency{Name: DepLLM, Requires: []string{DepRedis}, StartFunc: a.startLLM})
	a.startup.AddDependency(&startup.Dependency{
		Name:      DepServices,
		Requires:  []string{DepTracing, DepDatabase, DepRedis, DepKafka, DepAuth, DepLLM},
		StartFunc: a.buildServices,
	})

	if mode == ModeServe {
		a.startup.AddDependency(&startup.Dependency{
			Name:      DepMigrations,
			Requires:  []string{DepDatabase},
			StartFunc: a.runMigrations,
		})
		a.startup.AddDependency(&startup.Dependency{
			Name:      DepWorkers,
			Requires:  []string{DepServices, DepMigrations},
			StartFunc: a.startWorkers,
			StopFunc:  a.stopWorkers,
		})
		a.startup.AddDependency(&startup.Dependency{
			Name:      DepHTTP,
			Requires:  []string{DepServices, DepMigrations},
			StartFunc: a.startHTTP,
			StopFunc:  a.stopHTTP,
		})
	}
	return a
}

// Start starts every dependency and marks the service ready
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.health.SetReady(true)
	return nil
}

// Stop stops every started dependency in reverse order
func (a *App) Stop(ctx context.Context) error {
	a.health.SetReady(false)
	return a.startup.Stop(ctx)
}

// Echo returns the HTTP server, nil outside ModeServe
func (a *App) Echo() *echo.Echo {
	return a.echo
}

func (a *App) startTracing(ctx context.Context) error {
	if !a.config.OTLPEnabled {
		return nil
	}
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: a.config.OTLPEndpoint,
		Protocol: a.config.OTLPProtocol,
		Insecure: a.config.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("create otlp exporter: %w", err)
	}
	a.tracer = tracing.Setup(a.config.AppName, exporter)
	a.logger.Info("Tracing enabled",
		zap.String("endpoint", a.config.OTLPEndpoint),
		zap.String("protocol", a.config.OTLPProtocol))
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	if a.tracer == nil {
		return nil
	}
	return a.tracer.Shutdown(ctx)
}

func (a *App) startDatabase(ctx context.Context) error {
	db, err := database.Open(ctx, a.config.DatabaseDSN(), database.PoolConfig{
		MaxOpenConns:    a.config.DatabaseMaxOpenConns,
		MaxIdleConns:    a.config.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.config.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.health.AddCheck(DepDatabase, db.PingContext)
	return nil
}

func (a *App) stopDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *App) runMigrations(context.Context) error {
	return Migrate(a.config, a.db, a.logger)
}

// Migrate applies the postgres migrations configured in cfg
func Migrate(cfg *config.Config, db database.DB, logger *zap.Logger) error {
	pool, err := database.Unwrap(db)
	if err != nil {
		return err
	}
	version := cfg.DatabaseMigrationVersion
	if version < 0 {
		version = 0
	}
	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(version),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return service.MigratePostgres(cfg.DatabaseName, pool)
}

func (a *App) startRedis(context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     a.config.RedisHost,
		Port:     a.config.RedisPort,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.health.AddCheck(DepRedis, client.Ping)
	return nil
}

func (a *App) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) startKafka(context.Context) error {
	cfg := kafka.ParseConfig(a.config.KafkaBrokers, a.config.KafkaEventsTopic)
	if !cfg.Enabled() {
		a.logger.Info("Kafka disabled, lifecycle events are not published")
		return nil
	}
	a.producer = kafka.NewProducer(cfg, a.logger)
	a.events = a.producer
	return nil
}

func (a *App) stopKafka(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *App) startAuth(ctx context.Context) error {
	if !a.config.AuthEnabled {
		a.logger.Warn("Authentication disabled, bearer tokens are trusted as user ids")
		a.verifier = middleware.InsecureVerifier{}
		return nil
	}
	verifier, err := middleware.NewOIDCVerifier(ctx, a.config.AuthIssuerURL, a.config.AuthClientID)
	if err != nil {
		return fmt.Errorf("create oidc verifier: %w", err)
	}
	a.verifier = verifier
	return nil
}

func (a *App) startLLM(ctx context.Context) error {
	client, err := llm.NewGemini(ctx, a.config.GeminiAPIKey, a.config.GeminiModel, a.logger)
	if err != nil {
		return err
	}
	a.llm = ratelimit.Wrap(client, redis.NewRateLimiter(a.redis, ""), ratelimit.Config{
		Key:               client.Model(),
		RequestsPerMinute: a.config.LLMRequestsPerMinute,
		Cooldown:          a.config.LLMRateLimitCooldown,
	}, a.logger)
	return nil
}

// OrchestratorConfig maps the service config onto the conversation settings
func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.TotalRounds = cfg.ConversationTotalRounds
	oc.MaxRetries = cfg.ConversationMaxRetries
	oc.MaxReplyChars = cfg.ConversationMaxReplyChars
	oc.RoundDelay = cfg.ConversationRoundDelay
	oc.RoundJitter = cfg.ConversationRoundJitter
	oc.RetryBaseDelay = cfg.ConversationRetryBaseDelay
	oc.RateLimitBaseDelay = cfg.ConversationRateLimitBaseDelay
	oc.LockTTL = cfg.ConversationLockTTL
	oc.Temperature = float32(cfg.LLMTemperature)
	oc.MaxOutputTokens = int32(cfg.LLMMaxOutputTokens)
	return oc
}

func (a *App) buildServices(context.Context) error {
	if a.Orchestrator != nil {
		return nil
	}

	a.streams = redis.NewStreams(a.redis)
	a.timers = redis.NewTimers(a.redis, "")
	a.locker = redis.NewLocker(a.redis, "")
	a.dlq = redis.NewDeadLetterQueue(a.redis, "", a.logger)

	a.conversations = repositories.NewConversationRepository(a.db, a.ecto)
	a.matches = repositories.NewMatchRepository(a.db, a.ecto)
	profiles := repositories.NewProfileRepository(a.db, a.ecto)
	blocks := repositories.NewBlockRepository(a.db, a.ecto)
	personas := repositories.NewPersonaRepository(a.db, a.ecto)
	states := repositories.NewActorStateRepository(a.db, a.ecto)
	scores := repositories.NewFeatureScoreRepository(a.db, a.ecto)

	a.Scoring = scoring.NewService(a.db, scores, a.matches, profiles, a.events, a.logger)

	a.hub = observer.NewHub(a.verifier, observer.RepositorySnapshots{
		Conversations: a.conversations,
		Matches:       a.matches,
	}, a.logger)
	a.relay = observer.NewRelay(a.redis, a.hub, a.logger)

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Tx:            a.db,
		Conversations: a.conversations,
		Matches:       a.matches,
		Personas:      personas,
		States:        states,
		Scorer:        a.Scoring,
		LLM:           a.llm,
		Timers:        a.timers,
		Locker:        a.locker,
		Broadcaster:   a.relay,
		Events:        a.events,
		Logger:        a.logger,
	}, OrchestratorConfig(a.config))
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	a.Orchestrator = orch

	a.Batch = allocation.NewBatchRunner(a.db, profiles, blocks, a.matches, a.conversations,
		a.Scoring, a.Orchestrator, a.events, a.logger)

	a.Sweeper = scheduler.NewSweeper(a.conversations, a.Orchestrator, a.locker, scheduler.SweeperConfig{
		Interval:   a.config.SweepInterval,
		StaleAfter: a.config.SweepStaleAfter,
	}, a.logger)

	a.scheduler = scheduler.NewScheduler(a.timers, a.streams, scheduler.Config{
		PollInterval: a.config.SchedulerPollInterval,
		WakeQueue:    a.config.RedisStreamsWakeQueue,
	}, a.logger)

	processorConfig := queue.DefaultProcessorConfig()
	processorConfig.Stream = a.config.RedisStreamsWakeQueue
	processorConfig.ConsumerGroup = a.config.RedisStreamsConsumerGroup
	if a.config.RedisStreamsConsumerName != "" {
		processorConfig.ConsumerName = a.config.RedisStreamsConsumerName
	}
	processorConfig.WorkerCount = a.config.WorkerCount
	a.processor = queue.NewProcessor(a.streams, a.dlq, a.Orchestrator, processorConfig, a.logger)

	return nil
}

func (a *App) startWorkers(ctx context.Context) error {
	if err := a.processor.Start(ctx); err != nil {
		return err
	}
	if a.config.SchedulerEnabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		if err := a.Sweeper.Start(ctx); err != nil {
			return err
		}
	}

	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.relayCancel = cancel
	a.relayDone.Add(1)
	go func() {
		defer a.relayDone.Done()
		if err := a.relay.Run(relayCtx); err != nil {
			a.logger.Error("Observer relay stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) stopWorkers(ctx context.Context) error {
	var errs []error
	if a.config.SchedulerEnabled {
		errs = append(errs, a.scheduler.Stop(ctx), a.Sweeper.Stop(ctx))
	}
	errs = append(errs, a.processor.Stop(ctx))
	if a.relayCancel != nil {
		a.relayCancel()
		a.relayDone.Wait()
	}
	return errors.Join(errs...)
}

func (a *App) startHTTP(context.Context) error {
	e := a.newEcho()
	a.echo = e

	addr := ":" + strconv.Itoa(a.config.Port)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) stopHTTP(ctx context.Context) error {
	if a.echo == nil {
		return nil
	}
	return a.echo.Shutdown(ctx)
}

func (a *App) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(a.config.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.config.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.config.HttpServerIdleTimeoutSeconds) * time.Second
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = middleware.Error(a.ecto)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: a.config.AllowOrigins}))
	e.Use(otelecho.Middleware(a.config.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	conversations := handlers.NewConversationHandler(a.conversations, a.matches, a.Orchestrator, a.hub,
		a.config.AllowOrigins, a.logger)
	matches := handlers.NewMatchHandler(a.matches, a.Scoring, a.Orchestrator, a.Batch, handlers.MatchDefaults{
		StaggerStep: a.config.MatchStaggerStep,
		TotalRounds: a.config.ConversationTotalRounds,
		Concurrency: a.config.MatchScoringWorkers,
	}, a.logger)
	dlq := handlers.NewDLQHandler(a.dlq, a.streams, a.config.RedisStreamsWakeQueue, a.logger)

	v1 := e.Group("/api/v1")
	// observers authenticate with their first websocket message
	conversations.RegisterObserverRoutes(v1)

	api := v1.Group("", middleware.Authentication(a.logger, a.verifier))
	conversations.RegisterRoutes(api)
	matches.RegisterRoutes(api)
	dlq.RegisterRoutes(api)

	return e
}
