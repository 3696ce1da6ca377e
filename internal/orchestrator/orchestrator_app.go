package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/internal/logging"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/api"
	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/config"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/coordination"
	internaldb "github.com/meetbot-dev/meetbot/internal/orchestrator/database"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/pool"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/telemetry"
	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/internal/platform/factory"
	"github.com/meetbot-dev/meetbot/internal/version"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/auth"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
	"github.com/meetbot-dev/meetbot/pkg/types"
)

const (
	// databaseMemory selects the in-process store
	databaseMemory = "memory"
	// databaseNoop means the database comes entirely from AppOptions.DatabaseFactory
	databaseNoop = "noop"

	reconcileTimeout = 2 * time.Minute
	shutdownTimeout  = 30 * time.Second
)

// App runs the orchestrator until SIGINT or SIGTERM.
func App(ctx context.Context, opts ...types.AppOptions) error {
	var options types.AppOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	cfg := config.NewConfig()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := logging.InitLogging(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	ctx = log.IntoContext(ctx, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, options)
}

func run(ctx context.Context, cfg *config.Config, options types.AppOptions) error {
	logger := log.FromContext(ctx)
	logger.Info("Starting meetbot orchestrator", "version", version.Version, "commit", version.GitCommit)

	jwtManager, err := newJWTManager(logger, cfg.JWTPrivateKey)
	if err != nil {
		return err
	}
	authnProvider := options.AuthnProvider
	if authnProvider == nil {
		authnProvider = jwtManager
	}

	db, err := openDatabase(ctx, cfg, options)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error(err, "Error closing database connection")
		} else {
			logger.Info("Database connection closed successfully")
		}
	}()

	shutdownTelemetry, metrics, err := telemetry.InitMetrics(cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error(err, "Failed to shutdown telemetry")
		}
	}()

	requested, err := cfg.Platform()
	if err != nil {
		return err
	}
	var client platform.Client
	if options.PlatformFactory != nil {
		client, err = options.PlatformFactory(ctx, cfg, requested)
	} else {
		client, err = factory.New(ctx, cfg, requested, factory.Options{})
	}
	if err != nil {
		return fmt.Errorf("failed to create %s platform client: %w", requested, err)
	}
	logger.Info("Using deployment platform", "platform", client.Name(), "pooled", client.Pooled())

	locks := coordination.NewKeyedLock(coordination.WithMaxWait(cfg.LockMaxWait))
	gate := coordination.NewGate(cfg.MaxConcurrentDeploys)
	botEnv := cfg.Storage.Env()

	backend := service.Backend{Client: client}
	if client.Pooled() {
		backend.Pool = pool.NewManager(db, client, pool.Config{
			Size:                cfg.Pool.Size,
			SlotPrefix:          cfg.Pool.SlotPrefix,
			QueueTimeout:        cfg.Pool.QueueTimeout,
			RecoveryMaxAttempts: cfg.Pool.RecoveryMaxAttempts,
			SweepInterval:       cfg.Pool.SweepInterval,
			Image:               cfg.BotImage,
			Env:                 botEnv,
		}, pool.WithLocks(locks))
		if err := metrics.ObservePool(backend.Pool); err != nil {
			return fmt.Errorf("failed to register pool metrics: %w", err)
		}
	}

	baseService, err := service.NewDeploymentService(db, service.Config{
		DefaultPlatform:  client.Name(),
		Image:            cfg.BotImage,
		CallbackBaseURL:  cfg.CallbackBaseURL,
		Env:              botEnv,
		WorkloadPrefix:   cfg.Pool.SlotPrefix,
		MaxRetries:       cfg.DeployMaxRetries,
		BackoffBase:      cfg.DeployBackoffBase,
		BackoffMax:       cfg.DeployBackoffMax,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		Wait: platform.WaitOptions{
			Timeout:      cfg.DeployTimeout,
			PollInterval: cfg.DeployPollInterval,
			GracePeriod:  cfg.StatusGracePeriod,
		},
	}, map[models.PlatformType]service.Backend{client.Name(): backend},
		service.WithGate(gate),
		service.WithLocks(locks),
		service.WithTokenIssuer(jwtManager),
		service.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment service: %w", err)
	}
	// background deployments are finished before the database closes
	defer baseService.Wait()

	var svc service.DeploymentService = baseService
	if options.ServiceFactory != nil {
		svc = options.ServiceFactory(baseService)
	}
	if options.OnServiceCreated != nil {
		options.OnServiceCreated(svc)
	}

	if cfg.ReconcileOnStartup && backend.Pool != nil {
		reconcile(ctx, svc)
	}

	jobManager := jobs.NewManager(ctx)
	defer jobManager.Wait()

	reap := func(ctx context.Context) {
		if _, err := jobManager.Start(ctx, jobs.ReapJobType, reapJob(svc)); err != nil && !errors.Is(err, jobs.ErrJobAlreadyRunning) {
			log.FromContext(ctx).Error(err, "Failed to start heartbeat reaper")
		}
	}
	var maintenance sync.WaitGroup
	defer maintenance.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	maintenance.Add(1)
	go func() {
		defer maintenance.Done()
		if backend.Pool != nil {
			backend.Pool.Run(ctx, reap)
			return
		}
		wait.UntilWithContext(ctx, reap, cfg.Pool.SweepInterval)
	}()

	versionInfo := &v0.VersionBody{
		Version:   version.Version,
		GitCommit: version.GitCommit,
		BuildTime: version.BuildDate,
	}
	baseServer := api.NewServer(cfg, svc, metrics, versionInfo, authnProvider, jobManager)

	var server types.Server = baseServer
	if options.HTTPServerFactory != nil {
		server = options.HTTPServerFactory(baseServer)
	}
	if options.OnHTTPServerCreated != nil {
		options.OnHTTPServerCreated(server)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Server forced to shutdown")
	}
	logger.Info("Server exiting")
	return nil
}

func newJWTManager(logger logr.Logger, seed string) (*auth.JWTManager, error) {
	if seed == "" {
		generated, err := auth.GenerateSeed()
		if err != nil {
			return nil, err
		}
		logger.Info("No JWT private key configured, generated one; bot tokens will not survive a restart")
		seed = generated
	}
	m, err := auth.NewJWTManager(seed, auth.DefaultTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid %sJWT_PRIVATE_KEY: %w", config.EnvPrefix, err)
	}
	return m, nil
}

// openDatabase selects the store from DATABASE_URL. "noop" hands the whole
// database to AppOptions.DatabaseFactory; otherwise the factory may wrap the base store.
func openDatabase(ctx context.Context, cfg *config.Config, options types.AppOptions) (database.Database, error) {
	logger := log.FromContext(ctx)

	if cfg.DatabaseURL == databaseNoop {
		if options.DatabaseFactory == nil {
			return nil, fmt.Errorf("DATABASE_URL=noop requires DatabaseFactory to be set in AppOptions")
		}
		logger.Info("Using DatabaseFactory to create database (noop mode)")
		db, err := options.DatabaseFactory(ctx, "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create database via factory: %w", err)
		}
		return db, nil
	}

	var baseDB database.Database
	if cfg.DatabaseURL == databaseMemory {
		logger.Info("Using in-memory database; state is lost on restart")
		baseDB = internaldb.NewMemory()
	} else {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := internaldb.NewPostgreSQL(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		baseDB = pg
	}

	if options.DatabaseFactory == nil {
		return baseDB, nil
	}
	db, err := options.DatabaseFactory(ctx, cfg.DatabaseURL, baseDB)
	if err != nil {
		if err := baseDB.Close(); err != nil {
			logger.Error(err, "Error closing base database connection")
		}
		return nil, fmt.Errorf("failed to create extended database: %w", err)
	}
	return db, nil
}

// reconcile brings the pool in line with the platform before serving.
// Failures are logged; the server starts regardless.
func reconcile(ctx context.Context, svc service.DeploymentService) {
	logger := log.FromContext(ctx)
	logger.Info("Reconciling pool at startup...")
	ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()

	if created, err := svc.EnsurePoolSize(ctx); err != nil {
		logger.Error(err, "Failed to fill pool at startup")
	} else if created > 0 {
		logger.Info("Created pool slots", "count", created)
	}
	if res, err := svc.Sync(ctx); err != nil {
		logger.Error(err, "Failed to sync pool at startup; slots may not match the platform")
	} else {
		logger.Info("Startup sync completed", "platformOrphansDeleted", res.PlatformOrphansDeleted, "databaseOrphansDeleted", res.DatabaseOrphansDeleted, "errors", len(res.Errors))
	}
	if res, err := svc.RecoverErroredSlots(ctx); err != nil {
		logger.Error(err, "Failed to recover errored slots at startup")
	} else if len(res.Recovered) > 0 || len(res.Exhausted) > 0 {
		logger.Info("Startup recovery completed", "recovered", len(res.Recovered), "exhausted", len(res.Exhausted))
	}
}

func reapJob(svc service.DeploymentService) jobs.Func {
	return func(ctx context.Context, report func(jobs.JobProgress)) (*jobs.JobResult, error) {
		n, err := svc.ReapStaleHeartbeats(ctx)
		if err != nil {
			return nil, err
		}
		report(jobs.JobProgress{Total: n, Processed: n})
		return &jobs.JobResult{BotsReaped: n}, nil
	}
}
