package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"rulehub/internal/approval"
	"rulehub/internal/config"
	"rulehub/internal/conflict"
	"rulehub/internal/constants"
	"rulehub/internal/engine"
	"rulehub/internal/history"
	"rulehub/internal/logger"
	"rulehub/internal/notify"
	"rulehub/internal/registry"
	"rulehub/internal/rules"
	"rulehub/internal/scheduler"
	"rulehub/internal/testbench"
	"rulehub/pkg/bootstrap"
	"rulehub/pkg/expr"
	"rulehub/pkg/health"
	"rulehub/pkg/metrics"
	"rulehub/pkg/middleware"
	"rulehub/pkg/migrations"
	"rulehub/pkg/ratelimit"
	"rulehub/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	notifier       notify.Notifier
	scanner        *conflict.Scanner
	schedulerRun   *scheduler.Runner
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "rules-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, conflict reports stay in memory", "error", err)
	} else {
		a.redisClient = rdb
	}

	if a.config.Database.MongoDB.URI != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
		if err != nil {
			a.logger.WarnwCtx(initCtx, "MongoDB connection failed, approvals and test cases use in-memory storage", "error", err)
		} else if mongoClient != nil {
			a.mongoClient = mongoClient

			dbName := a.config.Database.MongoDB.Database
			if dbName == "" {
				dbName = constants.DefaultMongoDBName
			}
			if err := migrations.EnsureMongoCollections(initCtx, mongoClient.Database(dbName)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("rules-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.RateLimit.RPS,
			Burst:           a.config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	eval, err := expr.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create expression evaluator: %w", err)
	}
	validator := rules.NewValidator(eval)
	eng := engine.New(eval, a.logger)
	detector := conflict.NewDetector()

	var ruleRepo registry.Repository
	var historyRepo history.Repository
	if a.db != nil {
		ruleRepo = registry.NewRepository(a.db)
		historyRepo = history.NewRepository(a.db)
	} else {
		a.logger.WarnwCtx(ctx, "PostgreSQL not configured, rules are stored in memory")
		ruleRepo = registry.NewMemoryRepository()
		historyRepo = history.NewMemoryRepository()
	}

	if len(a.config.Notifier.Brokers) > 0 {
		a.notifier = notify.NewKafkaNotifier(a.config.Notifier, a.config.CircuitBreaker, a.logger)
		a.logger.InfowCtx(ctx, "Kafka notifier initialized", "topic", a.config.Notifier.Topic)
	} else {
		a.notifier = notify.Nop{}
	}

	svc := registry.NewService(ruleRepo, historyRepo, validator, eng, detector, a.logger)

	var reportStore conflict.ReportStore
	if a.redisClient != nil && a.config.ConflictScan.CacheReports {
		reportStore = conflict.NewRedisReportStore(a.redisClient)
	}
	a.scanner = conflict.NewScanner(detector, svc, reportStore, a.logger)

	var approvalRepo approval.Repository
	var caseRepo testbench.Repository
	if a.mongoClient != nil {
		dbName := a.config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		mongoDB := a.mongoClient.Database(dbName)
		approvalRepo = approval.NewRepository(mongoDB)
		caseRepo = testbench.NewRepository(mongoDB)
	} else {
		approvalRepo = approval.NewMemoryRepository()
		caseRepo = testbench.NewMemoryRepository()
	}

	if len(a.config.Approval.RequiredRoles) > 0 {
		approval.DefaultRequiredRoles = a.config.Approval.RequiredRoles
	}
	approvalSvc := approval.NewService(approvalRepo, svc, a.notifier, a.logger)
	benchSvc := testbench.NewService(caseRepo, svc, eng, a.logger)

	// late binding: the scanner and the override audit both sit on top of
	// the registry service they feed back into
	registry.WithScanner(a.scanner)(svc)
	registry.WithNotifier(a.notifier)(svc)
	registry.WithOverrideAudit(approvalSvc)(svc)

	if err := svc.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed rules: %w", err)
	}

	if a.config.Scheduler.Enabled {
		spec := a.config.Scheduler.Spec
		if spec == "" {
			spec = constants.DefaultSchedulerSpec
		}
		a.schedulerRun = scheduler.NewRunner(svc, a.notifier, a.logger, spec)
	}

	registry.NewHandler(svc, a.logger).RegisterRoutes(router)
	approval.NewHandler(approvalSvc, a.logger).RegisterRoutes(router)
	testbench.NewHandler(benchSvc, a.logger).RegisterRoutes(router)

	metrics.RegisterServiceMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: a.router,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	if a.config.ConflictScan.Enabled && a.config.ConflictScan.ScanOnStartup {
		a.scanner.Trigger(ctx)
	}

	if a.schedulerRun != nil {
		if err := a.schedulerRun.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.schedulerRun != nil {
		a.schedulerRun.Stop()
	}
	if a.scanner != nil {
		a.scanner.Stop()
	}

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notifier close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
