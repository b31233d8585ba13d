package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-sync/internal/config"
	"github.com/prefeitura-rio/app-sync/internal/handlers"
	"github.com/prefeitura-rio/app-sync/internal/kvstore"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/prefeitura-rio/app-sync/internal/observability"
	"github.com/prefeitura-rio/app-sync/internal/resilience"
	"github.com/prefeitura-rio/app-sync/internal/services"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New("app-sync")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	tracer := observability.InitTracer(cfg, logger)
	defer tracer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis backs the durable queue and the entity store.
	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		logger.Error("invalid redis URI", zap.Error(err))
		os.Exit(1)
	}
	if cfg.RedisPassword != "" {
		redisOpts.Password = cfg.RedisPassword
	}
	redisOpts.DB = cfg.RedisDB
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", zap.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()
	kv := kvstore.NewRedisStore(redisClient)

	// MongoDB is the remote side entities sync against.
	mongoOpts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMonitor(otelmongo.NewMonitor()).
		SetMaxPoolSize(50).
		SetServerSelectionTimeout(5 * time.Second)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		logger.Error("failed to connect to mongodb", zap.Error(err))
		os.Exit(1)
	}
	defer mongoClient.Disconnect(context.Background())
	entityCollection := mongoClient.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)

	bus := services.NewEventBus()
	metrics := services.NewMetrics()

	engine := resilience.NewEngine(resilience.Config{
		MaxRetries:              cfg.DefaultMaxRetries,
		BaseDelay:               cfg.RetryBaseDelay,
		MaxDelay:                cfg.RetryMaxDelay,
		Multiplier:              cfg.RetryMultiplier,
		Jitter:                  true,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerSuccessThreshold: cfg.BreakerSuccessThreshold,
		BreakerCooldown:         cfg.BreakerCooldown,
		PolicyTimeout:           cfg.PolicyTimeout,
		HealthCheckInterval:     cfg.HealthCheckInterval,
	}, logger)
	engine.SetBreakerListener(func(key string, state resilience.State) {
		observability.BreakerTransitions.WithLabelValues(key, string(state)).Inc()
		switch state {
		case resilience.StateOpen:
			bus.PublishBreakerOpened(key)
		case resilience.StateClosed:
			bus.PublishBreakerClosed(key)
		}
	})

	opStore := services.NewOperationStore(kv, bus, logger, cfg.CompletedMarkerTTL)
	entityStore := services.NewEntityStore(kv, opStore, metrics, logger, cfg.EntitySyncTimeout, cfg.DefaultMaxRetries)
	entityStore.RegisterDefaultHandler(services.NewMongoEntityHandler(entityCollection, logger))

	// Connectivity is judged by reachability of the remote database.
	prober := func(ctx context.Context) services.NetworkStatus {
		start := time.Now()
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			return services.StatusOffline
		}
		if time.Since(start) > 2*time.Second {
			return services.StatusDegraded
		}
		return services.StatusOnline
	}
	monitor := services.NewNetworkMonitor(prober, cfg.NetworkProbeInterval, logger)

	orchestrator := services.NewSyncOrchestrator(opStore, monitor, engine, bus, metrics, logger, cfg.SyncInterval, resilience.PolicyRetry)
	orchestrator.RegisterExecutor(services.OpKindEntitySync, entityStore.SyncExecutor())

	go monitor.Start()
	go orchestrator.Start()
	go engine.StartHealthChecks()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.New(opStore, entityStore, orchestrator, monitor, engine, metrics, logger)
	router := handlers.Router(h, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	orchestrator.Stop()
	monitor.Stop()
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
