package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/api"
	"storyboard-engine/internal/brain"
	"storyboard-engine/internal/classifier"
	"storyboard-engine/internal/config"
	"storyboard-engine/internal/contextbuilder"
	"storyboard-engine/internal/database"
	"storyboard-engine/internal/engine"
	"storyboard-engine/internal/executor"
	"storyboard-engine/internal/factcache"
	"storyboard-engine/internal/generation"
	"storyboard-engine/internal/imagery"
	"storyboard-engine/internal/logger"
	"storyboard-engine/internal/messaging"
	"storyboard-engine/internal/storage"
	"storyboard-engine/internal/vision"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- External connections ---
	pgPool, err := database.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()

	if err := database.Migrate(pgPool, log); err != nil {
		log.Fatal("Failed to apply database migrations", zap.Error(err))
	}

	mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()

	mqChannel, err := mqConn.Channel()
	if err != nil {
		log.Fatal("Failed to open RabbitMQ channel", zap.Error(err))
	}
	defer mqChannel.Close()

	// --- Fact cache ---
	var cache factcache.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache = factcache.NewRedisCache(redisClient, log)
		log.Info("Using Redis fact cache", zap.String("addr", cfg.RedisAddr))
	} else {
		cache = factcache.NewMemoryCache(cfg.FactSweepInterval, nil, log)
		log.Info("Using in-memory fact cache",
			zap.Duration("ttl", cfg.FactTTL),
			zap.Duration("sweepInterval", cfg.FactSweepInterval))
	}
	defer cache.Close()

	// --- Messaging ---
	publisher, err := messaging.NewRabbitMQPublisher(mqChannel, cfg.FactsExchangeName, log)
	if err != nil {
		log.Fatal("Failed to create facts publisher", zap.Error(err))
	}
	consumer := messaging.NewFactsConsumer(mqConn, log)
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("Failed to start facts consumer", zap.Error(err))
	}

	// --- AI client and engine wiring ---
	aiClient, err := ai.NewClient(cfg, log)
	if err != nil {
		log.Fatal("Failed to create AI client", zap.Error(err))
	}
	retry := ai.RetryPolicy{MaxAttempts: cfg.AIMaxAttempts, BaseDelay: cfg.AIBaseRetryDelay}

	extractor := vision.NewExtractor(aiClient, retry, log)
	pipeline := imagery.NewPipeline(extractor, cache, publisher, cfg.FactTTL, cfg.AIVisionTimeout, log)

	store := storage.NewMemoryStore()
	iterations := storage.NewPostgresIterationRepository(pgPool, log)

	builder := contextbuilder.NewBuilder(store, cache, consumer.Events(), log)
	decisionEngine := brain.NewEngine(aiClient, retry, cfg.AITimeout, log)

	layout := generation.NewLayoutGenerator(aiClient, retry, cfg.AITimeout, log)
	codeGen := generation.NewCodeGenerator(aiClient, retry, cfg.AITimeout, log)
	editor := generation.NewEditor(aiClient, layout, codeGen, retry, cfg.AITimeout, log)
	cls := classifier.NewClassifier(aiClient, cfg.AITimeout, log)
	exec := executor.NewExecutor(store, layout, codeGen, editor, cls, log)

	service := engine.NewService(pipeline, builder, decisionEngine, exec, iterations, cfg.AIModel, log)

	// --- HTTP servers ---
	handler := api.NewHandler(service, iterations, log)
	router := api.NewRouter(handler, cfg.GetAllowedOrigins(), log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Info("Starting metrics server", zap.String("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server listen error", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	cancel()
	if err := consumer.Stop(); err != nil {
		log.Error("Error stopping facts consumer", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}

// connectRabbitMQ dials RabbitMQ with retry, matching the database pattern.
func connectRabbitMQ(url string, log *zap.Logger) (*amqp.Connection, error) {
	const maxRetries = 20
	const retryDelay = 3 * time.Second

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Info("Connected to RabbitMQ", zap.Int("attempt", attempt))
			return conn, nil
		}
		log.Warn("RabbitMQ connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", maxRetries),
			zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
