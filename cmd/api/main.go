package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/seat-admission/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/seat-admission/internal/adapters/redis"
	"github.com/robertarktes/seat-admission/internal/config"
	httphandler "github.com/robertarktes/seat-admission/internal/http"
	"github.com/robertarktes/seat-admission/internal/idempotency"
	"github.com/robertarktes/seat-admission/internal/observability"
	"github.com/robertarktes/seat-admission/internal/queue"
	"github.com/robertarktes/seat-admission/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "seat-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()
	queueClient := redisClient
	if cfg.QueueRedisAddr != cfg.RedisAddr {
		queueClient = redisclient.NewClient(&redisclient.Options{Addr: cfg.QueueRedisAddr, DB: cfg.RedisDB})
		defer queueClient.Close()
	}

	store := redisadapter.NewStore(redisClient)
	locks := redisadapter.NewSeatLock(redisClient)
	jobs := queue.New(queueClient, queueOptions(cfg), logger)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisClient)

	opts := []httphandler.Option{
		httphandler.WithIdempotency(idemp),
		httphandler.WithReadiness("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}
	if queueClient != redisClient {
		opts = append(opts, httphandler.WithReadiness("queue", func(ctx context.Context) error { return queueClient.Ping(ctx).Err() }))
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		mongoDB := mongoClient.Database("seats")
		opts = append(opts,
			httphandler.WithCatalog(mongoadapter.NewCatalogRepository(mongoDB, logger)),
			httphandler.WithAuditTrail(mongoadapter.NewAuditLogger(mongoDB, logger)),
			httphandler.WithReadiness("mongo", func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }),
		)
	}

	handlers := httphandler.NewHandlers(store, jobs, locks, cfg.HoldTTL, logger, opts...)
	r := httphandler.SetupRouter(handlers, logger, rl, cfg.RateLimitPerMinute)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening on ", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

func queueOptions(cfg *config.Config) queue.Options {
	return queue.Options{
		Name:           cfg.QueueName,
		Concurrency:    cfg.QueueConcurrency,
		BatchSeconds:   cfg.QueueBatchSeconds,
		JobTimeout:     cfg.JobTimeout,
		ResultTTL:      cfg.JobResultTTL,
		MaxRetries:     cfg.JobMaxRetries,
		DequeueTimeout: cfg.DequeueTimeout,
	}
}
