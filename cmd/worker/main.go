package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-admission/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seat-admission/internal/adapters/mongo"
	"github.com/robertarktes/seat-admission/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-admission/internal/adapters/redis"
	"github.com/robertarktes/seat-admission/internal/admission"
	"github.com/robertarktes/seat-admission/internal/config"
	"github.com/robertarktes/seat-admission/internal/observability"
	"github.com/robertarktes/seat-admission/internal/queue"
	"github.com/robertarktes/seat-admission/internal/worker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "seat-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

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
	policy := admission.NewPolicy(store, cfg.MaxHeldSeats)

	var procOpts []worker.Option
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(context.Background()); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		procOpts = append(procOpts, worker.WithLedger(repo))
	}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		procOpts = append(procOpts, worker.WithAuditor(mongoadapter.NewAuditLogger(mongoClient.Database("seats"), logger)))
	}
	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		rabbitPub, err := rabbit.NewPublisher(conn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		procOpts = append(procOpts, worker.WithNotifier(rabbitPub))
	}

	jobs := queue.New(queueClient, queue.Options{
		Name:           cfg.QueueName,
		Concurrency:    cfg.QueueConcurrency,
		BatchSeconds:   cfg.QueueBatchSeconds,
		JobTimeout:     cfg.JobTimeout,
		ResultTTL:      cfg.JobResultTTL,
		MaxRetries:     cfg.JobMaxRetries,
		DequeueTimeout: cfg.DequeueTimeout,
	}, logger)
	processor := worker.NewProcessor(store, locks, policy, cfg.HoldTTL, logger, procOpts...)
	workers := worker.NewPool(jobs, processor, worker.PoolOptions{
		Workers:         cfg.WorkerCount,
		ErrorBackoff:    cfg.WorkerErrorBackoff,
		CleanupInterval: cfg.CleanupInterval,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed: ", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown worker pool")

	workers.Stop()
	if err := workers.Wait(); err != nil {
		logger.Error("worker pool stopped with error: ", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)
	logger.Info("Worker pool exited")
}
