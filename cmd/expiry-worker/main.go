package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/seat-admission/internal/adapters/mongo"
	"github.com/robertarktes/seat-admission/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-admission/internal/adapters/redis"
	"github.com/robertarktes/seat-admission/internal/config"
	"github.com/robertarktes/seat-admission/internal/observability"
	"github.com/robertarktes/seat-admission/internal/reconciler"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "seat-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()
	listener := redisadapter.NewKeyspaceListener(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.KeyspaceNotifyConfig {
		if err := listener.EnableNotifications(ctx); err != nil {
			logger.Warn("could not enable keyspace notifications, relying on server config: ", err)
		}
	}

	var opts []reconciler.Option
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
		opts = append(opts, reconciler.WithNotifier(rabbitPub))
	}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, reconciler.WithAuditor(mongoadapter.NewAuditLogger(mongoClient.Database("seats"), logger)))
	}

	rec := reconciler.NewReconciler(
		redisadapter.NewStore(redisClient),
		redisadapter.NewSeatLock(redisClient),
		listener,
		cfg.ReconcileInterval,
		logger,
		opts...,
	)

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	logger.Info("listening on ", listener.Channel())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("Shutdown expiry worker")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Fatalf("reconciler stopped: %v", err)
		}
	}
}
