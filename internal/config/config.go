package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	MetricsAddr  string
	LogLevel     string
	OTLPEndpoint string

	RedisAddr      string
	QueueRedisAddr string
	RedisDB        int
	CRDBDSN        string
	MongoURI       string
	RabbitURL      string

	HoldTTL      time.Duration
	MaxHeldSeats int

	WorkerCount        int
	QueueName          string
	QueueConcurrency   int
	QueueBatchSeconds  int
	JobTimeout         time.Duration
	JobResultTTL       time.Duration
	JobMaxRetries      int
	DequeueTimeout     time.Duration
	WorkerErrorBackoff time.Duration
	CleanupInterval    time.Duration

	ReconcileInterval    time.Duration
	KeyspaceNotifyConfig bool

	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var p parser
	cfg := &Config{
		HTTPAddr:     envStr("HTTP_ADDR", ":8080"),
		MetricsAddr:  envStr("METRICS_ADDR", ":9090"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),
		RedisDB:   p.int("REDIS_DB", 0),
		CRDBDSN:   os.Getenv("CRDB_DSN"),
		MongoURI:  os.Getenv("MONGO_URI"),
		RabbitURL: os.Getenv("RABBIT_URL"),

		HoldTTL:      p.duration("HOLD_TTL", 60*time.Second),
		MaxHeldSeats: p.int("MAX_HELD_SEATS", 6),

		WorkerCount:        p.int("WORKER_COUNT", 5),
		QueueName:          envStr("QUEUE_NAME", "seat_operations"),
		QueueConcurrency:   p.int("QUEUE_CONCURRENCY", 10),
		QueueBatchSeconds:  p.int("QUEUE_BATCH_SECONDS", 5),
		JobTimeout:         p.duration("JOB_TIMEOUT", 30*time.Second),
		JobResultTTL:       p.duration("JOB_RESULT_TTL", 5*time.Minute),
		JobMaxRetries:      p.int("JOB_MAX_RETRIES", 3),
		DequeueTimeout:     p.duration("DEQUEUE_TIMEOUT", time.Second),
		WorkerErrorBackoff: p.duration("WORKER_ERROR_BACKOFF", time.Second),
		CleanupInterval:    p.duration("CLEANUP_INTERVAL", 60*time.Second),

		ReconcileInterval:    p.duration("RECONCILE_INTERVAL", time.Minute),
		KeyspaceNotifyConfig: p.bool("KEYSPACE_NOTIFY_CONFIG", true),

		RateLimitPerMinute: p.int("RATE_LIMIT_PER_MINUTE", 100),
		IdempotencyTTL:     p.duration("IDEMPOTENCY_TTL", time.Hour),
	}
	cfg.QueueRedisAddr = envStr("QUEUE_REDIS_ADDR", cfg.RedisAddr)

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would stall the pool or make holds
// meaningless.
func (c *Config) Validate() error {
	switch {
	case c.HoldTTL < time.Second:
		return errors.Newf("HOLD_TTL must be at least 1s, got %s", c.HoldTTL)
	case c.MaxHeldSeats < 1:
		return errors.Newf("MAX_HELD_SEATS must be positive, got %d", c.MaxHeldSeats)
	case c.WorkerCount < 1:
		return errors.Newf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	case c.QueueConcurrency < 1:
		return errors.Newf("QUEUE_CONCURRENCY must be positive, got %d", c.QueueConcurrency)
	case c.JobMaxRetries < 0:
		return errors.Newf("JOB_MAX_RETRIES must not be negative, got %d", c.JobMaxRetries)
	case c.DequeueTimeout <= 0:
		return errors.New("DEQUEUE_TIMEOUT must be positive")
	case c.JobTimeout <= 0 || c.JobResultTTL <= 0 || c.CleanupInterval <= 0 || c.ReconcileInterval <= 0:
		return errors.New("job timeout, result ttl and sweep intervals must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parser keeps the first malformed variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(errors.Wrapf(err, "invalid int for %s", key))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(errors.Wrapf(err, "invalid duration for %s", key))
		return def
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(errors.Wrapf(err, "invalid bool for %s", key))
		return def
	}
	return b
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
