package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HoldTTL != 60*time.Second {
		t.Errorf("expected 60s hold ttl, got %s", cfg.HoldTTL)
	}
	if cfg.MaxHeldSeats != 6 {
		t.Errorf("expected 6 max held seats, got %d", cfg.MaxHeldSeats)
	}
	if cfg.JobTimeout != 30*time.Second || cfg.JobResultTTL != 5*time.Minute || cfg.JobMaxRetries != 3 {
		t.Errorf("unexpected job defaults: %+v", cfg)
	}
	if cfg.QueueRedisAddr != cfg.RedisAddr {
		t.Errorf("queue redis should default to %s, got %s", cfg.RedisAddr, cfg.QueueRedisAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("WORKER_COUNT", "12")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("QUEUE_REDIS_ADDR", "queue:6379")
	t.Setenv("KEYSPACE_NOTIFY_CONFIG", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HoldTTL != 90*time.Second || cfg.WorkerCount != 12 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.QueueRedisAddr != "queue:6379" {
		t.Errorf("expected queue redis override, got %s", cfg.QueueRedisAddr)
	}
	if cfg.KeyspaceNotifyConfig {
		t.Error("expected keyspace config disabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"WORKER_COUNT":   "zero",
		"HOLD_TTL":       "forever",
		"MAX_HELD_SEATS": "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", key, val)
			}
		})
	}
}
