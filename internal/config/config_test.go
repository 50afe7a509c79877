package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReconcileBatchSize != 100 {
		t.Errorf("batch size: got %d", cfg.ReconcileBatchSize)
	}
	if cfg.QueuePushTimeout != 2*time.Second {
		t.Errorf("push timeout: got %v", cfg.QueuePushTimeout)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("port: got %s", cfg.HTTPPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "REDIS")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CLAIM_TIMEOUT", "90s")
	t.Setenv("RECONCILE_CONCURRENCY", "3")
	t.Setenv("RECONCILE_BATCH_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueDriver != "redis" {
		t.Errorf("queue driver: got %s", cfg.QueueDriver)
	}
	if cfg.ClaimTimeout != 90*time.Second {
		t.Errorf("claim timeout: got %v", cfg.ClaimTimeout)
	}
	if cfg.ReconcileConcurrency != 3 {
		t.Errorf("concurrency: got %d", cfg.ReconcileConcurrency)
	}
	if cfg.ReconcileBatchSize != 100 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.ReconcileBatchSize)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "kafka")
	t.Setenv("STORE_DRIVER", "memory")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown queue driver")
	}
}

func TestDSN(t *testing.T) {
	c := DBConfig{User: "u", Password: "p", Host: "h", Port: "5432", Name: "d", SSLMode: "disable"}
	want := "postgres://u:p@h:5432/d?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
