package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadParsesLedgerSettings(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("LEDGER_POST_TIMEOUT_SECONDS", "3")
	t.Setenv("LEDGER_SWEEP_INTERVAL_SECONDS", "not-a-number")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.LedgerPostTimeout != 3*time.Second {
		t.Fatalf("expected 3s post timeout, got %s", cfg.LedgerPostTimeout)
	}
	if cfg.LedgerSweepInterval != time.Minute {
		t.Fatalf("expected fallback sweep interval, got %s", cfg.LedgerSweepInterval)
	}
}
