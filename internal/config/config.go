package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SnapshotPath          string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReorderChannel        string
	AuthSecret            string
	AccessTokenTTLMinutes int
	LedgerURL             string
	LedgerToken           string
	KafkaBrokers          []string
	KafkaLedgerTopic      string
	LedgerPostTimeout     time.Duration
	LedgerSweepInterval   time.Duration
	OTLPEndpoint          string
	OTLPInsecure          bool
	LogFormat             string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SnapshotPath:          strings.TrimSpace(os.Getenv("SNAPSHOT_PATH")),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ReorderChannel:        getEnv("REORDER_CHANNEL", "inventory.reorder"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LedgerURL:             strings.TrimSpace(os.Getenv("LEDGER_URL")),
		LedgerToken:           strings.TrimSpace(os.Getenv("LEDGER_TOKEN")),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaLedgerTopic:      getEnv("KAFKA_LEDGER_TOPIC", "finance.inventory-entries"),
		LedgerPostTimeout:     getSeconds("LEDGER_POST_TIMEOUT_SECONDS", 5),
		LedgerSweepInterval:   getSeconds("LEDGER_SWEEP_INTERVAL_SECONDS", 60),
		OTLPEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure:          getEnv("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getSeconds(key string, fallback int) time.Duration {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
