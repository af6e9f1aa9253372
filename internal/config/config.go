// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and LADDER_ environment variables over them.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Snapshot backends.
const (
	SnapshotNone     = "none"
	SnapshotRedis    = "redis"
	SnapshotPostgres = "postgres"
)

// Kafka journal modes.
const (
	KafkaOff     = "off"
	KafkaPublish = "publish"
	KafkaConsume = "consume"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DefaultBoard is used by routes without a /boards/{board} prefix.
	DefaultBoard string `koanf:"default_board"`

	// QueueSize bounds the in-memory mutation queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of queue workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many idempotency keys are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxQueryCount caps the count query parameter.
	MaxQueryCount int `koanf:"max_query_count"`

	// DefaultTopCount and DefaultAroundRadius apply when count is omitted.
	DefaultTopCount     int `koanf:"default_top_count"`
	DefaultAroundRadius int `koanf:"default_around_radius"`

	// AllowInfiniteScores lets boards hold +Inf and -Inf.
	AllowInfiniteScores bool `koanf:"allow_infinite_scores"`

	// RequestTimeoutMS bounds each HTTP request; 0 disables it.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// SnapshotBackend is one of none, redis, postgres.
	SnapshotBackend    string `koanf:"snapshot_backend"`
	SnapshotIntervalMS int    `koanf:"snapshot_interval_ms"`

	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`

	PostgresDSN   string `koanf:"postgres_dsn"`
	PostgresTable string `koanf:"postgres_table"`

	// KafkaMode is one of off, publish, consume.
	KafkaMode string `koanf:"kafka_mode"`
	// KafkaBrokers is a comma separated broker list.
	KafkaBrokers string `koanf:"kafka_brokers"`
	KafkaTopic   string `koanf:"kafka_topic"`
	KafkaGroupID string `koanf:"kafka_group_id"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		DefaultBoard:        "default",
		QueueSize:           100_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          50_000,
		MaxQueryCount:       1000,
		DefaultTopCount:     10,
		DefaultAroundRadius: 5,
		AllowInfiniteScores: true,
		RequestTimeoutMS:    5000,
		SnapshotBackend:     SnapshotNone,
		SnapshotIntervalMS:  30_000,
		RedisAddr:           "localhost:6379",
		RedisKeyPrefix:      "ladder",
		PostgresTable:       "ladder_snapshots",
		KafkaMode:           KafkaOff,
		KafkaTopic:          "ladder.mutations",
		KafkaGroupID:        "ladder",
	}
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// SnapshotInterval returns SnapshotIntervalMS as a duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMS) * time.Millisecond
}

// Brokers splits KafkaBrokers, dropping empty items.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.QueueSize <= 0:
		return invalid("queue_size must be > 0, got %d", c.QueueSize)
	case c.WorkerCount <= 0:
		return invalid("worker_count must be > 0, got %d", c.WorkerCount)
	case c.DedupeSize <= 0:
		return invalid("dedupe_size must be > 0, got %d", c.DedupeSize)
	case c.MaxQueryCount <= 0:
		return invalid("max_query_count must be > 0, got %d", c.MaxQueryCount)
	case c.DefaultTopCount < 0 || c.DefaultTopCount > c.MaxQueryCount:
		return invalid("default_top_count must be within [0, max_query_count], got %d", c.DefaultTopCount)
	case c.DefaultAroundRadius < 0 || c.DefaultAroundRadius > c.MaxQueryCount:
		return invalid("default_around_radius must be within [0, max_query_count], got %d", c.DefaultAroundRadius)
	case c.RequestTimeoutMS < 0:
		return invalid("request_timeout_ms must be >= 0, got %d", c.RequestTimeoutMS)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	}

	switch c.SnapshotBackend {
	case SnapshotNone:
	case SnapshotRedis:
		if c.RedisAddr == "" {
			return invalid("redis_addr is required for the redis snapshot backend")
		}
	case SnapshotPostgres:
		if c.PostgresDSN == "" {
			return invalid("postgres_dsn is required for the postgres snapshot backend")
		}
	default:
		return invalid("snapshot_backend must be none, redis or postgres, got %q", c.SnapshotBackend)
	}
	if c.SnapshotBackend != SnapshotNone && c.SnapshotIntervalMS <= 0 {
		return invalid("snapshot_interval_ms must be > 0, got %d", c.SnapshotIntervalMS)
	}

	switch c.KafkaMode {
	case KafkaOff:
	case KafkaPublish, KafkaConsume:
		if len(c.Brokers()) == 0 {
			return invalid("kafka_brokers is required when kafka_mode is %s", c.KafkaMode)
		}
		if c.KafkaTopic == "" {
			return invalid("kafka_topic must not be empty")
		}
		if c.KafkaMode == KafkaConsume && c.KafkaGroupID == "" {
			return invalid("kafka_group_id must not be empty")
		}
	default:
		return invalid("kafka_mode must be off, publish or consume, got %q", c.KafkaMode)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
