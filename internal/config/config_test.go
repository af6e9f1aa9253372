package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DefaultBoard, convey.ShouldEqual, "default")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
			convey.So(cfg.MaxQueryCount, convey.ShouldEqual, 1000)
			convey.So(cfg.DefaultTopCount, convey.ShouldEqual, 10)
			convey.So(cfg.DefaultAroundRadius, convey.ShouldEqual, 5)
			convey.So(cfg.AllowInfiniteScores, convey.ShouldBeTrue)
			convey.So(cfg.SnapshotBackend, convey.ShouldEqual, config.SnapshotNone)
			convey.So(cfg.KafkaMode, convey.ShouldEqual, config.KafkaOff)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then durations are derived from milliseconds", func() {
			cfg.RequestTimeoutMS = 250
			cfg.SnapshotIntervalMS = 1500
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 250*time.Millisecond)
			convey.So(cfg.SnapshotInterval(), convey.ShouldEqual, 1500*time.Millisecond)
		})

		convey.Convey("Then brokers are split and trimmed", func() {
			cfg.KafkaBrokers = " k1:9092, ,k2:9092,"
			convey.So(cfg.Brokers(), convey.ShouldResemble, []string{"k1:9092", "k2:9092"})
			cfg.KafkaBrokers = ""
			convey.So(cfg.Brokers(), convey.ShouldBeEmpty)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"empty addr", func(c *config.Config) { c.Addr = "" }, "addr must not be empty"},
		{"zero queue", func(c *config.Config) { c.QueueSize = 0 }, "queue_size"},
		{"zero workers", func(c *config.Config) { c.WorkerCount = 0 }, "worker_count"},
		{"zero dedupe", func(c *config.Config) { c.DedupeSize = 0 }, "dedupe_size"},
		{"zero max count", func(c *config.Config) { c.MaxQueryCount = 0 }, "max_query_count"},
		{"top above max", func(c *config.Config) { c.DefaultTopCount = 5000 }, "default_top_count"},
		{"negative radius", func(c *config.Config) { c.DefaultAroundRadius = -1 }, "default_around_radius"},
		{"negative timeout", func(c *config.Config) { c.RequestTimeoutMS = -1 }, "request_timeout_ms"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad backend", func(c *config.Config) { c.SnapshotBackend = "s3" }, "snapshot_backend"},
		{"redis without addr", func(c *config.Config) { c.SnapshotBackend = config.SnapshotRedis; c.RedisAddr = "" }, "redis_addr"},
		{"postgres without dsn", func(c *config.Config) { c.SnapshotBackend = config.SnapshotPostgres }, "postgres_dsn"},
		{"zero snapshot interval", func(c *config.Config) { c.SnapshotBackend = config.SnapshotRedis; c.SnapshotIntervalMS = 0 }, "snapshot_interval_ms"},
		{"bad kafka mode", func(c *config.Config) { c.KafkaMode = "both" }, "kafka_mode"},
		{"kafka without brokers", func(c *config.Config) { c.KafkaMode = config.KafkaPublish }, "kafka_brokers"},
		{"consume without group", func(c *config.Config) {
			c.KafkaMode, c.KafkaBrokers, c.KafkaGroupID = config.KafkaConsume, "k:9092", ""
		}, "kafka_group_id"},
	}

	convey.Convey("Given invalid configurations", t, func() {
		for _, tc := range cases {
			cfg := config.New(context.Background())
			tc.mutate(cfg)
			err := cfg.Validate()

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, tc.want)
		}
	})

	convey.Convey("Given complete backend settings", t, func() {
		cfg := config.New(context.Background())
		cfg.SnapshotBackend = config.SnapshotPostgres
		cfg.PostgresDSN = "postgres://localhost/ladder"
		cfg.KafkaMode = config.KafkaConsume
		cfg.KafkaBrokers = "k1:9092"

		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})
}
