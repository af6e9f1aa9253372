package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ladder/internal/adapters/http/api"
	"github.com/okian/ladder/internal/adapters/http/swagger"
	"github.com/okian/ladder/internal/adapters/mq/journal"
	"github.com/okian/ladder/internal/adapters/snapshot"
	app "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// The logger is not configured yet.
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogFormat); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, nil); err != nil {
		log.Error(ctx, "ladder exited with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run wires the service from cfg and serves until ctx is cancelled. When
// ready is non-nil it receives the bound listen address.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	log := logger.Get()

	svc, consumer, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer svc.Stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}
	srv := newHTTPServer(ctx, cfg, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
		}
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			defer func() { _ = consumer.Close() }()
			return consumer.Start(gctx)
		})
	}
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, svc)
		return nil
	})
	if ready != nil {
		ready <- ln.Addr().String()
	}

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// buildService creates the service with its snapshot sink and journal.
// In consume mode the returned consumer replays the journal into svc.
func buildService(_ context.Context, cfg *config.Config) (*app.Service, *journal.Consumer, error) {
	opts := []app.Option{
		app.WithLogger(logger.Get().Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithDefaultBoard(cfg.DefaultBoard),
		app.WithAllowInfinity(cfg.AllowInfiniteScores),
	}

	sink, err := snapshot.Open(cfg.SnapshotBackend, snapshot.SinkConfig{
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		RedisKeyPrefix: cfg.RedisKeyPrefix,
		PostgresDSN:    cfg.PostgresDSN,
		PostgresTable:  cfg.PostgresTable,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot backend: %w", err)
	}
	if sink != nil {
		opts = append(opts, app.WithSnapshotSink(sink, cfg.SnapshotInterval()))
	}

	if cfg.KafkaMode == config.KafkaPublish {
		producer, err := journal.NewProducer(cfg.Brokers(), cfg.KafkaTopic)
		if err != nil {
			closeSink(sink)
			return nil, nil, fmt.Errorf("creating journal producer: %w", err)
		}
		opts = append(opts, app.WithPublisher(producer))
	}

	svc := app.New(opts...)
	if cfg.KafkaMode != config.KafkaConsume {
		return svc, nil, nil
	}
	consumer, err := journal.NewConsumer(cfg.Brokers(), cfg.KafkaTopic, cfg.KafkaGroupID,
		journal.ApplierFunc(func(ctx context.Context, m model.Mutation) error {
			_, err := svc.ApplyOnce(ctx, m)
			return err
		}),
	)
	if err != nil {
		closeSink(sink)
		return nil, nil, fmt.Errorf("creating journal consumer: %w", err)
	}
	return svc, consumer, nil
}

func closeSink(sink snapshot.Sink) {
	if sink != nil {
		_ = sink.Close()
	}
}

// newHTTPServer registers the API and docs routes.
func newHTTPServer(ctx context.Context, cfg *config.Config, svc *app.Service) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithMaxQueryCount(cfg.MaxQueryCount),
		api.WithDefaultTopCount(cfg.DefaultTopCount),
		api.WithDefaultAroundRadius(cfg.DefaultAroundRadius),
		api.WithRequestTimeout(cfg.RequestTimeout()),
		api.WithLogger(logger.Get().Named("api")),
	).Register(ctx, mux)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
}

// startSystemMetricsUpdater refreshes process gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	updateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes service gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if boards, ok := stats["boards"].(int); ok {
		metrics.UpdateBoardCount(boards)
	}
}
