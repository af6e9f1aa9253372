package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/ladder/internal/loadgen"
	"github.com/okian/ladder/pkg/logger"
)

const (
	defaultMembers   = 10000
	defaultBatchSize = 500
	defaultTopN      = 50
	defaultWorkers   = 2 // multiplier for runtime.NumCPU()
	defaultTimeout   = 30 * time.Second
	defaultSettle    = 30 * time.Second
	defaultRunTime   = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		board     = flag.String("board", "", "Board to load (default board when empty)")
		members   = flag.Int("members", defaultMembers, "Number of members to generate")
		batchSize = flag.Int("batch", defaultBatchSize, "Events per POST /events request")
		topN      = flag.Int("top", defaultTopN, "Number of top entries to verify")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent requests in flight")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle    = flag.Duration("settle", defaultSettle, "Time allowed for queued events to apply")
		seed      = flag.Uint64("seed", 0, "Score generator seed (random when 0)")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
		verbose   = flag.Bool("verbose", false, "Log every batch")
	)
	flag.Parse()

	if err := logger.Init(*logFormat); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTime)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:   *baseURL,
		Board:     *board,
		Members:   *members,
		BatchSize: *batchSize,
		TopN:      *topN,
		Workers:   *workers,
		Timeout:   *timeout,
		Settle:    *settle,
		Seed:      *seed,
		Verbose:   *verbose,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
