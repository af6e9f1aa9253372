package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const defaultParallelism = 4

// Source is the set of boards a Manager snapshots.
type Source interface {
	Boards() []string
	Snapshot(ctx context.Context, board string) ([]repository.Entry, error)
	Restore(ctx context.Context, board string, entries []repository.Entry) error
}

// Manager saves every board to a Sink periodically and on demand.
type Manager struct {
	sink        Sink
	source      Source
	interval    time.Duration
	parallelism int
	group       singleflight.Group
	logger      logger.Logger

	// saves hold deleteMu shared from reading a board until its save is
	// written; Delete holds it exclusively.
	deleteMu sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval enables periodic snapshots. Zero disables them.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithParallelism bounds concurrent per-board saves and loads.
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// NewManager creates a Manager.
func NewManager(sink Sink, source Source, opts ...Option) *Manager {
	m := &Manager{
		sink:        sink,
		source:      source,
		parallelism: defaultParallelism,
		logger:      logger.Get().Named("snapshot").With(logger.String("backend", sink.Name())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the sink name.
func (m *Manager) Backend() string { return m.sink.Name() }

// SnapshotAll saves every board and returns how many were saved. Concurrent
// callers share one run.
func (m *Manager) SnapshotAll(ctx context.Context) (int, error) {
	v, err, _ := m.group.Do("snapshot", func() (any, error) {
		return m.snapshotAll(ctx)
	})
	n, _ := v.(int)
	return n, err
}

func (m *Manager) snapshotAll(ctx context.Context) (int, error) {
	start := time.Now()
	boards := m.source.Boards()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for _, board := range boards {
		g.Go(func() error {
			m.deleteMu.RLock()
			defer m.deleteMu.RUnlock()
			entries, err := m.source.Snapshot(gctx, board)
			if err != nil {
				return fmt.Errorf("reading board %s: %w", board, err)
			}
			return m.sink.Save(gctx, board, entries)
		})
	}
	err := g.Wait()
	metrics.RecordSnapshotDuration(m.sink.Name(), "save", float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordSnapshot(m.sink.Name(), "error")
		metrics.RecordErrorByComponent("snapshot", "save")
		return 0, err
	}
	metrics.RecordSnapshot(m.sink.Name(), "ok")
	metrics.UpdateSnapshotLastUnix(float64(time.Now().Unix()))
	m.logger.Debug(ctx, "snapshot saved",
		logger.Int("boards", len(boards)),
		logger.Duration("took", time.Since(start)),
	)
	return len(boards), nil
}

// RestoreAll loads every stored board into the source and returns how many
// were restored.
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	start := time.Now()
	boards, err := m.sink.List(ctx)
	if err != nil {
		metrics.RecordSnapshot(m.sink.Name(), "error")
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for _, board := range boards {
		g.Go(func() error {
			entries, err := m.sink.Load(gctx, board)
			if err != nil {
				return err
			}
			if err := m.source.Restore(gctx, board, entries); err != nil {
				return fmt.Errorf("restoring board %s: %w", board, err)
			}
			return nil
		})
	}
	err = g.Wait()
	metrics.RecordSnapshotDuration(m.sink.Name(), "load", float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordSnapshot(m.sink.Name(), "error")
		metrics.RecordErrorByComponent("snapshot", "load")
		return 0, err
	}
	m.logger.Info(ctx, "boards restored", logger.Int("boards", len(boards)), logger.Duration("took", time.Since(start)))
	return len(boards), nil
}

// Delete removes a board's stored copy. It waits for saves already in
// flight, so a copy read before the board was dropped is not written back.
func (m *Manager) Delete(ctx context.Context, board string) error {
	m.deleteMu.Lock()
	defer m.deleteMu.Unlock()
	return m.sink.Delete(ctx, board)
}

// Run snapshots every interval until ctx is done. Without an interval it
// just waits for ctx.
func (m *Manager) Run(ctx context.Context) error {
	if m.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.SnapshotAll(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error(ctx, "periodic snapshot failed", logger.Error(err))
			}
		}
	}
}

// Close closes the sink.
func (m *Manager) Close() error {
	return m.sink.Close()
}

// Open builds the sink named by backend. It returns nil, nil for "none".
func Open(backend string, cfg SinkConfig) (Sink, error) {
	switch backend {
	case "", BackendNone:
		return nil, nil //nolint:nilnil // no sink configured
	case BackendRedis:
		return NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
	case BackendPostgres:
		return NewPostgresSink(cfg.PostgresDSN, cfg.PostgresTable)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// SinkConfig carries backend connection settings.
type SinkConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	PostgresDSN    string
	PostgresTable  string
}
