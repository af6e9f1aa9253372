// Package service hosts the named leaderboards and the pipelines that feed
// and persist them.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/internal/adapters/mq/queue"
	"github.com/okian/ladder/internal/adapters/mq/worker"
	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/adapters/snapshot"
	"github.com/okian/ladder/internal/domain/dedupe"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/types"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const (
	defaultBoardName   = "default"
	defaultQueueSize   = 100000
	defaultDedupeSize  = 50000
	stopTimeout        = 30 * time.Second
	idempotencyKeySep  = "\x00"
	snapshotBackendOff = "none"
)

var boardName = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// Publisher forwards applied mutations to a journal.
type Publisher interface {
	Publish(ctx context.Context, m model.Mutation) error
	Close() error
}

// liveBoard is one registered board. writeMu is held across a write and its
// journal record so the journal sees writes in apply order. dropped is set
// under writeMu once the board has left the registry.
type liveBoard struct {
	*repository.TreapStore
	writeMu sync.Mutex
	dropped bool
}

// Service owns the board registry and the ingestion pipeline.
type Service struct {
	mu sync.RWMutex // lifecycle

	boardsMu sync.RWMutex
	boards   map[string]*liveBoard

	deduper   dedupe.Deduper
	queue     *queue.InMemoryQueue
	pool      *worker.Pool
	publisher Publisher
	snapshots *snapshot.Manager

	// Configuration
	defaultBoard     string
	allowInf         bool
	workerCount      int
	queueSize        int
	dedupeSize       int
	snapshotSink     snapshot.Sink
	snapshotInterval time.Duration

	// State
	started      bool
	startedAt    time.Time
	stopSnapshot context.CancelFunc
	snapshotDone chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of queue workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the mutation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDefaultBoard names the board used when a request names none.
func WithDefaultBoard(board string) Option {
	return func(s *Service) {
		if board != "" {
			s.defaultBoard = board
		}
	}
}

// WithAllowInfinity controls whether boards accept ±Inf scores.
func WithAllowInfinity(allow bool) Option {
	return func(s *Service) {
		s.allowInf = allow
	}
}

// WithPublisher journals every applied mutation through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithSnapshotSink persists boards to sink, restoring them on Start and
// saving them every interval and on Stop.
func WithSnapshotSink(sink snapshot.Sink, interval time.Duration) Option {
	return func(s *Service) {
		s.snapshotSink = sink
		s.snapshotInterval = interval
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Boards are usable immediately; queued ingestion
// needs Start.
func New(opts ...Option) *Service {
	s := &Service{
		boards:       make(map[string]*liveBoard),
		defaultBoard: defaultBoardName,
		allowInf:     true,
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    defaultQueueSize,
		dedupeSize:   defaultDedupeSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	if s.snapshotSink != nil {
		s.snapshots = snapshot.NewManager(s.snapshotSink, s, snapshot.WithInterval(s.snapshotInterval))
	}
	return s
}

// DefaultBoard returns the board used for requests that name none.
func (s *Service) DefaultBoard() string { return s.defaultBoard }

// Start restores persisted boards and starts the worker pool and the
// periodic snapshot loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting leaderboard service...")

	if s.snapshots != nil {
		n, err := s.snapshots.RestoreAll(ctx)
		if err != nil {
			return fmt.Errorf("restoring snapshots: %w", err)
		}
		s.logger.Info(ctx, "restored boards from snapshot", logger.Int("boards", n))

		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.stopSnapshot = cancel
		s.snapshotDone = make(chan struct{})
		go func() {
			defer close(s.snapshotDone)
			_ = s.snapshots.Run(loopCtx)
		}()
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s)
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "leaderboard service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("snapshots", s.snapshotBackend()),
		logger.Bool("journal", s.publisher != nil),
	)
	return nil
}

// Stop drains the queue, takes a final snapshot and closes external clients.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping leaderboard service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "queue not fully drained", logger.Error(err))
	}
	if s.snapshots != nil {
		s.stopSnapshot()
		<-s.snapshotDone
		if n, err := s.snapshots.SnapshotAll(ctx); err != nil {
			s.logger.Error(ctx, "final snapshot failed", logger.Error(err))
		} else {
			s.logger.Info(ctx, "final snapshot saved", logger.Int("boards", n))
		}
		if err := s.snapshots.Close(); err != nil {
			s.logger.Warn(ctx, "closing snapshot backend", logger.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn(ctx, "closing journal publisher", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "leaderboard service stopped")
}

// resolve maps "" to the default board and validates the name.
func (s *Service) resolve(board string) (string, error) {
	if board == "" {
		return s.defaultBoard, nil
	}
	if !boardName.MatchString(board) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBoard, board)
	}
	return board, nil
}

// lookup returns an existing board, or nil when it has not been created.
func (s *Service) lookup(board string) (*liveBoard, string, error) {
	name, err := s.resolve(board)
	if err != nil {
		return nil, "", err
	}
	s.boardsMu.RLock()
	st := s.boards[name]
	s.boardsMu.RUnlock()
	return st, name, nil
}

// board returns the named board, creating it on first use.
func (s *Service) board(board string) (*liveBoard, string, error) {
	st, name, err := s.lookup(board)
	if err != nil || st != nil {
		return st, name, err
	}

	s.boardsMu.Lock()
	defer s.boardsMu.Unlock()
	if st, ok := s.boards[name]; ok {
		return st, name, nil
	}
	st = &liveBoard{TreapStore: s.newStore(name)}
	s.boards[name] = st
	metrics.UpdateBoardCount(len(s.boards))
	s.logger.Debug(context.Background(), "board created", logger.String("board", name))
	return st, name, nil
}

func (s *Service) newStore(name string) *repository.TreapStore {
	return repository.NewTreapStore(repository.WithName(name), repository.WithAllowInfinity(s.allowInf))
}

// Upsert sets member's score and reports whether it changed.
func (s *Service) Upsert(ctx context.Context, board, member string, score float64) (bool, error) {
	return s.upsert(ctx, model.Mutation{Board: board, Member: member, Op: model.OpUpsert, Value: score})
}

// Increment adds delta to member's score and returns the new score.
func (s *Service) Increment(ctx context.Context, board, member string, delta float64) (float64, error) {
	updated, _, err := s.IncrementOnce(ctx, board, member, delta, "")
	return updated, err
}

// IncrementOnce is Increment guarded by an idempotency key. A repeated key
// returns the member's current score with duplicate set. An empty key
// disables the guard.
func (s *Service) IncrementOnce(ctx context.Context, board, member string, delta float64, key string) (float64, bool, error) {
	m := model.Mutation{ID: key, Board: board, Member: member, Op: model.OpIncrement, Value: delta}
	if key == "" {
		updated, err := s.increment(ctx, m)
		return updated, false, err
	}
	scoped, err := s.mutationKey(m)
	if err != nil {
		return 0, false, err
	}
	if s.deduper.SeenAndRecord(ctx, scoped) {
		metrics.RecordDuplicate("http")
		current, err := s.Score(ctx, board, member)
		if errors.Is(err, repository.ErrNotFound) {
			err = nil
		}
		return current, true, err
	}
	updated, err := s.increment(ctx, m)
	if err != nil {
		s.deduper.Unrecord(ctx, scoped)
		return 0, false, err
	}
	return updated, false, nil
}

// Remove deletes member and reports whether it was present.
func (s *Service) Remove(ctx context.Context, board, member string) (bool, error) {
	return s.remove(ctx, model.Mutation{Board: board, Member: member, Op: model.OpRemove})
}

func (s *Service) upsert(ctx context.Context, m model.Mutation) (bool, error) { //nolint:gocritic // hugeParam
	var changed bool
	err := s.write(ctx, m, true, func(st *repository.TreapStore) (bool, error) {
		var err error
		changed, err = st.Upsert(ctx, m.Member, m.Value)
		return changed, err
	})
	return changed, err
}

func (s *Service) increment(ctx context.Context, m model.Mutation) (float64, error) { //nolint:gocritic // hugeParam
	var updated float64
	err := s.write(ctx, m, true, func(st *repository.TreapStore) (bool, error) {
		var err error
		updated, err = st.Increment(ctx, m.Member, m.Value)
		return err == nil, err
	})
	return updated, err
}

func (s *Service) remove(ctx context.Context, m model.Mutation) (bool, error) { //nolint:gocritic // hugeParam
	if m.Member == "" {
		return false, fmt.Errorf("%w: member must not be empty", repository.ErrInvalidArgument)
	}
	var removed bool
	err := s.write(ctx, m, false, func(st *repository.TreapStore) (bool, error) {
		var err error
		removed, err = st.Remove(ctx, m.Member)
		return removed, err
	})
	return removed, err
}

// write runs fn against m's board under the board's write lock and journals
// m when fn reports a change. A board dropped while we waited for the lock is
// resolved again. With create unset a missing board is a no-op.
func (s *Service) write(ctx context.Context, m model.Mutation, create bool, fn func(*repository.TreapStore) (bool, error)) error { //nolint:gocritic // hugeParam
	for {
		var (
			b    *liveBoard
			name string
			err  error
		)
		if create {
			b, name, err = s.board(m.Board)
		} else {
			b, name, err = s.lookup(m.Board)
		}
		if err != nil || b == nil {
			return err
		}

		b.writeMu.Lock()
		if b.dropped {
			b.writeMu.Unlock()
			continue
		}
		changed, err := fn(b.TreapStore)
		if err == nil && changed {
			m.Board = name
			s.publish(ctx, m)
		}
		b.writeMu.Unlock()
		return err
	}
}

// Score returns member's score.
func (s *Service) Score(ctx context.Context, board, member string) (float64, error) {
	st, _, err := s.lookup(board)
	if err != nil {
		return 0, err
	}
	if st == nil {
		return 0, repository.ErrNotFound
	}
	return st.Score(ctx, member)
}

// Rank returns member's 1-indexed rank.
func (s *Service) Rank(ctx context.Context, board, member string) (int, error) {
	st, _, err := s.lookup(board)
	if err != nil {
		return 0, err
	}
	if st == nil {
		return 0, repository.ErrNotFound
	}
	return st.Rank(ctx, member)
}

// Stats returns rank, score and board size from one read.
func (s *Service) Stats(ctx context.Context, board, member string) (types.MemberStats, error) {
	st, _, err := s.lookup(board)
	if err != nil {
		return types.MemberStats{}, err
	}
	if st == nil {
		return types.MemberStats{}, repository.ErrNotFound
	}
	ms, err := st.Stats(ctx, member)
	if err != nil {
		return types.MemberStats{}, err
	}
	return types.MemberStats{Member: ms.Member, Rank: ms.Rank, Score: ms.Score, Total: ms.Total}, nil
}

// Top returns the first n entries.
func (s *Service) Top(ctx context.Context, board string, n int) ([]types.RankedEntry, error) {
	return s.read(board, func(st *repository.TreapStore) ([]repository.Entry, error) {
		return st.Top(ctx, n)
	})
}

// TopMembers returns the members of the first n entries.
func (s *Service) TopMembers(ctx context.Context, board string, n int) ([]string, error) {
	entries, err := s.Top(ctx, board, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Member
	}
	return out, nil
}

// Around returns the rank window around member.
func (s *Service) Around(ctx context.Context, board, member string, radius int) ([]types.RankedEntry, error) {
	return s.read(board, func(st *repository.TreapStore) ([]repository.Entry, error) {
		return st.Around(ctx, member, radius)
	})
}

// RangeByScore returns entries with minScore <= score <= maxScore.
func (s *Service) RangeByScore(ctx context.Context, board string, minScore, maxScore float64) ([]types.RankedEntry, error) {
	return s.read(board, func(st *repository.TreapStore) ([]repository.Entry, error) {
		return st.RangeByScore(ctx, minScore, maxScore)
	})
}

// read runs fn against board. A board that does not exist reads as an empty
// one, so argument errors are still reported.
func (s *Service) read(board string, fn func(*repository.TreapStore) ([]repository.Entry, error)) ([]types.RankedEntry, error) {
	b, name, err := s.lookup(board)
	if err != nil {
		return nil, err
	}
	var st *repository.TreapStore
	if b != nil {
		st = b.TreapStore
	} else {
		st = s.newStore(name)
	}
	entries, err := fn(st)
	if err != nil {
		return nil, err
	}
	out := make([]types.RankedEntry, len(entries))
	for i, e := range entries {
		out[i] = types.RankedEntry{Rank: e.Rank, Member: e.Member, Score: e.Score}
	}
	return out, nil
}

// Count returns the number of members on board.
func (s *Service) Count(ctx context.Context, board string) (int, error) {
	st, _, err := s.lookup(board)
	if err != nil || st == nil {
		return 0, err
	}
	return st.Count(ctx), nil
}

// Apply applies one mutation and journals it.
func (s *Service) Apply(ctx context.Context, m model.Mutation) error { //nolint:gocritic // hugeParam: mutations are values everywhere
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrInvalidArgument, err)
	}
	var err error
	switch m.Op {
	case model.OpUpsert:
		_, err = s.upsert(ctx, m)
	case model.OpIncrement:
		_, err = s.increment(ctx, m)
	default:
		_, err = s.remove(ctx, m)
	}
	return err
}

// ApplyOnce applies m unless its ID was already applied. Mutations without
// an ID are always applied.
func (s *Service) ApplyOnce(ctx context.Context, m model.Mutation) (bool, error) { //nolint:gocritic // hugeParam
	if m.ID == "" {
		return false, s.Apply(ctx, m)
	}
	key, err := s.mutationKey(m)
	if err != nil {
		return false, err
	}
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordDuplicate("journal")
		return true, nil
	}
	if err := s.Apply(ctx, m); err != nil {
		s.deduper.Unrecord(ctx, key)
		return false, err
	}
	return false, nil
}

// Enqueue submits m for asynchronous application. It returns true when m
// was queued or is a duplicate of an earlier mutation, and false when m is
// invalid, the service is not started, or the queue is full.
func (s *Service) Enqueue(ctx context.Context, m model.Mutation) bool { //nolint:gocritic // hugeParam
	_, _, err := s.enqueue(ctx, m)
	if err != nil {
		s.logger.Debug(ctx, "mutation not queued", logger.String("id", m.ID), logger.Error(err))
	}
	return err == nil
}

// EnqueueBatch validates every mutation, then queues them in order. It stops
// at the first full-queue rejection and returns ErrBackpressure together
// with the counts so far.
func (s *Service) EnqueueBatch(ctx context.Context, ms []model.Mutation) (accepted, duplicates int, err error) {
	for i := range ms {
		if err := ms[i].Validate(); err != nil {
			return 0, 0, fmt.Errorf("%w: mutation %d: %w", repository.ErrInvalidArgument, i, err)
		}
		if _, err := s.resolve(ms[i].Board); err != nil {
			return 0, 0, fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	for i := range ms {
		queued, dup, err := s.enqueue(ctx, ms[i])
		switch {
		case err != nil:
			return accepted, duplicates, err
		case dup:
			duplicates++
		case queued:
			accepted++
		}
	}
	return accepted, duplicates, nil
}

func (s *Service) enqueue(ctx context.Context, m model.Mutation) (queued, duplicate bool, err error) { //nolint:gocritic // hugeParam
	if err := m.Validate(); err != nil {
		return false, false, fmt.Errorf("%w: %w", repository.ErrInvalidArgument, err)
	}
	name, err := s.resolve(m.Board)
	if err != nil {
		return false, false, err
	}
	m.Board = name
	if m.TS.IsZero() {
		m.TS = time.Now()
	}

	s.mu.RLock()
	q, started := s.queue, s.started
	s.mu.RUnlock()
	if !started {
		return false, false, ErrNotStarted
	}

	var key string
	if m.ID != "" {
		key, _ = s.mutationKey(m)
		if s.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordDuplicate("queue")
			return false, true, nil
		}
	}
	if !q.Enqueue(ctx, m) {
		if key != "" {
			s.deduper.Unrecord(ctx, key)
		}
		return false, false, ErrBackpressure
	}
	return true, false, nil
}

func (s *Service) mutationKey(m model.Mutation) (string, error) { //nolint:gocritic // hugeParam
	name, err := s.resolve(m.Board)
	if err != nil {
		return "", err
	}
	return name + idempotencyKeySep + m.ID, nil
}

// publish journals m. Failures are logged; the write has already happened.
// Every record gets an ID so consumers can drop redeliveries.
func (s *Service) publish(ctx context.Context, m model.Mutation) { //nolint:gocritic // hugeParam
	if s.publisher == nil {
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.TS.IsZero() {
		m.TS = time.Now()
	}
	if err := s.publisher.Publish(ctx, m); err != nil {
		s.logger.Warn(ctx, "journal publish failed",
			logger.String("board", m.Board),
			logger.String("member", m.Member),
			logger.Error(err),
		)
	}
}

// Boards returns the live board names in order.
func (s *Service) Boards() []string {
	s.boardsMu.RLock()
	defer s.boardsMu.RUnlock()
	names := make([]string, 0, len(s.boards))
	for name := range s.boards {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BoardInfos returns every live board with its size.
func (s *Service) BoardInfos(ctx context.Context) []types.BoardInfo {
	s.boardsMu.RLock()
	defer s.boardsMu.RUnlock()
	out := make([]types.BoardInfo, 0, len(s.boards))
	for name, st := range s.boards {
		out = append(out, types.BoardInfo{Board: name, Total: st.Count(ctx)})
	}
	slices.SortFunc(out, func(a, b types.BoardInfo) int {
		switch {
		case a.Board < b.Board:
			return -1
		case a.Board > b.Board:
			return 1
		}
		return 0
	})
	return out
}

// DropBoard deletes a board and its persisted copy.
func (s *Service) DropBoard(ctx context.Context, board string) (bool, error) {
	name, err := s.resolve(board)
	if err != nil {
		return false, err
	}
	s.boardsMu.Lock()
	b, ok := s.boards[name]
	delete(s.boards, name)
	metrics.UpdateBoardCount(len(s.boards))
	s.boardsMu.Unlock()
	if !ok {
		return false, nil
	}
	// Writers that resolved b before the delete either finish first or see
	// dropped and move to a fresh board.
	b.writeMu.Lock()
	b.dropped = true
	b.writeMu.Unlock()
	metrics.DeleteBoardMembers(name)
	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, name); err != nil {
			return true, fmt.Errorf("deleting snapshot of %s: %w", name, err)
		}
	}
	s.logger.Info(ctx, "board dropped", logger.String("board", name))
	return true, nil
}

// Snapshot returns board's entries in rank order.
func (s *Service) Snapshot(ctx context.Context, board string) ([]repository.Entry, error) {
	st, _, err := s.lookup(board)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return []repository.Entry{}, nil
	}
	return st.Snapshot(ctx), nil
}

// Restore replaces board's content, creating the board when needed.
func (s *Service) Restore(ctx context.Context, board string, entries []repository.Entry) error {
	return s.write(ctx, model.Mutation{Board: board}, true, func(st *repository.TreapStore) (bool, error) {
		return false, st.Restore(ctx, entries)
	})
}

// TriggerSnapshot saves every board now.
func (s *Service) TriggerSnapshot(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, ErrNoSnapshotSink
	}
	return s.snapshots.SnapshotAll(ctx)
}

func (s *Service) snapshotBackend() string {
	if s.snapshots == nil {
		return snapshotBackendOff
	}
	return s.snapshots.Backend()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	boards := s.BoardInfos(ctx)
	members := 0
	for _, b := range boards {
		members += b.Total
	}
	stats := map[string]any{
		"started":         s.started,
		"defaultBoard":    s.defaultBoard,
		"boards":          len(boards),
		"members":         members,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"dedupeSize":      s.dedupeSize,
		"dedupeEntries":   s.deduper.Size(),
		"snapshotBackend": s.snapshotBackend(),
		"journal":         s.publisher != nil,
	}
	if s.started {
		stats["queueLength"] = s.queue.Len(ctx)
		stats["processed"] = s.pool.Processed()
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	}
	return stats
}
