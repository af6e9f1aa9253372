package repository

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/ladder/pkg/metrics"
)

// Treap-backed, in-memory Store implementation.
//
// Two indexes are kept under one RWMutex: the member index (member -> score)
// and the order index (treap over (score, member) ascending with subtree
// sizes). Rank 1 is the largest key, so descending rank r maps to ascending
// position N-r.

const defaultStoreName = "default"

var errSizeMismatch = errors.New("index sizes differ")

// TreapStore is a ranked leaderboard safe for concurrent use.
type TreapStore struct {
	mu         sync.RWMutex
	name       string
	allowInf   bool
	priorities func() uint64 // set at construction, read without mu
	members    *memberIndex
	order      *orderIndex
}

var _ Store = (*TreapStore)(nil)

// NewTreapStore constructs an empty store.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		name:       defaultStoreName,
		allowInf:   true,
		priorities: rand.Uint64,
		members:    newMemberIndex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.order = s.newOrder()
	return s
}

// Name returns the board name this store was created with.
func (s *TreapStore) Name() string { return s.name }

// Upsert implements Store.Upsert in O(log n).
func (s *TreapStore) Upsert(ctx context.Context, member string, score float64) (bool, error) {
	const op = "upsert"
	defer observe(op, time.Now())
	if err := s.validate(member, score, "score"); err != nil {
		s.record(op, err)
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.set(op, member, score)
	if !changed {
		metrics.RecordStoreOperation(s.name, op, "noop")
		return false, nil
	}
	s.record(op, nil)
	metrics.UpdateBoardMembers(s.name, s.members.len())
	return true, nil
}

// Increment implements Store.Increment in O(log n).
func (s *TreapStore) Increment(ctx context.Context, member string, delta float64) (float64, error) {
	const op = "increment"
	defer observe(op, time.Now())
	if err := s.validate(member, delta, "delta"); err != nil {
		s.record(op, err)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.members.get(member)
	updated := current + delta
	if err := s.checkScore(updated, "resulting score"); err != nil {
		s.record(op, err)
		return 0, err
	}
	s.set(op, member, updated)
	s.record(op, nil)
	metrics.UpdateBoardMembers(s.name, s.members.len())
	return updated, nil
}

// Score implements Store.Score in O(1).
func (s *TreapStore) Score(ctx context.Context, member string) (float64, error) {
	const op = "score"
	defer observe(op, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, err := s.members.get(member)
	s.record(op, err)
	return score, err
}

// Rank implements Store.Rank in O(log n).
func (s *TreapStore) Rank(ctx context.Context, member string) (int, error) {
	const op = "rank"
	defer observe(op, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	rank, _, err := s.rankLocked(op, member)
	s.record(op, err)
	return rank, err
}

// Stats implements Store.Stats; rank, score and total come from one read.
func (s *TreapStore) Stats(ctx context.Context, member string) (MemberStats, error) {
	const op = "stats"
	defer observe(op, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	rank, score, err := s.rankLocked(op, member)
	s.record(op, err)
	if err != nil {
		return MemberStats{}, err
	}
	return MemberStats{Member: member, Rank: rank, Score: score, Total: s.order.len()}, nil
}

// Top implements Store.Top in O(log n + k).
func (s *TreapStore) Top(ctx context.Context, k int) ([]Entry, error) {
	const op = "top"
	defer observe(op, time.Now())
	if k < 0 {
		err := invalidArgument("count must be >= 0, got %d", k)
		s.record(op, err)
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.record(op, nil)
	return s.descending(0, k-1), nil
}

// Around implements Store.Around. The window covers descending positions
// [max(0, p-radius), p+radius], clipped at the bottom of the board. An absent
// member yields an empty window.
func (s *TreapStore) Around(ctx context.Context, member string, radius int) ([]Entry, error) {
	const op = "around"
	defer observe(op, time.Now())
	if radius < 0 {
		err := invalidArgument("radius must be >= 0, got %d", radius)
		s.record(op, err)
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rank, _, err := s.rankLocked(op, member)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordStoreOperation(s.name, op, "not_found")
		return []Entry{}, nil
	}
	n := s.order.len()
	radius = min(radius, n)
	p := rank - 1
	s.record(op, nil)
	return s.descending(max(0, p-radius), p+radius), nil
}

// Remove implements Store.Remove. Removing an absent member is a no-op.
func (s *TreapStore) Remove(ctx context.Context, member string) (bool, error) {
	const op = "remove"
	defer observe(op, time.Now())
	if member == "" {
		err := invalidArgument("member must not be empty")
		s.record(op, err)
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.members.delete(member)
	if err != nil {
		metrics.RecordStoreOperation(s.name, op, "noop")
		return false, nil
	}
	if err := s.order.remove(Key{Score: prev, Member: member}); err != nil {
		s.violate(op, member, err)
	}
	s.checkSizes(op, member)
	s.record(op, nil)
	metrics.UpdateBoardMembers(s.name, s.members.len())
	return true, nil
}

// Count implements Store.Count.
func (s *TreapStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members.len()
}

// RangeByScore implements Store.RangeByScore in O(log n + k). Bounds are
// inclusive; entries come back in rank order, annotated with the rank they
// hold at the moment of the read.
func (s *TreapStore) RangeByScore(ctx context.Context, minScore, maxScore float64) ([]Entry, error) {
	const op = "range_by_score"
	defer observe(op, time.Now())
	if math.IsNaN(minScore) || math.IsNaN(maxScore) {
		err := invalidArgument("range bounds must be numbers")
		s.record(op, err)
		return nil, err
	}
	if minScore > maxScore {
		err := invalidArgument("min %g is greater than max %g", minScore, maxScore)
		s.record(op, err)
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.order.len()
	base := s.order.countBelow(minScore)
	var asc []Key
	for k := range s.order.rangeByScore(minScore, maxScore) {
		asc = append(asc, k)
	}
	out := make([]Entry, len(asc))
	for i, k := range asc {
		out[len(asc)-1-i] = Entry{Rank: n - (base + i), Member: k.Member, Score: k.Score}
	}
	s.record(op, nil)
	return out, nil
}

// Snapshot returns every entry in rank order as of a single instant.
func (s *TreapStore) Snapshot(ctx context.Context) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.descending(0, s.order.len()-1)
}

// Restore replaces the store content with entries. Ranks in entries are
// ignored. The store is left untouched when any entry is invalid.
func (s *TreapStore) Restore(ctx context.Context, entries []Entry) error {
	const op = "restore"
	defer observe(op, time.Now())
	members := newMemberIndex()
	order := s.newOrder()
	for _, e := range entries {
		if err := s.validate(e.Member, e.Score, "score"); err != nil {
			s.record(op, err)
			return err
		}
		if _, dup := members.put(e.Member, e.Score); dup {
			err := invalidArgument("duplicate member %q", e.Member)
			s.record(op, err)
			return err
		}
		if err := order.insert(Key{Score: e.Score, Member: e.Member}); err != nil {
			s.record(op, err)
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.members, s.order = members, order
	s.record(op, nil)
	metrics.UpdateBoardMembers(s.name, s.members.len())
	return nil
}

func (s *TreapStore) newOrder() *orderIndex {
	order := newOrderIndex()
	order.rand = s.priorities
	return order
}

// set moves member to score in both indexes and reports whether anything
// changed. Caller holds the write lock.
func (s *TreapStore) set(op, member string, score float64) bool {
	prev, err := s.members.get(member)
	existed := err == nil
	if existed && prev == score {
		return false
	}
	if existed {
		if err := s.order.remove(Key{Score: prev, Member: member}); err != nil {
			s.violate(op, member, err)
		}
	}
	s.members.put(member, score)
	if err := s.order.insert(Key{Score: score, Member: member}); err != nil {
		s.violate(op, member, err)
	}
	s.checkSizes(op, member)
	return true
}

// rankLocked returns member's 1-indexed rank and score. Caller holds a lock.
func (s *TreapStore) rankLocked(op, member string) (int, float64, error) {
	score, err := s.members.get(member)
	if err != nil {
		return 0, 0, err
	}
	asc, err := s.order.rankOf(Key{Score: score, Member: member})
	if err != nil {
		s.violate(op, member, err)
	}
	return s.order.len() - asc, score, nil
}

// descending collects 0-based descending positions lo..hi (clamped) with
// their ranks. Caller holds a lock.
func (s *TreapStore) descending(lo, hi int) []Entry {
	n := s.order.len()
	lo, hi = max(lo, 0), min(hi, n-1)
	if lo > hi {
		return []Entry{}
	}
	out := make([]Entry, hi-lo+1)
	i := len(out) - 1
	for k := range s.order.rangeByRank(n-1-hi, n-1-lo) {
		out[i] = Entry{Rank: lo + 1 + i, Member: k.Member, Score: k.Score}
		i--
	}
	return out
}

func (s *TreapStore) validate(member string, v float64, what string) error {
	if member == "" {
		return invalidArgument("member must not be empty")
	}
	return s.checkScore(v, what)
}

func (s *TreapStore) checkScore(v float64, what string) error {
	if math.IsNaN(v) {
		return invalidArgument("%s is NaN", what)
	}
	if !s.allowInf && math.IsInf(v, 0) {
		return invalidArgument("%s must be finite", what)
	}
	return nil
}

func (s *TreapStore) checkSizes(op, member string) {
	if s.members.len() != s.order.len() {
		s.violate(op, member, errSizeMismatch)
	}
}

// violate aborts the current operation. Deferred unlocks release the mutex.
func (s *TreapStore) violate(op, member string, err error) {
	metrics.RecordInvariantViolation(s.name)
	panic(&InvariantError{Store: s.name, Op: op, Member: member, Err: err})
}

func (s *TreapStore) record(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrInvalidArgument):
		outcome = "invalid"
		metrics.RecordErrorByComponent("repository", "invalid_argument")
	default:
		outcome = "error"
		metrics.RecordErrorByComponent("repository", op)
	}
	metrics.RecordStoreOperation(s.name, op, outcome)
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}
