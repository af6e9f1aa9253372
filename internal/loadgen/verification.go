package loadgen

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMismatch is returned when the served ranking disagrees with the local one.
var ErrMismatch = errors.New("leaderboard mismatch")

const settlePoll = 20 * time.Millisecond

// waitApplied polls GET /total until it reports want members or settle elapses.
func waitApplied(ctx context.Context, c *client, want int, settle time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, settle)
	defer cancel()

	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	last := -1
	for {
		n, err := c.total(ctx)
		if err == nil {
			last = n
			if n == want {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d members (last total %d): %w", want, last, ctx.Err())
		case <-ticker.C:
		}
	}
}

// verifyTop checks a served top list: contiguous ranks from 1, non-increasing
// scores, member ascending on equal scores, and equality with want.
func verifyTop(got, want []Entry) error {
	if len(got) != len(want) {
		return fmt.Errorf("%w: expected %d entries, got %d", ErrMismatch, len(want), len(got))
	}
	for i, e := range got {
		if e.Rank != i+1 {
			return fmt.Errorf("%w: position %d has rank %d", ErrMismatch, i, e.Rank)
		}
		if i > 0 {
			prev := got[i-1]
			if e.Score > prev.Score {
				return fmt.Errorf("%w: rank %d score %v above rank %d score %v",
					ErrMismatch, e.Rank, e.Score, prev.Rank, prev.Score)
			}
			if e.Score == prev.Score && e.Member <= prev.Member {
				return fmt.Errorf("%w: tie at score %v not ordered by member (%s after %s)",
					ErrMismatch, e.Score, e.Member, prev.Member)
			}
		}
		if w := want[i]; e.Member != w.Member || e.Score != w.Score {
			return fmt.Errorf("%w: rank %d expected %s/%v, got %s/%v",
				ErrMismatch, e.Rank, w.Member, w.Score, e.Member, e.Score)
		}
	}
	return nil
}

// verifyRanks spot checks GET /member/{id}/rank for the given entries.
func verifyRanks(ctx context.Context, c *client, sample []Entry) (int, error) {
	for i, e := range sample {
		r, err := c.rank(ctx, e.Member)
		if err != nil {
			return i, fmt.Errorf("rank of %s: %w", e.Member, err)
		}
		if r != e.Rank {
			return i, fmt.Errorf("%w: member %s expected rank %d, got %d", ErrMismatch, e.Member, e.Rank, r)
		}
	}
	return len(sample), nil
}

// sample picks up to n entries spread evenly across ranked.
func sample(ranked []Entry, n int) []Entry {
	if n >= len(ranked) {
		return ranked
	}
	out := make([]Entry, 0, n)
	step := len(ranked) / n
	for i := 0; i < n; i++ {
		out = append(out, ranked[i*step])
	}
	return out
}
