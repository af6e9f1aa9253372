// Package repository defines the ranking store interface and errors.
package repository

import "context"

// Entry represents a leaderboard row. Rank is 1-indexed from the highest
// score; zero when the entry is not rank-annotated.
type Entry struct {
	Rank   int
	Member string
	Score  float64
}

// MemberStats combines a member's rank and score with the board size
// observed at the same instant.
type MemberStats struct {
	Member string
	Rank   int
	Score  float64
	Total  int
}

// Store provides read/write access to one ranked leaderboard.
type Store interface {
	// Upsert sets member's score. It reports whether anything changed.
	Upsert(ctx context.Context, member string, score float64) (bool, error)
	// Increment adds delta to member's score (0 when unseen) and returns the result.
	Increment(ctx context.Context, member string, delta float64) (float64, error)
	// Score returns member's current score or ErrNotFound.
	Score(ctx context.Context, member string) (float64, error)
	// Rank returns member's 1-indexed rank or ErrNotFound.
	Rank(ctx context.Context, member string) (int, error)
	// Stats returns rank, score and board size or ErrNotFound.
	Stats(ctx context.Context, member string) (MemberStats, error)
	// Top returns the first min(k, N) entries by rank.
	Top(ctx context.Context, k int) ([]Entry, error)
	// Around returns the rank window of radius entries on either side of member.
	Around(ctx context.Context, member string, radius int) ([]Entry, error)
	// Remove deletes member. Removing an absent member is not an error.
	Remove(ctx context.Context, member string) (bool, error)
	// Count returns the number of members.
	Count(ctx context.Context) int
	// RangeByScore returns entries with min <= score <= max in rank order.
	RangeByScore(ctx context.Context, minScore, maxScore float64) ([]Entry, error)
}
