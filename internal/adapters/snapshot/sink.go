// Package snapshot persists board contents to an external store and restores
// them on startup.
package snapshot

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/okian/ladder/internal/adapters/repository"
)

// Backend names accepted by configuration.
const (
	BackendNone     = "none"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var (
	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("snapshot: unknown backend")
	// ErrInvalidTable is returned for a table name that is not a plain identifier.
	ErrInvalidTable = errors.New("snapshot: invalid table name")
)

// Sink stores whole-board snapshots. Save replaces the stored copy.
type Sink interface {
	Name() string
	Save(ctx context.Context, board string, entries []repository.Entry) error
	Load(ctx context.Context, board string) ([]repository.Entry, error)
	Delete(ctx context.Context, board string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// ranked sorts entries by score descending then member ascending and
// assigns 1-based ranks.
func ranked(entries []repository.Entry) []repository.Entry {
	slices.SortStableFunc(entries, func(a, b repository.Entry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Member, b.Member)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
