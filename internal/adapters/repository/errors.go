package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for ranking store errors.
var (
	ErrNotFound        = errors.New("member not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDuplicateKey    = errors.New("duplicate ordering key")
	ErrOutOfRange      = errors.New("rank out of range")
)

// InvariantError reports that the member index and the order index disagree.
// It is raised with panic; callers are not expected to recover from it
// except at process boundaries.
type InvariantError struct {
	Store  string
	Op     string
	Member string
	Err    error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ranking invariant violated: store=%s op=%s member=%q: %v", e.Store, e.Op, e.Member, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
