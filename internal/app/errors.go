package service

import (
	"errors"
	"fmt"

	"github.com/okian/ladder/internal/adapters/repository"
)

var (
	// ErrInvalidBoard is returned for board names outside [A-Za-z0-9_.:-]{1,64}.
	// It wraps repository.ErrInvalidArgument.
	ErrInvalidBoard = fmt.Errorf("%w: invalid board name", repository.ErrInvalidArgument)
	// ErrNoSnapshotSink is returned by TriggerSnapshot when no backend is configured.
	ErrNoSnapshotSink = errors.New("no snapshot backend configured")
	// ErrNotStarted is returned by operations that need the worker pipeline.
	ErrNotStarted = errors.New("service not started")
	// ErrBackpressure is returned when the mutation queue is full.
	ErrBackpressure = errors.New("mutation queue is full")
)
