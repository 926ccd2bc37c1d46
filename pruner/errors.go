package pruner

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation reports a state that would compromise the
	// readability of retained versions if pruning went on.
	ErrInvariantViolation = errors.New("pruner: invariant violation")
	// ErrTargetRegression is returned when a lower target than the current
	// one is requested.
	ErrTargetRegression = fmt.Errorf("%w: target version regression", ErrInvariantViolation)
	// ErrMissingNode is returned when a stale node record references a node
	// that is not stored.
	ErrMissingNode = fmt.Errorf("%w: stale record references a missing node", ErrInvariantViolation)
	// ErrWorkerFailure is returned when a shard pruning unit panics.
	ErrWorkerFailure = errors.New("pruner: shard worker failure")

	ErrInvalidBatchSize = errors.New("pruner: invalid batch size")
	ErrClosed           = errors.New("pruner: closed")
)
