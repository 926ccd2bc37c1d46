package pruner

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/celestiaorg/state-pruner/store"
)

const (
	// DefaultName is the name of the state tree stale node index.
	DefaultName = "state_merkle_pruner"
	// MaxWorkersLimit caps the amount of shards pruned in parallel.
	MaxWorkersLimit = 16
	// MaxBatchSize caps the stale nodes deleted by a single commit: each
	// takes two deletions and the commit carries the progress marker.
	MaxBatchSize = (store.MaxBatchOps - 1) / 2
)

type Option func(*Params)

type Params struct {
	// name identifies the pruned stale node index. It keys the persisted
	// progress and labels metrics.
	name string
	// maxWorkers limits the amount of shards pruned concurrently.
	maxWorkers int
	// progress overrides the in-memory progress store.
	progress ProgressStore

	// pruneCycle is the frequency at which the pruning Service
	// runs the ticker. If set to 0, the Service will not run.
	pruneCycle time.Duration
	// batchSize bounds the amount of stale records read and deleted by
	// a single commit.
	batchSize int
	// retentionWindow is the amount of latest versions the Service keeps.
	retentionWindow uint64
	clock           clock.Clock
}

func (p *Params) Validate() error {
	if p.name == "" {
		return errors.New("pruner name must not be empty")
	}
	if p.maxWorkers <= 0 || p.maxWorkers > MaxWorkersLimit {
		return fmt.Errorf("max workers must be within [1, %d], got %d", MaxWorkersLimit, p.maxWorkers)
	}
	if p.pruneCycle == time.Duration(0) {
		return fmt.Errorf("invalid GC cycle given, value should be positive and non-zero")
	}
	if err := validateBatchSize(p.batchSize); err != nil {
		return err
	}
	return nil
}

func validateBatchSize(size int) error {
	if size <= 0 || size > MaxBatchSize {
		return fmt.Errorf("%w: %d, must be within [1, %d]", ErrInvalidBatchSize, size, MaxBatchSize)
	}
	return nil
}

func DefaultParams() Params {
	return Params{
		name:            DefaultName,
		maxWorkers:      MaxWorkersLimit,
		pruneCycle:      time.Second * 10,
		batchSize:       10_000,
		retentionWindow: 100_000,
		clock:           clock.New(),
	}
}

// WithName sets the name of the pruned stale node index.
func WithName(name string) Option {
	return func(p *Params) {
		p.name = name
	}
}

// WithMaxWorkers limits how many shards are pruned concurrently.
func WithMaxWorkers(n int) Option {
	return func(p *Params) {
		p.maxWorkers = n
	}
}

// WithProgressStore sets a custom in-memory ProgressStore. It must be sized
// to the number of data shards.
func WithProgressStore(ps ProgressStore) Option {
	return func(p *Params) {
		p.progress = ps
	}
}

// WithPruneCycle configures how often the pruning Service
// triggers a pruning cycle.
func WithPruneCycle(cycle time.Duration) Option {
	return func(p *Params) {
		p.pruneCycle = cycle
	}
}

// WithBatchSize configures the batch size the Service prunes with and the
// Pruner catches lagging shards up with.
func WithBatchSize(size int) Option {
	return func(p *Params) {
		p.batchSize = size
	}
}

// WithRetentionWindow configures how many of the latest versions the Service
// keeps readable.
func WithRetentionWindow(versions uint64) Option {
	return func(p *Params) {
		p.retentionWindow = versions
	}
}

// WithClock overrides the clock driving the Service.
func WithClock(c clock.Clock) Option {
	return func(p *Params) {
		p.clock = c
	}
}

// WithPrunerMetrics is a utility function to turn on pruner metrics and that is
// expected to be "invoked" by the fx lifecycle.
func WithPrunerMetrics(p *Pruner) error {
	return p.WithMetrics()
}
