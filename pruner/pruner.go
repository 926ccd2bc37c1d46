package pruner

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
)

var log = logging.Logger("pruner")

// Pruner garbage collects the nodes of a sharded, versioned state tree that
// became stale at or before the target version.
//
// Every pruning window is first applied to the top levels of the tree kept in
// the metadata shard, committing the window end as the overall progress, and
// then to all data shards in parallel. A crash in between is recovered on
// construction by catching every lagging shard up to the overall progress.
type Pruner struct {
	db         *store.DB
	params     Params
	progress   ProgressStore
	dispatcher *dispatcher

	// targetLk serializes target updates, reads are lock-free.
	targetLk sync.Mutex

	// pruneLk serializes pruning cycles.
	pruneLk sync.Mutex
	// nextVersion is the end of a window whose top levels are committed, but
	// whose data shards did not catch up yet.
	nextVersion *uint64
	closed      bool

	metrics *metrics
}

// New constructs a Pruner over the given DB, loading the persisted progress
// and finishing any shard left behind by an interrupted cycle.
func New(ctx context.Context, db *store.DB, opts ...Option) (*Pruner, error) {
	params := DefaultParams()
	for _, opt := range opts {
		opt(&params)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	log.Infow("initializing", "name", params.name, "shards", db.NumShards())

	persisted, err := LoadProgress(ctx, db, params.name)
	if err != nil {
		return nil, err
	}

	ps := params.progress
	if ps == nil {
		ps = NewProgressStore(db.NumShards())
	}
	if ps.NumShards() != db.NumShards() {
		return nil, fmt.Errorf("pruner: progress store sized for %d shards, store has %d",
			ps.NumShards(), db.NumShards())
	}

	ps.SetProgress(persisted.Overall)
	ps.SetTarget(persisted.Overall)
	for shard, progress := range persisted.Shards {
		if progress > persisted.Overall {
			return nil, fmt.Errorf("%w: shard %d progress %d is ahead of overall progress %d",
				ErrInvariantViolation, shard, progress, persisted.Overall)
		}
		ps.SetShardProgress(shard, progress)
	}

	p := &Pruner{
		db:         db,
		params:     params,
		progress:   ps,
		dispatcher: newDispatcher(db.NumShards(), params.maxWorkers),
	}

	err = p.finishPendingPruning(ctx, persisted.Overall)
	if err != nil {
		p.dispatcher.stop()
		return nil, fmt.Errorf("pruner: finishing pending pruning: %w", err)
	}

	log.Infow("initialized", "name", params.name, "progress", persisted.Overall)
	return p, nil
}

// Name returns the name of the pruned stale node index.
func (p *Pruner) Name() string {
	return p.params.name
}

// NumShards returns the number of data shards pruned.
func (p *Pruner) NumShards() int {
	return p.db.NumShards()
}

// SetTargetVersion raises the version up to which stale nodes are pruned.
// A target lower than the current one is rejected with ErrTargetRegression.
func (p *Pruner) SetTargetVersion(version uint64) error {
	p.targetLk.Lock()
	defer p.targetLk.Unlock()

	current := p.progress.Target()
	if version < current {
		return fmt.Errorf("%w: requested %d, current %d", ErrTargetRegression, version, current)
	}
	p.progress.SetTarget(version)
	return nil
}

// TargetVersion returns the version pruning is heading to.
func (p *Pruner) TargetVersion() uint64 {
	return p.progress.Target()
}

// Progress returns the version below which all data shards and the top
// levels are fully pruned.
func (p *Pruner) Progress() uint64 {
	return p.progress.Progress()
}

// ShardProgress returns the version below which the given shard is fully
// pruned.
func (p *Pruner) ShardProgress(shard int) uint64 {
	return p.progress.ShardProgress(shard)
}

// IsPruningPending reports whether the progress is behind the target.
func (p *Pruner) IsPruningPending() bool {
	return p.Progress() < p.TargetVersion()
}

// Prune advances the progress up to the target version, never committing
// more than batchSize deletions from any shard at once. It blocks until the
// target is reached or an error occurs and returns the version reached.
//
// A failed cycle leaves the store at the last committed batch and is resumed
// by the next call.
func (p *Pruner) Prune(ctx context.Context, batchSize int) (uint64, error) {
	if err := validateBatchSize(batchSize); err != nil {
		return 0, err
	}

	p.pruneLk.Lock()
	defer p.pruneLk.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if !p.IsPruningPending() {
		return p.Progress(), nil
	}

	tNow := time.Now()
	reached, err := p.pruneStateMerkle(ctx, p.TargetVersion(), batchSize)
	p.metrics.observePrune(ctx, time.Since(tNow), err != nil)
	if err != nil {
		log.Errorw("pruning cycle failed", "name", p.params.name, "progress", reached, "err", err)
		return reached, err
	}
	return reached, nil
}

func (p *Pruner) pruneStateMerkle(ctx context.Context, target uint64, batchSize int) (uint64, error) {
	if p.nextVersion != nil {
		windowEnd := *p.nextVersion
		log.Infow("resuming interrupted window", "name", p.params.name, "window_end", windowEnd)
		if err := p.pruneShards(ctx, windowEnd, batchSize); err != nil {
			return p.Progress(), err
		}
		p.recordProgress(windowEnd)
	}

	for more := false; more || p.Progress() < target; {
		if err := ctx.Err(); err != nil {
			return p.Progress(), err
		}

		var (
			windowEnd uint64
			err       error
		)
		windowEnd, more, err = p.pruneTopLevels(ctx, p.Progress(), target, batchSize)
		if err != nil {
			return p.Progress(), err
		}

		p.nextVersion = &windowEnd
		if err := p.pruneShards(ctx, windowEnd, batchSize); err != nil {
			return p.Progress(), err
		}
		p.recordProgress(windowEnd)
	}
	return p.Progress(), nil
}

// pruneTopLevels prunes one batch of the metadata shard within
// [start, target] and commits the end of the window it covered as the
// overall progress. It reports whether records may remain below target.
//
// The scan is bounded by batchSize just like data shard scans, so a
// single commit never exceeds the batch size on any shard.
func (p *Pruner) pruneTopLevels(
	ctx context.Context,
	start, target uint64,
	batchSize int,
) (windowEnd uint64, more bool, err error) {
	meta := p.db.Metadata()
	res, err := scanStaleIndices(ctx, meta, start, target, batchSize)
	if err != nil {
		return 0, false, fmt.Errorf("scanning top levels: %w", err)
	}

	windowEnd = target
	if res.hasNext && res.next <= target {
		windowEnd, more = res.next, true
	}

	batch := store.NewBatch()
	if err := stageDeletions(ctx, meta, batch, res.indices); err != nil {
		return 0, false, err
	}
	putVersion(batch, p.params.name, schema.NoShard, windowEnd)
	if err := meta.Write(ctx, batch); err != nil {
		return 0, false, fmt.Errorf("committing top levels batch: %w", err)
	}
	p.metrics.observeDeleted(ctx, len(res.indices))

	log.Debugw("pruned top levels", "name", p.params.name, "deleted", len(res.indices),
		"from", start, "window_end", windowEnd)
	return windowEnd, more, nil
}

// pruneShards catches every data shard up to windowEnd in parallel.
func (p *Pruner) pruneShards(ctx context.Context, windowEnd uint64, batchSize int) error {
	return p.dispatcher.run(ctx, p.db.NumShards(), func(ctx context.Context, shard int) error {
		return p.pruneShard(ctx, shard, windowEnd, batchSize)
	})
}

// finishPendingPruning catches up the shards that were left behind the
// committed overall progress, in batches of the configured size.
func (p *Pruner) finishPendingPruning(ctx context.Context, overall uint64) error {
	for shard := 0; shard < p.db.NumShards(); shard++ {
		if progress := p.progress.ShardProgress(shard); progress < overall {
			log.Infow("shard lags overall progress", "name", p.params.name,
				"shard", shard, "progress", progress, "overall", overall)
		}
	}
	return p.pruneShards(ctx, overall, p.params.batchSize)
}

func (p *Pruner) recordProgress(version uint64) {
	p.progress.SetProgress(version)
	p.nextVersion = nil
	log.Debugw("recorded progress", "name", p.params.name, "progress", version)
}

// Close stops the workers of the Pruner. Pruning cycles in flight finish
// before Close returns.
func (p *Pruner) Close() error {
	p.pruneLk.Lock()
	defer p.pruneLk.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.dispatcher.stop()
	return p.metrics.close()
}
