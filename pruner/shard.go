package pruner

import (
	"context"
	"fmt"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
)

// pruneShard advances the progress of the data shard up to windowEnd,
// committing at most batchSize deletions at a time.
func (p *Pruner) pruneShard(ctx context.Context, shard int, windowEnd uint64, batchSize int) error {
	progress := p.progress.ShardProgress(shard)
	switch {
	case progress == windowEnd:
		return nil
	case progress > windowEnd:
		return fmt.Errorf("%w: shard %d progress %d is ahead of window end %d",
			ErrInvariantViolation, shard, progress, windowEnd)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := p.pruneShardStep(ctx, shard, windowEnd, batchSize)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// pruneShardStep deletes one batch of stale nodes of the shard within
// [shard progress, windowEnd] and commits it together with the new shard
// progress. It reports whether records may remain within the window.
func (p *Pruner) pruneShardStep(ctx context.Context, shard int, windowEnd uint64, batchSize int) (bool, error) {
	db := p.db.Shard(shard)
	start := p.progress.ShardProgress(shard)

	res, err := scanStaleIndices(ctx, db, start, windowEnd, batchSize)
	if err != nil {
		return false, err
	}

	batch := store.NewBatch()
	if err := stageDeletions(ctx, db, batch, res.indices); err != nil {
		return false, err
	}

	progress, more := windowEnd, false
	if res.hasNext && res.next <= windowEnd {
		progress, more = res.next, true
	}
	putVersion(batch, p.params.name, schema.ShardID(shard), progress)

	if err := db.Write(ctx, batch); err != nil {
		return false, fmt.Errorf("committing prune batch: %w", err)
	}
	p.progress.SetShardProgress(shard, progress)
	p.metrics.observeDeleted(ctx, len(res.indices))

	log.Debugw("pruned shard batch", "shard", shard, "deleted", len(res.indices),
		"from", start, "progress", progress, "window_end", windowEnd)
	return more, nil
}

// stageDeletions adds the deletion of every stale record and of the node it
// references to the batch.
func stageDeletions(
	ctx context.Context,
	db store.Shard,
	batch *store.Batch,
	indices []schema.StaleNodeIndex,
) error {
	for _, idx := range indices {
		nodeKey := schema.NodeStoreKey(idx.NodeKey)
		ok, err := db.Has(ctx, nodeKey)
		if err != nil {
			return fmt.Errorf("checking node %s: %w", idx.NodeKey, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingNode, idx)
		}

		batch.Delete(nodeKey)
		batch.Delete(schema.StaleIndexStoreKey(idx))
	}
	return nil
}
