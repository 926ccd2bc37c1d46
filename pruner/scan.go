package pruner

import (
	"context"
	"fmt"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
)

// scanResult is a batch of stale node records within a version window.
type scanResult struct {
	indices []schema.StaleNodeIndex
	// next is the stale since version of the last examined record, valid
	// only if hasNext. Pruning of the window continues from it.
	next    uint64
	hasNext bool
}

// scanStaleIndices returns up to batchSize stale node records of the shard
// whose stale since version is within [start, end], in (version, node key)
// order.
//
// It reads one record more than batchSize. The extra record is never
// returned: it only tells where the next scan has to begin.
func scanStaleIndices(
	ctx context.Context,
	shard store.Shard,
	start, end uint64,
	batchSize int,
) (res scanResult, err error) {
	if err := validateBatchSize(batchSize); err != nil {
		return res, err
	}
	if end < start {
		return res, fmt.Errorf("%w: window end %d below start %d", ErrInvariantViolation, end, start)
	}

	it, err := shard.Iterate(ctx, schema.StaleIndexPrefix, schema.StaleIndexSeekKey(start))
	if err != nil {
		return res, fmt.Errorf("opening stale index iterator: %w", err)
	}
	defer it.Close()

	// over fetch by one
	for examined := 0; examined <= batchSize; examined++ {
		if !it.Next() {
			break
		}
		idx, err := schema.DecodeStaleIndexStoreKey(it.Key())
		if err != nil {
			return scanResult{}, err
		}

		res.next, res.hasNext = idx.StaleSinceVersion, true
		if idx.StaleSinceVersion > end {
			break
		}
		res.indices = append(res.indices, idx)
	}
	if err := it.Err(); err != nil {
		return scanResult{}, fmt.Errorf("iterating stale index: %w", err)
	}

	if len(res.indices) > batchSize {
		res.indices = res.indices[:batchSize]
	}
	return res, nil
}
