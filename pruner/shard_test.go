package pruner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
	"github.com/celestiaorg/state-pruner/store/storetest"
)

func seedScenarioInto(t *testing.T, db *store.DB) []schema.StaleNodeIndex {
	t.Helper()
	return []schema.StaleNodeIndex{
		storetest.PutStaleNode(t, db, 5, nodeA),
		storetest.PutStaleNode(t, db, 7, nodeB),
		storetest.PutStaleNode(t, db, 7, nodeC),
		storetest.PutStaleNode(t, db, 9, nodeD),
	}
}

// TestPruneShardStep_Scenario walks the shard through
// {(5,a),(7,b),(7,c),(9,d)} with a batch size of 2 and a window end of 9.
func TestPruneShardStep_Scenario(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewDB(t, 1)
	seedScenarioInto(t, mem)
	db, faulty := storetest.WrapFaulty(mem)
	shard := faulty[1]

	p := newTestPruner(t, db)

	// first call: (5,a) and (7,b) only, (7,c) is the over fetched boundary
	more, err := p.pruneShardStep(ctx, 0, 9, 2)
	require.NoError(t, err)
	assert.True(t, more)
	assert.False(t, storetest.HasNode(t, db, nodeA))
	assert.False(t, storetest.HasNode(t, db, nodeB))
	assert.True(t, storetest.HasNode(t, db, nodeC))
	assert.True(t, storetest.HasNode(t, db, nodeD))
	assert.Equal(t, uint64(7), p.ShardProgress(0))
	assert.Equal(t, uint64(7), persistedShardProgress(t, db, 0))

	// second call: (7,c) and (9,d)
	_, err = p.pruneShardStep(ctx, 0, 9, 2)
	require.NoError(t, err)
	assert.False(t, storetest.HasNode(t, db, nodeC))
	assert.False(t, storetest.HasNode(t, db, nodeD))
	assert.Empty(t, storetest.StaleIndices(t, db.Shard(0)))
	assert.Equal(t, uint64(9), p.ShardProgress(0))

	// third call: nothing to do
	writes := shard.Writes()
	require.NoError(t, p.pruneShard(ctx, 0, 9, 2))
	assert.Equal(t, writes, shard.Writes())
	assert.Len(t, shard.Deleted(), 8)
}

func TestPruneShard(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewDB(t, 1)
	seedScenarioInto(t, mem)
	extra := storetest.PutStaleNode(t, mem, 12, schema.NewNodeKey(5, 0x0, 0x5))
	db, faulty := storetest.WrapFaulty(mem)

	p := newTestPruner(t, db)
	require.NoError(t, p.pruneShard(ctx, 0, 9, 2))

	assert.Equal(t, uint64(9), p.ShardProgress(0))
	assert.Equal(t, uint64(9), persistedShardProgress(t, db, 0))
	assert.Equal(t, []schema.StaleNodeIndex{extra}, storetest.StaleIndices(t, db.Shard(0)))
	assert.True(t, storetest.HasNode(t, db, extra.NodeKey))
	// the second batch over fetches (12,x) beyond the window and closes it
	assert.Equal(t, 2, faulty[1].Writes())
}

// TestPruneShard_WindowEndsAtLastRecord covers the window ending exactly at
// the last record of the shard: nothing is over fetched, so an empty batch
// confirms the window is exhausted.
func TestPruneShard_WindowEndsAtLastRecord(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewDB(t, 1)
	seedScenarioInto(t, mem)
	db, faulty := storetest.WrapFaulty(mem)

	p := newTestPruner(t, db)
	require.NoError(t, p.pruneShard(ctx, 0, 9, 2))

	assert.Equal(t, uint64(9), p.ShardProgress(0))
	assert.Equal(t, uint64(9), persistedShardProgress(t, db, 0))
	assert.Empty(t, storetest.StaleIndices(t, db.Shard(0)))
	assert.Equal(t, 3, faulty[1].Writes())
	assert.Len(t, faulty[1].Deleted(), 8)
}

func TestPruneShard_WindowBelowProgress(t *testing.T) {
	db := storetest.NewDB(t, 2)
	storetest.PutProgress(t, db, DefaultName, schema.NoShard, 10)
	storetest.PutProgress(t, db, DefaultName, 1, 10)
	storetest.PutProgress(t, db, DefaultName, 0, 10)

	p := newTestPruner(t, db)
	err := p.pruneShard(context.Background(), 1, 5, 10)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestPruneShard_MissingNode(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t, 1)
	storetest.PutStaleNode(t, db, 3, schema.NewNodeKey(1, 0x0, 0x1))

	// stale record without the node it references
	orphan := schema.StaleNodeIndex{StaleSinceVersion: 4, NodeKey: schema.NewNodeKey(2, 0x0, 0x2)}
	b := store.NewBatch()
	b.Put(schema.StaleIndexStoreKey(orphan), nil)
	require.NoError(t, db.Shard(0).Write(ctx, b))

	p := newTestPruner(t, db)
	err := p.pruneShard(ctx, 0, 10, 10)
	require.ErrorIs(t, err, ErrMissingNode)
	require.ErrorIs(t, err, ErrInvariantViolation)

	// nothing of the failed batch is committed
	assert.Len(t, storetest.StaleIndices(t, db.Shard(0)), 2)
	assert.Equal(t, uint64(0), p.ShardProgress(0))
	assert.Equal(t, uint64(0), persistedShardProgress(t, db, 0))
}

func persistedShardProgress(t *testing.T, db *store.DB, shard int) uint64 {
	t.Helper()
	progress, err := LoadProgress(context.Background(), db, DefaultName)
	require.NoError(t, err)
	return progress.Shards[shard]
}
