package pruner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store/storetest"
)

// scenario nodes: (5,a) (7,b) (7,c) (9,d), all owned by data shard 0
var (
	nodeA = schema.NewNodeKey(1, 0x0, 0x1)
	nodeB = schema.NewNodeKey(2, 0x0, 0x2)
	nodeC = schema.NewNodeKey(3, 0x0, 0x3)
	nodeD = schema.NewNodeKey(4, 0x0, 0x4)
)

func TestScanStaleIndices(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t, 1)
	seedScenarioInto(t, db)
	shard := db.Shard(0)

	res, err := scanStaleIndices(ctx, shard, 0, 9, 2)
	require.NoError(t, err)
	require.Len(t, res.indices, 2)
	assert.Equal(t, nodeA.Version, res.indices[0].NodeKey.Version)
	assert.Equal(t, nodeB.Version, res.indices[1].NodeKey.Version)
	// (7,c) was over fetched, so the next scan starts at 7
	assert.True(t, res.hasNext)
	assert.Equal(t, uint64(7), res.next)

	res, err = scanStaleIndices(ctx, shard, 0, 6, 10)
	require.NoError(t, err)
	require.Len(t, res.indices, 1)
	assert.Equal(t, uint64(5), res.indices[0].StaleSinceVersion)
	// the first record beyond the window is reported, but not returned
	assert.True(t, res.hasNext)
	assert.Equal(t, uint64(7), res.next)

	res, err = scanStaleIndices(ctx, shard, 8, 100, 10)
	require.NoError(t, err)
	require.Len(t, res.indices, 1)
	assert.Equal(t, uint64(9), res.next)

	res, err = scanStaleIndices(ctx, shard, 10, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, res.indices)
	assert.False(t, res.hasNext)

	_, err = scanStaleIndices(ctx, shard, 0, 9, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = scanStaleIndices(ctx, shard, 9, 5, 1)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestScanStaleIndices_EmptyShard(t *testing.T) {
	db := storetest.NewDB(t, 1)
	res, err := scanStaleIndices(context.Background(), db.Shard(0), 0, 100, 5)
	require.NoError(t, err)
	assert.Empty(t, res.indices)
	assert.False(t, res.hasNext)
}

// TestScanStaleIndices_BatchBound checks no scan ever returns more than the
// batch size, and that everything returned is ordered and within the window.
func TestScanStaleIndices_BatchBound(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t, 1)
	for v := uint64(1); v <= 20; v++ {
		for i := uint64(0); i < v%3+1; i++ {
			storetest.PutStaleNode(t, db, v, schema.NewNodeKey(v*10+i, 0x0, byte(i)))
		}
	}

	for batchSize := 1; batchSize <= 8; batchSize++ {
		for start := uint64(0); start <= 20; start += 3 {
			end := start + 5
			res, err := scanStaleIndices(ctx, db.Shard(0), start, end, batchSize)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(res.indices), batchSize)

			prev := start
			for _, idx := range res.indices {
				assert.GreaterOrEqual(t, idx.StaleSinceVersion, prev)
				assert.LessOrEqual(t, idx.StaleSinceVersion, end)
				prev = idx.StaleSinceVersion
			}
		}
	}
}
