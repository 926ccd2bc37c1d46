package pruner

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
	"github.com/celestiaorg/state-pruner/store/storetest"
)

func newTestPruner(t *testing.T, db *store.DB, opts ...Option) *Pruner {
	t.Helper()
	p, err := New(context.Background(), db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Close())
	})
	return p
}

// seedTree writes stale nodes stale since every version within [from, to],
// into the top levels and into every data shard.
func seedTree(t *testing.T, db *store.DB, from, to uint64) []schema.StaleNodeIndex {
	t.Helper()
	var out []schema.StaleNodeIndex
	for v := from; v <= to; v++ {
		// root node replaced at every version
		out = append(out, storetest.PutStaleNode(t, db, v, schema.NewNodeKey(v-1)))
		for shard := 0; shard < db.NumShards(); shard++ {
			for i := 0; i < 2; i++ {
				nk := schema.NewNodeKey(v-1, byte(shard), byte(i), byte(v%16))
				out = append(out, storetest.PutStaleNode(t, db, v, nk))
			}
		}
	}
	return out
}

func TestPrune_Idempotent(t *testing.T) {
	mem := storetest.NewDB(t, 4)
	seedTree(t, mem, 1, 5)
	db, faulty := storetest.WrapFaulty(mem)

	p := newTestPruner(t, db)
	reached, err := p.Prune(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reached)
	for _, f := range faulty {
		assert.Zero(t, f.Writes())
	}

	require.NoError(t, p.SetTargetVersion(5))
	_, err = p.Prune(context.Background(), 10)
	require.NoError(t, err)

	writes := make([]int, len(faulty))
	for i, f := range faulty {
		writes[i] = f.Writes()
	}
	reached, err = p.Prune(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), reached)
	for i, f := range faulty {
		assert.Equal(t, writes[i], f.Writes())
	}
}

func TestPrune_InvalidBatchSize(t *testing.T) {
	p := newTestPruner(t, storetest.NewDB(t, 1))
	_, err := p.Prune(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	_, err = p.Prune(context.Background(), MaxBatchSize+1)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = New(context.Background(), storetest.NewDB(t, 1), WithBatchSize(MaxBatchSize+1))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestSetTargetVersion(t *testing.T) {
	p := newTestPruner(t, storetest.NewDB(t, 2))
	require.NoError(t, p.SetTargetVersion(10))
	require.NoError(t, p.SetTargetVersion(10))
	assert.True(t, p.IsPruningPending())

	err := p.SetTargetVersion(9)
	assert.ErrorIs(t, err, ErrTargetRegression)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, uint64(10), p.TargetVersion())
}

// TestPrune_ParallelShards has 4 shards and the top levels at progress 3,
// targets 10 and expects everything to be caught up after a single call.
func TestPrune_ParallelShards(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t, 4)
	storetest.PutProgress(t, db, DefaultName, schema.NoShard, 3)
	for shard := 0; shard < 4; shard++ {
		storetest.PutProgress(t, db, DefaultName, schema.ShardID(shard), 3)
	}
	seeded := seedTree(t, db, 3, 14)

	p := newTestPruner(t, db, WithMaxWorkers(2))
	assert.Equal(t, uint64(3), p.Progress())

	require.NoError(t, p.SetTargetVersion(10))
	reached, err := p.Prune(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), reached)
	assert.Equal(t, uint64(10), p.Progress())
	assert.False(t, p.IsPruningPending())

	persisted, err := LoadProgress(ctx, db, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), persisted.Overall)
	for shard := 0; shard < 4; shard++ {
		assert.Equal(t, uint64(10), p.ShardProgress(shard))
		assert.Equal(t, uint64(10), persisted.Shards[shard])
	}

	for _, idx := range seeded {
		assert.Equal(t, idx.StaleSinceVersion > 10, storetest.HasNode(t, db, idx.NodeKey), idx.String())
	}
}

// TestPrune_TopLevelWindows makes the top levels split the work into many
// windows and checks the data shards still reach the target.
func TestPrune_TopLevelWindows(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t, 2)
	seeded := seedTree(t, db, 1, 30)

	p := newTestPruner(t, db)
	require.NoError(t, p.SetTargetVersion(25))
	reached, err := p.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), reached)

	for _, idx := range seeded {
		assert.Equal(t, idx.StaleSinceVersion > 25, storetest.HasNode(t, db, idx.NodeKey), idx.String())
	}
	for _, idx := range storetest.StaleIndices(t, db.Metadata()) {
		assert.Greater(t, idx.StaleSinceVersion, uint64(25))
	}
}

func TestNew_FinishesPendingShards(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t, 3)
	seeded := seedTree(t, db, 1, 15)

	// top levels and shards 0 and 2 got to 10, shard 1 crashed at 4
	storetest.PutProgress(t, db, DefaultName, schema.NoShard, 10)
	storetest.PutProgress(t, db, DefaultName, 0, 10)
	storetest.PutProgress(t, db, DefaultName, 1, 4)
	storetest.PutProgress(t, db, DefaultName, 2, 10)

	p := newTestPruner(t, db)
	assert.Equal(t, uint64(10), p.Progress())
	assert.Equal(t, uint64(10), p.TargetVersion())
	assert.Equal(t, uint64(10), p.ShardProgress(1))

	persisted, err := LoadProgress(ctx, db, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 10, 10}, persisted.Shards)

	for _, idx := range seeded {
		if idx.NodeKey.ShardID(3) != 1 {
			continue
		}
		assert.Equal(t, idx.StaleSinceVersion < 4 || idx.StaleSinceVersion > 10,
			storetest.HasNode(t, db, idx.NodeKey), idx.String())
	}
}

// TestNew_FinishesPendingShardsOnBadger leaves more stale records behind
// than a single Badger transaction can delete and checks the catch-up on
// construction commits them in bounded batches.
func TestNew_FinishesPendingShardsOnBadger(t *testing.T) {
	const (
		perVersion = 7000
		versions   = 9
	)
	ctx := context.Background()

	meta, err := store.NewInMemoryBadgerShard()
	require.NoError(t, err)
	data, err := store.NewInMemoryBadgerShard()
	require.NoError(t, err)
	db := store.NewDB(meta, data)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	b := store.NewBatch()
	for v := uint64(1); v <= versions; v++ {
		for i := 0; i < perVersion; i++ {
			nk := schema.NewNodeKey(v-1, 0, byte(i>>12&0xf), byte(i>>8&0xf), byte(i>>4&0xf), byte(i&0xf))
			b.Put(schema.NodeStoreKey(nk), nil)
			b.Put(schema.StaleIndexStoreKey(schema.StaleNodeIndex{StaleSinceVersion: v, NodeKey: nk}), nil)
			if b.Len() >= store.MaxBatchOps/2 {
				require.NoError(t, data.Write(ctx, b))
				b = store.NewBatch()
			}
		}
	}
	require.NoError(t, data.Write(ctx, b))

	// the top levels got to 10, the data shard never started
	storetest.PutProgress(t, db, DefaultName, schema.NoShard, 10)

	p, err := New(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), p.ShardProgress(0))
	assert.Empty(t, storetest.StaleIndices(t, data))
	require.NoError(t, p.Close())

	p, err = New(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), p.Progress())
	require.NoError(t, p.Close())
}

func TestNew_ShardAheadOfOverall(t *testing.T) {
	db := storetest.NewDB(t, 2)
	storetest.PutProgress(t, db, DefaultName, schema.NoShard, 3)
	storetest.PutProgress(t, db, DefaultName, 1, 7)

	_, err := New(context.Background(), db)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestNew_ProgressStoreMismatch(t *testing.T) {
	db := storetest.NewDB(t, 2)
	_, err := New(context.Background(), db, WithProgressStore(NewProgressStore(3)))
	assert.Error(t, err)
}

// TestPrune_Resumability fails the n-th write of every shard in turn, restarts
// the pruner and checks the final state matches an uninterrupted run, with
// no key deleted twice.
func TestPrune_Resumability(t *testing.T) {
	const (
		numShards = 3
		target    = 12
		batchSize = 2
	)
	ctx := context.Background()

	reference := storetest.NewDB(t, numShards)
	seedTree(t, reference, 1, 16)
	refPruner := newTestPruner(t, reference)
	require.NoError(t, refPruner.SetTargetVersion(target))
	_, err := refPruner.Prune(ctx, batchSize)
	require.NoError(t, err)
	expected := snapshot(t, reference)

	for failShard := 0; failShard <= numShards; failShard++ {
		for n := 1; n <= 6; n++ {
			mem := storetest.NewDB(t, numShards)
			seedTree(t, mem, 1, 16)
			db, faulty := storetest.WrapFaulty(mem)

			p, err := New(ctx, db)
			require.NoError(t, err)
			require.NoError(t, p.SetTargetVersion(target))
			before := p.Progress()

			faulty[failShard].FailAt(n)
			reached, err := p.Prune(ctx, batchSize)
			if err != nil {
				require.ErrorIs(t, err, storetest.ErrInjected)
				assert.Less(t, reached, uint64(target))
				assert.GreaterOrEqual(t, reached, before)
				assert.Equal(t, reached, p.Progress())
			}
			require.NoError(t, p.Close())

			// restart
			faulty[failShard].FailAt(0)
			p, err = New(ctx, db)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, p.Progress(), reached)
			require.NoError(t, p.SetTargetVersion(target))
			reached, err = p.Prune(ctx, batchSize)
			require.NoError(t, err)
			assert.Equal(t, uint64(target), reached)
			require.NoError(t, p.Close())

			assert.Equal(t, expected, snapshot(t, mem), "shard %d, write %d", failShard, n)
			for _, f := range faulty {
				assertNoDuplicates(t, f.Deleted())
			}
		}
	}
}

// TestPrune_RetryPendingWindow fails a data shard after the top levels of a
// window are committed and retries on the same pruner, which must pick the
// window up again without deleting anything twice.
func TestPrune_RetryPendingWindow(t *testing.T) {
	const (
		numShards = 3
		target    = 12
		batchSize = 2
	)
	ctx := context.Background()

	reference := storetest.NewDB(t, numShards)
	seedTree(t, reference, 1, 16)
	refPruner := newTestPruner(t, reference)
	require.NoError(t, refPruner.SetTargetVersion(target))
	_, err := refPruner.Prune(ctx, batchSize)
	require.NoError(t, err)

	mem := storetest.NewDB(t, numShards)
	seedTree(t, mem, 1, 16)
	db, faulty := storetest.WrapFaulty(mem)

	p := newTestPruner(t, db)
	require.NoError(t, p.SetTargetVersion(target))

	// data shard 2 fails while the top levels are already ahead
	faulty[3].FailAt(2)
	reached, err := p.Prune(ctx, batchSize)
	require.ErrorIs(t, err, storetest.ErrInjected)
	assert.Less(t, reached, uint64(target))
	assert.Greater(t, faulty[0].Writes(), 0)

	faulty[3].FailAt(0)
	reached, err = p.Prune(ctx, batchSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(target), reached)
	assert.Equal(t, uint64(target), p.Progress())
	for shard := 0; shard < numShards; shard++ {
		assert.Equal(t, uint64(target), p.ShardProgress(shard))
	}

	persisted, err := LoadProgress(ctx, mem, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, uint64(target), persisted.Overall)
	assert.Equal(t, []uint64{target, target, target}, persisted.Shards)

	assert.Equal(t, snapshot(t, reference), snapshot(t, mem))
	for _, f := range faulty {
		assertNoDuplicates(t, f.Deleted())
	}
}

// TestPrune_Safety interleaves random target updates and prune calls and
// checks no stale record is deleted beyond the target set at deletion time,
// nor any progress ever goes backwards.
func TestPrune_Safety(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(42))

	mem := storetest.NewDB(t, 4)
	for i := 0; i < 400; i++ {
		staleSince := uint64(rnd.Intn(100) + 1)
		path := []byte{byte(rnd.Intn(16)), byte(rnd.Intn(16)), byte(rnd.Intn(16))}
		if i%10 == 0 {
			path = nil
		}
		nk := schema.NewNodeKey(uint64(i), path...)
		storetest.PutStaleNode(t, mem, staleSince, nk)
	}

	var (
		target     atomic.Uint64
		lk         sync.Mutex
		violations []schema.StaleNodeIndex
	)
	check := func(b *store.Batch) {
		for _, op := range b.Ops() {
			if !op.Delete || !bytes.HasPrefix(op.Key, schema.StaleIndexPrefix) {
				continue
			}
			idx, err := schema.DecodeStaleIndexStoreKey(op.Key)
			if err != nil || idx.StaleSinceVersion > target.Load() {
				lk.Lock()
				violations = append(violations, idx)
				lk.Unlock()
			}
		}
	}
	shards := make([]store.Shard, mem.NumShards())
	for i := range shards {
		shards[i] = &checkingShard{Shard: mem.Shard(i), check: check}
	}
	db := store.NewDB(&checkingShard{Shard: mem.Metadata(), check: check}, shards...)

	p := newTestPruner(t, db)
	lastOverall, lastShards := uint64(0), make([]uint64, db.NumShards())
	for i := 0; i < 60; i++ {
		if rnd.Intn(2) == 0 {
			next := p.TargetVersion() + uint64(rnd.Intn(8))
			require.NoError(t, p.SetTargetVersion(next))
			target.Store(next)
			continue
		}

		_, err := p.Prune(ctx, rnd.Intn(5)+1)
		require.NoError(t, err)
		assert.Equal(t, p.TargetVersion(), p.Progress())

		assert.GreaterOrEqual(t, p.Progress(), lastOverall)
		lastOverall = p.Progress()
		for shard := range lastShards {
			progress := p.ShardProgress(shard)
			assert.GreaterOrEqual(t, progress, lastShards[shard])
			assert.LessOrEqual(t, progress, p.Progress())
			lastShards[shard] = progress
		}
	}
	assert.Empty(t, violations)
}

type checkingShard struct {
	store.Shard
	check func(*store.Batch)
}

func (s *checkingShard) Write(ctx context.Context, b *store.Batch) error {
	s.check(b)
	return s.Shard.Write(ctx, b)
}

// snapshot lists every stored key of the DB, progress markers excluded.
func snapshot(t *testing.T, db *store.DB) map[string]struct{} {
	t.Helper()
	out := make(map[string]struct{})
	shards := []store.Shard{db.Metadata()}
	for i := 0; i < db.NumShards(); i++ {
		shards = append(shards, db.Shard(i))
	}
	for i, shard := range shards {
		for _, prefix := range [][]byte{schema.NodePrefix, schema.StaleIndexPrefix} {
			it, err := shard.Iterate(context.Background(), prefix, nil)
			require.NoError(t, err)
			for it.Next() {
				out[string(rune('a'+i))+string(it.Key())] = struct{}{}
			}
			require.NoError(t, it.Err())
			require.NoError(t, it.Close())
		}
	}
	return out
}

func assertNoDuplicates(t *testing.T, keys [][]byte) {
	t.Helper()
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		_, ok := seen[string(key)]
		assert.False(t, ok, "key %x deleted twice", key)
		seen[string(key)] = struct{}{}
	}
}
