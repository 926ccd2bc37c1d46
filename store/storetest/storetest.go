// Package storetest provides in-memory sharded stores, tree fixtures and
// fault injection for tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
)

var ErrInjected = errors.New("storetest: injected failure")

// NewShard returns an in-memory Shard.
func NewShard() store.Shard {
	return store.NewDatastoreShard(ds_sync.MutexWrap(datastore.NewMapDatastore()))
}

// NewDB returns an in-memory DB with the given number of data shards, all
// living in a single map datastore under separate namespaces.
func NewDB(t *testing.T, numShards int) *store.DB {
	t.Helper()

	ds := ds_sync.MutexWrap(datastore.NewMapDatastore())
	shards := make([]store.Shard, numShards)
	for i := range shards {
		shards[i] = store.NewNamespacedShard(ds, fmt.Sprintf("shard_%02d", i))
	}
	db := store.NewDB(store.NewNamespacedShard(ds, "metadata"), shards...)
	t.Cleanup(func() {
		_ = ds.Close()
	})
	return db
}

// ShardFor returns the shard owning the node.
func ShardFor(db *store.DB, nk schema.NodeKey) store.Shard {
	id := nk.ShardID(db.NumShards())
	if id == schema.NoShard {
		return db.Metadata()
	}
	return db.Shard(int(id))
}

// PutNode writes a tree node the way the write path does.
func PutNode(t *testing.T, db *store.DB, nk schema.NodeKey) {
	t.Helper()
	b := store.NewBatch()
	b.Put(schema.NodeStoreKey(nk), []byte(nk.String()))
	require.NoError(t, ShardFor(db, nk).Write(context.Background(), b))
}

// PutStaleNode writes a tree node together with the record marking it
// stale since the given version.
func PutStaleNode(t *testing.T, db *store.DB, staleSince uint64, nk schema.NodeKey) schema.StaleNodeIndex {
	t.Helper()
	idx := schema.StaleNodeIndex{StaleSinceVersion: staleSince, NodeKey: nk}
	b := store.NewBatch()
	b.Put(schema.NodeStoreKey(nk), []byte(nk.String()))
	b.Put(schema.StaleIndexStoreKey(idx), nil)
	require.NoError(t, ShardFor(db, nk).Write(context.Background(), b))
	return idx
}

// PutProgress persists a progress marker of the named pruner.
func PutProgress(t *testing.T, db *store.DB, name string, shard schema.ShardID, version uint64) {
	t.Helper()
	target := db.Metadata()
	if shard != schema.NoShard {
		target = db.Shard(int(shard))
	}
	b := store.NewBatch()
	b.Put(schema.ProgressKey(name, shard), schema.EncodeVersion(version))
	require.NoError(t, target.Write(context.Background(), b))
}

// HasNode reports whether the node is still stored.
func HasNode(t *testing.T, db *store.DB, nk schema.NodeKey) bool {
	t.Helper()
	ok, err := ShardFor(db, nk).Has(context.Background(), schema.NodeStoreKey(nk))
	require.NoError(t, err)
	return ok
}

// StaleIndices lists every stale record left in the shard in store order.
func StaleIndices(t *testing.T, shard store.Shard) []schema.StaleNodeIndex {
	t.Helper()
	it, err := shard.Iterate(context.Background(), schema.StaleIndexPrefix, nil)
	require.NoError(t, err)
	defer it.Close()

	var out []schema.StaleNodeIndex
	for it.Next() {
		idx, err := schema.DecodeStaleIndexStoreKey(it.Key())
		require.NoError(t, err)
		out = append(out, idx)
	}
	require.NoError(t, it.Err())
	return out
}

// FaultyShard wraps a Shard, counting committed writes and failing the
// write with the configured ordinal (1-based). Zero disables failures.
type FaultyShard struct {
	store.Shard

	lk      sync.Mutex
	failAt  int
	writes  int
	deletes [][]byte
}

func NewFaultyShard(s store.Shard) *FaultyShard {
	return &FaultyShard{Shard: s}
}

// FailAt arms the shard to fail its n-th write from now on.
func (s *FaultyShard) FailAt(n int) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if n <= 0 {
		s.failAt = 0
		return
	}
	s.failAt = s.writes + n
}

// Writes returns the amount of attempted writes, including failed ones.
func (s *FaultyShard) Writes() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.writes
}

// Deleted returns every key deleted by committed writes.
func (s *FaultyShard) Deleted() [][]byte {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([][]byte(nil), s.deletes...)
}

func (s *FaultyShard) Write(ctx context.Context, b *store.Batch) error {
	s.lk.Lock()
	s.writes++
	if s.failAt != 0 && s.writes == s.failAt {
		s.lk.Unlock()
		return ErrInjected
	}
	s.lk.Unlock()

	if err := s.Shard.Write(ctx, b); err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	for _, op := range b.Ops() {
		if op.Delete {
			s.deletes = append(s.deletes, op.Key)
		}
	}
	return nil
}

// WrapFaulty wraps every shard of db, returning the wrapped DB along with the
// wrappers: the metadata shard first, data shards after.
func WrapFaulty(db *store.DB) (*store.DB, []*FaultyShard) {
	faulty := make([]*FaultyShard, 0, db.NumShards()+1)
	meta := NewFaultyShard(db.Metadata())
	faulty = append(faulty, meta)

	shards := make([]store.Shard, db.NumShards())
	for i := range shards {
		f := NewFaultyShard(db.Shard(i))
		faulty = append(faulty, f)
		shards[i] = f
	}
	return store.NewDB(meta, shards...), faulty
}
