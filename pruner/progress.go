package pruner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/celestiaorg/state-pruner/schema"
	"github.com/celestiaorg/state-pruner/store"
)

// ProgressStore keeps the in-memory view of the pruning progress, shared
// between the Pruner and its observers. Reads must reflect the last
// committed write.
//
// Every shard's progress is written only by the unit pruning that shard.
type ProgressStore interface {
	Target() uint64
	SetTarget(uint64)
	Progress() uint64
	SetProgress(uint64)
	ShardProgress(shard int) uint64
	SetShardProgress(shard int, version uint64)
	NumShards() int
}

// NewProgressStore returns a ProgressStore built on atomic counters.
func NewProgressStore(numShards int) ProgressStore {
	return &atomicProgress{shards: make([]atomic.Uint64, numShards)}
}

type atomicProgress struct {
	target   atomic.Uint64
	progress atomic.Uint64
	shards   []atomic.Uint64
}

func (p *atomicProgress) Target() uint64             { return p.target.Load() }
func (p *atomicProgress) SetTarget(v uint64)         { p.target.Store(v) }
func (p *atomicProgress) Progress() uint64           { return p.progress.Load() }
func (p *atomicProgress) SetProgress(v uint64)       { p.progress.Store(v) }
func (p *atomicProgress) NumShards() int             { return len(p.shards) }
func (p *atomicProgress) ShardProgress(i int) uint64 { return p.shards[i].Load() }

func (p *atomicProgress) SetShardProgress(i int, v uint64) {
	p.shards[i].Store(v)
}

// PersistedProgress is the pruning progress as committed to the store.
type PersistedProgress struct {
	// Overall is the version below which the top levels are fully pruned.
	Overall uint64
	// Shards holds the same per data shard.
	Shards []uint64
}

// LoadProgress reads the persisted progress of the named pruner. Missing
// markers read as 0.
func LoadProgress(ctx context.Context, db *store.DB, name string) (PersistedProgress, error) {
	overall, err := loadVersion(ctx, db.Metadata(), schema.ProgressKey(name, schema.NoShard))
	if err != nil {
		return PersistedProgress{}, fmt.Errorf("loading overall progress: %w", err)
	}

	shards := make([]uint64, db.NumShards())
	errGroup, ctx := errgroup.WithContext(ctx)
	for i := range shards {
		errGroup.Go(func() error {
			v, err := loadVersion(ctx, db.Shard(i), schema.ProgressKey(name, schema.ShardID(i)))
			if err != nil {
				return fmt.Errorf("loading progress of shard %d: %w", i, err)
			}
			shards[i] = v
			return nil
		})
	}
	if err := errGroup.Wait(); err != nil {
		return PersistedProgress{}, err
	}

	return PersistedProgress{Overall: overall, Shards: shards}, nil
}

func loadVersion(ctx context.Context, shard store.Shard, key []byte) (uint64, error) {
	val, err := shard.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return schema.DecodeVersion(val)
}

// putVersion stages a progress marker into the batch.
func putVersion(b *store.Batch, name string, shard schema.ShardID, version uint64) {
	b.Put(schema.ProgressKey(name, shard), schema.EncodeVersion(version))
}
