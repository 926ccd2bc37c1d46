package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("store")

const (
	metadataDir    = "metadata"
	shardDirFormat = "shard_%02d"

	defaultDirPerm = 0o755
)

var (
	numShardsKey = []byte("m/store/num_shards")

	ErrShardCountMismatch = errors.New("store: shard count mismatch")
)

// DB groups the metadata shard and the data shards of a sharded state tree.
// The metadata shard holds the top levels of the tree and global bookkeeping,
// every data shard owns a disjoint partition of the remaining nodes.
type DB struct {
	metadata Shard
	shards   []Shard
	metrics  *metrics
}

// NewDB assembles a DB out of already opened shards.
func NewDB(metadata Shard, shards ...Shard) *DB {
	return &DB{
		metadata: metadata,
		shards:   shards,
	}
}

// Open opens or creates a sharded DB under the given basepath.
func Open(ctx context.Context, params *Parameters, basepath string) (_ *DB, err error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ensureFolder(basepath); err != nil {
		return nil, fmt.Errorf("ensure store folder '%s': %w", basepath, err)
	}

	open := OpenBadgerShard
	if params.Backend == BackendDatastore {
		open = OpenDatastoreShard
	}

	db := &DB{}
	defer func() {
		if err != nil {
			err = errors.Join(err, db.Close())
		}
	}()

	db.metadata, err = open(filepath.Join(basepath, metadataDir), params.SyncWrites)
	if err != nil {
		return nil, err
	}
	for i := 0; i < params.NumShards; i++ {
		shard, err := open(filepath.Join(basepath, fmt.Sprintf(shardDirFormat, i)), params.SyncWrites)
		if err != nil {
			return nil, err
		}
		db.shards = append(db.shards, shard)
	}

	if err = db.checkShardCount(ctx); err != nil {
		return nil, err
	}

	log.Infow("opened sharded store", "path", basepath, "shards", params.NumShards, "backend", params.Backend)
	return db, nil
}

// checkShardCount persists the number of shards on first open and refuses
// to proceed if the store was created with a different partitioning.
func (db *DB) checkShardCount(ctx context.Context) error {
	val, err := db.metadata.Get(ctx, numShardsKey)
	switch {
	case errors.Is(err, ErrNotFound):
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(len(db.shards)))
		b := NewBatch()
		b.Put(numShardsKey, buf)
		return db.metadata.Write(ctx, b)
	case err != nil:
		return fmt.Errorf("store: reading shard count: %w", err)
	}

	if len(val) != 8 {
		return fmt.Errorf("store: corrupted shard count of %d bytes", len(val))
	}
	stored := binary.BigEndian.Uint64(val)
	if stored != uint64(len(db.shards)) {
		return fmt.Errorf("%w: store has %d shards, opening with %d", ErrShardCountMismatch, stored, len(db.shards))
	}
	return nil
}

// Metadata returns the metadata (top level) shard.
func (db *DB) Metadata() Shard {
	return db.metadata
}

// Shard returns the i-th data shard.
func (db *DB) Shard(i int) Shard {
	return db.shards[i]
}

// NumShards returns the number of data shards.
func (db *DB) NumShards() int {
	return len(db.shards)
}

func (db *DB) Close() error {
	var err error
	if db.metadata != nil {
		err = errors.Join(err, db.metadata.Close())
	}
	for _, shard := range db.shards {
		err = errors.Join(err, shard.Close())
	}
	return err
}

func ensureFolder(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(path, defaultDirPerm)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("expected dir, got a file: %s", path)
	}
	return nil
}
