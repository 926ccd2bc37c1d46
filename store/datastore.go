package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	dsbadger "github.com/ipfs/go-ds-badger4"
)

// datastoreShard adapts a go-datastore Batching datastore to the Shard
// interface. Binary keys are hex encoded into datastore keys, see encodeKey.
//
// Writes are atomic when the datastore implements datastore.TxnDatastore;
// otherwise they rely on the atomicity of the datastore's Batch.
type datastoreShard struct {
	ds datastore.Batching
}

// NewDatastoreShard wraps ds into a Shard.
func NewDatastoreShard(ds datastore.Batching) Shard {
	return &datastoreShard{ds: ds}
}

// NewNamespacedShard wraps the namespace of ds under prefix into a Shard.
// It allows to keep several shards in a single datastore.
func NewNamespacedShard(ds datastore.Batching, prefix string) Shard {
	return &datastoreShard{ds: namespace.Wrap(ds, datastore.NewKey(prefix))}
}

// OpenDatastoreShard opens a Badger backed go-datastore under path.
func OpenDatastoreShard(path string, syncWrites bool) (Shard, error) {
	opts := dsbadger.DefaultOptions // this should be copied
	opts.Options = opts.Options.WithSyncWrites(syncWrites).WithLogger(&badgerLogger{log})

	ds, err := dsbadger.NewDatastore(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("store: can't open Badger Datastore at '%s': %w", path, err)
	}
	return &datastoreShard{ds: ds}, nil
}

func (s *datastoreShard) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, err := s.ds.Get(ctx, encodeKey(key))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *datastoreShard) Has(ctx context.Context, key []byte) (bool, error) {
	return s.ds.Has(ctx, encodeKey(key))
}

func (s *datastoreShard) Iterate(ctx context.Context, prefix, from []byte) (Iterator, error) {
	q := query.Query{
		KeysOnly: true,
		Orders:   []query.Order{query.OrderByKey{}},
	}
	if ns, rest, ok := splitNamespace(prefix); ok {
		// lets the datastore seek straight to the namespace
		q.Prefix = "/" + hex.EncodeToString(ns)
		if len(rest) > 0 {
			q.Filters = append(q.Filters, query.FilterKeyPrefix{
				Prefix: q.Prefix + "/" + hex.EncodeToString(rest),
			})
		}
	} else if len(prefix) > 0 {
		q.Filters = append(q.Filters, rawPrefixFilter{prefix: prefix})
	}
	if len(from) > 0 {
		q.Filters = append(q.Filters, query.FilterKeyCompare{
			Op:  query.GreaterThanOrEqual,
			Key: encodeKey(from).String(),
		})
	}

	res, err := s.ds.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: querying datastore: %w", err)
	}
	return &datastoreIterator{res: res}, nil
}

func (s *datastoreShard) Write(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := checkBatch(b); err != nil {
		return err
	}

	if tds, ok := s.ds.(datastore.TxnDatastore); ok {
		txn, err := tds.NewTransaction(ctx, false)
		if err != nil {
			return fmt.Errorf("store: new transaction: %w", err)
		}
		defer txn.Discard(ctx)

		if err := applyOps(ctx, txn, b); err != nil {
			return err
		}
		return txn.Commit(ctx)
	}

	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("store: new batch: %w", err)
	}
	if err := applyOps(ctx, batch, b); err != nil {
		return err
	}
	return batch.Commit(ctx)
}

func (s *datastoreShard) Close() error {
	return s.ds.Close()
}

func applyOps(ctx context.Context, w datastore.Write, b *Batch) error {
	for _, op := range b.Ops() {
		var err error
		if op.Delete {
			err = w.Delete(ctx, encodeKey(op.Key))
		} else {
			err = w.Put(ctx, encodeKey(op.Key), op.Value)
		}
		if err != nil {
			return fmt.Errorf("store: staging %x: %w", op.Key, err)
		}
	}
	return nil
}

// encodeKey maps a binary key onto a datastore key. The bytes up to and
// including the first '/' form the first path segment and the remaining
// bytes the second one, both hex encoded. Datastore keys sort like the
// binary keys they encode. A key made of a namespace alone, e.g. "s/", is
// not visible to prefix scans of that namespace.
func encodeKey(key []byte) datastore.Key {
	ns, rest, ok := splitNamespace(key)
	switch {
	case !ok:
		return datastore.RawKey("/" + hex.EncodeToString(key))
	case len(rest) == 0:
		return datastore.RawKey("/" + hex.EncodeToString(ns))
	default:
		return datastore.RawKey("/" + hex.EncodeToString(ns) + "/" + hex.EncodeToString(rest))
	}
}

func decodeKey(key string) ([]byte, error) {
	ns, rest, _ := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	out, err := hex.DecodeString(ns)
	if err != nil || rest == "" {
		return out, err
	}
	tail, err := hex.DecodeString(rest)
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

// splitNamespace cuts the key after its first '/'.
func splitNamespace(key []byte) (ns, rest []byte, ok bool) {
	i := bytes.IndexByte(key, '/')
	if i < 0 {
		return nil, nil, false
	}
	return key[:i+1], key[i+1:], true
}

// rawPrefixFilter matches entries by the prefix of their binary key. It is
// only needed for prefixes without a namespace.
type rawPrefixFilter struct {
	prefix []byte
}

func (f rawPrefixFilter) Filter(e query.Entry) bool {
	key, err := decodeKey(e.Key)
	return err == nil && bytes.HasPrefix(key, f.prefix)
}

func (f rawPrefixFilter) String() string {
	return fmt.Sprintf("PREFIX(%x)", f.prefix)
}

type datastoreIterator struct {
	res query.Results

	key []byte
	err error
}

func (i *datastoreIterator) Next() bool {
	if i.err != nil {
		return false
	}
	r, ok := i.res.NextSync()
	if !ok {
		return false
	}
	if r.Error != nil {
		i.err = r.Error
		return false
	}

	i.key, i.err = decodeKey(r.Key)
	if i.err != nil {
		i.err = fmt.Errorf("store: decoding key %s: %w", r.Key, i.err)
		return false
	}
	return true
}

func (i *datastoreIterator) Key() []byte { return i.key }
func (i *datastoreIterator) Err() error  { return i.err }

func (i *datastoreIterator) Close() error {
	return i.res.Close()
}
