package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	logging "github.com/ipfs/go-log/v2"
)

// badgerShard is a Shard backed by a native Badger database.
// Writes go through a single read-write transaction, which makes them
// atomic but bounds them by Badger's maximum transaction size.
type badgerShard struct {
	db *badger.DB
}

// OpenBadgerShard opens (or creates) a Badger database under path.
func OpenBadgerShard(path string, syncWrites bool) (Shard, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(syncWrites).
		WithLogger(&badgerLogger{log})
	return openBadger(opts)
}

// NewInMemoryBadgerShard creates a Badger-backed Shard that never touches disk.
func NewInMemoryBadgerShard() (Shard, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(&badgerLogger{log})
	return openBadger(opts)
}

func openBadger(opts badger.Options) (Shard, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: opening badger at '%s': %w", opts.Dir, err)
	}
	return &badgerShard{db: db}, nil
}

func (s *badgerShard) Get(_ context.Context, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *badgerShard) Has(ctx context.Context, key []byte) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *badgerShard) Iterate(_ context.Context, prefix, from []byte) (Iterator, error) {
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	seek := from
	if bytes.Compare(seek, prefix) < 0 {
		seek = prefix
	}
	it.Seek(seek)
	return &badgerIterator{txn: txn, it: it}, nil
}

func (s *badgerShard) Write(_ context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := checkBatch(b); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.Ops() {
			var err error
			if op.Delete {
				err = txn.Delete(op.Key)
			} else {
				err = txn.Set(op.Key, op.Value)
			}
			if err != nil {
				return fmt.Errorf("store: badger txn: %w", err)
			}
		}
		return nil
	})
}

func (s *badgerShard) Close() error {
	return s.db.Close()
}

type badgerIterator struct {
	txn *badger.Txn
	it  *badger.Iterator

	started bool
	key     []byte
}

func (i *badgerIterator) Next() bool {
	if i.started {
		i.it.Next()
	}
	i.started = true
	if !i.it.Valid() {
		return false
	}

	i.key = i.it.Item().KeyCopy(i.key[:0])
	return true
}

func (i *badgerIterator) Key() []byte { return i.key }
func (i *badgerIterator) Err() error  { return nil }

func (i *badgerIterator) Close() error {
	i.it.Close()
	i.txn.Discard()
	return nil
}

// badgerLogger routes Badger's logs into the store logger.
type badgerLogger struct {
	log *logging.ZapEventLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
