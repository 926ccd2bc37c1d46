package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("store: key not found")
	// ErrBatchTooBig is returned when a Batch exceeds MaxBatchOps.
	ErrBatchTooBig = errors.New("store: batch too big")
)

// MaxBatchOps bounds the operations of a single Batch. Batches within it fit
// into one Badger transaction with the default options of every backend.
const MaxBatchOps = 1 << 15

// Shard is an ordered, persistent key-value table. Every Write is applied
// atomically: either all operations of the Batch become visible or none.
type Shard interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Has reports whether key is present.
	Has(ctx context.Context, key []byte) (bool, error)
	// Iterate returns an iterator over the keys carrying prefix, in
	// ascending byte order, starting at the first key >= from.
	Iterate(ctx context.Context, prefix, from []byte) (Iterator, error)
	// Write commits the batch atomically.
	Write(ctx context.Context, b *Batch) error
	// Close releases the underlying resources.
	Close() error
}

// Iterator walks the keys of a range of a Shard without loading their
// values. Key is only valid until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Err() error
	Close() error
}

// Op is a single put or delete of a Batch.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Batch accumulates operations to be committed with Shard.Write.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Key: key, Value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Key: key, Delete: true})
}

// Ops returns the accumulated operations in insertion order.
func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func checkBatch(b *Batch) error {
	if b.Len() > MaxBatchOps {
		return fmt.Errorf("%w: %d operations, at most %d", ErrBatchTooBig, b.Len(), MaxBatchOps)
	}
	return nil
}
