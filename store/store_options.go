package store

import (
	"errors"
	"fmt"
)

// Backend names the engine data shards are opened with.
type Backend string

const (
	// BackendBadger opens every shard as a native Badger database.
	BackendBadger Backend = "badger"
	// BackendDatastore opens every shard as a Badger backed go-datastore.
	BackendDatastore Backend = "datastore"
)

// MaxShards bounds the number of data shards, as ownership is derived from
// the first nibble of a node path.
const MaxShards = 16

type Parameters struct {
	// NumShards is the number of data shards the tree is partitioned into.
	// It is fixed for the lifetime of the store.
	NumShards int
	// Backend selects the engine shards are opened with.
	Backend Backend
	// SyncWrites makes every commit fsync before returning.
	SyncWrites bool
}

// DefaultParameters returns the default configuration values for the sharded store.
func DefaultParameters() *Parameters {
	return &Parameters{
		NumShards:  16,
		Backend:    BackendBadger,
		SyncWrites: true,
	}
}

func (p *Parameters) Validate() error {
	if p.NumShards <= 0 || p.NumShards > MaxShards {
		return fmt.Errorf("number of shards must be within [1, %d], got %d", MaxShards, p.NumShards)
	}
	switch p.Backend {
	case BackendBadger, BackendDatastore:
	default:
		return errors.New("unknown store backend: " + string(p.Backend))
	}
	return nil
}
