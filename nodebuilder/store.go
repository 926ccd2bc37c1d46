package nodebuilder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"

	"github.com/celestiaorg/state-pruner/store"
)

var (
	// ErrOpened is thrown on attempt to open already open/in-use Store.
	ErrOpened = errors.New("node: store is in use")
	// ErrNotInited is thrown on attempt to open Store without initialization.
	ErrNotInited = errors.New("node: store is not initialized")
)

// Store encapsulates storage of the node, e.g. '~/.state-pruner'.
type Store interface {
	// Path reports the FileSystem path of Store.
	Path() string

	// DB provides the sharded state tree store, opened with the stored
	// config on first access.
	DB(context.Context) (*store.DB, error)

	// Config loads the stored node config.
	Config() (*Config, error)

	// PutConfig alters the stored node config.
	PutConfig(*Config) error

	// Close closes the Store freeing up acquired resources and locks.
	Close() error
}

// OpenStore creates new FS Store under the given 'path'.
// To be opened the Store must be initialized first, otherwise ErrNotInited is thrown.
// OpenStore takes a file Lock on directory, hence only one Store can be opened at a time under the
// given 'path', otherwise ErrOpened is thrown.
func OpenStore(path string) (Store, error) {
	path, err := storePath(path)
	if err != nil {
		return nil, err
	}

	flk, err := lockDir(path)
	if err != nil {
		return nil, err
	}

	if !IsInit(path) {
		flk.Unlock() //nolint: errcheck
		return nil, ErrNotInited
	}

	return &fsStore{
		path:    path,
		dirLock: flk,
	}, nil
}

func (f *fsStore) Path() string {
	return f.path
}

func (f *fsStore) Config() (*Config, error) {
	cfg, err := LoadConfig(configPath(f.path))
	if err != nil {
		return nil, fmt.Errorf("node: can't load Config: %w", err)
	}

	return cfg, nil
}

func (f *fsStore) PutConfig(cfg *Config) error {
	err := SaveConfig(configPath(f.path), cfg)
	if err != nil {
		return fmt.Errorf("node: can't save Config: %w", err)
	}

	return nil
}

func (f *fsStore) DB(ctx context.Context) (*store.DB, error) {
	f.dataMu.Lock()
	defer f.dataMu.Unlock()
	if f.data != nil {
		return f.data, nil
	}

	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, &cfg.Store, dataPath(f.path))
	if err != nil {
		return nil, fmt.Errorf("node: can't open state store: %w", err)
	}

	f.data = db
	return db, nil
}

func (f *fsStore) Close() (err error) {
	f.dataMu.Lock()
	if f.data != nil {
		err = errors.Join(err, f.data.Close())
		f.data = nil
	}
	f.dataMu.Unlock()
	return errors.Join(err, f.dirLock.Unlock())
}

type fsStore struct {
	path string

	dataMu  sync.Mutex
	data    *store.DB
	dirLock *flock.Flock // protects directory
}

func storePath(path string) (string, error) {
	return homedir.Expand(filepath.Clean(path))
}

func configPath(base string) string {
	return filepath.Join(base, "config.toml")
}

func lockPath(base string) string {
	return filepath.Join(base, "lock")
}

func dataPath(base string) string {
	return filepath.Join(base, "data")
}
