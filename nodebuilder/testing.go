package nodebuilder

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/celestiaorg/state-pruner/store"
	"github.com/celestiaorg/state-pruner/store/storetest"
)

// MockStore provides mock in memory Store for testing purposes.
func MockStore(t *testing.T, cfg *Config) Store {
	t.Helper()
	st := &memStore{db: storetest.NewDB(t, cfg.Store.NumShards)}

	err := st.PutConfig(cfg)
	require.NoError(t, err)
	return st
}

func TestNode(t *testing.T, opts ...fx.Option) *Node {
	return TestNodeWithConfig(t, DefaultConfig(), opts...)
}

func TestNodeWithConfig(t *testing.T, cfg *Config, opts ...fx.Option) *Node {
	st := MockStore(t, cfg)
	nd, err := NewWithConfig(st, cfg, opts...)
	require.NoError(t, err)
	return nd
}

type memStore struct {
	lk  sync.Mutex
	cfg *Config
	db  *store.DB
}

func (m *memStore) Path() string {
	return ""
}

func (m *memStore) DB(context.Context) (*store.DB, error) {
	return m.db, nil
}

func (m *memStore) Config() (*Config, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	cfg := *m.cfg
	return &cfg, nil
}

func (m *memStore) PutConfig(cfg *Config) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.cfg = cfg
	return nil
}

func (m *memStore) Close() error {
	return nil
}
