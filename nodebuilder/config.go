package nodebuilder

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/imdario/mergo"

	"github.com/celestiaorg/state-pruner/nodebuilder/pruner"
	"github.com/celestiaorg/state-pruner/store"
)

// ConfigLoader defines a function that loads a config from any source.
type ConfigLoader func() (*Config, error)

// Config is the main configuration structure of a state pruner node.
type Config struct {
	Store  store.Parameters
	Pruner pruner.Config
}

// DefaultConfig provides the default Config.
func DefaultConfig() *Config {
	return &Config{
		Store:  *store.DefaultParameters(),
		Pruner: *pruner.DefaultConfig(),
	}
}

// Validate checks every configuration unit.
func (cfg *Config) Validate() error {
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := cfg.Pruner.Validate(); err != nil {
		return fmt.Errorf("pruner config: %w", err)
	}
	return nil
}

// SaveConfig saves Config 'cfg' under the given 'path'.
func SaveConfig(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return cfg.Encode(f)
}

// LoadConfig loads Config from the given 'path'.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	return &cfg, cfg.Decode(f)
}

// UpdateConfig loads the node's config and fills the values missing in it
// from the default config, saving the updated config into the node's
// config path.
func UpdateConfig(path string) (err error) {
	path, err = storePath(path)
	if err != nil {
		return err
	}

	flk, err := lockDir(path)
	if err != nil {
		return err
	}
	defer flk.Unlock() //nolint:errcheck

	cfgPath := configPath(path)
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	cfg, err = updateConfig(cfg, DefaultConfig())
	if err != nil {
		return err
	}
	return SaveConfig(cfgPath, cfg)
}

// updateConfig merges new values from the new config into the old
// config, returning the updated old config.
func updateConfig(oldCfg, newCfg *Config) (*Config, error) {
	err := mergo.Merge(oldCfg, newCfg, mergo.WithOverrideEmptySlice)
	return oldCfg, err
}

// Encode encodes a given Config into w.
func (cfg *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Decode decodes a Config from a given reader r.
func (cfg *Config) Decode(r io.Reader) error {
	_, err := toml.NewDecoder(r).Decode(cfg)
	return err
}
