package nodebuilder

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/imdario/mergo"
)

// Init initializes the node FileSystem Store in the directory under 'path'.
func Init(cfg Config, path string) error {
	path, err := storePath(path)
	if err != nil {
		return err
	}
	log.Infof("Initializing state pruner Store over '%s'", path)

	if err := cfg.Validate(); err != nil {
		return err
	}

	err = initRoot(path)
	if err != nil {
		return err
	}

	flk, err := lockDir(path)
	if err != nil {
		return err
	}
	defer flk.Unlock() //nolint: errcheck

	err = initDir(dataPath(path))
	if err != nil {
		return err
	}

	cfgPath := configPath(path)
	err = SaveConfig(cfgPath, &cfg)
	if err != nil {
		return err
	}
	log.Infow("Saving config", "path", cfgPath)
	log.Info("State pruner Store initialized")
	return nil
}

// Reinit applies every non-empty value of the config found under
// 'newConfigPath' onto the config of the Store under 'path'.
func Reinit(path string, newConfigPath string) error {
	path, err := storePath(path)
	if err != nil {
		return err
	}

	cfgPath := configPath(path)
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	log.Infof("Reinitializing state pruner Store config over '%s'", path)
	flk, err := lockDir(path)
	if err != nil {
		return err
	}
	defer flk.Unlock() //nolint: errcheck

	newConf, err := LoadConfig(newConfigPath)
	if err != nil {
		return err
	}
	if newConf.Store.NumShards != 0 && newConf.Store.NumShards != cfg.Store.NumShards {
		return errors.New("node: the number of shards of an initialized store can't change")
	}

	err = mergo.Merge(cfg, newConf, mergo.WithOverride)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	err = SaveConfig(cfgPath, cfg)
	if err != nil {
		return err
	}

	log.Infow("Saving config", "path", cfgPath)
	return nil
}

// IsInit checks whether FileSystem Store was setup under given 'path'.
// If any required file/subdirectory does not exist, then false is reported.
func IsInit(path string) bool {
	path, err := storePath(path)
	if err != nil {
		log.Errorw("parsing store path", "path", path, "err", err)
		return false
	}

	_, err = LoadConfig(configPath(path)) // load the Config and implicitly check for its existence
	if err != nil {
		log.Errorw("loading config", "path", path, "err", err)
		return false
	}

	return exists(dataPath(path))
}

const perms = 0755

// lockDir takes the directory lock, failing with ErrOpened if it is held.
func lockDir(path string) (*flock.Flock, error) {
	flk := flock.New(lockPath(path))
	ok, err := flk.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOpened
	}
	return flk, nil
}

// initRoot initializes(creates) directory if not created and check if it is writable
func initRoot(path string) error {
	err := initDir(path)
	if err != nil {
		return err
	}

	// check for writing permissions
	f, err := os.Create(filepath.Join(path, ".check"))
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return err
	}

	return os.Remove(f.Name())
}

// initDir creates a dir if not exist
func initDir(path string) error {
	if exists(path) {
		return nil
	}
	return os.MkdirAll(path, perms)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
