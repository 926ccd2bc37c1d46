package pruner

import (
	"errors"
	"fmt"
	"time"

	"github.com/celestiaorg/state-pruner/pruner"
)

var MetricsEnabled bool

type Config struct {
	// EnableService runs the retention Service keeping the latest
	// RetentionWindow versions readable.
	EnableService bool
	// Name of the pruned stale node index.
	Name            string
	MaxWorkers      int
	BatchSize       int
	PruneCycle      time.Duration
	RetentionWindow uint64
}

func DefaultConfig() *Config {
	return &Config{
		EnableService:   true,
		Name:            pruner.DefaultName,
		MaxWorkers:      pruner.MaxWorkersLimit,
		BatchSize:       10_000,
		PruneCycle:      time.Second * 10,
		RetentionWindow: 100_000,
	}
}

// Validate performs basic validation of the config.
func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return errors.New("pruner: empty name")
	}
	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > pruner.MaxWorkersLimit {
		return fmt.Errorf("pruner: max workers must be within [1, %d]", pruner.MaxWorkersLimit)
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > pruner.MaxBatchSize {
		return fmt.Errorf("pruner: batch size %d must be within [1, %d]", cfg.BatchSize, pruner.MaxBatchSize)
	}
	if cfg.EnableService && cfg.PruneCycle <= 0 {
		return fmt.Errorf("pruner: invalid prune cycle %s", cfg.PruneCycle)
	}
	return nil
}

func (cfg *Config) options() []pruner.Option {
	opts := []pruner.Option{
		pruner.WithName(cfg.Name),
		pruner.WithMaxWorkers(cfg.MaxWorkers),
		pruner.WithBatchSize(cfg.BatchSize),
		pruner.WithRetentionWindow(cfg.RetentionWindow),
	}
	if cfg.PruneCycle > 0 {
		opts = append(opts, pruner.WithPruneCycle(cfg.PruneCycle))
	}
	return opts
}
