package pruner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// dispatcher runs one unit of work per shard on a fixed pool of workers
// that lives as long as the Pruner.
type dispatcher struct {
	pool *workerpool.WorkerPool
}

func newDispatcher(numShards, maxWorkers int) *dispatcher {
	workers := min(numShards, maxWorkers)
	return &dispatcher{pool: workerpool.New(workers)}
}

// run calls fn for every shard in [0, numShards) and blocks until all of
// them return. A failing or panicking unit does not stop the others; every
// failure is reported in the joined error.
func (d *dispatcher) run(ctx context.Context, numShards int, fn func(context.Context, int) error) error {
	var (
		wg   sync.WaitGroup
		lk   sync.Mutex
		errs []error
	)

	wg.Add(numShards)
	for shard := 0; shard < numShards; shard++ {
		d.pool.Submit(func() {
			defer wg.Done()
			if err := runUnit(ctx, shard, fn); err != nil {
				lk.Lock()
				errs = append(errs, fmt.Errorf("shard %d: %w", shard, err))
				lk.Unlock()
			}
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

func runUnit(ctx context.Context, shard int, fn func(context.Context, int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("shard pruning unit panicked", "shard", shard, "panic", r)
			err = fmt.Errorf("%w: %v", ErrWorkerFailure, r)
		}
	}()
	return fn(ctx, shard)
}

func (d *dispatcher) stop() {
	d.pool.StopWait()
}
