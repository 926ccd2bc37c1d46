package pruner

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
)

// VersionSource reports the latest version committed by the write path.
type VersionSource interface {
	LatestVersion(context.Context) (uint64, error)
}

// Service handles the pruning routine for the state tree: every prune cycle
// it moves the target of the Pruner to the latest committed version minus
// the retention window and prunes up to it.
type Service struct {
	pruner *Pruner
	source VersionSource
	params Params
	clock  clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewService(p *Pruner, source VersionSource, opts ...Option) (*Service, error) {
	params := DefaultParams()
	for _, opt := range opts {
		opt(&params)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		pruner: p,
		source: source,
		params: params,
		clock:  params.clock,
		doneCh: make(chan struct{}),
	}, nil
}

func (s *Service) Start(context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pruner unable to exit within context deadline")
	}
}

func (s *Service) run() {
	defer close(s.doneCh)

	ticker := s.clock.Ticker(s.params.pruneCycle)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			err := s.pruneOnce(s.ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("prune cycle failed, retrying on next cycle", "err", err)
			}
		}
	}
}

// pruneOnce raises the target according to the retention window and runs
// a pruning cycle.
func (s *Service) pruneOnce(ctx context.Context) error {
	latest, err := s.source.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("getting latest version: %w", err)
	}
	if latest <= s.params.retentionWindow {
		return nil
	}

	target := latest - s.params.retentionWindow
	if target > s.pruner.TargetVersion() {
		if err := s.pruner.SetTargetVersion(target); err != nil {
			return err
		}
	}

	from := s.pruner.Progress()
	reached, err := s.pruner.Prune(ctx, s.params.batchSize)
	if err != nil {
		return err
	}
	if reached > from {
		log.Infow("pruned state tree", "name", s.pruner.Name(), "from", from, "to", reached,
			"latest", latest)
	}
	return nil
}
