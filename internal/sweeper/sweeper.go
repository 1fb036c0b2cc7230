// internal/sweeper/sweeper.go
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/vaultgate/pkg/types"
)

// ErrInProgress is returned when a sweep is requested while one is running.
var ErrInProgress = errors.New("sweep already in progress")

// Target is the part of the governor the sweeper drives.
type Target interface {
	Resources() ([]types.ResourceID, error)
	CheckExpiry(ctx context.Context, id types.ResourceID) (bool, error)
	Prune(ctx context.Context, id types.ResourceID, retention time.Duration) (int, error)
}

// Report summarizes one sweep.
type Report struct {
	Resources int
	Lifted    int
	Pruned    int
}

// Sweeper periodically lifts expired pauses and prunes old proposals.
// Operations apply expiry lazily, so the sweep only keeps stored state and
// the audit trail current for idle resources.
type Sweeper struct {
	cfg    Config
	target Target
	logger *slog.Logger

	mu         sync.Mutex
	inProgress bool
}

// New creates a Sweeper.
func New(cfg Config, target Target) *Sweeper {
	cfg.ApplyDefaults()
	return &Sweeper{cfg: cfg, target: target, logger: cfg.Logger}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, err := s.RunOnce(ctx)
			if err != nil {
				if !errors.Is(err, ErrInProgress) && ctx.Err() == nil {
					s.logger.Warn("sweep failed", "error", err)
				}
				continue
			}
			if r.Lifted > 0 || r.Pruned > 0 {
				s.logger.Info("sweep completed", "resources", r.Resources, "lifted", r.Lifted, "pruned", r.Pruned)
			}
		}
	}
}

// RunOnce sweeps every resource once. Failures on one resource do not stop
// the others; they are joined into the returned error.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return Report{}, ErrInProgress
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	ids, err := s.target.Resources()
	if err != nil {
		return Report{}, fmt.Errorf("list resources: %w", err)
	}

	var (
		mu     sync.Mutex
		report = Report{Resources: len(ids)}
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			lifted, pruned, err := s.sweep(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if lifted {
				report.Lifted++
			}
			report.Pruned += pruned
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, errors.Join(errs...)
}

func (s *Sweeper) sweep(ctx context.Context, id types.ResourceID) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	lifted, err := s.target.CheckExpiry(ctx, id)
	switch {
	case errors.Is(err, types.ErrPauseNotSupported):
	case errors.Is(err, types.ErrResourceNotFound):
		// A store whose Init failed after it was created.
		return false, 0, nil
	case err != nil:
		return false, 0, fmt.Errorf("check expiry: %w", err)
	}
	if lifted {
		s.logger.Info("pause expired", "resource", id)
	}

	if s.cfg.Retention <= 0 {
		return lifted, 0, nil
	}
	n, err := s.target.Prune(ctx, id, s.cfg.Retention)
	if err != nil {
		return lifted, 0, fmt.Errorf("prune: %w", err)
	}
	if n > 0 {
		s.logger.Debug("pruned proposals", "resource", id, "count", n)
	}
	return lifted, n, nil
}
