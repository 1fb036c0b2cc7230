package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/relves/vaultgate/internal/storage/memory"
	"github.com/relves/vaultgate/internal/sweeper"
	"github.com/relves/vaultgate/pkg/clock"
	"github.com/relves/vaultgate/pkg/governor"
	"github.com/relves/vaultgate/pkg/types"
	"github.com/relves/vaultgate/pkg/types/typestest"
)

type fakeTarget struct {
	mu      sync.Mutex
	ids     []types.ResourceID
	expired map[types.ResourceID]error
	pruned  map[types.ResourceID]int
	calls   int
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeTarget) Resources() ([]types.ResourceID, error) {
	return f.ids, nil
}

func (f *fakeTarget) CheckExpiry(_ context.Context, id types.ResourceID) (bool, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	err, ok := f.expired[id]
	return ok && err == nil, err
}

func (f *fakeTarget) Prune(_ context.Context, id types.ResourceID, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruned[id], nil
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := sweeper.Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.NotNil(t, cfg.Logger)
	assert.Zero(t, cfg.Retention)
}

func TestRunOnce(t *testing.T) {
	boom := errors.New("disk full")
	target := &fakeTarget{
		ids: []types.ResourceID{"treasury", "guard", "broken", "ghost"},
		expired: map[types.ResourceID]error{
			"treasury": types.ErrPauseNotSupported,
			"guard":    nil,
			"broken":   boom,
			"ghost":    types.ErrResourceNotFound,
		},
		pruned: map[types.ResourceID]int{"treasury": 3, "guard": 1},
	}
	s := sweeper.New(sweeper.Config{Retention: time.Hour}, target)

	report, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, sweeper.Report{Resources: 4, Lifted: 1, Pruned: 4}, report)
}

func TestRunOnce_NoRetention(t *testing.T) {
	target := &fakeTarget{
		ids:    []types.ResourceID{"treasury"},
		pruned: map[types.ResourceID]int{"treasury": 3},
	}
	s := sweeper.New(sweeper.Config{}, target)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pruned)
}

func TestRunOnce_InProgress(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &fakeTarget{
		ids:     []types.ResourceID{"guard"},
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	s := sweeper.New(sweeper.Config{}, target)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-target.entered

	_, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, sweeper.ErrInProgress)

	close(target.block)
	require.NoError(t, <-done)
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &fakeTarget{ids: []types.ResourceID{"guard"}}
	s := sweeper.New(sweeper.Config{Interval: time.Millisecond}, target)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return target.calls >= 2
	}, time.Second, time.Millisecond)

	cancel()
	<-stopped
}

func TestSweepGovernor(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(t0)
	svc, err := governor.New(governor.Config{Stores: memory.NewManager(), Clock: clk})
	require.NoError(t, err)

	guardians := typestest.Principals(3)
	_, err = svc.Init(ctx, "guard", types.Params{Kind: types.KindEmergency, Members: guardians, PauseThreshold: 1})
	require.NoError(t, err)
	_, err = svc.Init(ctx, "main", types.Params{
		Kind:      types.KindTreasury,
		Vault:     "vault",
		Members:   guardians,
		Threshold: 2,
		DailyCap:  10,
	})
	require.NoError(t, err)

	_, err = svc.VotePause(ctx, "guard", guardians[0], "incident")
	require.NoError(t, err)
	p, err := svc.Propose(ctx, "main", guardians[0], types.TransferPayload(guardians[1], 5, ""))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "main", guardians[0], p.ID)
	require.NoError(t, err)

	clk.Advance(types.DefaultMaxPauseDuration + time.Hour)

	s := sweeper.New(sweeper.Config{Retention: time.Hour}, svc)
	report, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{Resources: 2, Lifted: 1, Pruned: 1}, report)

	st, err := svc.PauseStatus(ctx, "guard")
	require.NoError(t, err)
	assert.False(t, st.Paused)
}
