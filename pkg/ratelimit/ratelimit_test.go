package ratelimit_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/pkg/ratelimit"
	"github.com/relves/vaultgate/pkg/types"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestChargeWithinCap(t *testing.T) {
	w := ratelimit.NewWindow(1000, 24*time.Hour, t0)
	l := ratelimit.New(500, &w)

	require.NoError(t, l.Charge(t0.Add(time.Hour), 400))
	require.NoError(t, l.Charge(t0.Add(2*time.Hour), 500))
	assert.Equal(t, uint64(900), w.Spent)
	assert.Equal(t, uint64(100), l.Remaining(t0.Add(3*time.Hour)))
}

func TestChargeRejectsWithoutMutation(t *testing.T) {
	w := ratelimit.NewWindow(1000, 24*time.Hour, t0)
	l := ratelimit.New(500, &w)
	require.NoError(t, l.Charge(t0, 500))
	require.NoError(t, l.Charge(t0, 400))

	err := l.Charge(t0.Add(time.Hour), 200)
	assert.ErrorIs(t, err, types.ErrDailyCapExceeded)
	assert.Equal(t, uint64(900), w.Spent)

	assert.ErrorIs(t, l.Charge(t0, 501), types.ErrExceedsSpendCap)
	assert.ErrorIs(t, l.Charge(t0, 0), types.ErrZeroAmount)
	assert.Equal(t, uint64(900), w.Spent)
	assert.Equal(t, t0, w.Start)
}

func TestWindowReset(t *testing.T) {
	w := ratelimit.NewWindow(1000, 24*time.Hour, t0)
	l := ratelimit.New(1000, &w)
	require.NoError(t, l.Charge(t0, 1000))

	// The boundary itself still belongs to the old window.
	assert.ErrorIs(t, l.Charge(t0.Add(24*time.Hour), 1), types.ErrDailyCapExceeded)

	later := t0.Add(24*time.Hour + time.Second)
	assert.Equal(t, uint64(1000), l.Remaining(later))
	assert.Equal(t, uint64(1000), w.Spent, "queries do not mutate")

	require.NoError(t, l.Charge(later, 1000))
	assert.Equal(t, uint64(1000), w.Spent)
	assert.Equal(t, later, w.Start)
	assert.Equal(t, later.Add(24*time.Hour), l.ResetsAt(later))
}

func TestFailedChargeKeepsOldWindowStart(t *testing.T) {
	w := ratelimit.NewWindow(100, time.Hour, t0)
	l := ratelimit.New(200, &w)
	require.NoError(t, l.Charge(t0, 50))

	// After the window rolled, an amount above the daily cap still fails and
	// the stale window is left untouched.
	err := l.Charge(t0.Add(2*time.Hour), 150)
	assert.ErrorIs(t, err, types.ErrDailyCapExceeded)
	assert.Equal(t, t0, w.Start)
	assert.Equal(t, uint64(50), w.Spent)
}

func TestOverflow(t *testing.T) {
	w := ratelimit.NewWindow(math.MaxUint64, 24*time.Hour, t0)
	l := ratelimit.New(math.MaxUint64, &w)
	require.NoError(t, l.Charge(t0, math.MaxUint64-1))

	err := l.Charge(t0, 2)
	assert.ErrorIs(t, err, types.ErrOverflow)
	assert.Equal(t, types.ClassResource, types.ClassOf(err))
	assert.Equal(t, uint64(math.MaxUint64-1), w.Spent)
}
