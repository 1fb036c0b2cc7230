// Package ratelimit enforces the per-transaction cap and the rolling window
// cap of a resource. Window resets are lazy: nothing runs on a timer, the
// window is refreshed by the next charge or query.
package ratelimit

import (
	"fmt"
	"time"

	safemath "github.com/luxfi/math"

	"github.com/relves/vaultgate/pkg/types"
)

// Limiter evaluates caps against a resource's spend window.
type Limiter struct {
	perTxCap uint64
	window   *types.SpendWindow
}

// New returns a limiter over w. Charges mutate w in place.
func New(perTxCap uint64, w *types.SpendWindow) *Limiter {
	return &Limiter{perTxCap: perTxCap, window: w}
}

// NewWindow starts a window at now.
func NewWindow(dailyCap uint64, length time.Duration, now time.Time) types.SpendWindow {
	return types.SpendWindow{DailyCap: dailyCap, Start: now, Len: length}
}

// CheckAmount validates a single amount against the per-transaction cap.
func (l *Limiter) CheckAmount(amount uint64) error {
	if amount == 0 {
		return types.ErrZeroAmount
	}
	if amount > l.perTxCap {
		return fmt.Errorf("%w: %d > %d", types.ErrExceedsSpendCap, amount, l.perTxCap)
	}
	return nil
}

// refreshed returns the window as seen at now.
func refreshed(w types.SpendWindow, now time.Time) (types.SpendWindow, bool) {
	if now.After(w.Start.Add(w.Len)) {
		w.Spent = 0
		w.Start = now
		return w, true
	}
	return w, false
}

// Charge refreshes the window and adds amount to it. On error the window is
// left exactly as it was, including its start.
func (l *Limiter) Charge(now time.Time, amount uint64) error {
	if err := l.CheckAmount(amount); err != nil {
		return err
	}
	w, _ := refreshed(*l.window, now)
	total, err := safemath.Add64(w.Spent, amount)
	if err != nil {
		return fmt.Errorf("%w: %d + %d", types.ErrOverflow, w.Spent, amount)
	}
	if total > w.DailyCap {
		return fmt.Errorf("%w: spent %d + %d > %d", types.ErrDailyCapExceeded, w.Spent, amount, w.DailyCap)
	}
	w.Spent = total
	*l.window = w
	return nil
}

// Remaining returns the allowance left at now without mutating the window.
func (l *Limiter) Remaining(now time.Time) uint64 {
	w, _ := refreshed(*l.window, now)
	if w.Spent >= w.DailyCap {
		return 0
	}
	return w.DailyCap - w.Spent
}

// Spent returns the amount spent in the window as seen at now.
func (l *Limiter) Spent(now time.Time) uint64 {
	w, _ := refreshed(*l.window, now)
	return w.Spent
}

// ResetsAt returns when the current window ends.
func (l *Limiter) ResetsAt(now time.Time) time.Time {
	w, _ := refreshed(*l.window, now)
	return w.Start.Add(w.Len)
}
