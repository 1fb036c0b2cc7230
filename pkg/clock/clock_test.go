package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relves/vaultgate/pkg/clock"
)

type stepClock struct {
	times []time.Time
}

func (s *stepClock) Now() time.Time {
	t := s.times[0]
	s.times = s.times[1:]
	return t
}

func TestMonotonicNeverGoesBack(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &stepClock{times: []time.Time{t0, t0.Add(-time.Minute), t0.Add(time.Second)}}
	m := clock.NewMonotonic(src)

	assert.Equal(t, t0, m.Now())
	assert.Equal(t, t0, m.Now())
	assert.Equal(t, t0.Add(time.Second), m.Now())
}

func TestManual(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := clock.NewManual(t0)
	assert.Equal(t, t0, m.Now())

	assert.Equal(t, t0.Add(time.Hour), m.Advance(time.Hour))
	m.Advance(-2 * time.Hour)
	assert.Equal(t, t0.Add(time.Hour), m.Now())
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, clock.System{}.Now().Location())
}
