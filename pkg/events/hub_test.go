package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/pkg/events"
)

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return events.Event{}
	}
}

func TestHub(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by resource", func(t *testing.T) {
		h := events.NewHub()
		one, stopOne := h.Subscribe("res-1", 4)
		defer stopOne()
		all, stopAll := h.Subscribe("", 4)
		defer stopAll()

		h.Emit(ctx, events.Event{Type: events.Frozen, Resource: "res-2", At: t0})
		h.Emit(ctx, events.Event{Type: events.ProposalCreated, Resource: "res-1", At: t0})

		assert.Equal(t, events.ProposalCreated, receive(t, one).Type)
		assert.Equal(t, events.Frozen, receive(t, all).Type)
		assert.Equal(t, events.ProposalCreated, receive(t, all).Type)
		assert.Empty(t, one)
	})

	t.Run("drops when full", func(t *testing.T) {
		h := events.NewHub()
		ch, stop := h.Subscribe("res-1", 1)
		defer stop()

		h.Emit(ctx, events.Event{Type: events.ProposalCreated, Resource: "res-1"})
		h.Emit(ctx, events.Event{Type: events.ProposalApproved, Resource: "res-1"})

		assert.Equal(t, events.ProposalCreated, receive(t, ch).Type)
		assert.Empty(t, ch)
	})

	t.Run("unsubscribe closes once", func(t *testing.T) {
		h := events.NewHub()
		ch, stop := h.Subscribe("res-1", 0)
		assert.Equal(t, 1, h.Subscribers())

		stop()
		stop()
		assert.Equal(t, 0, h.Subscribers())
		_, ok := <-ch
		assert.False(t, ok)

		// Publishing after the last subscriber left is harmless.
		h.Emit(ctx, events.Event{Type: events.Frozen, Resource: "res-1"})
	})
}
