// Package storagetest holds behaviour tests shared by every storage engine.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/types"
)

// ResourceID is the id stores under test must be opened with.
const ResourceID types.ResourceID = "suite-res"

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Resource returns a minimal resource record for ResourceID.
func Resource() *types.Resource {
	return &types.Resource{
		ID:             ResourceID,
		Kind:           types.KindGovernance,
		Group:          types.Group{Members: []types.Principal{"did:key:z6MkA", "did:key:z6MkB"}, Threshold: 2},
		PerTxCap:       100,
		Spend:          types.SpendWindow{DailyCap: 1000, Start: t0, Len: 24 * time.Hour},
		ProposalWindow: 24 * time.Hour,
		MaxProposals:   10,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

// Proposal returns a pending transfer proposal with the given id.
func Proposal(id uint64) *types.Proposal {
	return &types.Proposal{
		Resource:  ResourceID,
		ID:        id,
		Creator:   "did:key:z6MkA",
		Payload:   types.TransferPayload("did:key:z6MkC", 10, "memo"),
		Approvals: []types.Principal{"did:key:z6MkA"},
		Status:    types.StatusPending,
		CreatedAt: t0,
		ExpiresAt: t0.Add(24 * time.Hour),
	}
}

// Run exercises store, which must be empty and opened for ResourceID.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("MissingResource", func(t *testing.T) { testMissingResource(t, open(t)) })
	t.Run("UpdateCommits", func(t *testing.T) { testUpdateCommits(t, open(t)) })
	t.Run("UpdateRollsBack", func(t *testing.T) { testUpdateRollsBack(t, open(t)) })
	t.Run("UpdateCommitsAfterCancel", func(t *testing.T) { testUpdateCommitsAfterCancel(t, open(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewIsReadOnly(t, open(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, open(t)) })
	t.Run("Proposals", func(t *testing.T) { testProposals(t, open(t)) })
	t.Run("SerializedUpdates", func(t *testing.T) { testSerializedUpdates(t, open(t)) })
	t.Run("EventChain", func(t *testing.T) { testEventChain(t, open(t)) })
}

func testMissingResource(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Resource(ctx)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Proposal(ctx, 0)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdateCommits(t *testing.T, s storage.Store) {
	ctx := context.Background()
	want := Resource()
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutResource(ctx, want); err != nil {
			return err
		}
		return tx.PutProposal(ctx, Proposal(0))
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Resource(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Group, got.Group)
		assert.Equal(t, want.Spend.DailyCap, got.Spend.DailyCap)
		assert.True(t, want.Spend.Start.Equal(got.Spend.Start))

		p, err := tx.Proposal(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, p.Status)
		require.NotNil(t, p.Payload.Transfer)
		assert.Equal(t, uint64(10), p.Payload.Transfer.Amount)
		return nil
	}))
}

func testUpdateCommitsAfterCancel(t *testing.T, s storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutResource(ctx, Resource()); err != nil {
			return err
		}
		if err := tx.PutProposal(ctx, Proposal(0)); err != nil {
			return err
		}
		cancel()
		return nil
	}))

	bg := context.Background()
	require.NoError(t, s.View(bg, func(tx storage.Tx) error {
		_, err := tx.Resource(bg)
		require.NoError(t, err)
		_, err = tx.Proposal(bg, 0)
		require.NoError(t, err)
		return nil
	}))

	// A cancelled context does not start a new update.
	called := false
	err := s.Update(ctx, func(storage.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func testUpdateRollsBack(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return tx.PutResource(ctx, Resource())
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx storage.Tx) error {
		res, err := tx.Resource(ctx)
		if err != nil {
			return err
		}
		res.ProposalCounter = 7
		if err := tx.PutResource(ctx, res); err != nil {
			return err
		}
		if err := tx.PutProposal(ctx, Proposal(6)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		res, err := tx.Resource(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), res.ProposalCounter)
		_, err = tx.Proposal(ctx, 6)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func testViewIsReadOnly(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(tx storage.Tx) error {
		return tx.PutResource(ctx, Resource())
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func testReturnsCopies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutResource(ctx, Resource()); err != nil {
			return err
		}
		return tx.PutProposal(ctx, Proposal(0))
	}))

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		p, err := tx.Proposal(ctx, 0)
		if err != nil {
			return err
		}
		// Mutated but never put.
		p.Approvals = append(p.Approvals, "did:key:z6MkB")
		p.Status = types.StatusExecuted
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		p, err := tx.Proposal(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, p.Approvals, 1)
		assert.Equal(t, types.StatusPending, p.Status)
		return nil
	}))
}

func testProposals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		for _, id := range []uint64{3, 0, 2, 1, 4} {
			if err := tx.PutProposal(ctx, Proposal(id)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		all, err := tx.Proposals(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, p := range all {
			assert.Equal(t, uint64(i), p.ID)
		}

		page, err := tx.Proposals(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(2), page[0].ID)
		assert.Equal(t, uint64(3), page[1].ID)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		n, err := tx.DeleteProposals(ctx, []uint64{1, 3, 99})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		all, err := tx.Proposals(ctx, 0, 0)
		require.NoError(t, err)
		var ids []uint64
		for _, p := range all {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []uint64{0, 2, 4}, ids)
		return nil
	}))
}

func testSerializedUpdates(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return tx.PutResource(ctx, Resource())
	}))

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx storage.Tx) error {
				res, err := tx.Resource(ctx)
				if err != nil {
					return err
				}
				res.ProposalCounter++
				return tx.PutResource(ctx, res)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		res, err := tx.Resource(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(workers), res.ProposalCounter)
		return nil
	}))
}

func testEventChain(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var appended []events.Record
	for i, typ := range []events.Type{events.Initialized, events.ProposalCreated, events.ProposalApproved} {
		rec, err := s.AppendEvent(ctx, events.Event{Type: typ, Resource: ResourceID, At: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), rec.Seq)
		appended = append(appended, rec)
	}
	assert.Empty(t, appended[0].Prev)
	assert.Equal(t, appended[0].CID, appended[1].Prev)

	got, err := s.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.NoError(t, events.VerifyChain(got))
	assert.Equal(t, appended[2].CID, got[2].CID)
	assert.Equal(t, events.ProposalApproved, got[2].Event.Type)

	tail, err := s.Events(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(1), tail[0].Seq)

	rec, err := s.EventByCID(ctx, appended[1].CID)
	require.NoError(t, err)
	assert.Equal(t, events.ProposalCreated, rec.Event.Type)

	_, err = s.EventByCID(ctx, "bagaaiera-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
