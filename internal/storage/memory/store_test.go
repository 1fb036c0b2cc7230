package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/internal/storage/memory"
	"github.com/relves/vaultgate/internal/storage/storagetest"
	"github.com/relves/vaultgate/pkg/types"
)

func TestStoreSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return memory.NewStore(storagetest.ResourceID)
	})
}

func TestViewDoesNotSeeUncommittedClone(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(storagetest.ResourceID)
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutResource(ctx, storagetest.Resource()); err != nil {
			return err
		}
		return tx.PutProposal(ctx, storagetest.Proposal(0))
	}))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := s.Update(canceled, func(tx storage.Tx) error {
		return tx.PutProposal(ctx, storagetest.Proposal(1))
	})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		all, err := tx.Proposals(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	}))
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager()

	a, err := m.GetStore("a")
	require.NoError(t, err)
	again, err := m.GetStore("a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = m.GetStore("../etc")
	assert.ErrorIs(t, err, types.ErrInvalidResourceID)

	found, err := m.LookupStore("a")
	require.NoError(t, err)
	assert.Same(t, a, found)
	_, err = m.LookupStore("b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ids, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, ids, "uninitialized stores are not listed")

	res := storagetest.Resource()
	res.ID = "a"
	require.NoError(t, a.Update(ctx, func(tx storage.Tx) error { return tx.PutResource(ctx, res) }))

	ids, err = m.List()
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceID{"a"}, ids)

	require.NoError(t, m.CloseAll())
	ids, err = m.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
