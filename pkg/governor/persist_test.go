package governor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/internal/storage/memory"
	"github.com/relves/vaultgate/internal/storage/sqlite"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/governor"
	"github.com/relves/vaultgate/pkg/types"
)

func TestSQLitePersistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "governor-sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()
	stores := sqlite.NewStoreManager(tmpDir)
	h := newHarnessWith(t, stores)
	h.treasury(t, "main")
	m := h.members

	pid := h.propose(t, "main", m[0], types.TransferPayload(m[3], 300, "rent"))
	h.approve(t, "main", m[1], pid)
	_, err = h.svc.Execute(ctx, "main", m[2], pid)
	require.NoError(t, err)
	pending := h.propose(t, "main", m[0], types.TransferPayload(m[3], 300, ""))
	require.NoError(t, stores.CloseAll())

	// A fresh service over the same directory sees everything.
	reopened := sqlite.NewStoreManager(tmpDir)
	defer reopened.CloseAll()
	svc, err := governor.New(governor.Config{
		Stores:   reopened,
		Transfer: h.vault,
		Clock:    h.clock,
	})
	require.NoError(t, err)

	ids, err := svc.Resources()
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceID{"main"}, ids)

	st, err := svc.Status(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), st.Spent)
	assert.Equal(t, uint64(2), st.Resource.ProposalCounter)

	_, err = svc.Execute(ctx, "main", m[2], pid)
	require.ErrorIs(t, err, types.ErrAlreadyExecuted)

	_, err = svc.Init(ctx, "main", types.Params{
		Kind:      types.KindTreasury,
		Vault:     "vault-main",
		Members:   m[:3],
		Threshold: 2,
		DailyCap:  1000,
	})
	require.ErrorIs(t, err, types.ErrAlreadyInitialized)

	h.clock.Advance(time.Hour)
	_, err = svc.Approve(ctx, "main", m[1], pending)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, "main", m[2], pending)
	require.NoError(t, err)

	st, err = svc.Status(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), st.Spent)
	assert.Len(t, h.vault.Calls(), 2)
}

func TestSQLiteEventChain(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "governor-sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()
	stores := sqlite.NewStoreManager(tmpDir)
	defer stores.CloseAll()
	h := newHarnessWith(t, stores)
	h.emergency(t, "guard", 2)
	g := h.members

	_, err = h.svc.VotePause(ctx, "guard", g[0], "incident")
	require.NoError(t, err)
	_, err = h.svc.VotePause(ctx, "guard", g[1], "incident")
	require.NoError(t, err)

	records, err := h.svc.Events(ctx, "guard", 0, 0)
	require.NoError(t, err)
	require.NoError(t, events.VerifyChain(records))

	got := make([]events.Type, len(records))
	for i, r := range records {
		got[i] = r.Event.Type
	}
	assert.Equal(t, h.rec.Types(), got)
}

// An execution whose caller goes away after the transfer was made must
// still be recorded, on every engine, or the proposal could be paid again.
func TestExecuteSurvivesCallerCancel(t *testing.T) {
	engines := map[string]func(t *testing.T) storage.Manager{
		"memory": func(t *testing.T) storage.Manager { return memory.NewManager() },
		"sqlite": func(t *testing.T) storage.Manager {
			tmpDir, err := os.MkdirTemp("", "governor-cancel-test-*")
			require.NoError(t, err)
			t.Cleanup(func() { os.RemoveAll(tmpDir) })
			stores := sqlite.NewStoreManager(tmpDir)
			t.Cleanup(func() { stores.CloseAll() })
			return stores
		},
	}
	for name, open := range engines {
		t.Run(name, func(t *testing.T) {
			h := newHarnessWith(t, open(t))
			h.treasury(t, "main")
			m := h.members

			pid := h.propose(t, "main", m[0], types.TransferPayload(m[3], 300, ""))
			h.approve(t, "main", m[1], pid)

			ctx, cancel := context.WithCancel(context.Background())
			h.vault.hook = func(context.Context) { cancel() }
			executed, err := h.svc.Execute(ctx, "main", m[2], pid)
			require.NoError(t, err)
			assert.Equal(t, types.StatusExecuted, executed.Status)
			h.vault.hook = nil

			_, err = h.svc.Execute(context.Background(), "main", m[2], pid)
			require.ErrorIs(t, err, types.ErrAlreadyExecuted)
			assert.Len(t, h.vault.Calls(), 1)

			st, err := h.svc.Status(context.Background(), "main")
			require.NoError(t, err)
			assert.Equal(t, uint64(300), st.Spent)
			assert.Equal(t, uint64(1), st.Resource.ExecutedCounter)

			// A caller that is already gone starts nothing.
			again := h.propose(t, "main", m[0], types.TransferPayload(m[3], 100, ""))
			h.approve(t, "main", m[1], again)
			_, err = h.svc.Execute(ctx, "main", m[2], again)
			require.ErrorIs(t, err, context.Canceled)
			assert.Len(t, h.vault.Calls(), 1)
		})
	}
}
