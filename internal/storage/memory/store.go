// Package memory is an in-process storage engine. Proposals are kept in a
// copy-on-write B-tree so that Update can work on a cheap clone and swap it
// in on commit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/types"
)

const defaultTreeDegree = 16

func lessByID(a, b *types.Proposal) bool {
	return a.ID < b.ID
}

// Store keeps one resource's state in memory.
type Store struct {
	id types.ResourceID

	mu        sync.RWMutex
	resource  *types.Resource
	proposals *btree.BTreeG[*types.Proposal]

	evMu  sync.Mutex
	chain []events.Record
	byCID map[string]int
}

// NewStore returns an empty store for id.
func NewStore(id types.ResourceID) *Store {
	return &Store{
		id:        id,
		proposals: btree.NewG(defaultTreeDegree, lessByID),
		byCID:     make(map[string]int),
	}
}

func (s *Store) ResourceID() types.ResourceID {
	return s.id
}

// Update runs fn against a clone of the state and swaps it in if fn
// succeeds.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{id: s.id, resource: s.resource, proposals: s.proposals.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.resource = tx.resource
	s.proposals = tx.proposals
	return nil
}

// View runs fn against the current state.
func (s *Store) View(_ context.Context, fn func(storage.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{id: s.id, resource: s.resource, proposals: s.proposals, readOnly: true})
}

func (s *Store) AppendEvent(_ context.Context, e events.Event) (events.Record, error) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	var prev string
	if n := len(s.chain); n > 0 {
		prev = s.chain[n-1].CID
	}
	rec, _, err := events.Seal(uint64(len(s.chain)), prev, e)
	if err != nil {
		return events.Record{}, err
	}
	s.byCID[rec.CID] = len(s.chain)
	s.chain = append(s.chain, rec)
	return rec, nil
}

func (s *Store) Events(_ context.Context, from uint64, limit int) ([]events.Record, error) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	if from >= uint64(len(s.chain)) {
		return nil, nil
	}
	out := s.chain[from:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return slices.Clone(out), nil
}

func (s *Store) EventByCID(_ context.Context, c string) (events.Record, error) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	i, ok := s.byCID[c]
	if !ok {
		return events.Record{}, storage.ErrNotFound
	}
	return s.chain[i], nil
}

func (s *Store) Close() error {
	return nil
}

type memTx struct {
	id        types.ResourceID
	resource  *types.Resource
	proposals *btree.BTreeG[*types.Proposal]
	readOnly  bool
}

func (t *memTx) Resource(context.Context) (*types.Resource, error) {
	if t.resource == nil {
		return nil, storage.ErrNotFound
	}
	return t.resource.Clone(), nil
}

func (t *memTx) PutResource(_ context.Context, res *types.Resource) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if res.ID != t.id {
		return fmt.Errorf("resource %s does not belong to store %s", res.ID, t.id)
	}
	t.resource = res.Clone()
	return nil
}

func (t *memTx) Proposal(_ context.Context, id uint64) (*types.Proposal, error) {
	p, ok := t.proposals.Get(&types.Proposal{ID: id})
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) PutProposal(_ context.Context, p *types.Proposal) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	t.proposals.ReplaceOrInsert(p.Clone())
	return nil
}

func (t *memTx) Proposals(_ context.Context, from uint64, limit int) ([]*types.Proposal, error) {
	var out []*types.Proposal
	t.proposals.AscendGreaterOrEqual(&types.Proposal{ID: from}, func(p *types.Proposal) bool {
		out = append(out, p.Clone())
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func (t *memTx) DeleteProposals(_ context.Context, ids []uint64) (int, error) {
	if t.readOnly {
		return 0, storage.ErrReadOnly
	}
	n := 0
	for _, id := range ids {
		if _, ok := t.proposals.Delete(&types.Proposal{ID: id}); ok {
			n++
		}
	}
	return n, nil
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*memTx)(nil)
)
