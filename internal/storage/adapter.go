package storage

import (
	"context"
	"errors"

	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/types"
)

var (
	ErrNotFound = errors.New("not found")
	ErrReadOnly = errors.New("write in read-only transaction")
)

// Tx reads and writes one resource's state inside a transaction. Values
// returned are copies: changes are persisted only through the Put methods.
type Tx interface {
	// Resource returns the resource record, or ErrNotFound before init.
	Resource(ctx context.Context) (*types.Resource, error)
	PutResource(ctx context.Context, res *types.Resource) error

	// Proposal returns one proposal, or ErrNotFound.
	Proposal(ctx context.Context, id uint64) (*types.Proposal, error)
	PutProposal(ctx context.Context, p *types.Proposal) error
	// Proposals lists proposals with id >= from in ascending order.
	// A limit <= 0 means no limit.
	Proposals(ctx context.Context, from uint64, limit int) ([]*types.Proposal, error)
	DeleteProposals(ctx context.Context, ids []uint64) (int, error)
}

// Store holds the state of one governed resource. Update runs fn under the
// resource's single-writer lock and commits only if fn returns nil; View
// runs fn against a consistent snapshot.
//
// ctx is checked before Update starts. Once fn has returned nil the commit
// goes ahead even if ctx has been cancelled meanwhile, since fn may already
// have caused effects outside the store.
type Store interface {
	ResourceID() types.ResourceID

	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error

	// AppendEvent links e into the resource's audit chain.
	events.Appender
	// Events lists audit records with seq >= from in ascending order.
	Events(ctx context.Context, from uint64, limit int) ([]events.Record, error)
	// EventByCID returns one audit record, or ErrNotFound.
	EventByCID(ctx context.Context, cid string) (events.Record, error)

	Close() error
}

// Manager hands out stores keyed by resource id.
type Manager interface {
	// GetStore returns the store for id, creating it if needed.
	GetStore(id types.ResourceID) (Store, error)
	// LookupStore returns the store for id, or ErrNotFound if nothing has
	// been persisted for it.
	LookupStore(id types.ResourceID) (Store, error)
	// List returns the ids of every resource with persisted state.
	List() ([]types.ResourceID, error)
	CloseAll() error
}
