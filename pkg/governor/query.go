package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/pause"
	"github.com/relves/vaultgate/pkg/proposal"
	"github.com/relves/vaultgate/pkg/ratelimit"
	"github.com/relves/vaultgate/pkg/types"
)

// Status is a read-only summary of a resource.
type Status struct {
	Resource       *types.Resource `json:"resource"`
	Spent          uint64          `json:"spent"`
	Remaining      uint64          `json:"remaining"`
	WindowResetsAt time.Time       `json:"window_resets_at,omitzero"`
	Pause          *pause.Status   `json:"pause,omitempty"`
}

// Status describes resource id as seen now. Lazy transitions such as a
// window reset or pause expiry are reflected without being written.
func (s *Service) Status(ctx context.Context, id types.ResourceID) (*Status, error) {
	var st *Status
	err := s.view(ctx, id, func(_ storage.Tx, res *types.Resource, now time.Time) error {
		st = &Status{Resource: res}
		if res.MovesValue() {
			l := ratelimit.New(res.PerTxCap, &res.Spend)
			st.Spent = l.Spent(now)
			st.Remaining = l.Remaining(now)
			st.WindowResetsAt = l.ResetsAt(now)
		}
		if res.Pause != nil {
			ps, err := pause.Describe(res, now)
			if err != nil {
				return err
			}
			st.Pause = &ps
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Proposal describes proposal pid of resource id.
func (s *Service) Proposal(ctx context.Context, id types.ResourceID, pid uint64) (proposal.View, error) {
	var v proposal.View
	err := s.view(ctx, id, func(tx storage.Tx, res *types.Resource, now time.Time) error {
		p, err := tx.Proposal(ctx, pid)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %d", types.ErrProposalNotFound, pid)
		}
		if err != nil {
			return fmt.Errorf("load proposal %d: %w", pid, err)
		}
		v = proposal.Describe(res, p, now)
		return nil
	})
	return v, err
}

// Proposals lists proposals of resource id with ids from onwards.
func (s *Service) Proposals(ctx context.Context, id types.ResourceID, from uint64, limit int) ([]proposal.View, error) {
	var out []proposal.View
	err := s.view(ctx, id, func(tx storage.Tx, res *types.Resource, now time.Time) error {
		ps, err := tx.Proposals(ctx, from, limit)
		if err != nil {
			return fmt.Errorf("list proposals: %w", err)
		}
		out = make([]proposal.View, len(ps))
		for i, p := range ps {
			out[i] = proposal.Describe(res, p, now)
		}
		return nil
	})
	return out, err
}

// Events lists the audit records of resource id.
func (s *Service) Events(ctx context.Context, id types.ResourceID, from uint64, limit int) ([]events.Record, error) {
	store, err := s.store(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.Events(ctx, from, limit)
}

// Event returns one audit record of resource id by CID.
func (s *Service) Event(ctx context.Context, id types.ResourceID, c string) (events.Record, error) {
	store, err := s.store(ctx, id)
	if err != nil {
		return events.Record{}, err
	}
	rec, err := store.EventByCID(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return events.Record{}, fmt.Errorf("%w: %s", types.ErrEventNotFound, c)
	}
	return rec, err
}

// Prune deletes proposals of resource id that were settled, or expired
// unexecuted, more than retention ago. Ids are never reused, so a pruned
// proposal can not be confused with a later one.
func (s *Service) Prune(ctx context.Context, id types.ResourceID, retention time.Duration) (int, error) {
	var n int
	err := s.update(ctx, id, "prune", func(o *op) error {
		cutoff := o.now.Add(-retention)
		ps, err := o.tx.Proposals(o.ctx, 0, 0)
		if err != nil {
			return fmt.Errorf("list proposals: %w", err)
		}
		var ids []uint64
		for _, p := range ps {
			switch p.StatusAt(o.now) {
			case types.StatusExecuted, types.StatusCancelled:
				if p.SettledAt.Before(cutoff) {
					ids = append(ids, p.ID)
				}
			case types.StatusExpired:
				if p.ExpiresAt.Before(cutoff) {
					ids = append(ids, p.ID)
				}
			}
		}
		if len(ids) == 0 {
			return errUnchanged
		}
		n, err = o.tx.DeleteProposals(o.ctx, ids)
		if err != nil {
			return fmt.Errorf("delete proposals: %w", err)
		}
		o.emit(events.ProposalsPruned, "", map[string]any{"count": n, "ids": ids})
		return nil
	})
	return n, err
}
