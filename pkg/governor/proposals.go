package governor

import (
	"context"
	"fmt"

	"github.com/relves/vaultgate/pkg/authority"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/pause"
	"github.com/relves/vaultgate/pkg/proposal"
	"github.com/relves/vaultgate/pkg/types"
)

func payloadAttrs(p types.Payload) map[string]any {
	attrs := map[string]any{"payload": string(p.Kind)}
	switch {
	case p.Transfer != nil:
		attrs["to"] = p.Transfer.To
		attrs["amount"] = p.Transfer.Amount
		if p.Transfer.Memo != "" {
			attrs["memo"] = p.Transfer.Memo
		}
	case p.Config != nil:
		attrs["patch"] = p.Config
	}
	return attrs
}

// Propose creates a proposal on resource id, approved by its creator.
func (s *Service) Propose(ctx context.Context, id types.ResourceID, creator types.Principal, payload types.Payload) (*types.Proposal, error) {
	var created *types.Proposal
	err := s.update(ctx, id, "propose", func(o *op) error {
		p, err := proposal.Create(o.res, creator, payload, o.now)
		if err != nil {
			return err
		}
		if err := o.putProposal(p); err != nil {
			return err
		}
		attrs := payloadAttrs(p.Payload)
		attrs["expires_at"] = p.ExpiresAt
		o.emitProposal(events.ProposalCreated, creator, p.ID, attrs)
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Approve adds principal's approval to proposal pid.
func (s *Service) Approve(ctx context.Context, id types.ResourceID, principal types.Principal, pid uint64) (proposal.View, error) {
	var view proposal.View
	err := s.update(ctx, id, "approve", func(o *op) error {
		p, err := o.loadProposal(pid)
		if err != nil {
			return err
		}
		n, err := proposal.Approve(o.res, p, principal, o.now)
		if err != nil {
			return err
		}
		if err := o.putProposal(p); err != nil {
			return err
		}
		view = proposal.Describe(o.res, p, o.now)
		o.emitProposal(events.ProposalApproved, principal, pid, map[string]any{
			"approvals": n,
			"required":  view.Required,
		})
		return nil
	})
	return view, err
}

// Cancel cancels proposal pid. Only its creator may do so.
func (s *Service) Cancel(ctx context.Context, id types.ResourceID, principal types.Principal, pid uint64) (*types.Proposal, error) {
	var cancelled *types.Proposal
	err := s.update(ctx, id, "cancel", func(o *op) error {
		p, err := o.loadProposal(pid)
		if err != nil {
			return err
		}
		if err := proposal.Cancel(p, principal, o.now); err != nil {
			return err
		}
		if err := o.putProposal(p); err != nil {
			return err
		}
		o.emitProposal(events.ProposalCancelled, principal, pid, nil)
		cancelled = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Execute carries out an approved proposal. Transfers go through the gate;
// config changes are applied as by ApplyConfig. Cancelling ctx stops an
// execution that has not started; one that has started is always recorded,
// because its transfer may already have been made.
func (s *Service) Execute(ctx context.Context, id types.ResourceID, executor types.Principal, pid uint64) (*types.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	var (
		executed    *types.Proposal
		transferred bool
	)
	err := s.update(ctx, id, "execute", func(o *op) error {
		p, err := o.loadProposal(pid)
		if err != nil {
			return err
		}
		if p.Payload.Kind == types.PayloadConfig {
			if err := s.applyConfig(o, p, executor); err != nil {
				return err
			}
			executed = p
			return nil
		}

		if err := s.gate.Execute(o.ctx, o.res, p, executor, o.now); err != nil {
			return err
		}
		transferred = true
		if err := o.putProposal(p); err != nil {
			return err
		}
		o.emitProposal(events.ProposalExecuted, executor, pid, map[string]any{
			"to":     p.Payload.Transfer.To,
			"amount": p.Payload.Transfer.Amount,
			"spent":  o.res.Spend.Spent,
		})
		executed = p
		return nil
	})
	if err != nil {
		if transferred {
			s.logger.Error("transfer completed but execution was not recorded",
				"resource", id, "proposal", pid, "error", err)
		}
		return nil, err
	}
	if executed.Payload.Transfer != nil {
		s.metrics.Transferred(id, executed.Payload.Transfer.Amount)
	}
	return executed, nil
}

// ApplyConfig applies the configuration change carried by proof, an
// approved ConfigChange proposal of the same resource. The proof is
// consumed and cannot be applied twice.
func (s *Service) ApplyConfig(ctx context.Context, id types.ResourceID, caller types.Principal, proofID uint64) (*types.Resource, error) {
	var res *types.Resource
	err := s.update(ctx, id, "apply_config", func(o *op) error {
		proof, err := o.loadProposal(proofID)
		if err != nil {
			return err
		}
		if err := s.applyConfig(o, proof, caller); err != nil {
			return err
		}
		res = o.res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) applyConfig(o *op, proof *types.Proposal, caller types.Principal) error {
	res := o.res
	if err := authority.RequireMember(res.Group, caller); err != nil {
		return err
	}
	if err := proposal.VerifyProof(res, proof, o.now); err != nil {
		return err
	}
	patch := proof.Payload.Config
	// The resource may have changed since the proposal was made.
	if err := proposal.ValidatePatch(res, patch); err != nil {
		return err
	}

	if patch.Members != nil || patch.Threshold != nil {
		next, err := authority.Apply(res.Group, patch, authority.PolicyFor(res.Kind))
		if err != nil {
			return err
		}
		if res.Pause != nil {
			r, err := pause.UpdateGroup(res, next, o.now)
			if err != nil {
				return err
			}
			if r.Expired {
				o.emit(events.PauseLifted, "", map[string]any{"early": false})
			}
		} else {
			res.Group = next
		}
	}
	if patch.PerTxCap != nil {
		res.PerTxCap = *patch.PerTxCap
	}
	if patch.DailyCap != nil {
		res.Spend.DailyCap = *patch.DailyCap
	}
	unfrozen := patch.Unfreeze && res.Frozen
	if patch.Unfreeze {
		res.Frozen = false
	}
	res.ConfigVersion++

	proposal.MarkExecuted(proof, caller, o.now)
	if err := o.putProposal(proof); err != nil {
		return err
	}

	o.emitProposal(events.ConfigUpdated, caller, proof.ID, map[string]any{
		"members":        res.Group.Members,
		"threshold":      res.Group.Threshold,
		"config_version": res.ConfigVersion,
	})
	if unfrozen {
		o.emitProposal(events.Unfrozen, caller, proof.ID, nil)
	}
	return nil
}

// Freeze stops all value movement on a treasury. Any single member may
// freeze; lifting it needs an approved config change with Unfreeze set.
func (s *Service) Freeze(ctx context.Context, id types.ResourceID, caller types.Principal, reason string) error {
	return s.update(ctx, id, "freeze", func(o *op) error {
		if o.res.Kind != types.KindTreasury {
			return fmt.Errorf("%w: %s resource", types.ErrFreezeNotSupported, o.res.Kind)
		}
		if err := authority.RequireMember(o.res.Group, caller); err != nil {
			return err
		}
		if len(reason) > types.MaxReasonLen {
			return fmt.Errorf("%w: %d bytes", types.ErrReasonTooLong, len(reason))
		}
		if o.res.Frozen {
			return types.ErrAlreadyFrozen
		}
		o.res.Frozen = true
		o.emit(events.Frozen, caller, map[string]any{"reason": reason})
		return nil
	})
}
