// Package proposal implements the proposal lifecycle of a resource: create,
// approve, cancel, and the checks that gate execution. Functions operate on
// loaded state; callers persist the result inside one storage transaction.
package proposal

import (
	"fmt"
	"time"

	"github.com/relves/vaultgate/pkg/authority"
	"github.com/relves/vaultgate/pkg/types"
)

// Create validates payload against res and returns a new pending proposal
// approved by its creator. The resource's proposal counter is advanced.
func Create(res *types.Resource, creator types.Principal, payload types.Payload, now time.Time) (*types.Proposal, error) {
	if err := authority.RequireMember(res.Group, creator); err != nil {
		return nil, err
	}
	if err := ValidatePayload(res, payload); err != nil {
		return nil, err
	}
	if res.ProposalCounter >= res.MaxProposals {
		return nil, fmt.Errorf("%w: %d", types.ErrMaxProposalsReached, res.MaxProposals)
	}

	p := &types.Proposal{
		Resource:  res.ID,
		ID:        res.ProposalCounter,
		Creator:   creator,
		Payload:   payload,
		Approvals: []types.Principal{creator},
		Status:    types.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(res.ProposalWindow),
	}
	p = p.Clone()
	res.ProposalCounter++
	return p, nil
}

// ValidatePayload checks a payload against the current state of res.
func ValidatePayload(res *types.Resource, payload types.Payload) error {
	switch payload.Kind {
	case types.PayloadTransfer:
		if payload.Transfer == nil || payload.Config != nil {
			return fmt.Errorf("%w: transfer payload malformed", types.ErrInvalidPayload)
		}
		return validateTransfer(res, payload.Transfer)
	case types.PayloadConfig:
		if payload.Config == nil || payload.Transfer != nil {
			return fmt.Errorf("%w: config payload malformed", types.ErrInvalidPayload)
		}
		return ValidatePatch(res, payload.Config)
	default:
		return fmt.Errorf("%w: unknown kind %q", types.ErrInvalidPayload, payload.Kind)
	}
}

func validateTransfer(res *types.Resource, t *types.Transfer) error {
	if !res.MovesValue() {
		return fmt.Errorf("%w: %s resource", types.ErrTransferNotAllowed, res.Kind)
	}
	if res.Frozen {
		return types.ErrResourceFrozen
	}
	if t.To == "" {
		return fmt.Errorf("%w: missing recipient", types.ErrInvalidPayload)
	}
	if t.Amount == 0 {
		return types.ErrZeroAmount
	}
	if t.Amount > res.PerTxCap {
		return fmt.Errorf("%w: %d > %d", types.ErrExceedsSpendCap, t.Amount, res.PerTxCap)
	}
	if len(t.Memo) > types.MaxMemoLen {
		return fmt.Errorf("%w: %d bytes", types.ErrMemoTooLong, len(t.Memo))
	}
	return nil
}

// ValidatePatch checks that patch would produce a valid configuration for res.
func ValidatePatch(res *types.Resource, patch *types.ConfigPatch) error {
	if patch.Empty() {
		return types.ErrEmptyPatch
	}
	if (patch.PerTxCap != nil || patch.DailyCap != nil) && !res.MovesValue() {
		return fmt.Errorf("%w: spend caps", types.ErrPatchNotApplicable)
	}
	if patch.Unfreeze && res.Kind != types.KindTreasury {
		return fmt.Errorf("%w: unfreeze", types.ErrPatchNotApplicable)
	}
	if patch.PerTxCap != nil && *patch.PerTxCap == 0 {
		return fmt.Errorf("%w: per-transaction cap must be positive", types.ErrInvalidSpendCap)
	}
	if patch.DailyCap != nil && *patch.DailyCap == 0 {
		return fmt.Errorf("%w: daily cap must be positive", types.ErrInvalidSpendCap)
	}
	if patch.Members != nil || patch.Threshold != nil {
		if _, err := authority.Apply(res.Group, patch, authority.PolicyFor(res.Kind)); err != nil {
			return err
		}
	}
	return nil
}

// Approve records principal's approval of p and returns the number of
// approvals from current members.
func Approve(res *types.Resource, p *types.Proposal, principal types.Principal, now time.Time) (int, error) {
	if err := authority.RequireMember(res.Group, principal); err != nil {
		return 0, err
	}
	if err := checkPending(p, now); err != nil {
		return 0, err
	}
	if res.Frozen && p.Payload.Kind == types.PayloadTransfer {
		return 0, types.ErrResourceFrozen
	}
	if p.HasApproved(principal) {
		return 0, fmt.Errorf("%w: %s", types.ErrAlreadyApproved, principal)
	}
	p.Approvals = append(p.Approvals, principal)
	return authority.CountApprovals(res.Group, p.Approvals), nil
}

// Cancel marks p cancelled. Only the creator may cancel, and only while
// the proposal has not been settled.
func Cancel(p *types.Proposal, principal types.Principal, now time.Time) error {
	if principal != p.Creator {
		return fmt.Errorf("%w: %s", types.ErrNotCreator, principal)
	}
	switch p.Status {
	case types.StatusExecuted:
		return types.ErrAlreadyExecuted
	case types.StatusCancelled:
		return types.ErrAlreadyCancelled
	}
	p.Status = types.StatusCancelled
	p.SettledAt = now
	return nil
}

func checkPending(p *types.Proposal, now time.Time) error {
	switch p.Status {
	case types.StatusExecuted:
		return types.ErrAlreadyExecuted
	case types.StatusCancelled:
		return types.ErrAlreadyCancelled
	}
	if p.Expired(now) {
		return fmt.Errorf("%w: at %s", types.ErrProposalExpired, p.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Quorum returns the number of approvals p needs on res. Config changes on
// an emergency resource need at least two approvals even when the pause
// threshold is one.
func Quorum(res *types.Resource, p *types.Proposal) int {
	if p.Payload.Kind == types.PayloadConfig && res.Kind == types.KindEmergency {
		return max(res.Group.Threshold, 2)
	}
	return res.Group.Threshold
}

// CheckExecutable reports whether p may be executed at now: pending,
// unexpired, and approved by a quorum of current members.
func CheckExecutable(res *types.Resource, p *types.Proposal, now time.Time) error {
	if err := checkPending(p, now); err != nil {
		return err
	}
	have, need := authority.CountApprovals(res.Group, p.Approvals), Quorum(res, p)
	if have < need {
		return fmt.Errorf("%w: %d of %d", types.ErrInsufficientApproval, have, need)
	}
	return nil
}

// VerifyProof checks that p authorizes a configuration change of res.
func VerifyProof(res *types.Resource, p *types.Proposal, now time.Time) error {
	if p.Resource != res.ID {
		return fmt.Errorf("%w: %s", types.ErrWrongTarget, p.Resource)
	}
	if p.Payload.Kind != types.PayloadConfig || p.Payload.Config == nil {
		return fmt.Errorf("%w: proof must be a config change", types.ErrWrongPayload)
	}
	return CheckExecutable(res, p, now)
}

// MarkExecuted settles p as executed by executor.
func MarkExecuted(p *types.Proposal, executor types.Principal, now time.Time) {
	p.Status = types.StatusExecuted
	p.SettledAt = now
	p.ExecutedBy = executor
}

// View is a read-only summary of a proposal at a point in time.
type View struct {
	Proposal   *types.Proposal `json:"proposal"`
	Status     types.Status    `json:"status"`
	Approvals  int             `json:"approvals"`
	Required   int             `json:"required"`
	CanExecute bool            `json:"can_execute"`
}

// Describe summarizes p as seen at now.
func Describe(res *types.Resource, p *types.Proposal, now time.Time) View {
	blocked := res.Frozen && p.Payload.Kind == types.PayloadTransfer
	return View{
		Proposal:   p,
		Status:     p.StatusAt(now),
		Approvals:  authority.CountApprovals(res.Group, p.Approvals),
		Required:   Quorum(res, p),
		CanExecute: !blocked && CheckExecutable(res, p, now) == nil,
	}
}
