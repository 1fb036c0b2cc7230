package governor

import (
	"context"
	"time"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/pause"
	"github.com/relves/vaultgate/pkg/types"
)

func (o *op) emitExpiry(r pause.Result) {
	if r.Expired {
		o.emit(events.PauseLifted, "", map[string]any{"early": false, "ended_at": o.res.Pause.LastPauseEnd})
	}
}

// VotePause records guardian's vote to pause emergency resource id.
func (s *Service) VotePause(ctx context.Context, id types.ResourceID, guardian types.Principal, reason string) (pause.Status, error) {
	var st pause.Status
	err := s.update(ctx, id, "vote_pause", func(o *op) error {
		r, err := pause.VotePause(o.res, guardian, reason, o.now)
		if err != nil {
			return err
		}
		o.emitExpiry(r)
		o.emit(events.PauseVoted, guardian, map[string]any{
			"reason": reason,
			"votes":  r.Votes,
		})
		if r.Activated {
			ps := o.res.Pause
			o.emit(events.PauseActivated, guardian, map[string]any{
				"pause_number": ps.TotalPauses,
				"until":        ps.PauseEnd,
				"reason":       reason,
				"voters":       r.Voters,
			})
		}
		st, err = pause.Describe(o.res, o.now)
		return err
	})
	return st, err
}

// CancelPauseVote withdraws guardian's pause vote.
func (s *Service) CancelPauseVote(ctx context.Context, id types.ResourceID, guardian types.Principal) (pause.Status, error) {
	var st pause.Status
	err := s.update(ctx, id, "cancel_pause_vote", func(o *op) error {
		r, err := pause.CancelVote(o.res, guardian, o.now)
		if err != nil {
			return err
		}
		o.emitExpiry(r)
		o.emit(events.PauseVoteCancelled, guardian, map[string]any{"votes": r.Votes})
		st, err = pause.Describe(o.res, o.now)
		return err
	})
	return st, err
}

// VoteResume records guardian's vote to lift the active pause early.
func (s *Service) VoteResume(ctx context.Context, id types.ResourceID, guardian types.Principal) (pause.Status, error) {
	var st pause.Status
	err := s.update(ctx, id, "vote_resume", func(o *op) error {
		r, err := pause.VoteResume(o.res, guardian, o.now)
		if err != nil {
			return err
		}
		o.emit(events.ResumeVoted, guardian, map[string]any{"votes": r.Votes})
		if r.Lifted {
			o.emit(events.PauseLifted, guardian, map[string]any{
				"early":        true,
				"pause_number": o.res.Pause.TotalPauses,
			})
		}
		st, err = pause.Describe(o.res, o.now)
		return err
	})
	return st, err
}

// CheckExpiry lifts the pause of resource id if it has outlived its
// ceiling. It needs no principal.
func (s *Service) CheckExpiry(ctx context.Context, id types.ResourceID) (bool, error) {
	var lifted bool
	err := s.update(ctx, id, "check_expiry", func(o *op) error {
		var err error
		lifted, err = pause.CheckExpiry(o.res, o.now)
		if err != nil {
			return err
		}
		if !lifted {
			return errUnchanged
		}
		o.emitExpiry(pause.Result{Expired: true})
		return nil
	})
	return lifted, err
}

// PauseStatus describes the pause of resource id.
func (s *Service) PauseStatus(ctx context.Context, id types.ResourceID) (pause.Status, error) {
	var st pause.Status
	err := s.view(ctx, id, func(_ storage.Tx, res *types.Resource, now time.Time) error {
		var err error
		st, err = pause.Describe(res, now)
		return err
	})
	return st, err
}
