// Package pause implements the guardian pause of emergency resources.
//
// A pause is raised when PauseVotes reaches the group threshold and lasts
// at most MaxDuration. Lifting it early needs every guardian in the
// separate ResumeVotes channel. Expiry is lazy: every operation first lifts
// a pause whose ceiling has passed, and CheckExpiry lets anyone force it.
package pause

import (
	"fmt"
	"slices"
	"time"

	"github.com/relves/vaultgate/pkg/authority"
	"github.com/relves/vaultgate/pkg/types"
)

// NewState returns an inactive pause state.
func NewState(maxDuration, cooldown time.Duration) *types.PauseState {
	return &types.PauseState{
		MaxDuration: maxDuration,
		Cooldown:    cooldown,
		PauseVotes:  []types.Principal{},
		ResumeVotes: []types.Principal{},
	}
}

// Result reports the transitions an operation caused.
type Result struct {
	// Expired is set when a pause past its ceiling was lifted first.
	Expired bool
	// Activated is set when this vote raised the pause.
	Activated bool
	// Lifted is set when this vote completed an early resume.
	Lifted bool
	// Votes is the size of the channel the operation voted in, after the vote.
	Votes int
	// Voters holds the pause voters at activation.
	Voters []types.Principal
}

func stateOf(res *types.Resource) (*types.PauseState, error) {
	if res.Pause == nil {
		return nil, fmt.Errorf("%w: %s resource", types.ErrPauseNotSupported, res.Kind)
	}
	return res.Pause, nil
}

func clearVotes(s *types.PauseState) {
	s.PauseVotes = []types.Principal{}
	s.ResumeVotes = []types.Principal{}
}

func expire(s *types.PauseState, now time.Time) bool {
	if s.Paused && !now.Before(s.PauseEnd) {
		s.Paused = false
		s.LastPauseEnd = s.PauseEnd
		clearVotes(s)
		return true
	}
	return false
}

// CheckExpiry lifts the pause of res if its ceiling has passed. Anyone may
// call it.
func CheckExpiry(res *types.Resource, now time.Time) (bool, error) {
	s, err := stateOf(res)
	if err != nil {
		return false, err
	}
	return expire(s, now), nil
}

// VotePause records guardian's vote to pause and raises the pause when the
// threshold is reached.
func VotePause(res *types.Resource, guardian types.Principal, reason string, now time.Time) (Result, error) {
	s, err := stateOf(res)
	if err != nil {
		return Result{}, err
	}
	if err := authority.RequireMember(res.Group, guardian); err != nil {
		return Result{}, err
	}
	r := Result{Expired: expire(s, now)}

	if s.Paused {
		return Result{}, types.ErrAlreadyPaused
	}
	if len(reason) > types.MaxReasonLen {
		return Result{}, fmt.Errorf("%w: %d bytes", types.ErrReasonTooLong, len(reason))
	}
	// No cooldown applies before the first pause has ended.
	if !s.LastPauseEnd.IsZero() {
		if until := s.LastPauseEnd.Add(s.Cooldown); now.Before(until) {
			return Result{}, fmt.Errorf("%w: until %s", types.ErrCooldownActive, until.Format(time.RFC3339))
		}
	}
	if slices.Contains(s.PauseVotes, guardian) {
		return Result{}, fmt.Errorf("%w: %s", types.ErrAlreadyVoted, guardian)
	}

	s.PauseVotes = append(s.PauseVotes, guardian)
	r.Votes = len(s.PauseVotes)

	if len(s.PauseVotes) >= res.Group.Threshold {
		r.Activated = true
		r.Voters = slices.Clone(s.PauseVotes)
		s.Paused = true
		s.PauseStart = now
		s.PauseEnd = now.Add(s.MaxDuration)
		s.TotalPauses++
		s.LastReason = reason
		clearVotes(s)
	}
	return r, nil
}

// CancelVote withdraws guardian's pause vote. Withdrawing a vote that was
// never cast is not an error.
func CancelVote(res *types.Resource, guardian types.Principal, now time.Time) (Result, error) {
	s, err := stateOf(res)
	if err != nil {
		return Result{}, err
	}
	if err := authority.RequireMember(res.Group, guardian); err != nil {
		return Result{}, err
	}
	r := Result{Expired: expire(s, now)}
	if s.Paused {
		return Result{}, types.ErrAlreadyPaused
	}
	s.PauseVotes = slices.DeleteFunc(s.PauseVotes, func(p types.Principal) bool { return p == guardian })
	r.Votes = len(s.PauseVotes)
	return r, nil
}

// VoteResume records guardian's vote to lift an active pause early. The
// pause is lifted only once every guardian has voted.
func VoteResume(res *types.Resource, guardian types.Principal, now time.Time) (Result, error) {
	s, err := stateOf(res)
	if err != nil {
		return Result{}, err
	}
	if err := authority.RequireMember(res.Group, guardian); err != nil {
		return Result{}, err
	}
	r := Result{Expired: expire(s, now)}
	if !s.Paused {
		return Result{}, types.ErrNotPaused
	}
	if slices.Contains(s.ResumeVotes, guardian) {
		return Result{}, fmt.Errorf("%w: %s", types.ErrAlreadyVotedResume, guardian)
	}

	s.ResumeVotes = append(s.ResumeVotes, guardian)
	r.Votes = len(s.ResumeVotes)

	if authority.CountApprovals(res.Group, s.ResumeVotes) == res.Group.Size() {
		r.Lifted = true
		s.Paused = false
		s.LastPauseEnd = now
		clearVotes(s)
	}
	return r, nil
}

// UpdateGroup installs next as the guardian group. It is refused while a
// pause is active, and discards votes cast under the old group.
func UpdateGroup(res *types.Resource, next types.Group, now time.Time) (Result, error) {
	s, err := stateOf(res)
	if err != nil {
		return Result{}, err
	}
	r := Result{Expired: expire(s, now)}
	if s.Paused {
		return Result{}, types.ErrConfigLockedInPause
	}
	res.Group = next
	clearVotes(s)
	return r, nil
}

// Status is a read-only view of a pause at a point in time.
type Status struct {
	Paused        bool              `json:"paused"`
	PauseStart    time.Time         `json:"pause_start,omitzero"`
	PauseEnd      time.Time         `json:"pause_end,omitzero"`
	Remaining     time.Duration     `json:"remaining"`
	CooldownUntil time.Time         `json:"cooldown_until,omitzero"`
	TotalPauses   uint64            `json:"total_pauses"`
	LastReason    string            `json:"last_reason,omitempty"`
	PauseVotes    []types.Principal `json:"pause_votes"`
	ResumeVotes   []types.Principal `json:"resume_votes"`
	Threshold     int               `json:"threshold"`
	Guardians     int               `json:"guardians"`
}

// Describe returns the status of res at now without mutating it.
func Describe(res *types.Resource, now time.Time) (Status, error) {
	s, err := stateOf(res)
	if err != nil {
		return Status{}, err
	}
	s = s.Clone()
	expire(s, now)

	st := Status{
		Paused:      s.Paused,
		TotalPauses: s.TotalPauses,
		LastReason:  s.LastReason,
		PauseVotes:  s.PauseVotes,
		ResumeVotes: s.ResumeVotes,
		Threshold:   res.Group.Threshold,
		Guardians:   res.Group.Size(),
	}
	if s.Paused {
		st.PauseStart = s.PauseStart
		st.PauseEnd = s.PauseEnd
		st.Remaining = s.PauseEnd.Sub(now)
	}
	if !s.LastPauseEnd.IsZero() {
		if until := s.LastPauseEnd.Add(s.Cooldown); now.Before(until) {
			st.CooldownUntil = until
		}
	}
	return st, nil
}
