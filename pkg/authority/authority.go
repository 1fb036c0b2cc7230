// Package authority validates and mutates the member group of a resource.
package authority

import (
	"fmt"
	"slices"

	"github.com/relves/vaultgate/pkg/types"
)

// Policy bounds the shape of a group.
type Policy struct {
	MinMembers   int
	MaxMembers   int
	MinThreshold int
}

var (
	// Multisig covers treasury and governance groups.
	Multisig = Policy{MinMembers: 2, MaxMembers: 10, MinThreshold: 2}
	// Guardians covers emergency pause groups.
	Guardians = Policy{MinMembers: 2, MaxMembers: 5, MinThreshold: 1}
)

// PolicyFor returns the policy of a resource kind.
func PolicyFor(kind types.Kind) Policy {
	if kind == types.KindEmergency {
		return Guardians
	}
	return Multisig
}

// New validates members and threshold against policy and returns the group.
// Member order is preserved.
func New(members []types.Principal, threshold int, policy Policy) (types.Group, error) {
	if len(members) < policy.MinMembers {
		return types.Group{}, fmt.Errorf("%w: %d < %d", types.ErrInsufficientMembers, len(members), policy.MinMembers)
	}
	if len(members) > policy.MaxMembers {
		return types.Group{}, fmt.Errorf("%w: %d > %d", types.ErrTooManyMembers, len(members), policy.MaxMembers)
	}
	for _, m := range members {
		if m == "" {
			return types.Group{}, fmt.Errorf("%w: empty member", types.ErrInvalidPrincipal)
		}
	}

	sorted := slices.Clone(members)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return types.Group{}, fmt.Errorf("%w: %s", types.ErrDuplicateMember, sorted[i])
		}
	}

	if err := checkThreshold(threshold, len(members), policy); err != nil {
		return types.Group{}, err
	}

	return types.Group{Members: slices.Clone(members), Threshold: threshold}, nil
}

func checkThreshold(threshold, size int, policy Policy) error {
	if threshold < policy.MinThreshold {
		return fmt.Errorf("%w: %d < %d", types.ErrThresholdTooLow, threshold, policy.MinThreshold)
	}
	if threshold > size {
		return fmt.Errorf("%w: %d > %d", types.ErrThresholdExceeds, threshold, size)
	}
	return nil
}

// Apply returns the group that results from patching g. Unset fields keep
// their current value; the result is validated as a whole so that a new
// member list is checked against the effective threshold and vice versa.
func Apply(g types.Group, patch *types.ConfigPatch, policy Policy) (types.Group, error) {
	members := g.Members
	if patch.Members != nil {
		members = patch.Members
	}
	threshold := g.Threshold
	if patch.Threshold != nil {
		threshold = *patch.Threshold
	}
	return New(members, threshold, policy)
}

// CountApprovals counts the approvals given by current members of g.
// Approvals from principals removed since they voted do not count.
func CountApprovals(g types.Group, approvals []types.Principal) int {
	n := 0
	for _, a := range approvals {
		if g.Contains(a) {
			n++
		}
	}
	return n
}

// RequireMember fails with ErrNotAMember unless p belongs to g.
func RequireMember(g types.Group, p types.Principal) error {
	if !g.Contains(p) {
		return fmt.Errorf("%w: %s", types.ErrNotAMember, p)
	}
	return nil
}
