// pkg/types/group.go
package types

import (
	"slices"
)

// Group is the set of principals allowed to act on a resource and the
// number of distinct approvals a decision needs.
type Group struct {
	Members   []Principal `json:"members"`
	Threshold int         `json:"threshold"`
}

// Contains reports whether p is a member.
func (g Group) Contains(p Principal) bool {
	return slices.Contains(g.Members, p)
}

// Size returns the member count.
func (g Group) Size() int {
	return len(g.Members)
}

// Clone returns a deep copy.
func (g Group) Clone() Group {
	return Group{Members: slices.Clone(g.Members), Threshold: g.Threshold}
}
