// pkg/types/proposal.go
package types

import (
	"slices"
	"time"
)

// Status is the stored lifecycle state of a proposal. Expired is never
// stored; it is derived from the clock by StatusAt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// PayloadKind tags the variant held by a Payload.
type PayloadKind string

const (
	PayloadTransfer PayloadKind = "transfer"
	PayloadConfig   PayloadKind = "config"
)

// Transfer moves Amount from the resource's vault to To.
type Transfer struct {
	To     Principal `json:"to"`
	Amount uint64    `json:"amount"`
	Memo   string    `json:"memo,omitempty"`
}

// ConfigPatch replaces the fields that are set and leaves the rest alone.
type ConfigPatch struct {
	Members   []Principal `json:"members,omitempty"`
	Threshold *int        `json:"threshold,omitempty"`
	PerTxCap  *uint64     `json:"per_tx_cap,omitempty"`
	DailyCap  *uint64     `json:"daily_cap,omitempty"`
	// Unfreeze lifts a treasury freeze.
	Unfreeze bool `json:"unfreeze,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *ConfigPatch) Empty() bool {
	return p.Members == nil && p.Threshold == nil && p.PerTxCap == nil && p.DailyCap == nil && !p.Unfreeze
}

// Payload is the action a proposal authorizes. Exactly one of Transfer and
// Config is set, matching Kind.
type Payload struct {
	Kind     PayloadKind  `json:"kind"`
	Transfer *Transfer    `json:"transfer,omitempty"`
	Config   *ConfigPatch `json:"config,omitempty"`
}

// TransferPayload builds a transfer payload.
func TransferPayload(to Principal, amount uint64, memo string) Payload {
	return Payload{Kind: PayloadTransfer, Transfer: &Transfer{To: to, Amount: amount, Memo: memo}}
}

// ConfigPayload builds a config change payload.
func ConfigPayload(patch ConfigPatch) Payload {
	return Payload{Kind: PayloadConfig, Config: &patch}
}

// Proposal is a pending or settled decision of a resource's group.
type Proposal struct {
	Resource  ResourceID  `json:"resource"`
	ID        uint64      `json:"id"`
	Creator   Principal   `json:"creator"`
	Payload   Payload     `json:"payload"`
	Approvals []Principal `json:"approvals"`
	Status    Status      `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	SettledAt  time.Time `json:"settled_at,omitzero"`
	ExecutedBy Principal `json:"executed_by,omitempty"`
}

// Expired reports whether the approval window has closed at now.
func (p *Proposal) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// StatusAt returns the stored status, or StatusExpired for a pending
// proposal whose window has closed.
func (p *Proposal) StatusAt(now time.Time) Status {
	if p.Status == StatusPending && p.Expired(now) {
		return StatusExpired
	}
	return p.Status
}

// HasApproved reports whether principal already approved.
func (p *Proposal) HasApproved(principal Principal) bool {
	return slices.Contains(p.Approvals, principal)
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.Approvals = slices.Clone(p.Approvals)
	if p.Payload.Transfer != nil {
		t := *p.Payload.Transfer
		c.Payload.Transfer = &t
	}
	if p.Payload.Config != nil {
		cfg := *p.Payload.Config
		cfg.Members = slices.Clone(p.Payload.Config.Members)
		c.Payload.Config = &cfg
	}
	return &c
}
