// pkg/types/resource.go
package types

import (
	"math"
	"slices"
	"time"
)

// Kind selects the rule set a resource is governed by.
type Kind string

const (
	KindTreasury   Kind = "treasury"   // value transfers under a rolling daily cap
	KindGovernance Kind = "governance" // value transfers under a per-transaction cap
	KindEmergency  Kind = "emergency"  // guardian pause, never moves value
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTreasury, KindGovernance, KindEmergency:
		return true
	}
	return false
}

const (
	DefaultProposalWindow   = 24 * time.Hour
	DefaultWindowLen        = 24 * time.Hour
	DefaultMaxProposals     = 10000
	DefaultMaxPauseDuration = 6 * time.Hour
	DefaultPauseCooldown    = 24 * time.Hour

	MaxMemoLen   = 200
	MaxReasonLen = 100
)

// Params configures a resource at init time.
type Params struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Vault string `json:"vault,omitempty" yaml:"vault"`

	Members   []Principal `json:"members" yaml:"members"`
	Threshold int         `json:"threshold" yaml:"threshold"`
	// PauseThreshold overrides Threshold for emergency resources.
	PauseThreshold int `json:"pause_threshold,omitempty" yaml:"pause_threshold"`

	PerTxCap uint64 `json:"per_tx_cap,omitempty" yaml:"per_tx_cap"`
	DailyCap uint64 `json:"daily_cap,omitempty" yaml:"daily_cap"`

	ProposalWindow time.Duration `json:"proposal_window,omitempty" yaml:"proposal_window"`
	WindowLen      time.Duration `json:"window_len,omitempty" yaml:"window_len"`
	MaxProposals   uint64        `json:"max_proposals,omitempty" yaml:"max_proposals"`

	MaxPauseDuration time.Duration `json:"max_pause_duration,omitempty" yaml:"max_pause_duration"`
	PauseCooldown    time.Duration `json:"pause_cooldown,omitempty" yaml:"pause_cooldown"`
}

// ApplyDefaults fills zero-valued fields.
func (p *Params) ApplyDefaults() {
	if p.ProposalWindow == 0 {
		p.ProposalWindow = DefaultProposalWindow
	}
	if p.WindowLen == 0 {
		p.WindowLen = DefaultWindowLen
	}
	if p.MaxProposals == 0 {
		p.MaxProposals = DefaultMaxProposals
	}
	switch p.Kind {
	case KindGovernance:
		// Governance only limits single transfers.
		if p.DailyCap == 0 {
			p.DailyCap = math.MaxUint64
		}
	case KindTreasury:
		// Treasury only limits the window total.
		if p.PerTxCap == 0 {
			p.PerTxCap = p.DailyCap
		}
	case KindEmergency:
		if p.PauseThreshold > 0 {
			p.Threshold = p.PauseThreshold
		}
		if p.MaxPauseDuration == 0 {
			p.MaxPauseDuration = DefaultMaxPauseDuration
		}
		if p.PauseCooldown == 0 {
			p.PauseCooldown = DefaultPauseCooldown
		}
	}
}

// SpendWindow is the rolling allowance of a resource. Spent never exceeds
// DailyCap after a successful charge.
type SpendWindow struct {
	DailyCap uint64        `json:"daily_cap"`
	Spent    uint64        `json:"spent"`
	Start    time.Time     `json:"start"`
	Len      time.Duration `json:"len"`
}

// PauseState is the guardian pause of an emergency resource. PauseVotes and
// ResumeVotes are separate channels and are cleared independently.
type PauseState struct {
	MaxDuration time.Duration `json:"max_duration"`
	Cooldown    time.Duration `json:"cooldown"`

	Paused       bool      `json:"paused"`
	PauseStart   time.Time `json:"pause_start,omitzero"`
	PauseEnd     time.Time `json:"pause_end,omitzero"`
	LastPauseEnd time.Time `json:"last_pause_end,omitzero"`
	TotalPauses  uint64    `json:"total_pauses"`
	LastReason   string    `json:"last_reason,omitempty"`

	PauseVotes  []Principal `json:"pause_votes"`
	ResumeVotes []Principal `json:"resume_votes"`
}

// Clone returns a deep copy.
func (s *PauseState) Clone() *PauseState {
	if s == nil {
		return nil
	}
	c := *s
	c.PauseVotes = slices.Clone(s.PauseVotes)
	c.ResumeVotes = slices.Clone(s.ResumeVotes)
	return &c
}

// Resource is the persisted state of one governed resource.
type Resource struct {
	ID    ResourceID `json:"id"`
	Kind  Kind       `json:"kind"`
	Vault string     `json:"vault,omitempty"`

	Group    Group       `json:"group"`
	PerTxCap uint64      `json:"per_tx_cap"`
	Spend    SpendWindow `json:"spend"`

	ProposalWindow  time.Duration `json:"proposal_window"`
	MaxProposals    uint64        `json:"max_proposals"`
	ProposalCounter uint64        `json:"proposal_counter"`
	ExecutedCounter uint64        `json:"executed_counter"`
	ConfigVersion   uint64        `json:"config_version"`

	Frozen bool        `json:"frozen"`
	Pause  *PauseState `json:"pause,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (r *Resource) Clone() *Resource {
	c := *r
	c.Group = r.Group.Clone()
	c.Pause = r.Pause.Clone()
	return &c
}

// MovesValue reports whether the resource accepts transfer proposals.
func (r *Resource) MovesValue() bool {
	return r.Kind != KindEmergency
}
