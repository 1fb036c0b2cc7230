// Package events records what happened to governed resources. Sinks are
// append-only and fire-and-forget: a failing sink never fails the
// operation that produced the event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relves/vaultgate/pkg/types"
)

// Type names an event.
type Type string

const (
	Initialized        Type = "initialized"
	ProposalCreated    Type = "proposal_created"
	ProposalApproved   Type = "proposal_approved"
	ProposalExecuted   Type = "proposal_executed"
	ProposalCancelled  Type = "proposal_cancelled"
	ConfigUpdated      Type = "config_updated"
	Frozen             Type = "frozen"
	Unfrozen           Type = "unfrozen"
	PauseVoted         Type = "pause_voted"
	PauseVoteCancelled Type = "pause_vote_cancelled"
	PauseActivated     Type = "pause_activated"
	ResumeVoted        Type = "resume_voted"
	PauseLifted        Type = "pause_lifted"
	ProposalsPruned    Type = "proposals_pruned"
)

// Event is one observable state change.
type Event struct {
	Type     Type             `json:"type"`
	Resource types.ResourceID `json:"resource"`
	Proposal *uint64          `json:"proposal,omitempty"`
	Actor    types.Principal  `json:"actor,omitempty"`
	At       time.Time        `json:"at"`
	Attrs    map[string]any   `json:"attrs,omitempty"`
}

// ForProposal sets the proposal id of e.
func (e Event) ForProposal(id uint64) Event {
	e.Proposal = &id
	return e
}

// Sink receives events after the change they describe has been committed.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) {
	f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

type multi []Sink

func (m multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Multi fans events out to every sink in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// LogSink writes events to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"resource", e.Resource}
	if e.Proposal != nil {
		args = append(args, "proposal", *e.Proposal)
	}
	if e.Actor != "" {
		args = append(args, "actor", e.Actor)
	}
	for k, v := range e.Attrs {
		args = append(args, k, v)
	}
	logger.InfoContext(ctx, string(e.Type), args...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var (
	_ Sink = multi(nil)
	_ Sink = LogSink{}
	_ Sink = (*Recorder)(nil)
)
